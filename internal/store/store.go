// Package store persists chat messages. A durable gorm-backed store is used
// when the database answers at startup; otherwise, and for any single call
// the database fails, a bounded in-memory buffer takes over. Callers only see
// the MessageStore contract.
package store

import (
	"context"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// DefaultBufferSize is how many messages the transient buffer retains.
const DefaultBufferSize = 100

// Mutator edits a message in place and reports whether anything changed.
// Unchanged messages are not written back.
type Mutator func(m *chat.Message) bool

// MessageStore is the read/write contract shared by every storage mode.
// Returned messages are copies owned by the caller.
type MessageStore interface {
	// Append stores msg and returns the stored copy with its id.
	Append(ctx context.Context, msg *chat.Message) (*chat.Message, error)
	// FindByID returns chat.ErrNotFound for unknown or evicted ids.
	FindByID(ctx context.Context, id int64) (*chat.Message, error)
	// Update applies mutate to the stored message. The boolean result is the
	// mutator's verdict.
	Update(ctx context.Context, id int64, mutate Mutator) (*chat.Message, bool, error)
	// ListByRoom returns the retained history of a room, oldest first.
	ListByRoom(ctx context.Context, room string) ([]*chat.Message, error)
}

// Backend is a durable MessageStore that can be pinged for reachability.
type Backend interface {
	MessageStore
	Ping(ctx context.Context) error
}

// Mode names the storage mode selected at startup.
type Mode string

const (
	ModeDurable   Mode = "durable"
	ModeTransient Mode = "transient"
)
