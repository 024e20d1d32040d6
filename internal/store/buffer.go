package store

import (
	"context"
	"sync"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// Buffer is the transient message history: an append-only sequence holding
// the most recent messages, evicting the oldest first once full.
type Buffer struct {
	mu       sync.RWMutex
	messages []*chat.Message
	capacity int
	seq      *chat.IDSequence
}

// NewBuffer creates a buffer retaining at most capacity messages.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &Buffer{
		messages: make([]*chat.Message, 0, capacity),
		capacity: capacity,
		seq:      chat.NewIDSequence(),
	}
}

// Append implements MessageStore.
func (b *Buffer) Append(_ context.Context, msg *chat.Message) (*chat.Message, error) {
	stored := msg.Clone()

	b.mu.Lock()
	defer b.mu.Unlock()

	if stored.ID == 0 {
		stored.ID = b.seq.Next()
	} else {
		b.seq.Observe(stored.ID)
	}

	b.messages = append(b.messages, stored)
	if over := len(b.messages) - b.capacity; over > 0 {
		for i := 0; i < over; i++ {
			b.messages[i] = nil
		}
		b.messages = append(b.messages[:0], b.messages[over:]...)
	}
	return stored.Clone(), nil
}

func (b *Buffer) indexLocked(id int64) int {
	for i, m := range b.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// FindByID implements MessageStore.
func (b *Buffer) FindByID(_ context.Context, id int64) (*chat.Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	i := b.indexLocked(id)
	if i < 0 {
		return nil, chat.ErrNotFound
	}
	return b.messages[i].Clone(), nil
}

// Update implements MessageStore.
func (b *Buffer) Update(_ context.Context, id int64, mutate Mutator) (*chat.Message, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := b.indexLocked(id)
	if i < 0 {
		return nil, false, chat.ErrNotFound
	}
	work := b.messages[i].Clone()
	changed := mutate(work)
	if changed {
		b.messages[i] = work
	}
	return work.Clone(), changed, nil
}

// ListByRoom implements MessageStore.
func (b *Buffer) ListByRoom(_ context.Context, room string) ([]*chat.Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*chat.Message, 0)
	for _, m := range b.messages {
		if !m.IsPrivate && m.RoomName() == room {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

// Len returns how many messages are retained.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.messages)
}

// Capacity returns the retention bound.
func (b *Buffer) Capacity() int { return b.capacity }
