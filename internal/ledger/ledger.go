// Package ledger applies reactions and read receipts to stored messages.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/store"
)

// Ledger mutates messages through a MessageStore.
type Ledger struct {
	store store.MessageStore
	now   func() time.Time
}

// New creates a ledger on top of s.
func New(s store.MessageStore) *Ledger {
	return &Ledger{store: s, now: time.Now}
}

// AddReaction counts one more emoji on the message. Repeated reactions from
// the same participant are counted again. A nil message with a nil error means
// the id is unknown or evicted and nothing should be broadcast.
func (l *Ledger) AddReaction(ctx context.Context, messageID int64, emoji string) (*chat.Message, error) {
	if emoji == "" {
		return nil, nil
	}
	msg, _, err := l.store.Update(ctx, messageID, func(m *chat.Message) bool {
		for i := range m.Reactions {
			if m.Reactions[i].Emoji == emoji {
				m.Reactions[i].Count++
				return true
			}
		}
		m.Reactions = append(m.Reactions, chat.Reaction{Emoji: emoji, Count: 1})
		return true
	})
	return silenceNotFound(msg, err)
}

// MarkRead records that connectionID read the message. It returns nil when
// the receipt already existed or the message is unknown.
func (l *Ledger) MarkRead(ctx context.Context, messageID int64, connectionID, username string) (*chat.Message, error) {
	msg, changed, err := l.store.Update(ctx, messageID, func(m *chat.Message) bool {
		if m.HasReader(connectionID) {
			return false
		}
		m.ReadBy = append(m.ReadBy, chat.ReadReceipt{
			ConnectionID: connectionID,
			Username:     username,
			ReadAt:       l.now(),
		})
		return true
	})
	if err == nil && !changed {
		return nil, nil
	}
	return silenceNotFound(msg, err)
}

func silenceNotFound(msg *chat.Message, err error) (*chat.Message, error) {
	if errors.Is(err, chat.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}
