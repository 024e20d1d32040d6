package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/store"
)

func seeded(t *testing.T) (*Ledger, int64) {
	t.Helper()
	buf := store.NewBuffer(store.DefaultBufferSize)
	msg, err := buf.Append(context.Background(), &chat.Message{
		Text:      "hi",
		Timestamp: time.Now(),
		Room:      chat.StringPtr("general"),
	})
	require.NoError(t, err)
	return New(buf), msg.ID
}

func TestAddReactionRawCount(t *testing.T) {
	ctx := context.Background()
	l, id := seeded(t)

	_, err := l.AddReaction(ctx, id, "👍")
	require.NoError(t, err)
	msg, err := l.AddReaction(ctx, id, "👍")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, []chat.Reaction{{Emoji: "👍", Count: 2}}, msg.Reactions)

	msg, err = l.AddReaction(ctx, id, "🎉")
	require.NoError(t, err)
	assert.Equal(t, []chat.Reaction{{Emoji: "👍", Count: 2}, {Emoji: "🎉", Count: 1}}, msg.Reactions)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l, id := seeded(t)

	msg, err := l.MarkRead(ctx, id, "c2", "bob")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Len(t, msg.ReadBy, 1)

	again, err := l.MarkRead(ctx, id, "c2", "bob")
	require.NoError(t, err)
	assert.Nil(t, again, "second receipt must not trigger a broadcast")

	msg, err = l.MarkRead(ctx, id, "c3", "carol")
	require.NoError(t, err)
	assert.Len(t, msg.ReadBy, 2)
}

func TestUnknownMessageIsSilent(t *testing.T) {
	ctx := context.Background()
	l, id := seeded(t)

	msg, err := l.AddReaction(ctx, id+99, "👍")
	assert.NoError(t, err)
	assert.Nil(t, msg)

	msg, err = l.MarkRead(ctx, id+99, "c2", "bob")
	assert.NoError(t, err)
	assert.Nil(t, msg)
}
