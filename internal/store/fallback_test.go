package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/logging"
)

// flakyBackend is a durable double whose calls fail while down is set.
type flakyBackend struct {
	mu       sync.Mutex
	down     bool
	pingErr  error
	inner    *Buffer
	appended int
}

func newFlakyBackend() *flakyBackend {
	return &flakyBackend{inner: NewBuffer(1000)}
}

func (f *flakyBackend) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *flakyBackend) fail(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return fmt.Errorf("%s: %w: %w", op, chat.ErrStoreUnavailable, errors.New("connection refused"))
	}
	return nil
}

func (f *flakyBackend) Ping(context.Context) error {
	if f.pingErr != nil {
		return f.pingErr
	}
	return f.fail("ping")
}

func (f *flakyBackend) Append(ctx context.Context, m *chat.Message) (*chat.Message, error) {
	if err := f.fail("append"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.appended++
	f.mu.Unlock()
	return f.inner.Append(ctx, m)
}

func (f *flakyBackend) FindByID(ctx context.Context, id int64) (*chat.Message, error) {
	if err := f.fail("find"); err != nil {
		return nil, err
	}
	return f.inner.FindByID(ctx, id)
}

func (f *flakyBackend) Update(ctx context.Context, id int64, mutate Mutator) (*chat.Message, bool, error) {
	if err := f.fail("update"); err != nil {
		return nil, false, err
	}
	return f.inner.Update(ctx, id, mutate)
}

func (f *flakyBackend) ListByRoom(ctx context.Context, room string) ([]*chat.Message, error) {
	if err := f.fail("list"); err != nil {
		return nil, err
	}
	return f.inner.ListByRoom(ctx, room)
}

// stalledBackend answers pings but every data call hangs until its context
// is done.
type stalledBackend struct{}

func (stalledBackend) Ping(context.Context) error { return nil }

func (stalledBackend) Append(ctx context.Context, _ *chat.Message) (*chat.Message, error) {
	<-ctx.Done()
	return nil, fmt.Errorf("append: %w: %w", chat.ErrStoreUnavailable, ctx.Err())
}

func (stalledBackend) FindByID(ctx context.Context, _ int64) (*chat.Message, error) {
	<-ctx.Done()
	return nil, fmt.Errorf("find: %w: %w", chat.ErrStoreUnavailable, ctx.Err())
}

func (stalledBackend) Update(ctx context.Context, _ int64, _ Mutator) (*chat.Message, bool, error) {
	<-ctx.Done()
	return nil, false, fmt.Errorf("update: %w: %w", chat.ErrStoreUnavailable, ctx.Err())
}

func (stalledBackend) ListByRoom(ctx context.Context, _ string) ([]*chat.Message, error) {
	<-ctx.Done()
	return nil, fmt.Errorf("list: %w: %w", chat.ErrStoreUnavailable, ctx.Err())
}

func TestFallbackTimeoutUsesBuffer(t *testing.T) {
	ctx := context.Background()
	f := NewFallback(stalledBackend{}, NewBuffer(10), 50*time.Millisecond, logging.Nop())
	require.Equal(t, ModeDurable, f.Handshake(ctx))

	in := roomMessage("general", "slow database")
	in.ID = 42

	start := time.Now()
	stored, err := f.Append(ctx, in)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second, "append is bounded by the operation timeout")
	assert.EqualValues(t, 42, stored.ID, "pre-assigned id survives the fallback")
	assert.Equal(t, 1, f.Buffer().Len())

	next, err := f.Append(ctx, roomMessage("general", "next"))
	require.NoError(t, err)
	assert.EqualValues(t, 43, next.ID)

	updated, changed, err := f.Update(ctx, 42, func(m *chat.Message) bool {
		m.Reactions = append(m.Reactions, chat.Reaction{Emoji: "👍", Count: 1})
		return true
	})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []chat.Reaction{{Emoji: "👍", Count: 1}}, updated.Reactions)

	list, err := f.ListByRoom(ctx, "general")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.EqualValues(t, 42, list[0].ID)
	assert.Equal(t, ModeDurable, f.Mode())
}

func TestFallbackTransientWhenHandshakeFails(t *testing.T) {
	ctx := context.Background()
	backend := newFlakyBackend()
	backend.pingErr = errors.New("dial tcp: connection refused")

	f := NewFallback(backend, NewBuffer(DefaultBufferSize), 0, logging.Nop())
	require.Equal(t, ModeTransient, f.Handshake(ctx))

	for i := 0; i < 150; i++ {
		_, err := f.Append(ctx, roomMessage("general", fmt.Sprintf("msg-%d", i)))
		require.NoError(t, err)
	}

	list, err := f.ListByRoom(ctx, "general")
	require.NoError(t, err)
	require.Len(t, list, 100)
	assert.Equal(t, "msg-50", list[0].Text)
	assert.Equal(t, "msg-149", list[99].Text)
	assert.Zero(t, backend.appended)
}

func TestFallbackNilBackendIsTransient(t *testing.T) {
	f := NewFallback(nil, nil, 0, logging.Nop())
	assert.Equal(t, ModeTransient, f.Handshake(context.Background()))
	assert.Equal(t, ModeTransient, f.Mode())
}

func TestFallbackRetriesFailedCallOnBuffer(t *testing.T) {
	ctx := context.Background()
	backend := newFlakyBackend()

	f := NewFallback(backend, NewBuffer(10), 0, logging.Nop())
	require.Equal(t, ModeDurable, f.Handshake(ctx))

	durableMsg, err := f.Append(ctx, roomMessage("general", "stored durably"))
	require.NoError(t, err)
	assert.Equal(t, 0, f.Buffer().Len())

	backend.setDown(true)
	outageMsg, err := f.Append(ctx, roomMessage("general", "during outage"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.Buffer().Len())
	assert.Greater(t, outageMsg.ID, durableMsg.ID)

	got, err := f.FindByID(ctx, outageMsg.ID)
	require.NoError(t, err)
	assert.Equal(t, "during outage", got.Text)

	// The flag never flips back; the durable store is used again once it answers.
	backend.setDown(false)
	assert.Equal(t, ModeDurable, f.Mode())

	got, err = f.FindByID(ctx, outageMsg.ID)
	require.NoError(t, err, "buffered messages stay reachable after recovery")
	assert.Equal(t, "during outage", got.Text)

	list, err := f.ListByRoom(ctx, "general")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, durableMsg.ID, list[0].ID)
	assert.Equal(t, outageMsg.ID, list[1].ID)
}

func TestFallbackUpdateFallsThroughNotFound(t *testing.T) {
	ctx := context.Background()
	backend := newFlakyBackend()
	f := NewFallback(backend, NewBuffer(10), 0, logging.Nop())
	require.Equal(t, ModeDurable, f.Handshake(ctx))

	backend.setDown(true)
	msg, err := f.Append(ctx, roomMessage("general", "hi"))
	require.NoError(t, err)
	backend.setDown(false)

	updated, changed, err := f.Update(ctx, msg.ID, func(m *chat.Message) bool {
		m.Reactions = append(m.Reactions, chat.Reaction{Emoji: "👍", Count: 1})
		return true
	})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Len(t, updated.Reactions, 1)

	_, _, err = f.Update(ctx, 1, func(*chat.Message) bool { return true })
	assert.ErrorIs(t, err, chat.ErrNotFound)
}
