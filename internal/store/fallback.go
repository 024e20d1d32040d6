package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/logging"
)

// DefaultOperationTimeout bounds a single durable call.
const DefaultOperationTimeout = 3 * time.Second

type maxIDer interface {
	MaxID(ctx context.Context) (int64, error)
}

// Fallback is the MessageStore the rest of the process talks to. The mode is
// chosen once by Handshake; in durable mode each call that fails or times out
// is retried against the transient buffer.
type Fallback struct {
	durable Backend
	buffer  *Buffer
	timeout time.Duration
	logger  zerolog.Logger
	seq     *chat.IDSequence

	mu   sync.RWMutex
	mode Mode
}

// NewFallback creates a store in transient mode. durable may be nil.
func NewFallback(durable Backend, buffer *Buffer, timeout time.Duration, logger zerolog.Logger) *Fallback {
	if buffer == nil {
		buffer = NewBuffer(DefaultBufferSize)
	}
	if timeout <= 0 {
		timeout = DefaultOperationTimeout
	}
	return &Fallback{
		durable: durable,
		buffer:  buffer,
		timeout: timeout,
		logger:  logger.With().Str(logging.FieldService, "message-store").Logger(),
		seq:     chat.NewIDSequence(),
		mode:    ModeTransient,
	}
}

// Handshake pings the durable store and fixes the mode. It does not flip
// back later in the process lifetime.
func (f *Fallback) Handshake(ctx context.Context) Mode {
	mode := ModeTransient
	if f.durable == nil {
		f.logger.Warn().Msg("no durable store configured, running in transient mode")
	} else {
		pctx, cancel := context.WithTimeout(ctx, f.timeout)
		err := f.durable.Ping(pctx)
		cancel()
		if err != nil {
			f.logger.Warn().Err(err).Int("buffer_size", f.buffer.Capacity()).
				Msg("durable store unreachable, running in degraded transient mode")
		} else {
			mode = ModeDurable
			if m, ok := f.durable.(maxIDer); ok {
				mctx, cancel := context.WithTimeout(ctx, f.timeout)
				if maxID, err := m.MaxID(mctx); err == nil {
					f.seq.Observe(maxID)
				}
				cancel()
			}
			f.logger.Info().Msg("durable store connected")
		}
	}

	f.mu.Lock()
	f.mode = mode
	f.mu.Unlock()
	return mode
}

// Mode reports the mode chosen at startup.
func (f *Fallback) Mode() Mode {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.mode
}

// Buffer exposes the transient buffer.
func (f *Fallback) Buffer() *Buffer { return f.buffer }

func (f *Fallback) useDurable() bool {
	return f.durable != nil && f.Mode() == ModeDurable
}

func (f *Fallback) degrade(op string, err error) {
	f.logger.Warn().Err(err).Str(logging.FieldOperation, op).Msg("durable store call failed, using transient buffer")
}

// Append implements MessageStore. The id is assigned before the durable
// attempt so a retry against the buffer keeps it.
func (f *Fallback) Append(ctx context.Context, msg *chat.Message) (*chat.Message, error) {
	work := msg.Clone()
	if work.ID == 0 {
		work.ID = f.seq.Next()
	} else {
		f.seq.Observe(work.ID)
	}

	if f.useDurable() {
		dctx, cancel := context.WithTimeout(ctx, f.timeout)
		stored, err := f.durable.Append(dctx, work)
		cancel()
		if err == nil {
			return stored, nil
		}
		f.degrade("append", err)
	}
	return f.buffer.Append(ctx, work)
}

// FindByID implements MessageStore. Messages written to the buffer during an
// outage are found too.
func (f *Fallback) FindByID(ctx context.Context, id int64) (*chat.Message, error) {
	if f.useDurable() {
		dctx, cancel := context.WithTimeout(ctx, f.timeout)
		msg, err := f.durable.FindByID(dctx, id)
		cancel()
		switch {
		case err == nil:
			return msg, nil
		case !errors.Is(err, chat.ErrNotFound):
			f.degrade("find", err)
		}
	}
	return f.buffer.FindByID(ctx, id)
}

// Update implements MessageStore.
func (f *Fallback) Update(ctx context.Context, id int64, mutate Mutator) (*chat.Message, bool, error) {
	if f.useDurable() {
		dctx, cancel := context.WithTimeout(ctx, f.timeout)
		msg, changed, err := f.durable.Update(dctx, id, mutate)
		cancel()
		switch {
		case err == nil:
			return msg, changed, nil
		case !errors.Is(err, chat.ErrNotFound):
			f.degrade("update", err)
		}
	}
	return f.buffer.Update(ctx, id, mutate)
}

// ListByRoom implements MessageStore. Durable history is merged with any
// buffered messages and capped at the buffer capacity.
func (f *Fallback) ListByRoom(ctx context.Context, room string) ([]*chat.Message, error) {
	buffered, err := f.buffer.ListByRoom(ctx, room)
	if err != nil {
		return nil, err
	}
	if !f.useDurable() {
		return buffered, nil
	}

	dctx, cancel := context.WithTimeout(ctx, f.timeout)
	durable, err := f.durable.ListByRoom(dctx, room)
	cancel()
	if err != nil {
		f.degrade("list", err)
		return buffered, nil
	}
	if len(buffered) == 0 {
		return durable, nil
	}

	seen := make(map[int64]struct{}, len(durable)+len(buffered))
	merged := make([]*chat.Message, 0, len(durable)+len(buffered))
	for _, set := range [][]*chat.Message{durable, buffered} {
		for _, m := range set {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
			merged = append(merged, m)
		}
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })
	if over := len(merged) - f.buffer.Capacity(); over > 0 {
		merged = merged[over:]
	}
	return merged, nil
}
