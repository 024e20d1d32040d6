package chat

import (
	"sync"
	"time"
)

// IDSequence hands out message ids derived from the wall clock in
// milliseconds. Ids are strictly increasing even when several messages share a
// millisecond or the clock steps backwards, and stay well inside the range a
// JavaScript client can represent exactly.
type IDSequence struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewIDSequence creates a sequence driven by time.Now.
func NewIDSequence() *IDSequence {
	return &IDSequence{now: time.Now}
}

// Next returns the next id.
func (s *IDSequence) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.now().UnixMilli()
	if id <= s.last {
		id = s.last + 1
	}
	s.last = id
	return id
}

// Observe advances the sequence past an id that was assigned elsewhere, such
// as one loaded from the durable store.
func (s *IDSequence) Observe(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id > s.last {
		s.last = id
	}
}
