// Package typing tracks which participants are currently typing.
package typing

import (
	"sort"
	"sync"
)

type entry struct {
	username string
	room     string
	seq      uint64
}

// Tracker holds the typing state per connection. Entries are removed only by
// an explicit stop, a disconnect, or a room switch; idle expiry is left to
// clients.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]entry
	next    uint64
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]entry)}
}

// Set records or clears the typing state of a connection and reports whether
// the visible state changed. Refreshing an active entry keeps its position.
func (t *Tracker) Set(connectionID, username, room string, isTyping bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !isTyping {
		_, ok := t.entries[connectionID]
		delete(t.entries, connectionID)
		return ok
	}

	cur, ok := t.entries[connectionID]
	if ok {
		changed := cur.username != username || cur.room != room
		cur.username = username
		cur.room = room
		t.entries[connectionID] = cur
		return changed
	}
	t.next++
	t.entries[connectionID] = entry{username: username, room: room, seq: t.next}
	return true
}

// Clear removes the connection and reports whether it was typing.
func (t *Tracker) Clear(connectionID string) bool {
	return t.Set(connectionID, "", "", false)
}

// Usernames returns everyone typing, in the order they started.
func (t *Tracker) Usernames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	list := make([]entry, 0, len(t.entries))
	for _, e := range t.entries {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })

	out := make([]string, 0, len(list))
	for _, e := range list {
		out = append(out, e.username)
	}
	return out
}
