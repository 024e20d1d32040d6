// Package rooms keeps the catalog of rooms and which connection currently
// sits in which room.
package rooms

import (
	"sort"
	"sync"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
)

type room struct {
	name         string
	description  string
	messageCount int64
	lastActivity time.Time
	members      map[string]struct{}
}

func (r *room) summary() chat.RoomSummary {
	return chat.RoomSummary{
		Name:         r.name,
		Description:  r.description,
		MessageCount: r.messageCount,
		LastActivity: r.lastActivity,
	}
}

// Directory is the room catalog. Rooms are created lazily and never removed.
// A connection is a member of at most one room at a time.
type Directory struct {
	mu    sync.RWMutex
	rooms map[string]*room
	now   func() time.Time
}

// NewDirectory creates a directory pre-seeded with the given rooms.
func NewDirectory(seeds []chat.RoomSeed) *Directory {
	d := &Directory{
		rooms: make(map[string]*room),
		now:   time.Now,
	}
	for _, s := range seeds {
		r := d.ensureLocked(s.Name)
		r.description = s.Description
	}
	return d
}

func (d *Directory) ensureLocked(name string) *room {
	r, ok := d.rooms[name]
	if !ok {
		r = &room{
			name:         name,
			lastActivity: d.now(),
			members:      make(map[string]struct{}),
		}
		d.rooms[name] = r
	}
	return r
}

// Ensure creates the room if needed and returns its summary.
func (d *Directory) Ensure(name string) chat.RoomSummary {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ensureLocked(name).summary()
}

// Hydrate overlays persisted counters onto the catalog. Counts never move
// backwards.
func (d *Directory) Hydrate(summaries []chat.RoomSummary) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, s := range summaries {
		r := d.ensureLocked(s.Name)
		if s.Description != "" {
			r.description = s.Description
		}
		if s.MessageCount > r.messageCount {
			r.messageCount = s.MessageCount
		}
		if s.LastActivity.After(r.lastActivity) {
			r.lastActivity = s.LastActivity
		}
	}
}

// Join moves connectionID into name, dropping it from every other room first.
// It returns the room the connection was in before, or "" if none.
func (d *Directory) Join(connectionID, name string) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev := d.leaveLocked(connectionID, name)
	d.ensureLocked(name).members[connectionID] = struct{}{}
	return prev
}

// Leave drops connectionID from whatever room holds it and returns that room.
func (d *Directory) Leave(connectionID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.leaveLocked(connectionID, "")
}

func (d *Directory) leaveLocked(connectionID, except string) string {
	prev := ""
	for name, r := range d.rooms {
		if _, ok := r.members[connectionID]; !ok {
			continue
		}
		if name == except {
			prev = name
			continue
		}
		delete(r.members, connectionID)
		prev = name
	}
	return prev
}

// Members returns the connection ids currently in name, sorted.
func (d *Directory) Members(name string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.rooms[name]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// IsMember reports whether connectionID is in name.
func (d *Directory) IsMember(connectionID, name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.rooms[name]
	if !ok {
		return false
	}
	_, ok = r.members[connectionID]
	return ok
}

// RecordActivity bumps the room's last activity time.
func (d *Directory) RecordActivity(name string) chat.RoomSummary {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := d.ensureLocked(name)
	r.lastActivity = d.now()
	return r.summary()
}

// IncrementMessageCount counts one stored public message and bumps activity.
func (d *Directory) IncrementMessageCount(name string) chat.RoomSummary {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := d.ensureLocked(name)
	r.messageCount++
	r.lastActivity = d.now()
	return r.summary()
}

// Get returns the summary of an existing room.
func (d *Directory) Get(name string) (chat.RoomSummary, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.rooms[name]
	if !ok {
		return chat.RoomSummary{}, false
	}
	return r.summary(), true
}

// ListRooms returns every room, most recently active first.
func (d *Directory) ListRooms() []chat.RoomSummary {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]chat.RoomSummary, 0, len(d.rooms))
	for _, r := range d.rooms {
		out = append(out, r.summary())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].Name < out[j].Name
	})
	return out
}
