// Package roster tracks which participants are online, keyed by connection.
package roster

import (
	"sort"
	"sync"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// Roster maps connection ids to participants. It is the source of truth for
// who is online.
type Roster struct {
	mu           sync.RWMutex
	participants map[string]chat.Participant
	seq          map[string]uint64
	next         uint64
	now          func() time.Time
}

// New creates an empty roster.
func New() *Roster {
	return &Roster{
		participants: make(map[string]chat.Participant),
		seq:          make(map[string]uint64),
		now:          time.Now,
	}
}

// Join binds username to connectionID, replacing any previous binding for
// the same connection. Usernames are not required to be unique.
func (r *Roster) Join(connectionID, username string) chat.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := chat.Participant{
		ConnectionID: connectionID,
		Username:     username,
		JoinedAt:     r.now(),
	}
	r.participants[connectionID] = p
	r.next++
	r.seq[connectionID] = r.next
	return p
}

// Leave removes the connection. The boolean is false when it was unknown.
func (r *Roster) Leave(connectionID string) (chat.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[connectionID]
	if !ok {
		return chat.Participant{}, false
	}
	delete(r.participants, connectionID)
	delete(r.seq, connectionID)
	return p, true
}

// Get returns the participant bound to connectionID.
func (r *Roster) Get(connectionID string) (chat.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[connectionID]
	return p, ok
}

// ListOnline returns everyone online in join order.
func (r *Roster) ListOnline() []chat.OnlineEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.participants))
	for id := range r.participants {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return r.seq[ids[i]] < r.seq[ids[j]] })

	out := make([]chat.OnlineEntry, 0, len(ids))
	for _, id := range ids {
		out = append(out, chat.OnlineEntry{Username: r.participants[id].Username, ConnectionID: id})
	}
	return out
}

// Len returns the number of online participants.
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}
