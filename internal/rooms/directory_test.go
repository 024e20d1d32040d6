package rooms

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/chat"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestDirectory() *Directory {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	d := &Directory{rooms: make(map[string]*room), now: clock.now}
	for _, s := range chat.DefaultRoomSeeds() {
		d.ensureLocked(s.Name).description = s.Description
	}
	return d
}

func TestSeededRooms(t *testing.T) {
	d := NewDirectory(chat.DefaultRoomSeeds())
	names := make([]string, 0)
	for _, r := range d.ListRooms() {
		names = append(names, r.Name)
	}
	assert.ElementsMatch(t, []string{"general", "random", "tech", "gaming"}, names)

	g, ok := d.Get("general")
	require.True(t, ok)
	assert.Equal(t, "General discussion", g.Description)
}

func TestEnsureIsIdempotent(t *testing.T) {
	d := newTestDirectory()
	a := d.Ensure("music")
	b := d.Ensure("music")
	assert.Equal(t, a, b)
	assert.Len(t, d.ListRooms(), 5)
}

func TestJoinKeepsAtMostOneRoom(t *testing.T) {
	d := newTestDirectory()

	assert.Equal(t, "", d.Join("c1", "general"))
	assert.Equal(t, "general", d.Join("c1", "tech"))
	assert.Equal(t, "tech", d.Join("c1", "music"))

	for _, r := range d.ListRooms() {
		if r.Name == "music" {
			assert.True(t, d.IsMember("c1", r.Name))
			continue
		}
		assert.False(t, d.IsMember("c1", r.Name), "c1 still in %s", r.Name)
	}
	assert.Equal(t, []string{"c1"}, d.Members("music"))
}

func TestRejoinSameRoom(t *testing.T) {
	d := newTestDirectory()
	d.Join("c1", "general")
	assert.Equal(t, "general", d.Join("c1", "general"))
	assert.Equal(t, []string{"c1"}, d.Members("general"))
}

func TestLeaveKeepsRoom(t *testing.T) {
	d := newTestDirectory()
	d.Join("c1", "tech")
	assert.Equal(t, "tech", d.Leave("c1"))
	assert.Empty(t, d.Members("tech"))
	_, ok := d.Get("tech")
	assert.True(t, ok)
	assert.Equal(t, "", d.Leave("c1"))
}

func TestIncrementMessageCountIsMonotonic(t *testing.T) {
	d := newTestDirectory()
	before, _ := d.Get("general")

	var last int64
	for i := 0; i < 5; i++ {
		s := d.IncrementMessageCount("general")
		assert.Equal(t, last+1, s.MessageCount)
		assert.True(t, s.LastActivity.After(before.LastActivity))
		last = s.MessageCount
	}

	s := d.RecordActivity("general")
	assert.Equal(t, int64(5), s.MessageCount)
}

func TestListRoomsSortedByActivity(t *testing.T) {
	d := newTestDirectory()
	d.RecordActivity("tech")
	d.RecordActivity("random")

	list := d.ListRooms()
	require.GreaterOrEqual(t, len(list), 2)
	assert.Equal(t, "random", list[0].Name)
	assert.Equal(t, "tech", list[1].Name)
}

func TestHydrateNeverLowersCounts(t *testing.T) {
	d := newTestDirectory()
	d.IncrementMessageCount("general")
	d.IncrementMessageCount("general")

	d.Hydrate([]chat.RoomSummary{
		{Name: "general", MessageCount: 1},
		{Name: "archive", Description: "Old stuff", MessageCount: 40},
	})

	g, _ := d.Get("general")
	assert.Equal(t, int64(2), g.MessageCount)
	a, ok := d.Get("archive")
	require.True(t, ok)
	assert.Equal(t, int64(40), a.MessageCount)
	assert.Equal(t, "Old stuff", a.Description)
}

func TestConcurrentJoinsAreIndependent(t *testing.T) {
	d := NewDirectory(chat.DefaultRoomSeeds())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d.Join(fmt.Sprintf("c%d", i), "general")
		}(i)
	}
	wg.Wait()
	assert.Len(t, d.Members("general"), 50)
}
