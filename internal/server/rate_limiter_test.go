package server

import (
	"testing"
	"time"
)

func TestRateLimiterBurstAndRefill(t *testing.T) {
	clock := time.Unix(0, 0)
	rl := newRateLimiter(3, 3*time.Second)
	rl.now = func() time.Time { return clock }
	rl.last = clock

	for i := 0; i < 3; i++ {
		if !rl.allow() {
			t.Fatalf("Expected frame %d within burst to be allowed", i)
		}
	}
	if rl.allow() {
		t.Fatal("Expected frame beyond burst to be rejected")
	}

	clock = clock.Add(time.Second)
	if !rl.allow() {
		t.Fatal("Expected one token after a third of the interval")
	}
	if rl.allow() {
		t.Fatal("Expected bucket to be empty again")
	}

	clock = clock.Add(time.Hour)
	for i := 0; i < 3; i++ {
		if !rl.allow() {
			t.Fatalf("Expected refill to cap at burst, frame %d rejected", i)
		}
	}
	if rl.allow() {
		t.Fatal("Expected refill not to exceed burst")
	}
}

func TestRateLimiterDefaults(t *testing.T) {
	rl := newRateLimiter(0, 0)
	if !rl.allow() {
		t.Fatal("Expected a zero burst to be raised to one")
	}
	if rl.allow() {
		t.Fatal("Expected second immediate frame to be rejected")
	}
}
