package testutil

import (
	"sync"
	"time"
)

// FakeClock is a manually advanced clock. Wall and monotonic time move
// together.
type FakeClock struct {
	mu   sync.Mutex
	now  time.Time
	mono time.Duration
	loc  *time.Location
}

// NewFakeClock starts a clock at now, in now's location.
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now, mono: time.Hour, loc: now.Location()}
}

// Now returns the current fake wall time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Monotonic returns the fake monotonic reading.
func (c *FakeClock) Monotonic() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mono
}

// Location returns the clock's zone.
func (c *FakeClock) Location() *time.Location {
	return c.loc
}

// Advance moves both clocks forward.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mono += d
	c.mu.Unlock()
}

// Set jumps both clocks to t. Moving backwards only affects the wall clock.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	if d := t.Sub(c.now); d > 0 {
		c.mono += d
	}
	c.now = t
	c.mu.Unlock()
}
