// Package platform hides the operating system behind a clock and a probe
// for the foreground window and input idleness.
package platform

import (
	"time"
)

// Clock provides wall and monotonic time.
type Clock interface {
	Now() time.Time
	// Monotonic returns elapsed time since an arbitrary fixed origin.
	Monotonic() time.Duration
	Location() *time.Location
}

// SystemClock reads the host clocks.
type SystemClock struct {
	loc *time.Location
}

var processStart = time.Now()

// NewSystemClock returns a clock in the given zone; nil means time.Local.
func NewSystemClock(loc *time.Location) *SystemClock {
	if loc == nil {
		loc = time.Local
	}
	return &SystemClock{loc: loc}
}

// Now returns the wall time in the clock's zone.
func (c *SystemClock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Monotonic returns a clock that keeps counting while the host is suspended
// where the platform supports it.
func (c *SystemClock) Monotonic() time.Duration {
	return monotonicNow()
}

// Location returns the user's local zone.
func (c *SystemClock) Location() *time.Location {
	return c.loc
}
