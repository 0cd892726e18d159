package graph

import "time"

// Clock is a reference clock. Now returns the time elapsed since the clock
// origin.
type Clock interface {
	Now() time.Duration
}

// SystemClock measures wall time since its creation.
type SystemClock struct {
	origin time.Time
}

// NewSystemClock returns a clock started now.
func NewSystemClock() *SystemClock {
	return &SystemClock{origin: time.Now()}
}

// Now implements Clock.
func (c *SystemClock) Now() time.Duration {
	return time.Since(c.origin)
}
