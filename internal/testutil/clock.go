// Package testutil holds shared fixtures for foreman's tests: a
// settable clock, migrated temp ledger databases, and board seeds
// shaped like the boards the planner publishes.
package testutil

import (
	"sync"
	"time"
)

// Clock is a settable time source. Pass the Now method wherever a
// component accepts a clock override and move time from the test body.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock pinned to a fixed instant so tests behave
// the same no matter when they run.
func NewClock() *Clock {
	return &Clock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set pins the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
