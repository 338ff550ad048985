package testutil

import (
	"sync"
	"time"

	"docvault/internal/dv"
)

// Epoch is the instant every ManualClock starts at unless told otherwise.
var Epoch = time.Date(2016, time.March, 1, 9, 0, 0, 0, time.UTC)

// ManualClock is a dv.Clock that only moves when a test moves it.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

var _ dv.Clock = (*ManualClock)(nil)

// NewManualClock returns a clock stopped at start, or at Epoch when start is
// the zero time.
func NewManualClock(start time.Time) *ManualClock {
	if start.IsZero() {
		start = Epoch
	}
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new reading.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}
