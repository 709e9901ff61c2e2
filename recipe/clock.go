package recipe

import (
	"sync"
	"time"
)

// Clock accumulates the running time of a run across pause and resume. Paused
// intervals do not count toward the elapsed time fed into Compute.
type Clock struct {
	mu      sync.Mutex
	now     func() time.Time
	banked  time.Duration
	startAt time.Time
}

// NewClock returns a stopped clock with zero elapsed time.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// Start begins timing from zero, discarding any accumulated time.
func (c *Clock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.banked = 0
	c.startAt = c.now()
}

// Pause freezes the elapsed accumulator. Pausing a stopped or paused clock is
// a no-op.
func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.startAt.IsZero() {
		return
	}
	c.banked += c.now().Sub(c.startAt)
	c.startAt = time.Time{}
}

// Resume continues timing from the accumulated elapsed time. Resuming a
// running clock is a no-op.
func (c *Clock) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.startAt.IsZero() {
		return
	}
	c.startAt = c.now()
}

// Reset returns the clock to the stopped state with zero elapsed time.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.banked = 0
	c.startAt = time.Time{}
}

// Running reports whether the clock is accumulating time.
func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return !c.startAt.IsZero()
}

// Elapsed returns the accumulated running time, excluding paused intervals.
func (c *Clock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.startAt.IsZero() {
		return c.banked
	}

	return c.banked + c.now().Sub(c.startAt)
}
