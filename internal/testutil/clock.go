package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start time of a FakeClock.
var Epoch = time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)

// FakeClock is a manually driven wall clock for tests.
//
// Unlike model.SystemClock, FakeClock only moves when told to, so timestamps
// in stored records, outbox events and golden traces are reproducible. With
// a non-zero step, every Now() call advances the clock by step afterwards,
// giving distinct increasing timestamps without explicit Advance calls.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu    sync.Mutex
	now   time.Time
	step  time.Duration
	start time.Time
}

// NewFakeClock creates a clock at start (Epoch if zero).
func NewFakeClock(start time.Time) *FakeClock {
	if start.IsZero() {
		start = Epoch
	}
	start = start.UTC()
	return &FakeClock{now: start, start: start}
}

// NewSteppingClock creates a clock at start that advances by step after
// every Now() call.
func NewSteppingClock(start time.Time, step time.Duration) *FakeClock {
	c := NewFakeClock(start)
	c.step = step
	return c
}

// Now returns the current fake time.
//
// Implements model.Clock.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

// Peek returns the current fake time without stepping.
func (c *FakeClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// Reset moves the clock back to its start time.
//
// Used for test reuse: the same scenario replays identical timestamps.
func (c *FakeClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start
}
