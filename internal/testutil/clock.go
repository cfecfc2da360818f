// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"sync"
	"time"
)

type (
	// Clock is the time source of build timing and history timestamps.
	Clock interface {
		Now() time.Time
		Since(t time.Time) time.Duration
	}

	// RealClock reads the system clock.
	RealClock struct{}

	// FakeClock only moves when a test calls Advance or Set. It is safe for
	// concurrent use.
	FakeClock struct {
		mu  sync.Mutex
		now time.Time
	}
)

// Epoch is the start time of a FakeClock created from the zero time.
var Epoch = time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

// NewFakeClock returns a clock stopped at start, or at Epoch when start is
// zero.
func NewFakeClock(start time.Time) *FakeClock {
	if start.IsZero() {
		start = Epoch
	}
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Advance moves the clock forward by d. Negative durations move it back.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set moves the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}
