// SPDX-License-Identifier: MPL-2.0

// Package clock abstracts wall-clock reads so rate-limit windows and backup
// timestamps can be driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

type (
	// Clock returns the current time.
	Clock interface {
		Now() time.Time
	}

	// Real reads the system clock.
	Real struct{}

	// Fake is a manually advanced clock. Safe for concurrent use.
	Fake struct {
		mu      sync.Mutex
		current time.Time
	}
)

// Now returns the current system time.
func (Real) Now() time.Time {
	return time.Now()
}

// NewFake creates a Fake set to initial, or to a fixed reference time when
// initial is zero.
func NewFake(initial time.Time) *Fake {
	if initial.IsZero() {
		initial = time.Date(2024, 3, 9, 14, 5, 7, 123_000_000, time.UTC)
	}
	return &Fake{current: initial}
}

// Now returns the fake time.
func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the fake time forward by d.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// Set moves the fake time to t.
func (c *Fake) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

// OrReal returns c, or Real when c is nil.
func OrReal(c Clock) Clock {
	if c == nil {
		return Real{}
	}
	return c
}
