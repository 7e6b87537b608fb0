// SPDX-License-Identifier: MPL-2.0

package source

import (
	"sync"
	"time"

	"github.com/melonup/melonup/internal/clock"
)

// Breaker remembers until when an upstream asked us to back off.
type Breaker struct {
	clock clock.Clock

	mu    sync.Mutex
	until time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(c clock.Clock) *Breaker {
	return &Breaker{clock: clock.OrReal(c)}
}

// Trip opens the breaker until t. An earlier t never shortens an open window.
func (b *Breaker) Trip(t time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t.After(b.until) {
		b.until = t
	}
}

// Open reports whether calls must be suppressed, and until when.
func (b *Breaker) Open() (bool, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.until.IsZero() || !b.clock.Now().Before(b.until) {
		return false, time.Time{}
	}
	return true, b.until
}
