// Package ratelimit provides a sliding-window request throttle for calls to
// the remote catalog provider.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Limiter admits at most MaxRequests calls within any trailing Window. Unlike
// a token bucket, admission is computed against the actual timestamps of the
// trailing window, so a burst of MaxRequests is admitted immediately and the
// next caller waits until the oldest burst timestamp leaves the window.
type Limiter struct {
	mu          sync.Mutex
	clock       clock.Clock
	maxRequests int
	window      time.Duration
	timestamps  []time.Time
}

// NewLimiter builds a sliding-window limiter.
func NewLimiter(clk clock.Clock, maxRequests int, window time.Duration) *Limiter {
	return &Limiter{
		clock:       clk,
		maxRequests: maxRequests,
		window:      window,
	}
}

// WaitForToken blocks until the window admits another call, then records the
// call's timestamp. Concurrent waiters each recompute their wait against the
// shared timestamp list when they wake, so arrival order is not a strict
// fairness guarantee. A zero or negative computed wait is treated as no wait.
func (l *Limiter) WaitForToken(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.clock.Now()
		l.prune(now)

		if len(l.timestamps) < l.maxRequests {
			l.timestamps = append(l.timestamps, now)
			l.mu.Unlock()
			return nil
		}

		wait := l.window - now.Sub(l.timestamps[0])
		l.mu.Unlock()

		if wait <= 0 {
			continue
		}

		timer := l.clock.Timer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// prune drops timestamps older than the window. Caller holds the lock.
func (l *Limiter) prune(now time.Time) {
	cut := 0
	for cut < len(l.timestamps) && now.Sub(l.timestamps[cut]) >= l.window {
		cut++
	}
	if cut > 0 {
		l.timestamps = append(l.timestamps[:0], l.timestamps[cut:]...)
	}
}
