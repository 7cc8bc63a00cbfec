package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter admits at most limit calls within any trailing window. Acquire
// blocks until admitting one more call would not exceed the budget. There is
// no fairness guarantee beyond eventual admission.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	calls  []time.Time // admission timestamps, oldest first
}

// New creates a Limiter admitting limit calls per trailing window.
func New(limit int, window time.Duration) *Limiter {
	if limit < 1 {
		limit = 1
	}
	return &Limiter{limit: limit, window: window}
}

// Acquire blocks until the call budget allows one more call, then records it.
// Returns early with the context error if ctx is cancelled while waiting.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()
		l.prune(now)
		if len(l.calls) < l.limit {
			l.calls = append(l.calls, now)
			l.mu.Unlock()
			return nil
		}
		// Budget exhausted: wait until the oldest recorded call leaves the
		// window, then re-check. Another caller may win the freed slot.
		wait := l.calls[0].Add(l.window).Sub(now)
		l.mu.Unlock()

		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// InFlight returns the number of calls recorded within the current window.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(time.Now())
	return len(l.calls)
}

// prune drops timestamps that fell out of the trailing window.
// Caller must hold mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}
