// Package ratelimit implements a fixed-window request limiter keyed by
// client identity (API key when presented, forwarded client IP otherwise).
//
// Counters live in memory only. They reset when the process restarts, which
// briefly relaxes the limit; this is a known and accepted limitation.
package ratelimit

import (
	"sync"
	"time"
)

// Result of a limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is the whole seconds until the window resets. Only
	// meaningful when Allowed is false.
	RetryAfter int
}

// Limiter counts requests per identity in fixed windows. Safe for
// concurrent use; the counter increment and window rollover happen under
// one lock so concurrent callers never lose updates.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string]*bucket
}

type bucket struct {
	count       int
	windowStart time.Time
}

// New creates a limiter allowing limit requests per window per identity.
func New(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*bucket),
	}
}

// Allow records a request for identity at the given instant and reports
// whether it fits inside the current window.
func (l *Limiter) Allow(identity string, now time.Time) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[identity]
	if !ok || !now.Before(b.windowStart.Add(l.window)) {
		b = &bucket{windowStart: now}
		l.buckets[identity] = b
	}

	resetAt := b.windowStart.Add(l.window)
	if b.count >= l.limit {
		retryAfter := int(resetAt.Sub(now).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		return Result{
			Allowed:    false,
			Limit:      l.limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: retryAfter,
		}
	}

	b.count++
	return Result{
		Allowed:   true,
		Limit:     l.limit,
		Remaining: l.limit - b.count,
		ResetAt:   resetAt,
	}
}

// Reset clears the counter for one identity.
func (l *Limiter) Reset(identity string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, identity)
}

// Sweep drops buckets whose window ended before now, bounding memory on
// long-running processes with high identity churn.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	swept := 0
	for identity, b := range l.buckets {
		if !now.Before(b.windowStart.Add(l.window)) {
			delete(l.buckets, identity)
			swept++
		}
	}
	return swept
}
