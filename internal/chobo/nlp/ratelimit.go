package nlp

import (
	"sync"
	"time"
)

const (
	// DefaultRateLimit is the number of classifier calls allowed per session
	// per minute when no explicit limit is configured.
	DefaultRateLimit = 20

	defaultRateLimitWindow = time.Minute
)

// RateLimiter enforces a per-session sliding-window limit on classifier
// calls. A denied call is not an error: the router just uses local rules.
//
// RateLimiter is safe for concurrent use.
type RateLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	now      func() time.Time
	counters map[string][]time.Time // session → call timestamps in window
}

// NewRateLimiter returns a RateLimiter allowing limit calls per key within
// window. Non-positive values select the defaults.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = defaultRateLimitWindow
	}
	return &RateLimiter{
		limit:    limit,
		window:   window,
		now:      time.Now,
		counters: make(map[string][]time.Time),
	}
}

// Allow records a call for key and reports whether it is within quota.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	valid := r.pruneLocked(key, now)
	if len(valid) >= r.limit {
		r.counters[key] = valid
		return false
	}
	r.counters[key] = append(valid, now)
	return true
}

// Remaining returns how many calls key may still make in the current window.
func (r *RateLimiter) Remaining(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	valid := r.pruneLocked(key, r.now())
	r.counters[key] = valid
	if len(valid) == 0 {
		delete(r.counters, key)
	}
	if rem := r.limit - len(valid); rem > 0 {
		return rem
	}
	return 0
}

// pruneLocked drops timestamps outside the window. Must be called with mu
// held.
func (r *RateLimiter) pruneLocked(key string, now time.Time) []time.Time {
	cutoff := now.Add(-r.window)
	existing := r.counters[key]
	valid := existing[:0]
	for _, t := range existing {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	return valid
}
