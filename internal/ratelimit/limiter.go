// Package ratelimit throttles calls to the upstream tracker API, keyed
// by organization, so one noisy project cannot exhaust the quota shared
// by the rest (spec §4.6 / component G).
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a per-key token bucket with an additional penalty floor.
// Grounded on control_plane/scheduler/limiter.go's TokenBucketLimiter,
// generalized from a single shared bucket to one keyed per caller, with
// Penalize implementing spec §4.6's "sets a delay floor that prevents
// acquisition until now + seconds" (an upstream Retry-After), which is
// a distinct mechanism from the bucket itself rather than a rate change.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	blockedUntil map[string]time.Time
	capacity     int
	refill       rate.Limit
}

// New creates a limiter with the given bucket capacity and refill rate
// (tokens/sec), applied the first time a given key is seen.
func New(refillPerSecond float64, capacity int) *Limiter {
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		blockedUntil: make(map[string]time.Time),
		capacity:     capacity,
		refill:       rate.Limit(refillPerSecond),
	}
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	b, ok := l.limiters[key]
	if !ok {
		b = rate.NewLimiter(l.refill, l.capacity)
		l.limiters[key] = b
	}
	return b
}

// Allow reports whether key may proceed right now, consuming a token if so.
func (l *Limiter) Allow(key string) bool {
	ok, _ := l.Reserve(key)
	return ok
}

// Reserve reports whether key may proceed immediately; if not, it
// returns the delay the caller would need to wait before it can
// (maximum of the token-bucket wait and any outstanding Penalize floor),
// without consuming a token.
func (l *Limiter) Reserve(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if until, ok := l.blockedUntil[key]; ok && now.Before(until) {
		return false, until.Sub(now)
	}

	r := l.bucket(key).Reserve()
	delay := r.Delay()
	if delay > 0 {
		r.Cancel()
		return false, delay
	}
	return true, 0
}

// Penalize sets a delay floor that blocks acquisition for key until
// now+d, independent of the token bucket's own refill schedule — this
// is how an upstream Retry-After header is honored (spec §4.6).
func (l *Limiter) Penalize(key string, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	until := time.Now().Add(d)
	if cur, ok := l.blockedUntil[key]; !ok || until.After(cur) {
		l.blockedUntil[key] = until
	}
}

// Reset clears both the bucket and the penalty floor for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, key)
	delete(l.blockedUntil, key)
}
