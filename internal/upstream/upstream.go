// Package upstream mediates every call the governor makes to the issue
// tracker's API: breaker check, rate-limit acquire, the call itself,
// and retry-with-backoff on transient failures (spec §4.8 / component G).
package upstream

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/agentgovernor/governor/internal/breaker"
	"github.com/agentgovernor/governor/internal/ratelimit"
)

// RateLimitedError is returned by an upstream call to signal a 429;
// platform adapters wrap their transport errors in this so Mediator can
// penalize the limiter and retry instead of surfacing the raw error.
// RetryAfter is the delay from the response header, if any; zero means
// the adapter didn't find one and a default floor is used.
type RateLimitedError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string { return "rate limited: " + e.Err.Error() }
func (e *RateLimitedError) Unwrap() error  { return e.Err }

// TransientError marks a 5xx or network error as retryable without
// penalizing the rate limiter.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error  { return e.Err }

const (
	maxRetries  = 3
	baseBackoff = time.Second
	maxBackoff  = 10 * time.Second
)

// Mediator composes a breaker and a rate limiter in front of upstream calls.
type Mediator struct {
	breaker *breaker.Breaker
	limiter *ratelimit.Limiter
}

// New builds a Mediator over an already-constructed breaker and limiter,
// both typically shared across every call to the same tracker org.
func New(b *breaker.Breaker, l *ratelimit.Limiter) *Mediator {
	return &Mediator{breaker: b, limiter: l}
}

// Call runs fn for the given rate-limit key: breaker check, limiter
// acquire (blocking up to ctx's deadline), fn, and — on a 429 or
// transient error — a bounded exponential-backoff retry. A RateLimitedError
// additionally penalizes the limiter's bucket for key so subsequent
// calls to the same org slow down on their own (spec §4.8).
func (m *Mediator) Call(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return err
			}
		}

		if !m.breaker.Allow() {
			return breaker.ErrOpen
		}

		if ok, delay := m.limiter.Reserve(key); !ok {
			if err := sleepFor(ctx, delay); err != nil {
				return err
			}
		}

		err := m.breaker.Call(ctx, fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, breaker.ErrOpen) {
			return err
		}

		var rl *RateLimitedError
		if errors.As(err, &rl) {
			retryAfter := rl.RetryAfter
			if retryAfter <= 0 {
				retryAfter = baseBackoff
			}
			m.limiter.Penalize(key, retryAfter)
			lastErr = err
			continue
		}
		var transient *TransientError
		if errors.As(err, &transient) {
			lastErr = err
			continue
		}

		// Anything else (including auth failures the breaker already
		// recorded) is not retryable.
		return err
	}
	return lastErr
}

func sleepFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// sleepBackoff waits base*2^(attempt-1) capped at maxBackoff, with full jitter.
func sleepBackoff(ctx context.Context, attempt int) error {
	d := time.Duration(math.Min(float64(maxBackoff), float64(baseBackoff)*math.Pow(2, float64(attempt-1))))
	jittered := time.Duration(rand.Int63n(int64(d) + 1))
	return sleepFor(ctx, jittered)
}
