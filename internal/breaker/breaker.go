// Package breaker protects the upstream tracker API from a governor that
// has started failing auth (expired token, revoked app install) by
// tripping after a consecutive run of auth failures and backing off with
// a doubling timeout (spec §4.8 / component G). Built on sony/gobreaker
// rather than the teacher's queue-depth-triggered CircuitBreaker
// (control_plane/scheduler/circuit_breaker.go) because the trigger here
// is call outcome, not backpressure — gobreaker's ReadyToTrip/ConsecutiveFailures
// model fits directly; ground rules (half-open probe count, state names)
// are carried over from that file.
package breaker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrOpen is returned by Call when the breaker is open and rejecting calls.
var ErrOpen = errors.New("breaker: open, rejecting call")

// HTTPStatusError is implemented by upstream client errors that carry a
// status code; platform adapters should return errors satisfying this
// when they wrap a non-2xx response.
type HTTPStatusError interface {
	error
	StatusCode() int
}

// GraphQLError is implemented by upstream client errors that carry a
// GraphQL error code, which trackers such as Shortcut/Linear nest at
// varying depths under errors[].extensions.code; adapters are expected
// to surface that code here however deep it was found.
type GraphQLError interface {
	error
	Code() string
}

// IsAuthError classifies an upstream call failure as one that should
// trip the breaker: HTTP status 400/401/403, message text matching
// "access denied", "unauthorized", or "forbidden", or a GraphQL error
// code of RATELIMITED. Note that an HTTP 429 is explicitly NOT an auth
// error — it is handled by the rate limiter's penalize-and-retry path
// (spec §4.8); only the GraphQL RATELIMITED code counts here.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	var statusErr HTTPStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode() {
		case 400, 401, 403:
			return true
		}
	}
	var gqlErr GraphQLError
	if errors.As(err, &gqlErr) {
		if strings.ToUpper(gqlErr.Code()) == "RATELIMITED" {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"access denied", "unauthorized", "forbidden"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// Breaker wraps a gobreaker.CircuitBreaker, rebuilt on every trip with a
// doubled reset timeout (capped at max) so repeated auth failures widen
// the backoff instead of hammering the tracker every `base` seconds.
type Breaker struct {
	mu    sync.Mutex
	cb    *gobreaker.CircuitBreaker
	name      string
	threshold uint32
	base      time.Duration
	max       time.Duration
	trips     int
}

// New creates a Breaker that opens once consecutiveAuthFailures reaches
// threshold (spec default 2; the half-open state then admits exactly
// one probe call) and resets after base, doubling on each subsequent
// trip up to max.
func New(name string, threshold uint32, base, max time.Duration) *Breaker {
	if threshold == 0 {
		threshold = 1
	}
	b := &Breaker{name: name, threshold: threshold, base: base, max: max}
	b.cb = b.build(base)
	return b
}

func (b *Breaker) build(timeout time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        b.name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= b.threshold
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			// Widen the timeout a failed probe will re-arm with here, on
			// entering half-open, not on the open transition itself: rebuilding
			// on the open transition would hand the breaker a fresh, closed
			// CircuitBreaker at the exact moment it's supposed to start
			// rejecting calls, undoing the trip.
			if to == gobreaker.StateHalfOpen {
				b.mu.Lock()
				if b.trips < 32 {
					b.trips++
				}
				next := b.base
				for i := 0; i < b.trips; i++ {
					next *= 2
					if next >= b.max {
						next = b.max
						break
					}
				}
				b.cb = b.build(next)
				b.mu.Unlock()
			}
			if to == gobreaker.StateClosed {
				b.mu.Lock()
				b.trips = 0
				b.mu.Unlock()
			}
		},
	})
}

func (b *Breaker) current() *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cb
}

// Call runs fn through the breaker. Only errors classified by
// IsAuthError count toward the trip threshold; any other error from fn
// is still returned to the caller but does not affect breaker state.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	cb := b.current()
	var actual error
	_, err := cb.Execute(func() (interface{}, error) {
		actual = fn(ctx)
		if actual != nil && !IsAuthError(actual) {
			return nil, nil
		}
		return nil, actual
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return ErrOpen
	}
	return actual
}

// Allow reports whether the breaker would currently admit a call. Callers
// that gate a separate resource (e.g. a rate limiter token) on the breaker
// should check this first so an open circuit consumes none of it (spec §4.6).
func (b *Breaker) Allow() bool {
	return b.current().State() != gobreaker.StateOpen
}

// State returns the breaker's current state name ("closed", "half-open", "open").
func (b *Breaker) State() string {
	switch b.current().State() {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}
