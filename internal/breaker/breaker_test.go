package breaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

type httpErr struct{ code int }

func (e httpErr) Error() string   { return "http error" }
func (e httpErr) StatusCode() int { return e.code }

type gqlErr struct{ code string }

func (e gqlErr) Error() string { return "graphql error" }
func (e gqlErr) Code() string  { return e.code }

func TestIsAuthErrorClassification(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{httpErr{401}, true},
		{httpErr{403}, true},
		{httpErr{400}, true},
		{httpErr{500}, false},
		{gqlErr{"FORBIDDEN"}, false},
		{gqlErr{"RATELIMITED"}, true},
		{errors.New("received 401 Unauthorized from tracker"), true},
		{errors.New("connection reset by peer"), false},
	}
	for _, c := range cases {
		if got := IsAuthError(c.err); got != c.want {
			t.Errorf("IsAuthError(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestBreakerTripsOnAuthFailureOnly(t *testing.T) {
	b := New("test", 1, 10*time.Millisecond, time.Second)
	ctx := context.Background()

	err := b.Call(ctx, func(context.Context) error { return errors.New("temporary network blip") })
	if err == nil || IsAuthError(err) {
		t.Fatalf("expected non-auth error passthrough, got %v", err)
	}
	if b.State() != "closed" {
		t.Fatalf("expected breaker to stay closed on non-auth error, got %s", b.State())
	}

	err = b.Call(ctx, func(context.Context) error { return httpErr{401} })
	if err == nil {
		t.Fatal("expected auth error to be returned")
	}
	if b.State() != "open" {
		t.Fatalf("expected breaker to open after auth failure, got %s", b.State())
	}

	if err := b.Call(ctx, func(context.Context) error { return nil }); err != ErrOpen {
		t.Fatalf("expected ErrOpen while breaker is open, got %v", err)
	}
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	b := New("test", 1, 10*time.Millisecond, time.Second)
	ctx := context.Background()

	b.Call(ctx, func(context.Context) error { return httpErr{401} })
	if b.State() != "open" {
		t.Fatalf("expected open, got %s", b.State())
	}

	time.Sleep(20 * time.Millisecond)

	if err := b.Call(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("expected half-open probe to succeed: %v", err)
	}
	if b.State() != "closed" {
		t.Fatalf("expected breaker to close after successful probe, got %s", b.State())
	}
}
