package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/agentgovernor/governor/internal/store"
)

func TestIsDuplicateFirstSeenFalseSecondTrue(t *testing.T) {
	s := store.NewMemoryStore()
	d := New(s, time.Second)
	ctx := context.Background()

	key := StatusKey("I-1", "Started")
	dup, err := d.IsDuplicate(ctx, key)
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if dup {
		t.Fatal("expected first mark to not be a duplicate")
	}

	dup, err = d.IsDuplicate(ctx, key)
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if !dup {
		t.Fatal("expected second mark within window to be a duplicate")
	}
}

func TestCanonicalKeyBuilders(t *testing.T) {
	if got := StatusKey("I-1", "Started"); got != "I-1:Started" {
		t.Fatalf("StatusKey: got %q", got)
	}
	if got := CommentKey("I-1", "c1"); got != "I-1:comment:c1" {
		t.Fatalf("CommentKey: got %q", got)
	}
	if got := SessionEventKey("s1", "session-completed", 12345); got != "s1:session-completed:12345" {
		t.Fatalf("SessionEventKey: got %q", got)
	}
}

func TestDefaultWindowAppliedForZero(t *testing.T) {
	s := store.NewMemoryStore()
	d := New(s, 0)
	if d.window != DefaultWindow {
		t.Fatalf("expected default window applied, got %v", d.window)
	}
}
