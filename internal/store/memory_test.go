package store

import (
	"context"
	"testing"
)

func TestMemoryStoreQueueFIFOWithinPriority(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	m.EnqueueWork(ctx, &QueuedWork{SessionID: "a", Priority: 5, QueuedAt: 10})
	m.EnqueueWork(ctx, &QueuedWork{SessionID: "b", Priority: 1, QueuedAt: 20})
	m.EnqueueWork(ctx, &QueuedWork{SessionID: "c", Priority: 1, QueuedAt: 5})

	w, err := m.ClaimWork(ctx, "worker", nil)
	if err != nil {
		t.Fatalf("ClaimWork: %v", err)
	}
	if w.SessionID != "c" {
		t.Fatalf("expected c first, got %s", w.SessionID)
	}
	w, _ = m.ClaimWork(ctx, "worker", nil)
	if w.SessionID != "b" {
		t.Fatalf("expected b second, got %s", w.SessionID)
	}
	w, _ = m.ClaimWork(ctx, "worker", nil)
	if w.SessionID != "a" {
		t.Fatalf("expected a last, got %s", w.SessionID)
	}
}

func TestMemoryStoreTransitionRejectsBackwardMove(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	m.PutSession(ctx, &SessionRecord{SessionID: "s1", Status: SessionRunning})

	if _, err := m.TransitionSession(ctx, "s1", SessionPending, nil); err != ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestMemoryStoreDedupOneShot(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	ok, _ := m.MarkIfAbsent(ctx, "k", 0)
	if !ok {
		t.Fatal("expected first mark to succeed")
	}
	ok, _ = m.MarkIfAbsent(ctx, "k", 0)
	if ok {
		t.Fatal("expected second mark to report duplicate")
	}
}

func TestMemoryStoreIssueLockExclusive(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	if err := m.AcquireIssueLock(ctx, &IssueLock{IssueID: "I-1", SessionID: "s1"}); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := m.AcquireIssueLock(ctx, &IssueLock{IssueID: "I-1", SessionID: "s2"}); err != ErrLocked {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}
