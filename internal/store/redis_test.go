package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/agentgovernor/governor/internal/issue"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisStore(client), mr
}

func TestRedisSessionTransitionLattice(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	rec := &SessionRecord{SessionID: "s1", IssueID: "I-1", WorkType: issue.WorkDevelopment, Status: SessionPending}
	if err := s.PutSession(ctx, rec); err != nil {
		t.Fatalf("PutSession: %v", err)
	}

	if _, err := s.TransitionSession(ctx, "s1", SessionRunning, nil); err != ErrConflict {
		t.Fatalf("expected ErrConflict skipping claimed, got %v", err)
	}

	if _, err := s.TransitionSession(ctx, "s1", SessionClaimed, nil); err != nil {
		t.Fatalf("pending->claimed: %v", err)
	}

	got, err := s.TransitionSession(ctx, "s1", SessionRunning, func(r *SessionRecord) {
		r.WorkerID = "w1"
	})
	if err != nil {
		t.Fatalf("claimed->running: %v", err)
	}
	if got.WorkerID != "w1" {
		t.Fatalf("mutate not applied, got %+v", got)
	}

	if _, err := s.TransitionSession(ctx, "s1", SessionCompleted, nil); err != nil {
		t.Fatalf("running->completed: %v", err)
	}
	if _, err := s.TransitionSession(ctx, "s1", SessionClaimed, nil); err != ErrConflict {
		t.Fatalf("expected terminal session to reject further transitions, got %v", err)
	}
}

func TestRedisIssueLockRoundTrip(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	lock := &IssueLock{IssueID: "I-1", SessionID: "s1", TTLMs: 60000}
	if err := s.AcquireIssueLock(ctx, lock); err != nil {
		t.Fatalf("AcquireIssueLock: %v", err)
	}

	other := &IssueLock{IssueID: "I-1", SessionID: "s2", TTLMs: 60000}
	if err := s.AcquireIssueLock(ctx, other); err != ErrLocked {
		t.Fatalf("expected ErrLocked, got %v", err)
	}

	if err := s.RenewIssueLock(ctx, "I-1", "s2", 1000); err != ErrNotOwner {
		t.Fatalf("expected ErrNotOwner for non-holder renew, got %v", err)
	}
	if err := s.RenewIssueLock(ctx, "I-1", "s1", 1000); err != nil {
		t.Fatalf("RenewIssueLock: %v", err)
	}

	if err := s.ReleaseIssueLock(ctx, "I-1", "s2"); err != ErrNotOwner {
		t.Fatalf("expected ErrNotOwner for non-holder release, got %v", err)
	}
	if err := s.ReleaseIssueLock(ctx, "I-1", "s1"); err != nil {
		t.Fatalf("ReleaseIssueLock: %v", err)
	}

	if err := s.AcquireIssueLock(ctx, other); err != nil {
		t.Fatalf("expected lock free after release, got %v", err)
	}
}

func TestRedisQueueOrdering(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	s.EnqueueWork(ctx, &QueuedWork{SessionID: "a", Priority: 2, QueuedAt: 100, ProjectName: "core"})
	s.EnqueueWork(ctx, &QueuedWork{SessionID: "b", Priority: 1, QueuedAt: 200, ProjectName: "core"})
	s.EnqueueWork(ctx, &QueuedWork{SessionID: "c", Priority: 1, QueuedAt: 50, ProjectName: "core"})

	first, err := s.ClaimWork(ctx, "w1", nil)
	if err != nil {
		t.Fatalf("ClaimWork: %v", err)
	}
	if first.SessionID != "c" {
		t.Fatalf("expected lowest-priority earliest-queued first, got %s", first.SessionID)
	}

	second, err := s.ClaimWork(ctx, "w1", nil)
	if err != nil {
		t.Fatalf("ClaimWork: %v", err)
	}
	if second.SessionID != "b" {
		t.Fatalf("expected same-priority tie broken by queuedAt, got %s", second.SessionID)
	}
}

func TestRedisClaimWorkFiltersByProject(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	s.EnqueueWork(ctx, &QueuedWork{SessionID: "a", Priority: 1, QueuedAt: 1, ProjectName: "other"})
	s.EnqueueWork(ctx, &QueuedWork{SessionID: "b", Priority: 2, QueuedAt: 2, ProjectName: "core"})

	w, err := s.ClaimWork(ctx, "w1", []string{"core"})
	if err != nil {
		t.Fatalf("ClaimWork: %v", err)
	}
	if w.SessionID != "b" {
		t.Fatalf("expected project-filtered claim to skip 'a', got %s", w.SessionID)
	}
}

func TestRedisMarkIfAbsent(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	first, err := s.MarkIfAbsent(ctx, "webhook:abc", 60)
	if err != nil || !first {
		t.Fatalf("expected first mark to succeed: %v %v", first, err)
	}
	second, err := s.MarkIfAbsent(ctx, "webhook:abc", 60)
	if err != nil || second {
		t.Fatalf("expected second mark to report duplicate: %v %v", second, err)
	}
}

func TestRedisSweepLease(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	ok, epoch1, err := s.AcquireSweepLease(ctx, "governor-a", 5000)
	if err != nil || !ok {
		t.Fatalf("expected first acquire to win: %v %v", ok, err)
	}

	ok, _, err = s.AcquireSweepLease(ctx, "governor-b", 5000)
	if err != nil || ok {
		t.Fatalf("expected second acquire to lose while lease held: %v %v", ok, err)
	}

	if err := s.ReleaseSweepLease(ctx, "governor-a", epoch1); err != nil {
		t.Fatalf("ReleaseSweepLease: %v", err)
	}

	ok, _, err = s.AcquireSweepLease(ctx, "governor-b", 5000)
	if err != nil || !ok {
		t.Fatalf("expected acquire to succeed after release: %v %v", ok, err)
	}
}

func TestRedisParkedWorkReplace(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	s.ParkWork(ctx, &QueuedWork{IssueID: "I-1", SessionID: "first", WorkType: issue.WorkDevelopment})
	s.ParkWork(ctx, &QueuedWork{IssueID: "I-1", SessionID: "second", WorkType: issue.WorkDevelopment})
	s.ParkWork(ctx, &QueuedWork{IssueID: "I-1", SessionID: "qa-wait", WorkType: issue.WorkQA})

	all, err := s.ListParked(ctx, "I-1")
	if err != nil {
		t.Fatalf("ListParked: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 distinct-workType parked entries, got %d", len(all))
	}

	got, err := s.PopParked(ctx, "I-1", issue.WorkDevelopment)
	if err != nil {
		t.Fatalf("PopParked: %v", err)
	}
	if got.SessionID != "second" {
		t.Fatalf("expected latest same-workType park to replace prior, got %s", got.SessionID)
	}

	if _, err := s.PopParked(ctx, "I-1", issue.WorkDevelopment); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after pop, got %v", err)
	}

	if _, err := s.PopParked(ctx, "I-1", issue.WorkQA); err != nil {
		t.Fatalf("expected unrelated workType entry to survive, got %v", err)
	}
}
