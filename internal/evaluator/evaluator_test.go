package evaluator

import (
	"context"
	"testing"
	"time"

	"github.com/agentgovernor/governor/internal/bus"
	"github.com/agentgovernor/governor/internal/dispatch"
	"github.com/agentgovernor/governor/internal/issue"
	"github.com/agentgovernor/governor/internal/store"
)

func newEvaluator(s store.Store) *Evaluator {
	return New(s, dispatch.New(s), DefaultConfig())
}

func statusEvent(issueID string, status issue.Status) bus.Event {
	return bus.Event{
		Kind:      bus.KindIssueStatusChanged,
		IssueID:   issueID,
		Issue:     issue.Issue{ID: issueID, Identifier: issueID, Status: status, ProjectName: "proj-a"},
		NewStatus: status,
		Timestamp: time.Now(),
		Source:    bus.SourceWebhook,
	}
}

func TestEvaluateDispatchesBacklogIssue(t *testing.T) {
	s := store.NewMemoryStore()
	e := newEvaluator(s)

	e.Evaluate(context.Background(), statusEvent("I-1", issue.StatusBacklog))

	depth, err := s.QueueDepth(context.Background())
	if err != nil {
		t.Fatalf("QueueDepth: %v", err)
	}
	if depth != 1 {
		t.Fatalf("expected one queued work item, got %d", depth)
	}
}

func TestEvaluateDropsTerminalIssue(t *testing.T) {
	s := store.NewMemoryStore()
	e := newEvaluator(s)

	e.Evaluate(context.Background(), statusEvent("I-1", issue.StatusAccepted))

	depth, _ := s.QueueDepth(context.Background())
	if depth != 0 {
		t.Fatalf("expected terminal issue to be dropped, got depth %d", depth)
	}
}

func TestEvaluateDropsWhenHeldByOverride(t *testing.T) {
	s := store.NewMemoryStore()
	e := newEvaluator(s)
	ctx := context.Background()

	if err := s.PutOverride(ctx, &store.OverrideRecord{IssueID: "I-1", Directive: store.DirectiveHold}); err != nil {
		t.Fatalf("PutOverride: %v", err)
	}

	e.Evaluate(ctx, statusEvent("I-1", issue.StatusBacklog))

	depth, _ := s.QueueDepth(ctx)
	if depth != 0 {
		t.Fatalf("expected held issue to be dropped, got depth %d", depth)
	}
}

func TestEvaluateParsesHoldCommentBeforeDispatch(t *testing.T) {
	s := store.NewMemoryStore()
	e := newEvaluator(s)
	ctx := context.Background()

	commentEvent := bus.Event{
		Kind:        bus.KindCommentAdded,
		IssueID:     "I-1",
		Issue:       issue.Issue{ID: "I-1", Identifier: "I-1", Status: issue.StatusBacklog, ProjectName: "proj-a"},
		CommentID:   "c1",
		CommentBody: "HOLD - waiting on design",
		UserName:    "alice",
		Timestamp:   time.Now(),
		Source:      bus.SourceWebhook,
	}
	e.Evaluate(ctx, commentEvent)

	ov, err := s.GetOverride(ctx, "I-1")
	if err != nil {
		t.Fatalf("GetOverride: %v", err)
	}
	if ov.Directive != store.DirectiveHold {
		t.Fatalf("expected hold override persisted, got %+v", ov)
	}

	// A later status event for the same issue must now be dropped.
	e.Evaluate(ctx, statusEvent("I-1", issue.StatusBacklog))
	depth, _ := s.QueueDepth(ctx)
	if depth != 0 {
		t.Fatalf("expected dispatch suppressed after hold comment, got depth %d", depth)
	}
}

func TestEvaluateIgnoresBotComment(t *testing.T) {
	s := store.NewMemoryStore()
	e := newEvaluator(s)
	ctx := context.Background()

	e.Evaluate(ctx, bus.Event{
		Kind:        bus.KindCommentAdded,
		IssueID:     "I-1",
		Issue:       issue.Issue{ID: "I-1", Status: issue.StatusBacklog},
		CommentID:   "c1",
		CommentBody: "HOLD",
		UserName:    "governor-bot[bot]",
		Timestamp:   time.Now(),
	})

	if _, err := s.GetOverride(ctx, "I-1"); err != store.ErrNotFound {
		t.Fatalf("expected no override recorded from a bot comment, got err=%v", err)
	}
}

func TestEvaluateDropsWhenAlreadyHasActiveSession(t *testing.T) {
	s := store.NewMemoryStore()
	e := newEvaluator(s)
	ctx := context.Background()

	if err := s.AcquireIssueLock(ctx, &store.IssueLock{
		IssueID:    "I-1",
		SessionID:  "s-existing",
		WorkType:   issue.WorkDevelopment,
		AcquiredAt: time.Now().UnixMilli(),
		TTLMs:      time.Hour.Milliseconds(),
	}); err != nil {
		t.Fatalf("AcquireIssueLock: %v", err)
	}

	e.Evaluate(ctx, statusEvent("I-1", issue.StatusBacklog))

	depth, _ := s.QueueDepth(ctx)
	if depth != 0 {
		t.Fatalf("expected no dispatch while an active session holds the issue lock, got depth %d", depth)
	}
}

func TestEvaluateDropsWithinCooldown(t *testing.T) {
	s := store.NewMemoryStore()
	e := newEvaluator(s)
	ctx := context.Background()

	if err := s.RecordIssueActivity(ctx, "I-1", time.Now().UnixMilli()); err != nil {
		t.Fatalf("RecordIssueActivity: %v", err)
	}

	e.Evaluate(ctx, statusEvent("I-1", issue.StatusBacklog))

	depth, _ := s.QueueDepth(ctx)
	if depth != 0 {
		t.Fatalf("expected no dispatch within cooldown window, got depth %d", depth)
	}
}

func TestEvaluateDuplicateEventOnlyDispatchesOnce(t *testing.T) {
	s := store.NewMemoryStore()
	e := newEvaluator(s)
	ctx := context.Background()

	ev := statusEvent("I-1", issue.StatusBacklog)
	e.Evaluate(ctx, ev)
	e.Evaluate(ctx, ev)

	depth, _ := s.QueueDepth(ctx)
	if depth != 1 {
		t.Fatalf("expected the duplicate status event to be dropped by dedup, got depth %d", depth)
	}
}

func TestEvaluateIceboxTriggersResearch(t *testing.T) {
	s := store.NewMemoryStore()
	e := newEvaluator(s)
	ctx := context.Background()

	ev := bus.Event{
		Kind:    bus.KindIssueStatusChanged,
		IssueID: "I-1",
		Issue: issue.Issue{
			ID: "I-1", Identifier: "I-1", Status: issue.StatusIcebox,
			Description: "too short", CreatedAt: time.Now().Add(-2 * time.Hour).UnixMilli(),
		},
		Timestamp: time.Now(),
	}
	e.Evaluate(ctx, ev)

	depth, _ := s.QueueDepth(ctx)
	if depth != 1 {
		t.Fatalf("expected research work dispatched for underspecified icebox issue, got depth %d", depth)
	}
}

func TestEvaluateOverridePriorityTakesPrecedence(t *testing.T) {
	s := store.NewMemoryStore()
	e := newEvaluator(s)
	ctx := context.Background()

	if err := s.PutOverride(ctx, &store.OverrideRecord{
		IssueID: "I-1", Directive: store.DirectivePriority, Priority: store.PriorityHigh, Timestamp: 1,
	}); err != nil {
		t.Fatalf("PutOverride: %v", err)
	}

	e.Evaluate(ctx, statusEvent("I-1", issue.StatusBacklog))

	work, err := s.PeekQueue(ctx, 1)
	if err != nil || len(work) != 1 {
		t.Fatalf("PeekQueue: %v %+v", err, work)
	}
	if work[0].Priority != priorityByOverride[store.PriorityHigh] {
		t.Fatalf("expected override priority applied, got %d", work[0].Priority)
	}
}

func TestEvaluateSkipQASuppressesQAWorkOnly(t *testing.T) {
	s := store.NewMemoryStore()
	e := newEvaluator(s)
	ctx := context.Background()

	if err := s.PutOverride(ctx, &store.OverrideRecord{
		IssueID: "I-1", Directive: store.DirectiveSkipQA, Timestamp: 1,
	}); err != nil {
		t.Fatalf("PutOverride: %v", err)
	}

	e.Evaluate(ctx, statusEvent("I-1", issue.StatusFinished))

	depth, _ := s.QueueDepth(ctx)
	if depth != 0 {
		t.Fatalf("expected skip-qa to suppress qa work, got depth %d", depth)
	}

	e.Evaluate(ctx, statusEvent("I-1", issue.StatusBacklog))

	depth, _ = s.QueueDepth(ctx)
	if depth != 1 {
		t.Fatalf("expected skip-qa to leave development work alone, got depth %d", depth)
	}
}
