// Package dispatch implements the Session & Work-Queue State Machine and
// Issue Lock & Promotion logic (spec §4.5, components E and F): turning
// a QueuedWork into a locked, queued session; claiming work for a
// worker; walking a session through its status lattice; and promoting
// parked work once an issue's lock is released.
package dispatch

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/agentgovernor/governor/internal/issue"
	"github.com/agentgovernor/governor/internal/store"
)

// ErrForbidden is returned by UpdateStatus when the caller's workerId
// does not match the session's current owner (spec §4.5).
var ErrForbidden = errors.New("dispatch: forbidden, worker does not own session")

// DefaultLockTTL is the issue lock lifetime granted on acquire; workers
// extend it via RenewLock while running (spec §4.5 "Lock refresh").
const DefaultLockTTL = 10 * time.Minute

// Dispatcher owns the session/queue/lock state machine over a Store.
type Dispatcher struct {
	store store.Store
}

// New wraps a Store with dispatch logic.
func New(s store.Store) *Dispatcher {
	return &Dispatcher{store: s}
}

func nowMs() int64 { return time.Now().UnixMilli() }

// DispatchResult reports what happened to a unit of work handed to Dispatch.
type DispatchResult struct {
	Dispatched bool
	Parked     bool
	Replaced   bool
}

// Dispatch attempts to acquire the issue lock for w and, on success,
// enqueues it and creates a pending SessionRecord. On lock conflict, it
// parks w under the lock holder's issue instead, replacing any existing
// parked entry for the same workType (spec §4.5).
func (d *Dispatcher) Dispatch(ctx context.Context, w *store.QueuedWork) (*DispatchResult, error) {
	if w.QueuedAt == 0 {
		w.QueuedAt = nowMs()
	}

	lock := &store.IssueLock{
		IssueID:    w.IssueID,
		SessionID:  w.SessionID,
		WorkType:   w.WorkType,
		AcquiredAt: nowMs(),
		TTLMs:      DefaultLockTTL.Milliseconds(),
	}
	err := d.store.AcquireIssueLock(ctx, lock)
	if err == store.ErrLocked {
		existing, listErr := d.store.ListParked(ctx, w.IssueID)
		if listErr != nil {
			return nil, listErr
		}
		replaced := false
		for _, p := range existing {
			if p.WorkType == w.WorkType {
				replaced = true
				break
			}
		}
		if parkErr := d.store.ParkWork(ctx, w); parkErr != nil {
			return nil, parkErr
		}
		return &DispatchResult{Parked: true, Replaced: replaced}, nil
	}
	if err != nil {
		return nil, err
	}

	if err := d.store.EnqueueWork(ctx, w); err != nil {
		return nil, err
	}
	rec := &store.SessionRecord{
		SessionID:       w.SessionID,
		IssueID:         w.IssueID,
		IssueIdentifier: w.IssueIdentifier,
		WorkType:        w.WorkType,
		Status:          store.SessionPending,
		CreatedAt:       nowMs(),
		UpdatedAt:       nowMs(),
		QueuedAt:        w.QueuedAt,
		Priority:        w.Priority,
		PromptContext:   w.Prompt,
		ProjectName:     w.ProjectName,
	}
	if err := d.store.PutSession(ctx, rec); err != nil {
		return nil, err
	}
	return &DispatchResult{Dispatched: true}, nil
}

// ClaimResult is the outcome of a worker's attempt to claim the next
// piece of work (spec §4.5).
type ClaimResult struct {
	Claimed bool
	Reason  string // "expired" | "wrong_status" | "transient_failure" | "empty"
	Session *store.SessionRecord
	Work    *store.QueuedWork
}

// Claim pops the next QueuedWork (if any) for workerId/projects and
// atomically moves its session pending->claimed, recording the reverse
// worker->sessions index. If the session can't make that transition —
// because it no longer exists, or a concurrent writer already moved it
// — the claim fails with a reason and, for a genuinely transient store
// error, the popped work is re-queued so it isn't lost (spec §4.5).
func (d *Dispatcher) Claim(ctx context.Context, workerID string, projects []string) (*ClaimResult, error) {
	w, err := d.store.ClaimWork(ctx, workerID, projects)
	if err == store.ErrNotFound {
		return &ClaimResult{Reason: "empty"}, nil
	}
	if err != nil {
		return nil, err
	}

	rec, terr := d.store.TransitionSession(ctx, w.SessionID, store.SessionClaimed, func(r *store.SessionRecord) {
		r.WorkerID = workerID
		r.ClaimedAt = nowMs()
		r.UpdatedAt = nowMs()
	})
	switch {
	case terr == store.ErrNotFound:
		return &ClaimResult{Reason: "expired", Work: w}, nil
	case terr == store.ErrConflict:
		return &ClaimResult{Reason: "wrong_status", Work: w}, nil
	case terr != nil:
		if reqErr := d.store.EnqueueWork(ctx, w); reqErr != nil {
			log.Printf("dispatch: failed to re-queue work after transient claim failure issueId=%s: %v", w.IssueID, reqErr)
		}
		return &ClaimResult{Reason: "transient_failure", Work: w}, nil
	}

	if err := d.store.AddWorkerSession(ctx, workerID, w.SessionID); err != nil {
		log.Printf("dispatch: failed to record worker session index workerId=%s sessionId=%s: %v", workerID, w.SessionID, err)
	}
	return &ClaimResult{Claimed: true, Session: rec, Work: w}, nil
}

// UpdateStatus advances sessionId's status per the strict lattice in
// store.CanTransition. A mismatched workerID is rejected with
// ErrForbidden without mutating anything; a no-op transition from a
// terminal state is silently ignored (spec §4.5). Terminal statuses
// trigger releaseAndPromote as a side effect.
func (d *Dispatcher) UpdateStatus(ctx context.Context, sessionID, workerID string, to store.SessionStatus, mutate func(*store.SessionRecord)) (*store.SessionRecord, error) {
	cur, err := d.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if cur.WorkerID != "" && cur.WorkerID != workerID {
		return nil, ErrForbidden
	}
	if cur.Status.IsTerminal() {
		return cur, nil
	}

	rec, err := d.store.TransitionSession(ctx, sessionID, to, func(r *store.SessionRecord) {
		r.UpdatedAt = nowMs()
		if mutate != nil {
			mutate(r)
		}
	})
	if err != nil {
		return nil, err
	}

	if to.IsTerminal() {
		if perr := d.releaseAndPromote(ctx, rec); perr != nil {
			log.Printf("dispatch: release/promote failed sessionId=%s: %v", sessionID, perr)
		}
	}
	return rec, nil
}

// releaseAndPromote implements the Terminal handling paragraph of spec
// §4.5: release claim and lock, drop the worker back-reference, mark
// completion phases, then promote the highest-priority parked entry (if
// any) for the same issue.
func (d *Dispatcher) releaseAndPromote(ctx context.Context, rec *store.SessionRecord) error {
	if rec.WorkerID != "" {
		if err := d.store.RemoveWorkerSession(ctx, rec.WorkerID, rec.SessionID); err != nil {
			log.Printf("dispatch: RemoveWorkerSession failed: %v", err)
		}
	}
	if err := d.store.ReleaseIssueLock(ctx, rec.IssueID, rec.SessionID); err != nil && err != store.ErrNotOwner {
		log.Printf("dispatch: ReleaseIssueLock failed issueId=%s: %v", rec.IssueID, err)
	}
	if err := d.store.RecordIssueActivity(ctx, rec.IssueID, nowMs()); err != nil {
		log.Printf("dispatch: RecordIssueActivity failed issueId=%s: %v", rec.IssueID, err)
	}

	if rec.Status == store.SessionCompleted {
		if phase, ok := phaseForWorkType(rec.WorkType); ok {
			if err := d.store.MarkPhaseComplete(ctx, &store.ProcessingPhaseRecord{
				IssueID:     rec.IssueID,
				Phase:       phase,
				CompletedAt: nowMs(),
				SessionID:   rec.SessionID,
			}); err != nil {
				log.Printf("dispatch: MarkPhaseComplete failed issueId=%s: %v", rec.IssueID, err)
			}
		}
	}

	return d.promoteNext(ctx, rec.IssueID)
}

func phaseForWorkType(wt issue.WorkType) (store.ProcessingPhase, bool) {
	switch wt {
	case issue.WorkResearch:
		return store.PhaseResearch, true
	case issue.WorkBacklogCreation:
		return store.PhaseBacklogCreation, true
	default:
		return "", false
	}
}

// promoteNext pops the highest-priority parked entry for issueID (lowest
// priority value, ties broken by earliest queuedAt) and dispatches it.
func (d *Dispatcher) promoteNext(ctx context.Context, issueID string) error {
	parked, err := d.store.ListParked(ctx, issueID)
	if err != nil {
		return err
	}
	if len(parked) == 0 {
		return nil
	}
	best := parked[0]
	for _, p := range parked[1:] {
		if p.Priority < best.Priority || (p.Priority == best.Priority && p.QueuedAt < best.QueuedAt) {
			best = p
		}
	}
	if _, err := d.store.PopParked(ctx, issueID, best.WorkType); err != nil {
		return err
	}
	_, err = d.Dispatch(ctx, best)
	return err
}

// TransferOwnership performs the atomic CAS described in spec §4.5: it
// succeeds only if sessionId's current workerId equals oldWorkerID.
func (d *Dispatcher) TransferOwnership(ctx context.Context, sessionID, oldWorkerID, newWorkerID string) error {
	cur, err := d.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if cur.WorkerID != oldWorkerID {
		return ErrForbidden
	}
	if _, err := d.store.TransitionSession(ctx, sessionID, cur.Status, func(r *store.SessionRecord) {
		r.WorkerID = newWorkerID
		r.UpdatedAt = nowMs()
	}); err != nil {
		// Same-status "transition" is always rejected by CanTransition
		// (it only allows forward moves), so update in place instead.
		cur.WorkerID = newWorkerID
		cur.UpdatedAt = nowMs()
		if putErr := d.store.PutSession(ctx, cur); putErr != nil {
			return putErr
		}
	}
	if err := d.store.RemoveWorkerSession(ctx, oldWorkerID, sessionID); err != nil {
		log.Printf("dispatch: RemoveWorkerSession during transfer failed: %v", err)
	}
	return d.store.AddWorkerSession(ctx, newWorkerID, sessionID)
}

// RenewLock extends the TTL of the issue lock held by sessionID (spec
// §4.5 "Lock refresh"), used by workers while running.
func (d *Dispatcher) RenewLock(ctx context.Context, issueID, sessionID string, ttl time.Duration) error {
	return d.store.RenewIssueLock(ctx, issueID, sessionID, ttl.Milliseconds())
}

// Stop implements the out-of-band stop signal (spec §5 "Cancellation"):
// the session moves to stopped through UpdateStatus, which releases its
// lock/claim and promotes the next parked work for the issue. Stop does
// not remove the session's entry from the global queue or touch the
// issue's parked list; a queue entry left behind by a stopped session is
// dropped when Claim pops it (reason "wrong_status").
func (d *Dispatcher) Stop(ctx context.Context, sessionID string) (*store.SessionRecord, error) {
	cur, err := d.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if cur.Status.IsTerminal() {
		return cur, nil
	}
	return d.UpdateStatus(ctx, sessionID, cur.WorkerID, store.SessionStopped, nil)
}
