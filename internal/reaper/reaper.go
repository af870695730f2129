// Package reaper recovers sessions stuck behind an expired issue lock
// (spec §5 "Shared resources", §7): a worker that dies mid-run leaves its
// session claimed/running forever and its issue permanently locked unless
// something notices the lock outlived its TTL and force-fails the
// session, adapted from control_plane/coordination/janitor.go's periodic
// stale-lock scan.
package reaper

import (
	"context"
	"log"
	"time"

	"github.com/agentgovernor/governor/internal/dispatch"
	"github.com/agentgovernor/governor/internal/store"
	"github.com/agentgovernor/governor/internal/telemetry"
)

// DefaultInterval is how often the reaper scans for stale locks.
const DefaultInterval = time.Minute

// DefaultGrace is added on top of a lock's own TTL before it is
// considered stale, to absorb clock skew and renewal jitter.
const DefaultGrace = 5 * time.Second

// Reaper periodically scans issue locks and force-fails any session
// whose lock has outlived its TTL plus grace.
type Reaper struct {
	store      store.Store
	dispatcher *dispatch.Dispatcher
	interval   time.Duration
	grace      time.Duration
}

// New builds a Reaper. A zero interval/grace defaults to DefaultInterval/
// DefaultGrace.
func New(s store.Store, d *dispatch.Dispatcher, interval, grace time.Duration) *Reaper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Reaper{store: s, dispatcher: d, interval: interval, grace: grace}
}

// Run drives the scan loop until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	locks, err := r.store.ScanLocks(ctx)
	if err != nil {
		log.Printf("reaper: ScanLocks failed: %v", err)
		return
	}

	now := time.Now().UnixMilli()
	for _, lock := range locks {
		expiresAt := lock.AcquiredAt + lock.TTLMs + r.grace.Milliseconds()
		if now < expiresAt {
			continue
		}
		r.recover(ctx, lock)
	}
}

// recover force-fails the session holding a stale lock, releasing the
// lock and promoting the next parked work for the issue as a side
// effect of the session's terminal transition.
func (r *Reaper) recover(ctx context.Context, lock *store.IssueLock) {
	sess, err := r.store.GetSession(ctx, lock.SessionID)
	if err == store.ErrNotFound {
		// No session left to recover; release the orphaned lock directly.
		if relErr := r.store.ReleaseIssueLock(ctx, lock.IssueID, lock.SessionID); relErr != nil && relErr != store.ErrNotOwner {
			log.Printf("reaper: failed to release orphaned lock issueId=%s: %v", lock.IssueID, relErr)
		}
		return
	}
	if err != nil {
		log.Printf("reaper: GetSession failed sessionId=%s: %v", lock.SessionID, err)
		return
	}
	if sess.Status.IsTerminal() {
		return
	}

	log.Printf("reaper: lock expired issueId=%s sessionId=%s acquiredAt=%d ttlMs=%d, failing session",
		lock.IssueID, lock.SessionID, lock.AcquiredAt, lock.TTLMs)

	_, err = r.dispatcher.UpdateStatus(ctx, sess.SessionID, sess.WorkerID, store.SessionFailed, func(rec *store.SessionRecord) {
		rec.LastError = "stale claim: issue lock expired without a terminal status"
	})
	if err != nil {
		log.Printf("reaper: failed to fail stale session sessionId=%s: %v", sess.SessionID, err)
		return
	}
	telemetry.StaleClaimsReaped.Inc()
}
