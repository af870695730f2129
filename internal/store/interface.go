package store

import (
	"context"
	"errors"

	"github.com/agentgovernor/governor/internal/issue"
)

// ErrNotFound is returned by single-entity getters when the key is absent.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned when a CAS-guarded write loses the race (spec
// §5: "Redis CAS convergence" — the caller should re-read and retry or
// drop, depending on the operation).
var ErrConflict = errors.New("store: conflict")

// ErrLocked is returned by AcquireIssueLock when the issue is already
// held by a different session (spec §4.5, invariant P1).
var ErrLocked = errors.New("store: issue locked")

// ErrNotOwner is returned by RenewIssueLock/ReleaseIssueLock when the
// caller does not hold the lock it is trying to act on.
var ErrNotOwner = errors.New("store: not lock owner")

// Store is the full persistence surface the governor runs on (spec §6.3).
// RedisStore is the production implementation; MemoryStore backs unit
// tests that don't need a live/fake Redis.
type Store interface {
	// Sessions (component E)
	PutSession(ctx context.Context, s *SessionRecord) error
	GetSession(ctx context.Context, sessionID string) (*SessionRecord, error)
	TransitionSession(ctx context.Context, sessionID string, to SessionStatus, mutate func(*SessionRecord)) (*SessionRecord, error)
	DeleteSession(ctx context.Context, sessionID string) error

	// ListRecentSessions returns up to limit sessions ordered by most
	// recently updated first, for the sanitized public read surface
	// (spec §6.2 GET /public/sessions).
	ListRecentSessions(ctx context.Context, limit int) ([]*SessionRecord, error)

	// Work queue (component E)
	EnqueueWork(ctx context.Context, w *QueuedWork) error
	ClaimWork(ctx context.Context, workerID string, projects []string) (*QueuedWork, error)
	QueueDepth(ctx context.Context) (int64, error)
	PeekQueue(ctx context.Context, limit int64) ([]*QueuedWork, error)

	// Issue locks (component F)
	AcquireIssueLock(ctx context.Context, lock *IssueLock) error
	RenewIssueLock(ctx context.Context, issueID, sessionID string, ttlMs int64) error
	ReleaseIssueLock(ctx context.Context, issueID, sessionID string) error
	GetIssueLock(ctx context.Context, issueID string) (*IssueLock, error)
	ScanLocks(ctx context.Context) ([]*IssueLock, error)

	// Parked work (component F): at most one parked entry per
	// (issueId, workType); a new Park call for the same pair replaces
	// the prior one, but distinct work types on the same issue coexist
	// (spec §4.5: "replacing any existing entry of the same workType").
	ParkWork(ctx context.Context, w *QueuedWork) error
	ListParked(ctx context.Context, issueID string) ([]*QueuedWork, error)
	PopParked(ctx context.Context, issueID string, workType issue.WorkType) (*QueuedWork, error)

	// Overrides (component C)
	PutOverride(ctx context.Context, o *OverrideRecord) error
	GetOverride(ctx context.Context, issueID string) (*OverrideRecord, error)

	// Top-of-funnel phase marks (component D)
	MarkPhaseComplete(ctx context.Context, rec *ProcessingPhaseRecord) error
	IsPhaseComplete(ctx context.Context, issueID string, phase ProcessingPhase) (bool, error)

	// Issue activity (component B cooldown tracking): the last time a
	// session against this issue reached a terminal status.
	RecordIssueActivity(ctx context.Context, issueID string, atMs int64) error
	GetLastIssueActivity(ctx context.Context, issueID string) (int64, bool, error)

	// Dedup (component H)
	MarkIfAbsent(ctx context.Context, key string, ttlSeconds int64) (bool, error)

	// Webhook ingress idempotency (Worker HTTP API POST /webhook):
	// returns true the first time idempotencyKey is seen, false on a
	// tracker redelivery within the window.
	MarkWebhookProcessed(ctx context.Context, idempotencyKey string) (bool, error)

	// Pending prompts (component J)
	PushPrompt(ctx context.Context, p *PendingPrompt) error
	ListPrompts(ctx context.Context, sessionID string) ([]*PendingPrompt, error)
	ClaimPrompt(ctx context.Context, sessionID, promptID string) (*PendingPrompt, error)

	// Workers (Worker HTTP API)
	PutWorker(ctx context.Context, w *WorkerRecord) error
	GetWorker(ctx context.Context, workerID string) (*WorkerRecord, error)
	ListWorkers(ctx context.Context) ([]*WorkerRecord, error)

	// Worker -> session reverse index (component E claim/release)
	AddWorkerSession(ctx context.Context, workerID, sessionID string) error
	RemoveWorkerSession(ctx context.Context, workerID, sessionID string) error
	ListWorkerSessions(ctx context.Context, workerID string) ([]string, error)

	// Sweep leadership (component I support, §4.10)
	AcquireSweepLease(ctx context.Context, ownerID string, ttl int64) (bool, int64, error)
	RenewSweepLease(ctx context.Context, ownerID string, epoch, ttl int64) (bool, error)
	ReleaseSweepLease(ctx context.Context, ownerID string, epoch int64) error

	Close() error
}
