package store

import (
	"context"
	"sort"
	"sync"

	"github.com/agentgovernor/governor/internal/issue"
)

// MemoryStore is a single-process Store used by unit tests (cmd/governor
// always wires RedisStore), mirroring control_plane/store/memory.go's
// role in the teacher repo.
type MemoryStore struct {
	mu sync.Mutex

	sessions  map[string]*SessionRecord
	queue     []*QueuedWork
	locks     map[string]*IssueLock
	parked    map[string]map[issue.WorkType]*QueuedWork
	overrides map[string]*OverrideRecord
	phases        map[string]bool
	dedup         map[string]bool
	prompts       map[string][]*PendingPrompt
	workers       map[string]*WorkerRecord
	workerSess    map[string]map[string]bool
	issueActivity map[string]int64
	webhookSeen   map[string]bool

	sweepOwner string
	sweepEpoch int64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[string]*SessionRecord),
		locks:     make(map[string]*IssueLock),
		parked:    make(map[string]map[issue.WorkType]*QueuedWork),
		overrides: make(map[string]*OverrideRecord),
		phases:    make(map[string]bool),
		dedup:     make(map[string]bool),
		prompts:    make(map[string][]*PendingPrompt),
		workers:    make(map[string]*WorkerRecord),
		workerSess: make(map[string]map[string]bool),
		issueActivity: make(map[string]int64),
		webhookSeen: make(map[string]bool),
	}
}

func (m *MemoryStore) Close() error { return nil }

func clone[T any](v T) *T {
	c := v
	return &c
}

func (m *MemoryStore) PutSession(_ context.Context, s *SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.SessionID] = clone(*s)
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (*SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(*rec), nil
}

func (m *MemoryStore) TransitionSession(_ context.Context, sessionID string, to SessionStatus, mutate func(*SessionRecord)) (*SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if !CanTransition(rec.Status, to) {
		return nil, ErrConflict
	}
	next := clone(*rec)
	next.Status = to
	if mutate != nil {
		mutate(next)
	}
	m.sessions[sessionID] = next
	return clone(*next), nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryStore) ListRecentSessions(_ context.Context, limit int) ([]*SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*SessionRecord, 0, len(m.sessions))
	for _, rec := range m.sessions {
		out = append(out, clone(*rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) EnqueueWork(_ context.Context, w *QueuedWork) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, clone(*w))
	return nil
}

func (m *MemoryStore) sortedQueue() {
	sort.SliceStable(m.queue, func(i, j int) bool {
		if m.queue[i].Priority != m.queue[j].Priority {
			return m.queue[i].Priority < m.queue[j].Priority
		}
		return m.queue[i].QueuedAt < m.queue[j].QueuedAt
	})
}

func (m *MemoryStore) ClaimWork(_ context.Context, _ string, projects []string) (*QueuedWork, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sortedQueue()
	for i, w := range m.queue {
		if len(projects) == 0 || containsStr(projects, w.ProjectName) {
			m.queue = append(m.queue[:i:i], m.queue[i+1:]...)
			return w, nil
		}
	}
	return nil, ErrNotFound
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func (m *MemoryStore) QueueDepth(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.queue)), nil
}

func (m *MemoryStore) PeekQueue(_ context.Context, limit int64) ([]*QueuedWork, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sortedQueue()
	n := int64(len(m.queue))
	if limit < n {
		n = limit
	}
	out := make([]*QueuedWork, n)
	copy(out, m.queue[:n])
	return out, nil
}

func (m *MemoryStore) AcquireIssueLock(_ context.Context, lock *IssueLock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.locks[lock.IssueID]; ok {
		return ErrLocked
	}
	m.locks[lock.IssueID] = clone(*lock)
	return nil
}

func (m *MemoryStore) RenewIssueLock(_ context.Context, issueID, sessionID string, ttlMs int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[issueID]
	if !ok || l.SessionID != sessionID {
		return ErrNotOwner
	}
	l.TTLMs = ttlMs
	return nil
}

func (m *MemoryStore) ReleaseIssueLock(_ context.Context, issueID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[issueID]
	if !ok || l.SessionID != sessionID {
		return ErrNotOwner
	}
	delete(m.locks, issueID)
	return nil
}

func (m *MemoryStore) GetIssueLock(_ context.Context, issueID string) (*IssueLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[issueID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(*l), nil
}

func (m *MemoryStore) ScanLocks(_ context.Context) ([]*IssueLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*IssueLock, 0, len(m.locks))
	for _, l := range m.locks {
		out = append(out, clone(*l))
	}
	return out, nil
}

func (m *MemoryStore) ParkWork(_ context.Context, w *QueuedWork) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.parked[w.IssueID] == nil {
		m.parked[w.IssueID] = make(map[issue.WorkType]*QueuedWork)
	}
	m.parked[w.IssueID][w.WorkType] = clone(*w)
	return nil
}

func (m *MemoryStore) ListParked(_ context.Context, issueID string) ([]*QueuedWork, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byType := m.parked[issueID]
	out := make([]*QueuedWork, 0, len(byType))
	for _, w := range byType {
		out = append(out, clone(*w))
	}
	return out, nil
}

func (m *MemoryStore) PopParked(_ context.Context, issueID string, workType issue.WorkType) (*QueuedWork, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byType := m.parked[issueID]
	w, ok := byType[workType]
	if !ok {
		return nil, ErrNotFound
	}
	delete(byType, workType)
	return w, nil
}

func (m *MemoryStore) PutOverride(_ context.Context, o *OverrideRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[o.IssueID] = clone(*o)
	return nil
}

func (m *MemoryStore) GetOverride(_ context.Context, issueID string) (*OverrideRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.overrides[issueID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(*o), nil
}

func (m *MemoryStore) MarkPhaseComplete(_ context.Context, rec *ProcessingPhaseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phases[string(rec.Phase)+":"+rec.IssueID] = true
	return nil
}

func (m *MemoryStore) IsPhaseComplete(_ context.Context, issueID string, phase ProcessingPhase) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phases[string(phase)+":"+issueID], nil
}

func (m *MemoryStore) RecordIssueActivity(_ context.Context, issueID string, atMs int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issueActivity[issueID] = atMs
	return nil
}

func (m *MemoryStore) GetLastIssueActivity(_ context.Context, issueID string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.issueActivity[issueID]
	return ts, ok, nil
}

func (m *MemoryStore) MarkIfAbsent(_ context.Context, key string, _ int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dedup[key] {
		return false, nil
	}
	m.dedup[key] = true
	return true, nil
}

func (m *MemoryStore) MarkWebhookProcessed(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.webhookSeen[idempotencyKey] {
		return false, nil
	}
	m.webhookSeen[idempotencyKey] = true
	return true, nil
}

func (m *MemoryStore) PushPrompt(_ context.Context, p *PendingPrompt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts[p.SessionID] = append(m.prompts[p.SessionID], clone(*p))
	return nil
}

func (m *MemoryStore) ListPrompts(_ context.Context, sessionID string) ([]*PendingPrompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*PendingPrompt, len(m.prompts[sessionID]))
	copy(out, m.prompts[sessionID])
	return out, nil
}

func (m *MemoryStore) ClaimPrompt(_ context.Context, sessionID, promptID string) (*PendingPrompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.prompts[sessionID]
	for i, p := range list {
		if p.ID == promptID {
			m.prompts[sessionID] = append(list[:i:i], list[i+1:]...)
			return p, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) PutWorker(_ context.Context, w *WorkerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers[w.WorkerID] = clone(*w)
	return nil
}

func (m *MemoryStore) GetWorker(_ context.Context, workerID string) (*WorkerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[workerID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(*w), nil
}

func (m *MemoryStore) ListWorkers(_ context.Context) ([]*WorkerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*WorkerRecord, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, clone(*w))
	}
	return out, nil
}

func (m *MemoryStore) AddWorkerSession(_ context.Context, workerID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.workerSess[workerID] == nil {
		m.workerSess[workerID] = make(map[string]bool)
	}
	m.workerSess[workerID][sessionID] = true
	return nil
}

func (m *MemoryStore) RemoveWorkerSession(_ context.Context, workerID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workerSess[workerID], sessionID)
	return nil
}

func (m *MemoryStore) ListWorkerSessions(_ context.Context, workerID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.workerSess[workerID]))
	for id := range m.workerSess[workerID] {
		out = append(out, id)
	}
	return out, nil
}

func (m *MemoryStore) AcquireSweepLease(_ context.Context, ownerID string, _ int64) (bool, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sweepOwner != "" {
		return false, 0, nil
	}
	m.sweepEpoch++
	m.sweepOwner = ownerID
	return true, m.sweepEpoch, nil
}

func (m *MemoryStore) RenewSweepLease(_ context.Context, ownerID string, epoch, _ int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepOwner == ownerID && m.sweepEpoch == epoch, nil
}

func (m *MemoryStore) ReleaseSweepLease(_ context.Context, ownerID string, epoch int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sweepOwner == ownerID && m.sweepEpoch == epoch {
		m.sweepOwner = ""
	}
	return nil
}
