package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentgovernor/governor/internal/issue"
)

func secondsToDuration(s int64) time.Duration {
	return time.Duration(s) * time.Second
}

// RedisStore is the production Store, grounded on
// control_plane/store/redis.go and control_plane/store/redis_versioned.go:
// plain keys for single entities, a Lua script wherever a read-modify-write
// must be atomic across a network round trip, and go-redis's optimistic
// WATCH/MULTI for the session state machine's CAS transitions.
type RedisStore struct {
	rdb *redis.Client

	acquireLockScript  *redis.Script
	renewLockScript    *redis.Script
	releaseLockScript  *redis.Script
	claimWorkScript     *redis.Script
	leaseAcquireScript  *redis.Script
	leaseRenewScript    *redis.Script
	leaseReleaseScript  *redis.Script
}

// NewRedisStore wraps an existing go-redis client. The caller owns the
// client's lifecycle except that Close also closes it.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{
		rdb: rdb,

		acquireLockScript: redis.NewScript(`
			if redis.call("EXISTS", KEYS[1]) == 1 then
				return 0
			end
			redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
			return 1
		`),
		renewLockScript: redis.NewScript(`
			local cur = redis.call("GET", KEYS[1])
			if not cur then return 0 end
			local d = cjson.decode(cur)
			if d.session_id ~= ARGV[1] then return 0 end
			redis.call("PEXPIRE", KEYS[1], ARGV[2])
			return 1
		`),
		releaseLockScript: redis.NewScript(`
			local cur = redis.call("GET", KEYS[1])
			if not cur then return 0 end
			local d = cjson.decode(cur)
			if d.session_id ~= ARGV[1] then return 0 end
			redis.call("DEL", KEYS[1])
			return 1
		`),
		claimWorkScript: redis.NewScript(`
			local entries = redis.call("ZRANGE", KEYS[1], 0, -1)
			for i, raw in ipairs(entries) do
				local d = cjson.decode(raw)
				local matches = true
				if ARGV[1] ~= "" then
					matches = false
					for p in string.gmatch(ARGV[1], "[^,]+") do
						if p == d.project_name then matches = true end
					end
				end
				if matches then
					redis.call("ZREM", KEYS[1], raw)
					return raw
				end
			end
			return false
		`),
		leaseAcquireScript: redis.NewScript(`
			local cur = redis.call("GET", KEYS[1])
			if cur then
				return {0, 0}
			end
			local epoch = redis.call("INCR", KEYS[2])
			local val = ARGV[1] .. ":" .. epoch
			redis.call("SET", KEYS[1], val, "PX", ARGV[2])
			return {1, epoch}
		`),
		leaseRenewScript: redis.NewScript(`
			local cur = redis.call("GET", KEYS[1])
			if not cur then return 0 end
			local want = ARGV[1] .. ":" .. ARGV[2]
			if cur ~= want then return 0 end
			redis.call("PEXPIRE", KEYS[1], ARGV[3])
			return 1
		`),
		leaseReleaseScript: redis.NewScript(`
			local cur = redis.call("GET", KEYS[1])
			if not cur then return 0 end
			local want = ARGV[1] .. ":" .. ARGV[2]
			if cur ~= want then return 0 end
			redis.call("DEL", KEYS[1])
			return 1
		`),
	}
}

func (s *RedisStore) Close() error { return s.rdb.Close() }

// --- Sessions ---

func (s *RedisStore) PutSession(ctx context.Context, rec *SessionRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, sessionKey(rec.SessionID), b, 0).Err()
}

func (s *RedisStore) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec SessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// TransitionSession sets the new status and then applies mutate (for
// extra fields, e.g. cost accounting) under an optimistic WATCH/MULTI
// transaction, returning ErrConflict if the lattice forbids the move or
// if a concurrent writer beat us to it (spec §4.5, invariant P2).
func (s *RedisStore) TransitionSession(ctx context.Context, sessionID string, to SessionStatus, mutate func(*SessionRecord)) (*SessionRecord, error) {
	key := sessionKey(sessionID)
	var result *SessionRecord

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var rec SessionRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		if !CanTransition(rec.Status, to) {
			return ErrConflict
		}
		rec.Status = to
		if mutate != nil {
			mutate(&rec)
		}
		b, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, b, 0)
			return nil
		})
		if err == nil {
			result = &rec
		}
		return err
	}

	if err := s.rdb.Watch(ctx, txf, key); err != nil {
		if err == redis.TxFailedErr {
			return nil, ErrConflict
		}
		return nil, err
	}
	return result, nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, sessionID string) error {
	return s.rdb.Del(ctx, sessionKey(sessionID), claimKey(sessionID)).Err()
}

// ListRecentSessions scans every session:* key, same SCAN-then-GET idiom
// as ScanLocks, then sorts by UpdatedAt descending and truncates. Fine
// for the sanitized public dashboard's read volume; not meant for a
// hot path.
func (s *RedisStore) ListRecentSessions(ctx context.Context, limit int) ([]*SessionRecord, error) {
	var recs []*SessionRecord
	iter := s.rdb.Scan(ctx, 0, keyPrefix+"session:*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var rec SessionRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, err
		}
		recs = append(recs, &rec)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].UpdatedAt > recs[j].UpdatedAt })
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// --- Work queue ---

// queueScore orders by priority ascending, then queuedAt ascending
// (spec §4.5), packed into a single float64 sortable score.
func queueScore(priority int, queuedAt int64) float64 {
	return float64(priority)*1e13 + float64(queuedAt%1e13)
}

func (s *RedisStore) EnqueueWork(ctx context.Context, w *QueuedWork) error {
	b, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return s.rdb.ZAdd(ctx, queueKey(), redis.Z{
		Score:  queueScore(w.Priority, w.QueuedAt),
		Member: b,
	}).Err()
}

func (s *RedisStore) ClaimWork(ctx context.Context, workerID string, projects []string) (*QueuedWork, error) {
	projectArg := ""
	if len(projects) > 0 {
		for i, p := range projects {
			if i > 0 {
				projectArg += ","
			}
			projectArg += p
		}
	}
	res, err := s.claimWorkScript.Run(ctx, s.rdb, []string{queueKey()}, projectArg).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	raw, ok := res.(string)
	if !ok {
		return nil, ErrNotFound
	}
	var w QueuedWork
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *RedisStore) QueueDepth(ctx context.Context) (int64, error) {
	return s.rdb.ZCard(ctx, queueKey()).Result()
}

func (s *RedisStore) PeekQueue(ctx context.Context, limit int64) ([]*QueuedWork, error) {
	raws, err := s.rdb.ZRange(ctx, queueKey(), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*QueuedWork, 0, len(raws))
	for _, raw := range raws {
		var w QueuedWork
		if err := json.Unmarshal([]byte(raw), &w); err != nil {
			return nil, err
		}
		out = append(out, &w)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].QueuedAt < out[j].QueuedAt
	})
	return out, nil
}

// --- Issue locks ---

func (s *RedisStore) AcquireIssueLock(ctx context.Context, lock *IssueLock) error {
	b, err := json.Marshal(lock)
	if err != nil {
		return err
	}
	n, err := s.acquireLockScript.Run(ctx, s.rdb, []string{lockKey(lock.IssueID)}, b, lock.TTLMs).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLocked
	}
	return nil
}

func (s *RedisStore) RenewIssueLock(ctx context.Context, issueID, sessionID string, ttlMs int64) error {
	n, err := s.renewLockScript.Run(ctx, s.rdb, []string{lockKey(issueID)}, sessionID, ttlMs).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotOwner
	}
	return nil
}

func (s *RedisStore) ReleaseIssueLock(ctx context.Context, issueID, sessionID string) error {
	n, err := s.releaseLockScript.Run(ctx, s.rdb, []string{lockKey(issueID)}, sessionID).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotOwner
	}
	return nil
}

func (s *RedisStore) GetIssueLock(ctx context.Context, issueID string) (*IssueLock, error) {
	raw, err := s.rdb.Get(ctx, lockKey(issueID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var lock IssueLock
	if err := json.Unmarshal(raw, &lock); err != nil {
		return nil, err
	}
	return &lock, nil
}

func (s *RedisStore) ScanLocks(ctx context.Context) ([]*IssueLock, error) {
	var locks []*IssueLock
	iter := s.rdb.Scan(ctx, 0, keyPrefix+"lock:issue:*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var lock IssueLock
		if err := json.Unmarshal(raw, &lock); err != nil {
			return nil, err
		}
		locks = append(locks, &lock)
	}
	return locks, iter.Err()
}

// --- Parked work ---
//
// One Redis hash per issue (parked:issue:{issueId}), field = workType,
// so a park for "development" and a park for "qa" on the same issue
// coexist while a second park of the same workType replaces the first
// (spec §4.5).

func (s *RedisStore) ParkWork(ctx context.Context, w *QueuedWork) error {
	b, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, parkedKey(w.IssueID), string(w.WorkType), b).Err()
}

func (s *RedisStore) ListParked(ctx context.Context, issueID string) ([]*QueuedWork, error) {
	raws, err := s.rdb.HGetAll(ctx, parkedKey(issueID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*QueuedWork, 0, len(raws))
	for _, raw := range raws {
		var w QueuedWork
		if err := json.Unmarshal([]byte(raw), &w); err != nil {
			return nil, err
		}
		out = append(out, &w)
	}
	return out, nil
}

func (s *RedisStore) PopParked(ctx context.Context, issueID string, workType issue.WorkType) (*QueuedWork, error) {
	key := parkedKey(issueID)
	raw, err := s.rdb.HGet(ctx, key, string(workType)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.rdb.HDel(ctx, key, string(workType))
	var w QueuedWork
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// --- Overrides ---

func (s *RedisStore) PutOverride(ctx context.Context, o *OverrideRecord) error {
	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, overrideKey(o.IssueID), b, 0).Err()
}

func (s *RedisStore) GetOverride(ctx context.Context, issueID string) (*OverrideRecord, error) {
	raw, err := s.rdb.Get(ctx, overrideKey(issueID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var o OverrideRecord
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// --- Processing phases ---

func (s *RedisStore) MarkPhaseComplete(ctx context.Context, rec *ProcessingPhaseRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, processingPhaseKey(rec.IssueID, rec.Phase), b, 0).Err()
}

func (s *RedisStore) IsPhaseComplete(ctx context.Context, issueID string, phase ProcessingPhase) (bool, error) {
	n, err := s.rdb.Exists(ctx, processingPhaseKey(issueID, phase)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// --- Issue activity (cooldown tracking) ---

func (s *RedisStore) RecordIssueActivity(ctx context.Context, issueID string, atMs int64) error {
	return s.rdb.Set(ctx, issueActivityKey(issueID), atMs, 0).Err()
}

func (s *RedisStore) GetLastIssueActivity(ctx context.Context, issueID string) (int64, bool, error) {
	v, err := s.rdb.Get(ctx, issueActivityKey(issueID)).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// --- Dedup ---

func (s *RedisStore) MarkIfAbsent(ctx context.Context, key string, ttlSeconds int64) (bool, error) {
	return s.rdb.SetNX(ctx, dedupKey(key), 1, secondsToDuration(ttlSeconds)).Result()
}

// webhookProcessedTTL matches spec §6.3's "webhook:processed:{key}" row,
// kept separate from the generic dedup: namespace since a webhook
// redelivery window (a day) is much longer than an event's dedup
// window (10s).
const webhookProcessedTTL = 24 * time.Hour

func (s *RedisStore) MarkWebhookProcessed(ctx context.Context, idempotencyKey string) (bool, error) {
	return s.rdb.SetNX(ctx, webhookProcessedKey(idempotencyKey), 1, webhookProcessedTTL).Result()
}

// --- Pending prompts ---

func (s *RedisStore) PushPrompt(ctx context.Context, p *PendingPrompt) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.rdb.RPush(ctx, promptsKey(p.SessionID), b).Err()
}

func (s *RedisStore) ListPrompts(ctx context.Context, sessionID string) ([]*PendingPrompt, error) {
	raws, err := s.rdb.LRange(ctx, promptsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*PendingPrompt, 0, len(raws))
	for _, raw := range raws {
		var p PendingPrompt
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, nil
}

func (s *RedisStore) ClaimPrompt(ctx context.Context, sessionID, promptID string) (*PendingPrompt, error) {
	all, err := s.ListPrompts(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for _, p := range all {
		if p.ID != promptID {
			continue
		}
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		if err := s.rdb.LRem(ctx, promptsKey(sessionID), 1, raw).Err(); err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, ErrNotFound
}

// --- Workers ---

func (s *RedisStore) PutWorker(ctx context.Context, w *WorkerRecord) error {
	b, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, workerKey(w.WorkerID), b, 0).Err()
}

func (s *RedisStore) GetWorker(ctx context.Context, workerID string) (*WorkerRecord, error) {
	raw, err := s.rdb.Get(ctx, workerKey(workerID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var w WorkerRecord
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *RedisStore) ListWorkers(ctx context.Context) ([]*WorkerRecord, error) {
	var workers []*WorkerRecord
	iter := s.rdb.Scan(ctx, 0, keyPrefix+"worker:*", 100).Iterator()
	for iter.Next(ctx) {
		if len(iter.Val()) > len(workerKey("")) && iter.Val()[len(iter.Val())-9:] == ":sessions" {
			continue
		}
		raw, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var w WorkerRecord
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, err
		}
		workers = append(workers, &w)
	}
	return workers, iter.Err()
}

// --- Worker -> session reverse index ---

func (s *RedisStore) AddWorkerSession(ctx context.Context, workerID, sessionID string) error {
	return s.rdb.SAdd(ctx, workerSessionsKey(workerID), sessionID).Err()
}

func (s *RedisStore) RemoveWorkerSession(ctx context.Context, workerID, sessionID string) error {
	return s.rdb.SRem(ctx, workerSessionsKey(workerID), sessionID).Err()
}

func (s *RedisStore) ListWorkerSessions(ctx context.Context, workerID string) ([]string, error) {
	return s.rdb.SMembers(ctx, workerSessionsKey(workerID)).Result()
}

// --- Sweep leadership ---

func (s *RedisStore) AcquireSweepLease(ctx context.Context, ownerID string, ttl int64) (bool, int64, error) {
	res, err := s.leaseAcquireScript.Run(ctx, s.rdb, []string{sweepLeaseKey(), sweepEpochKey()}, ownerID, ttl).Result()
	if err != nil {
		return false, 0, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return false, 0, fmt.Errorf("store: unexpected lease script result %v", res)
	}
	ok2 := arr[0].(int64) == 1
	epoch := arr[1].(int64)
	return ok2, epoch, nil
}

func (s *RedisStore) RenewSweepLease(ctx context.Context, ownerID string, epoch, ttl int64) (bool, error) {
	n, err := s.leaseRenewScript.Run(ctx, s.rdb, []string{sweepLeaseKey()}, ownerID, epoch, ttl).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisStore) ReleaseSweepLease(ctx context.Context, ownerID string, epoch int64) error {
	_, err := s.leaseReleaseScript.Run(ctx, s.rdb, []string{sweepLeaseKey()}, ownerID, epoch).Result()
	return err
}
