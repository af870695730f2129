package store

import "fmt"

// Redis key layout (spec §6.3). Centralized here so every package that
// talks to Redis directly (none should — all access goes through Store)
// and every test fixture agrees on the same strings.
const (
	keyPrefix = "governor:"
)

func sessionKey(sessionID string) string {
	return fmt.Sprintf("%ssession:%s", keyPrefix, sessionID)
}

func queueKey() string {
	return keyPrefix + "queue:work"
}

func claimKey(sessionID string) string {
	return fmt.Sprintf("%sclaim:%s", keyPrefix, sessionID)
}

func lockKey(issueID string) string {
	return fmt.Sprintf("%slock:issue:%s", keyPrefix, issueID)
}

func parkedKey(issueID string) string {
	return fmt.Sprintf("%sparked:issue:%s", keyPrefix, issueID)
}

func workerKey(workerID string) string {
	return fmt.Sprintf("%sworker:%s", keyPrefix, workerID)
}

func workerSessionsKey(workerID string) string {
	return fmt.Sprintf("%sworker:%s:sessions", keyPrefix, workerID)
}

func overrideKey(issueID string) string {
	return fmt.Sprintf("%soverride:%s", keyPrefix, issueID)
}

func processingPhaseKey(issueID string, phase ProcessingPhase) string {
	return fmt.Sprintf("%sprocessing:%s:%s", keyPrefix, issueID, phase)
}

func dedupKey(key string) string {
	return fmt.Sprintf("%sdedup:%s", keyPrefix, key)
}

func promptsKey(sessionID string) string {
	return fmt.Sprintf("%sprompts:%s", keyPrefix, sessionID)
}

func webhookProcessedKey(idempotencyKey string) string {
	return fmt.Sprintf("%swebhook:processed:%s", keyPrefix, idempotencyKey)
}

func issueActivityKey(issueID string) string {
	return fmt.Sprintf("%sactivity:issue:%s", keyPrefix, issueID)
}

func sweepLeaseKey() string {
	return keyPrefix + "sweep:lease"
}

func sweepEpochKey() string {
	return keyPrefix + "sweep:epoch"
}
