// Package dedup implements the window-based Event Deduplicator (spec
// §4.7): a key is "seen" if it was marked within its window and not yet
// expired; marking is atomic so concurrent governor instances converge
// on a single winner.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/agentgovernor/governor/internal/store"
)

// DefaultWindow is the default dedup window (spec §4.7).
const DefaultWindow = 10 * time.Second

// Deduplicator wraps a Store's MarkIfAbsent with the canonical key
// builders from spec §4.7.
type Deduplicator struct {
	store  store.Store
	window time.Duration
}

// New wraps a Store with a Deduplicator using window for the dedup TTL.
// A zero window defaults to DefaultWindow.
func New(s store.Store, window time.Duration) *Deduplicator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Deduplicator{store: s, window: window}
}

// StatusKey is the canonical dedup key for an issue-status-changed event.
func StatusKey(issueID string, newStatus string) string {
	return fmt.Sprintf("%s:%s", issueID, newStatus)
}

// CommentKey is the canonical dedup key for a comment-added event.
func CommentKey(issueID, commentID string) string {
	return fmt.Sprintf("%s:comment:%s", issueID, commentID)
}

// SessionEventKey is the canonical dedup key for a per-session flow event.
func SessionEventKey(sessionID, eventType string, createdAt int64) string {
	return fmt.Sprintf("%s:%s:%d", sessionID, eventType, createdAt)
}

// IsDuplicate implements `isDuplicate(key)`: it returns true if key was
// already marked within the window, otherwise it records key and
// returns false.
func (d *Deduplicator) IsDuplicate(ctx context.Context, key string) (bool, error) {
	first, err := d.store.MarkIfAbsent(ctx, key, int64(d.window/time.Second))
	if err != nil {
		return false, err
	}
	return !first, nil
}
