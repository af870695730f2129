// Package prompt implements the pending-prompt side-channel (spec §4.9):
// additional user input for a session that's already running or claimed
// is queued for the worker to poll and inject mid-session, rather than
// re-entering the dispatch pipeline.
package prompt

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agentgovernor/governor/internal/store"
)

// Channel wraps a Store with the pending-prompt operations named in
// spec §4.9.
type Channel struct {
	store store.Store
}

// New wraps a Store with pending-prompt operations.
func New(s store.Store) *Channel {
	return &Channel{store: s}
}

// StorePendingPrompt appends prompt to sessionId's FIFO.
func (c *Channel) StorePendingPrompt(ctx context.Context, sessionID, issueID, text, user string) (*store.PendingPrompt, error) {
	p := &store.PendingPrompt{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		IssueID:   issueID,
		Prompt:    text,
		User:      user,
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := c.store.PushPrompt(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetPendingPrompts returns sessionId's queued prompts in FIFO order.
func (c *Channel) GetPendingPrompts(ctx context.Context, sessionID string) ([]*store.PendingPrompt, error) {
	return c.store.ListPrompts(ctx, sessionID)
}

// PopPendingPrompt removes and returns the oldest queued prompt for
// sessionId, or store.ErrNotFound if the FIFO is empty.
func (c *Channel) PopPendingPrompt(ctx context.Context, sessionID string) (*store.PendingPrompt, error) {
	prompts, err := c.store.ListPrompts(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(prompts) == 0 {
		return nil, store.ErrNotFound
	}
	return c.store.ClaimPrompt(ctx, sessionID, prompts[0].ID)
}

// ClaimPendingPrompt atomically removes the prompt identified by promptId.
func (c *Channel) ClaimPendingPrompt(ctx context.Context, sessionID, promptID string) (*store.PendingPrompt, error) {
	return c.store.ClaimPrompt(ctx, sessionID, promptID)
}
