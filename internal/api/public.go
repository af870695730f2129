package api

import (
	"context"
	"net/http"

	"github.com/agentgovernor/governor/internal/store"
)

// publicStats is the sanitized, unauthenticated snapshot served by both
// GET /public/stats and the websocket stream: aggregate counts plus the
// sanitized recent-sessions list, with no per-session cost, worktree
// path, or provider session id.
type publicStats struct {
	QueueDepth       int64            `json:"queueDepth"`
	WorkerCount      int              `json:"workerCount"`
	SessionsByStatus map[string]int   `json:"sessionsByStatus"`
	RecentSessions   []publicSession  `json:"recentSessions"`
}

// publicSession is the sanitized projection of a SessionRecord exposed
// to unauthenticated dashboard readers.
type publicSession struct {
	SessionID       string `json:"sessionId"`
	IssueIdentifier string `json:"issueIdentifier"`
	WorkType        string `json:"workType"`
	Status          string `json:"status"`
	ProjectName     string `json:"projectName,omitempty"`
	CreatedAt       int64  `json:"createdAt"`
	UpdatedAt       int64  `json:"updatedAt"`
}

func sanitizeSession(s *store.SessionRecord) publicSession {
	return publicSession{
		SessionID:       s.SessionID,
		IssueIdentifier: s.IssueIdentifier,
		WorkType:        string(s.WorkType),
		Status:          string(s.Status),
		ProjectName:     s.ProjectName,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

// publicSessionsLimit bounds both /public/sessions and the stats
// snapshot's embedded recent-sessions list.
const publicSessionsLimit = 25

func (a *API) buildPublicStats(ctx context.Context) (*publicStats, error) {
	depth, err := a.store.QueueDepth(ctx)
	if err != nil {
		return nil, err
	}
	workers, err := a.store.ListWorkers(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := a.store.ListRecentSessions(ctx, publicSessionsLimit)
	if err != nil {
		return nil, err
	}

	byStatus := make(map[string]int)
	sanitized := make([]publicSession, 0, len(recent))
	for _, s := range recent {
		byStatus[string(s.Status)]++
		sanitized = append(sanitized, sanitizeSession(s))
	}

	return &publicStats{
		QueueDepth:       depth,
		WorkerCount:      len(workers),
		SessionsByStatus: byStatus,
		RecentSessions:   sanitized,
	}, nil
}

// handlePublicStats is GET /public/stats.
func (a *API) handlePublicStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	stats, err := a.buildPublicStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type publicSessionsResponse struct {
	Sessions []publicSession `json:"sessions"`
}

// handlePublicSessions is GET /public/sessions.
func (a *API) handlePublicSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	recent, err := a.store.ListRecentSessions(r.Context(), publicSessionsLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	sessions := make([]publicSession, 0, len(recent))
	for _, s := range recent {
		sessions = append(sessions, sanitizeSession(s))
	}
	writeJSON(w, http.StatusOK, publicSessionsResponse{Sessions: sessions})
}

// handlePublicSessionByID is GET /public/sessions/:id.
func (a *API) handlePublicSessionByID(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sess, err := a.store.GetSession(r.Context(), sessionID)
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to look up session")
		return
	}
	writeJSON(w, http.StatusOK, sanitizeSession(sess))
}
