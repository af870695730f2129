package api

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/agentgovernor/governor/internal/dispatch"
	"github.com/agentgovernor/governor/internal/issue"
	"github.com/agentgovernor/governor/internal/store"
	"github.com/agentgovernor/governor/internal/telemetry"
)

type claimRequest struct {
	WorkerID string `json:"workerId"`
}

type claimResponse struct {
	Claimed bool                 `json:"claimed"`
	Session *store.SessionRecord `json:"session,omitempty"`
	Work    *store.QueuedWork    `json:"work,omitempty"`
	Reason  string               `json:"reason,omitempty"`
}

// handleClaim is POST /sessions/:id/claim. The path id is the session
// the worker saw at the head of its last poll; the queue itself is
// popped by priority, not by id, so a mismatch between what this call
// actually claimed and the requested id is reported as a race rather
// than silently handed back under the wrong session id.
func (a *API) handleClaim(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.WorkerID == "" {
		writeError(w, http.StatusBadRequest, "workerId is required")
		return
	}

	ctx := r.Context()
	worker, err := a.store.GetWorker(ctx, req.WorkerID)
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "unknown worker")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to look up worker")
		return
	}

	result, err := a.dispatcher.Claim(ctx, req.WorkerID, worker.Projects)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to claim work")
		return
	}
	if !result.Claimed {
		writeJSON(w, http.StatusOK, claimResponse{Claimed: false, Reason: result.Reason})
		return
	}
	if result.Session.SessionID != sessionID {
		writeJSON(w, http.StatusConflict, claimResponse{
			Claimed: false, Reason: "race", Session: result.Session, Work: result.Work,
		})
		return
	}
	writeJSON(w, http.StatusOK, claimResponse{Claimed: true, Session: result.Session, Work: result.Work})
}

type statusRequest struct {
	WorkerID          string  `json:"workerId"`
	Status            string  `json:"status"`
	ProviderSessionID string  `json:"providerSessionId,omitempty"`
	WorktreePath      string  `json:"worktreePath,omitempty"`
	Error             string  `json:"error,omitempty"`
	TotalCostUSD      float64 `json:"totalCostUsd,omitempty"`
	InputTokens       int64   `json:"inputTokens,omitempty"`
	OutputTokens      int64   `json:"outputTokens,omitempty"`
}

var statusByName = map[string]store.SessionStatus{
	"running":    store.SessionRunning,
	"finalizing": store.SessionFinalizing,
	"completed":  store.SessionCompleted,
	"failed":     store.SessionFailed,
	"stopped":    store.SessionStopped,
}

// handleStatus is POST /sessions/:id/status.
func (a *API) handleStatus(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	to, ok := statusByName[req.Status]
	if !ok {
		writeError(w, http.StatusBadRequest, "unrecognized status")
		return
	}

	ctx := r.Context()
	rec, err := a.dispatcher.UpdateStatus(ctx, sessionID, req.WorkerID, to, func(sr *store.SessionRecord) {
		if req.ProviderSessionID != "" {
			sr.ProviderSessionID = req.ProviderSessionID
		}
		if req.WorktreePath != "" {
			sr.WorktreePath = req.WorktreePath
		}
		if req.Error != "" {
			sr.LastError = req.Error
		}
		if req.TotalCostUSD != 0 {
			sr.TotalCostUSD = req.TotalCostUSD
		}
		if req.InputTokens != 0 {
			sr.InputTokens = req.InputTokens
		}
		if req.OutputTokens != 0 {
			sr.OutputTokens = req.OutputTokens
		}
	})
	switch err {
	case nil:
		// fall through
	case store.ErrNotFound:
		writeError(w, http.StatusNotFound, "unknown session")
		return
	case dispatch.ErrForbidden:
		writeError(w, http.StatusForbidden, "worker does not own this session")
		return
	case store.ErrConflict:
		writeError(w, http.StatusConflict, "status transition rejected")
		return
	default:
		writeError(w, http.StatusInternalServerError, "failed to update status")
		return
	}

	telemetry.SessionTransitions.WithLabelValues("", string(to)).Inc()
	if to.IsTerminal() {
		telemetry.QuotaTotalCostUSD.WithLabelValues(rec.ProjectName).Add(rec.TotalCostUSD)
		a.forwardCompletion(ctx, rec)
	}

	writeJSON(w, http.StatusOK, rec)
}

// forwardCompletion relays a completed/failed session's new tracker
// status upstream (spec §6.4's completion-status tables), skipped for
// sessions the governor itself synthesized.
func (a *API) forwardCompletion(ctx context.Context, rec *store.SessionRecord) {
	if rec.IsSynthetic() {
		return
	}
	var (
		next issue.Status
		ok   bool
	)
	if rec.Status == store.SessionCompleted {
		next, ok = issue.CompletionStatus(rec.WorkType)
	} else if rec.Status == store.SessionFailed {
		next, ok = issue.FailureStatus(rec.WorkType)
	}
	if !ok {
		return
	}
	payload, _ := json.Marshal(map[string]string{"issueId": rec.IssueID, "status": string(next)})
	if err := a.forwarder.Forward(ctx, "status", rec.SessionID, payload); err != nil {
		log.Printf("api: forward completion status failed sessionId=%s: %v", rec.SessionID, err)
	}
}

type lockRefreshRequest struct {
	WorkerID string `json:"workerId"`
	IssueID  string `json:"issueId"`
}

type lockRefreshResponse struct {
	Refreshed bool `json:"refreshed"`
}

// handleLockRefresh is POST /sessions/:id/lock-refresh.
func (a *API) handleLockRefresh(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req lockRefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	sess, err := a.store.GetSession(ctx, sessionID)
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to look up session")
		return
	}
	if sess.WorkerID != req.WorkerID {
		writeError(w, http.StatusForbidden, "worker does not own this session")
		return
	}

	if err := a.dispatcher.RenewLock(ctx, req.IssueID, sessionID, dispatch.DefaultLockTTL); err != nil {
		if err == store.ErrNotOwner {
			writeJSON(w, http.StatusConflict, lockRefreshResponse{Refreshed: false})
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to refresh lock")
		return
	}
	writeJSON(w, http.StatusOK, lockRefreshResponse{Refreshed: true})
}

type claimPromptRequest struct {
	PromptID string `json:"promptId"`
}

type promptsResponse struct {
	Prompts []*store.PendingPrompt `json:"prompts"`
}

// handlePrompts is GET/POST /sessions/:id/prompts: GET lists the
// session's pending-prompt FIFO, POST atomically claims one by id.
func (a *API) handlePrompts(w http.ResponseWriter, r *http.Request, sessionID string) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		prompts, err := a.prompts.GetPendingPrompts(ctx, sessionID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list prompts")
			return
		}
		writeJSON(w, http.StatusOK, promptsResponse{Prompts: prompts})

	case http.MethodPost:
		var req claimPromptRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		p, err := a.prompts.ClaimPendingPrompt(ctx, sessionID, req.PromptID)
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "unknown prompt")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to claim prompt")
			return
		}
		writeJSON(w, http.StatusOK, p)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type transferOwnershipRequest struct {
	NewWorkerID string `json:"newWorkerId"`
	OldWorkerID string `json:"oldWorkerId"`
}

// handleTransferOwnership is POST /sessions/:id/transfer-ownership.
func (a *API) handleTransferOwnership(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req transferOwnershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	err := a.dispatcher.TransferOwnership(ctx, sessionID, req.OldWorkerID, req.NewWorkerID)
	switch err {
	case nil:
		writeJSON(w, http.StatusOK, map[string]bool{"transferred": true})
	case store.ErrNotFound:
		writeError(w, http.StatusNotFound, "unknown session")
	case dispatch.ErrForbidden:
		writeError(w, http.StatusForbidden, "oldWorkerId does not own this session")
	default:
		writeError(w, http.StatusInternalServerError, "failed to transfer ownership")
	}
}

// handleForwarded is POST /sessions/:id/{activity|progress|completion|
// external-urls|tool-error}: for a synthetic session the call is ACKed
// and dropped; otherwise the raw body is handed to the Forwarder
// unexamined (spec §6.2).
func (a *API) handleForwarded(w http.ResponseWriter, r *http.Request, sessionID, kind string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	ctx := r.Context()
	sess, err := a.store.GetSession(ctx, sessionID)
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to look up session")
		return
	}

	if !sess.IsSynthetic() {
		if err := a.forwarder.Forward(ctx, kind, sessionID, json.RawMessage(body)); err != nil {
			log.Printf("api: forward %s failed sessionId=%s: %v", kind, sessionID, err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
