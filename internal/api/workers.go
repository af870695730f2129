package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/agentgovernor/governor/internal/store"
	"github.com/agentgovernor/governor/internal/telemetry"
)

type registerWorkerRequest struct {
	Hostname string   `json:"hostname"`
	Capacity int      `json:"capacity"`
	Version  string   `json:"version,omitempty"`
	Projects []string `json:"projects,omitempty"`
}

type registerWorkerResponse struct {
	WorkerID string `json:"workerId"`
}

// handleRegisterWorker is POST /workers/register.
func (a *API) handleRegisterWorker(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req registerWorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Hostname == "" {
		writeError(w, http.StatusBadRequest, "hostname is required")
		return
	}

	rec := &store.WorkerRecord{
		WorkerID:     uuid.NewString(),
		Hostname:     req.Hostname,
		Capacity:     req.Capacity,
		Version:      req.Version,
		Projects:     req.Projects,
		RegisteredAt: nowMs(),
		LastSeenAt:   nowMs(),
	}
	if err := a.store.PutWorker(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to register worker")
		return
	}

	writeJSON(w, http.StatusCreated, registerWorkerResponse{WorkerID: rec.WorkerID})
}

type heartbeatRequest struct {
	ActiveCount int     `json:"activeCount"`
	Load        float64 `json:"load,omitempty"`
}

type heartbeatResponse struct {
	PendingWorkCount int64 `json:"pendingWorkCount"`
}

// handleHeartbeat is POST /workers/:id/heartbeat.
func (a *API) handleHeartbeat(w http.ResponseWriter, r *http.Request, workerID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	worker, err := a.store.GetWorker(ctx, workerID)
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "unknown worker")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to look up worker")
		return
	}

	worker.ActiveCount = req.ActiveCount
	worker.Load = req.Load
	worker.LastSeenAt = nowMs()
	if err := a.store.PutWorker(ctx, worker); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to persist heartbeat")
		return
	}
	telemetry.WorkerActiveSessions.WithLabelValues(workerID).Set(float64(req.ActiveCount))

	depth, err := a.store.QueueDepth(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read queue depth")
		return
	}
	writeJSON(w, http.StatusOK, heartbeatResponse{PendingWorkCount: depth})
}

// pollPeekLimit bounds how much of the queue a single poll inspects;
// the worker only needs to see enough to pick its next claim.
const pollPeekLimit = 50

type pollResponse struct {
	Work           []*store.QueuedWork               `json:"work"`
	PendingPrompts map[string][]*store.PendingPrompt `json:"pendingPrompts"`
}

// handlePoll is GET /workers/:id/poll.
func (a *API) handlePoll(w http.ResponseWriter, r *http.Request, workerID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx := r.Context()
	worker, err := a.store.GetWorker(ctx, workerID)
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "unknown worker")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to look up worker")
		return
	}

	queued, err := a.store.PeekQueue(ctx, pollPeekLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read queue")
		return
	}
	work := make([]*store.QueuedWork, 0, len(queued))
	for _, item := range queued {
		if item.ProjectName == "" || containsProject(worker.Projects, item.ProjectName) {
			work = append(work, item)
		}
	}

	sessionIDs, err := a.store.ListWorkerSessions(ctx, workerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list worker sessions")
		return
	}
	pending := make(map[string][]*store.PendingPrompt, len(sessionIDs))
	for _, sid := range sessionIDs {
		prompts, err := a.store.ListPrompts(ctx, sid)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list pending prompts")
			return
		}
		if len(prompts) > 0 {
			pending[sid] = prompts
		}
	}

	writeJSON(w, http.StatusOK, pollResponse{Work: work, PendingPrompts: pending})
}

func containsProject(projects []string, name string) bool {
	for _, p := range projects {
		if p == name {
			return true
		}
	}
	return false
}
