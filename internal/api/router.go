package api

import (
	"net/http"
	"strings"
)

// NewRouter builds the governor's HTTP mux (spec §6.2): worker and
// session routes require the bearer token, /public/* /webhook /health
// don't. Grounded on control_plane/main.go's registration style —
// plain http.DefaultServeMux-equivalent, manual path-segment parsing
// inside each handler rather than a third-party router.
func NewRouter(a *API, authToken string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.Handle("/workers/register", BearerAuth(authToken, a.handleRegisterWorker))
	mux.Handle("/workers/", BearerAuth(authToken, a.routeWorkers))
	mux.Handle("/sessions/", BearerAuth(authToken, a.routeSessions))

	mux.HandleFunc("/public/stats", a.handlePublicStats)
	mux.HandleFunc("/public/sessions", a.handlePublicSessions)
	mux.HandleFunc("/public/sessions/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/public/sessions/")
		if id == "" {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		a.handlePublicSessionByID(w, r, id)
	})
	mux.HandleFunc("/public/stream", a.handleStream)

	mux.HandleFunc("/webhook", a.handleWebhook)

	return CORS(mux)
}

// routeWorkers dispatches /workers/{id}/heartbeat and /workers/{id}/poll.
func (a *API) routeWorkers(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/workers/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	workerID, action := parts[0], parts[1]
	switch action {
	case "heartbeat":
		a.handleHeartbeat(w, r, workerID)
	case "poll":
		a.handlePoll(w, r, workerID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// routeSessions dispatches every /sessions/{id}/... worker-facing route.
func (a *API) routeSessions(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/sessions/"), "/")
	if len(parts) < 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	sessionID, action := parts[0], parts[1]
	switch action {
	case "claim":
		a.handleClaim(w, r, sessionID)
	case "status":
		a.handleStatus(w, r, sessionID)
	case "lock-refresh":
		a.handleLockRefresh(w, r, sessionID)
	case "prompts":
		a.handlePrompts(w, r, sessionID)
	case "transfer-ownership":
		a.handleTransferOwnership(w, r, sessionID)
	case "activity", "progress", "completion", "external-urls", "tool-error":
		a.handleForwarded(w, r, sessionID, action)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}
