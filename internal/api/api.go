// Package api implements the Worker HTTP API (spec §6.2): the surface
// workers poll, claim, and report status against, plus the sanitized
// unauthenticated public read endpoints and the upstream webhook
// ingress. Grounded on control_plane/api.go's shape (a single API
// struct holding its collaborators, plain net/http handlers, manual
// JSON decode/encode, http.Error for failures) generalized from
// FluxForge's agent/job/state nouns to the governor's worker/session
// nouns.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/agentgovernor/governor/internal/bus"
	"github.com/agentgovernor/governor/internal/dispatch"
	"github.com/agentgovernor/governor/internal/platform"
	"github.com/agentgovernor/governor/internal/prompt"
	"github.com/agentgovernor/governor/internal/store"
)

// Forwarder relays a worker-reported session event on to the upstream
// tracker (e.g. posting a progress comment) for a non-synthetic
// session. The platform adapter contract (spec §4.8) is explicitly
// scoped to webhook normalization and project scanning only — the
// REST/GraphQL client itself is a non-goal — so forwarding lives behind
// its own narrow interface instead of growing platform.Adapter.
type Forwarder interface {
	Forward(ctx context.Context, kind, sessionID string, payload json.RawMessage) error
}

// noopForwarder is used when a deployment has no upstream-forwarding
// need; worker calls are still ACKed, just not relayed anywhere.
type noopForwarder struct{}

func (noopForwarder) Forward(context.Context, string, string, json.RawMessage) error { return nil }

// API wires the HTTP handlers to the governor's core collaborators.
type API struct {
	store      store.Store
	dispatcher *dispatch.Dispatcher
	prompts    *prompt.Channel
	bus        *bus.Bus
	adapter    platform.Adapter
	forwarder  Forwarder

	authToken string

	hub *PublicHub
}

// New builds an API. authToken is the opaque bearer token workers must
// present (spec §6.1 workerAuthToken); forwarder may be nil to use a
// no-op. adapter is used only by the webhook handler to normalize raw
// payloads into bus events.
func New(s store.Store, d *dispatch.Dispatcher, b *bus.Bus, adapter platform.Adapter, authToken string, forwarder Forwarder) *API {
	if forwarder == nil {
		forwarder = noopForwarder{}
	}
	a := &API{
		store:      s,
		dispatcher: d,
		prompts:    prompt.New(s),
		bus:        b,
		adapter:    adapter,
		forwarder:  forwarder,
		authToken:  authToken,
	}
	a.hub = NewPublicHub(a)
	return a
}

// Hub returns the public stream hub so the caller can start its Run
// loop alongside the HTTP server.
func (a *API) Hub() *PublicHub { return a.hub }

func nowMs() int64 { return time.Now().UnixMilli() }

// writeJSON writes status and encodes v (if non-nil) as the JSON
// response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	http.Error(w, msg, status)
}
