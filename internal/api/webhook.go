package api

import (
	"io"
	"log"
	"net/http"
)

// webhookIdempotencyHeader carries the tracker's redelivery-safe
// identifier for this specific delivery attempt (spec §6.2/§6.3).
const webhookIdempotencyHeader = "X-Webhook-Delivery-Id"

// handleWebhook is POST /webhook: the upstream tracker's push ingress.
// A tracker redelivering the same event within the idempotency window
// is acked without reprocessing; a malformed payload still gets a 200
// so the tracker doesn't retry it forever, but the failure is logged.
func (a *API) handleWebhook(w http.ResponseWriter, r *http.Request) {
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
	if deliveryID := r.Header.Get(webhookIdempotencyHeader); deliveryID != "" {
		first, err := a.store.MarkWebhookProcessed(ctx, deliveryID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to check webhook idempotency")
			return
		}
		if !first {
			writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
			return
		}
	}

	events, err := a.adapter.NormalizeWebhookEvent(ctx, body)
	if err != nil {
		log.Printf("api: failed to normalize webhook payload: %v", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	for _, ev := range events {
		if _, err := a.bus.Publish(ev); err != nil {
			log.Printf("api: failed to publish webhook event kind=%s issueId=%s: %v", ev.Kind, ev.IssueID, err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}
