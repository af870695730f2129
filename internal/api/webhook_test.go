package api

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"

	"github.com/agentgovernor/governor/internal/bus"
	"github.com/agentgovernor/governor/internal/dispatch"
	"github.com/agentgovernor/governor/internal/issue"
	"github.com/agentgovernor/governor/internal/platform"
	"github.com/agentgovernor/governor/internal/store"
)

func TestHandleWebhook_PublishesNormalizedEvents(t *testing.T) {
	s := store.NewMemoryStore()
	d := dispatch.New(s)
	b := bus.New()
	fake := platform.NewFake()
	fake.NormalizeFn = func(ctx context.Context, rawPayload []byte) ([]bus.Event, error) {
		return []bus.Event{{Kind: bus.KindIssueStatusChanged, IssueID: "issue-1", NewStatus: issue.StatusStarted}}, nil
	}
	a := New(s, d, b, fake, "test-token", nil)

	req := httptest.NewRequest("POST", "/webhook", bytes.NewReader([]byte(`{"type":"issue.updated"}`)))
	req.Header.Set(webhookIdempotencyHeader, "delivery-1")
	w := httptest.NewRecorder()
	a.handleWebhook(w, req)

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if b.Depth() != 1 {
		t.Fatalf("expected one event published, got depth %d", b.Depth())
	}
}

func TestHandleWebhook_DedupesRedelivery(t *testing.T) {
	s := store.NewMemoryStore()
	d := dispatch.New(s)
	b := bus.New()
	calls := 0
	fake := platform.NewFake()
	fake.NormalizeFn = func(ctx context.Context, rawPayload []byte) ([]bus.Event, error) {
		calls++
		return []bus.Event{{Kind: bus.KindIssueStatusChanged, IssueID: "issue-1"}}, nil
	}
	a := New(s, d, b, fake, "test-token", nil)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/webhook", bytes.NewReader([]byte(`{}`)))
		req.Header.Set(webhookIdempotencyHeader, "same-delivery")
		w := httptest.NewRecorder()
		a.handleWebhook(w, req)
		if w.Code != 200 {
			t.Fatalf("call %d: expected 200, got %d", i, w.Code)
		}
	}
	if calls != 1 {
		t.Fatalf("expected normalize to run once, ran %d times", calls)
	}
}
