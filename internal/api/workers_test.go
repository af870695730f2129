package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/agentgovernor/governor/internal/bus"
	"github.com/agentgovernor/governor/internal/dispatch"
	"github.com/agentgovernor/governor/internal/platform"
	"github.com/agentgovernor/governor/internal/store"
)

func newTestAPI() *API {
	s := store.NewMemoryStore()
	d := dispatch.New(s)
	return New(s, d, bus.New(), platform.NewFake(), "test-token", nil)
}

func TestHandleRegisterWorker(t *testing.T) {
	a := newTestAPI()

	body, _ := json.Marshal(registerWorkerRequest{Hostname: "worker-1", Capacity: 4})
	req := httptest.NewRequest("POST", "/workers/register", bytes.NewReader(body))
	w := httptest.NewRecorder()

	a.handleRegisterWorker(w, req)

	if w.Code != 201 {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp registerWorkerResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.WorkerID == "" {
		t.Fatal("expected a non-empty workerId")
	}
}

func TestHandleRegisterWorker_MissingHostname(t *testing.T) {
	a := newTestAPI()
	body, _ := json.Marshal(registerWorkerRequest{Capacity: 1})
	req := httptest.NewRequest("POST", "/workers/register", bytes.NewReader(body))
	w := httptest.NewRecorder()

	a.handleRegisterWorker(w, req)

	if w.Code != 400 {
		t.Fatalf("expected 400 for missing hostname, got %d", w.Code)
	}
}

func TestHandleHeartbeat(t *testing.T) {
	a := newTestAPI()
	if err := a.store.PutWorker(context.Background(), &store.WorkerRecord{WorkerID: "w1", Hostname: "h"}); err != nil {
		t.Fatalf("seed worker: %v", err)
	}

	body, _ := json.Marshal(heartbeatRequest{ActiveCount: 2, Load: 0.5})
	req := httptest.NewRequest("POST", "/workers/w1/heartbeat", bytes.NewReader(body))
	w := httptest.NewRecorder()

	a.handleHeartbeat(w, req, "w1")

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	worker, err := a.store.GetWorker(context.Background(), "w1")
	if err != nil {
		t.Fatalf("get worker: %v", err)
	}
	if worker.ActiveCount != 2 {
		t.Fatalf("expected activeCount=2, got %d", worker.ActiveCount)
	}
}

func TestHandleHeartbeat_UnknownWorker(t *testing.T) {
	a := newTestAPI()
	body, _ := json.Marshal(heartbeatRequest{ActiveCount: 1})
	req := httptest.NewRequest("POST", "/workers/ghost/heartbeat", bytes.NewReader(body))
	w := httptest.NewRecorder()

	a.handleHeartbeat(w, req, "ghost")

	if w.Code != 404 {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHandlePoll_FiltersByProject(t *testing.T) {
	a := newTestAPI()
	if err := a.store.PutWorker(context.Background(), &store.WorkerRecord{WorkerID: "w1", Projects: []string{"acme"}}); err != nil {
		t.Fatalf("seed worker: %v", err)
	}
	if err := a.store.EnqueueWork(context.Background(), &store.QueuedWork{SessionID: "s1", IssueID: "i1", ProjectName: "acme", QueuedAt: 1}); err != nil {
		t.Fatalf("enqueue acme work: %v", err)
	}
	if err := a.store.EnqueueWork(context.Background(), &store.QueuedWork{SessionID: "s2", IssueID: "i2", ProjectName: "other", QueuedAt: 2}); err != nil {
		t.Fatalf("enqueue other work: %v", err)
	}

	req := httptest.NewRequest("GET", "/workers/w1/poll", nil)
	w := httptest.NewRecorder()
	a.handlePoll(w, req, "w1")

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp pollResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Work) != 1 || resp.Work[0].SessionID != "s1" {
		t.Fatalf("expected only the acme-project item, got %+v", resp.Work)
	}
}
