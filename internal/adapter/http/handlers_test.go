package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	rfhttp "github.com/Strob0t/ReelForge/internal/adapter/http"
	"github.com/Strob0t/ReelForge/internal/adapter/echo"
	"github.com/Strob0t/ReelForge/internal/adapter/memstore"
	"github.com/Strob0t/ReelForge/internal/adapter/ws"
	"github.com/Strob0t/ReelForge/internal/domain/event"
	"github.com/Strob0t/ReelForge/internal/domain/pipeline"
	"github.com/Strob0t/ReelForge/internal/domain/run"
	"github.com/Strob0t/ReelForge/internal/port/executor"
	"github.com/Strob0t/ReelForge/internal/service"
)

type testServer struct {
	*httptest.Server
	svc *service.WorkflowService
}

func newTestServer(t *testing.T, checks map[string]rfhttp.HealthCheck) *testServer {
	t.Helper()
	store := memstore.New()
	hub := ws.NewHub("*")
	gate := service.NewReviewGate(run.FallbackHold, hub)
	emitter := service.NewEventEmitter(store, hub)

	pipelines := service.NewPipelineService()
	tmpl := pipeline.Template{ID: "reviewed", Name: "Reviewed", Phases: []run.PhaseSpec{
		{Name: "research", Review: true},
		{Name: "assembly"},
	}}
	if err := pipelines.Register(&tmpl); err != nil {
		t.Fatalf("Register: %v", err)
	}

	driver := service.NewDriver(service.DriverConfig{
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     time.Millisecond,
		PhaseTimeout:         time.Second,
	}, store, executor.NewRegistry(echo.New(0)), gate, emitter)
	svc := service.NewWorkflowService(service.WorkflowConfig{
		DefaultPipeline:   "reviewed",
		MaxConcurrentRuns: 2,
	}, store, pipelines, driver, gate, emitter)

	r := chi.NewRouter()
	rfhttp.MountRoutes(r, &rfhttp.Handlers{
		Workflows: svc,
		Pipelines: pipelines,
		Hub:       hub,
		Checks:    checks,
	}, nil)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return &testServer{Server: srv, svc: svc}
}

func (s *testServer) do(t *testing.T, method, path string, body any, header ...string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequestWithContext(context.Background(), method, s.URL+path, &buf)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := s.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func (s *testServer) start(t *testing.T, header ...string) run.StartResult {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/api/v1/workflows", map[string]any{
		"input_kind":    "prompt",
		"input_payload": map[string]string{"prompt": "volcanoes"},
	}, header...)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start status = %d", resp.StatusCode)
	}
	return decode[run.StartResult](t, resp)
}

func (s *testServer) waitReview(t *testing.T, id string) run.ReviewSnapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp := s.do(t, http.MethodGet, "/api/v1/workflows/"+id+"/review", nil)
		if resp.StatusCode == http.StatusOK {
			return decode[run.ReviewSnapshot](t, resp)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("review for %s never opened", id)
	return run.ReviewSnapshot{}
}

func TestWorkflowLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)

	res := s.start(t)
	if res.RunID == "" || res.Status != run.StatusRunning {
		t.Fatalf("start = %+v", res)
	}

	snap := s.waitReview(t, res.RunID)
	if snap.CurrentPhase != "research" {
		t.Fatalf("review snapshot = %+v", snap)
	}

	resp := s.do(t, http.MethodPost, "/api/v1/workflows/"+res.RunID+"/review", map[string]any{
		"type":       "review_decision",
		"status":     "approved",
		"reviewerId": "editor-1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("review status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.svc.Wait(ctx, res.RunID); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	got := decode[run.Snapshot](t, s.do(t, http.MethodGet, "/api/v1/workflows/"+res.RunID, nil))
	if got.Status != run.StatusCompleted || len(got.PhasesCompleted) != 2 {
		t.Fatalf("snapshot = %+v", got)
	}

	events := decode[[]event.Event](t, s.do(t, http.MethodGet, "/api/v1/workflows/"+res.RunID+"/events", nil))
	if len(events) == 0 || events[0].Type != event.TypeWorkflowStarted {
		t.Fatalf("events = %+v", events)
	}

	list := decode[service.ListResult](t, s.do(t, http.MethodGet, "/api/v1/workflows?status=completed", nil))
	if len(list.Runs) != 1 || list.Counts[run.StatusCompleted] != 1 {
		t.Fatalf("list = %+v", list)
	}
}

func TestStartWorkflow_IdempotencyHeader(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)

	first := s.start(t, "Idempotency-Key", "abc")
	second := s.start(t, "Idempotency-Key", "abc")
	if first.RunID != second.RunID {
		t.Fatalf("run ids differ: %s vs %s", first.RunID, second.RunID)
	}
}

func TestStartWorkflow_Errors(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"missing input kind", map[string]any{}, http.StatusBadRequest},
		{"unknown pipeline", map[string]any{"input_kind": "prompt", "pipeline_id": "nope"}, http.StatusBadRequest},
		{"not json", "{", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(t, http.MethodPost, "/api/v1/workflows", tt.body)
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestReviewErrors(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)
	res := s.start(t)
	s.waitReview(t, res.RunID)
	path := "/api/v1/workflows/" + res.RunID + "/review"

	if resp := s.do(t, http.MethodPost, path, map[string]string{"status": "maybe"}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad status: got %d", resp.StatusCode)
	}
	if resp := s.do(t, http.MethodPost, "/api/v1/workflows/missing/review", map[string]string{"status": "approved"}); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown run: got %d", resp.StatusCode)
	}
	if resp := s.do(t, http.MethodPost, path, map[string]string{"status": "rejected"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("first decision: got %d", resp.StatusCode)
	}
	resp := s.do(t, http.MethodPost, path, map[string]string{"status": "approved"})
	if resp.StatusCode != http.StatusConflict && resp.StatusCode != http.StatusNotFound {
		t.Errorf("second decision: got %d, want 409 or 404", resp.StatusCode)
	}
}

func TestCancelWorkflow(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)
	res := s.start(t)
	s.waitReview(t, res.RunID)

	resp := s.do(t, http.MethodPost, "/api/v1/workflows/"+res.RunID+"/cancel", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d", resp.StatusCode)
	}
	if snap := decode[run.Snapshot](t, resp); snap.Status != run.StatusFailed {
		t.Fatalf("status = %s, want FAILED", snap.Status)
	}

	if resp := s.do(t, http.MethodPost, "/api/v1/workflows/"+res.RunID+"/cancel", nil); resp.StatusCode != http.StatusConflict {
		t.Errorf("second cancel: got %d, want 409", resp.StatusCode)
	}
	if resp := s.do(t, http.MethodPost, "/api/v1/workflows/missing/cancel", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown run: got %d, want 404", resp.StatusCode)
	}
}

func TestListWorkflows_BadQuery(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)
	for _, q := range []string{"?limit=-1", "?limit=x", "?status=paused"} {
		if resp := s.do(t, http.MethodGet, "/api/v1/workflows"+q, nil); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d", q, resp.StatusCode)
		}
	}
}

func TestListPipelines(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)
	list := decode[[]pipeline.Template](t, s.do(t, http.MethodGet, "/api/v1/pipelines", nil))
	found := false
	for _, p := range list {
		if p.ID == "reviewed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("pipelines = %+v", list)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()
	ok := newTestServer(t, map[string]rfhttp.HealthCheck{
		"store": func(context.Context) error { return nil },
	})
	if resp := ok.do(t, http.MethodGet, "/health", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthy: status = %d", resp.StatusCode)
	}

	bad := newTestServer(t, map[string]rfhttp.HealthCheck{
		"nats": func(context.Context) error { return errors.New("disconnected") },
	})
	resp := bad.do(t, http.MethodGet, "/health", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("degraded: status = %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["status"] != "degraded" {
		t.Errorf("body = %v", body)
	}
}
