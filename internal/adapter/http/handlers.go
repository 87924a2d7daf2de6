package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/Strob0t/ReelForge/internal/adapter/ws"
	"github.com/Strob0t/ReelForge/internal/domain/event"
	"github.com/Strob0t/ReelForge/internal/domain/pipeline"
	"github.com/Strob0t/ReelForge/internal/domain/run"
	"github.com/Strob0t/ReelForge/internal/port/database"
	"github.com/Strob0t/ReelForge/internal/service"
)

const healthTimeout = 2 * time.Second

// HealthCheck probes one dependency. A nil error means healthy.
type HealthCheck func(ctx context.Context) error

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Workflows *service.WorkflowService
	Pipelines *service.PipelineService
	Hub       *ws.Hub
	Checks    map[string]HealthCheck
}

// StartWorkflow handles POST /api/v1/workflows
func (h *Handlers) StartWorkflow(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[run.StartRequest](w, r)
	if !ok {
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" && req.IdempotencyKey == "" {
		req.IdempotencyKey = key
	}

	res, err := h.Workflows.Start(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err, "pipeline not found")
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// ListWorkflows handles GET /api/v1/workflows?status=RUNNING,FAILED&limit=20
func (h *Handlers) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := database.RunFilter{Limit: limit}
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st, err := run.ParseStatus(s)
			if err != nil {
				writeDomainError(w, err, "")
				return
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}

	res, err := h.Workflows.List(r.Context(), filter)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetWorkflow handles GET /api/v1/workflows/{id}
func (h *Handlers) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	rn, err := h.Workflows.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, rn.Snapshot())
}

// CancelWorkflow handles POST /api/v1/workflows/{id}/cancel
func (h *Handlers) CancelWorkflow(w http.ResponseWriter, r *http.Request) {
	rn, err := h.Workflows.Cancel(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, rn.Snapshot())
}

// GetReview handles GET /api/v1/workflows/{id}/review
func (h *Handlers) GetReview(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Workflows.Review(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "no review pending for this workflow")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// reviewRequest mirrors the review_decision message of the WebSocket channel.
type reviewRequest struct {
	Type          string          `json:"type,omitempty"`
	Status        string          `json:"status"`
	Feedback      string          `json:"feedback,omitempty"`
	Modifications json.RawMessage `json:"modifications,omitempty"`
	ReviewerID    string          `json:"reviewerId,omitempty"`
}

// SubmitReview handles POST /api/v1/workflows/{id}/review
func (h *Handlers) SubmitReview(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[reviewRequest](w, r)
	if !ok {
		return
	}
	status, err := run.ParseReviewStatus(req.Status)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}

	d := run.ReviewDecision{
		Status:        status,
		Feedback:      req.Feedback,
		Modifications: req.Modifications,
		ReviewerID:    req.ReviewerID,
	}
	if err := h.Workflows.SubmitReview(r.Context(), urlParam(r, "id"), d); err != nil {
		writeDomainError(w, err, "no review pending for this workflow")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// ListWorkflowEvents handles GET /api/v1/workflows/{id}/events?limit=100
func (h *Handlers) ListWorkflowEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := h.Workflows.Events(r.Context(), urlParam(r, "id"), limit)
	if err != nil {
		writeDomainError(w, err, "workflow not found")
		return
	}
	if events == nil {
		events = []event.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// ListPipelines handles GET /api/v1/pipelines
func (h *Handlers) ListPipelines(w http.ResponseWriter, _ *http.Request) {
	templates := h.Pipelines.List()
	if templates == nil {
		templates = []pipeline.Template{}
	}
	writeJSON(w, http.StatusOK, templates)
}

// ServeReviewChannel handles GET /ws/workflows/{id}/review
func (h *Handlers) ServeReviewChannel(w http.ResponseWriter, r *http.Request) {
	h.Hub.ServeReview(w, r, h.Workflows, urlParam(r, "id"))
}

type healthStatus struct {
	Status         string            `json:"status"`
	Checks         map[string]string `json:"checks,omitempty"`
	ActiveRuns     int               `json:"active_runs"`
	PendingReviews int               `json:"pending_reviews"`
	WSClients      int               `json:"ws_clients"`
}

// Health handles GET /health. Any failing check turns the response into 503.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	res := healthStatus{Status: "ok", Checks: make(map[string]string, len(h.Checks))}
	code := http.StatusOK
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			res.Checks[name] = err.Error()
			res.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		res.Checks[name] = "ok"
	}
	res.ActiveRuns = h.Workflows.Active()
	res.PendingReviews = h.Workflows.PendingReviews()
	if h.Hub != nil {
		res.WSClients = h.Hub.ConnectionCount()
	}
	writeJSON(w, code, res)
}
