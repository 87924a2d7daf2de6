// Package service contains the workflow orchestration services.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	rfotel "github.com/Strob0t/ReelForge/internal/adapter/otel"
	"github.com/Strob0t/ReelForge/internal/domain"
	"github.com/Strob0t/ReelForge/internal/domain/event"
	"github.com/Strob0t/ReelForge/internal/domain/pipeline"
	"github.com/Strob0t/ReelForge/internal/domain/run"
	"github.com/Strob0t/ReelForge/internal/port/database"
)

// WorkflowConfig holds the run-level settings of the workflow service.
type WorkflowConfig struct {
	DefaultPipeline   string
	MaxCostUSD        float64
	MaxConcurrentRuns int
	Retention         time.Duration
	JanitorInterval   time.Duration
}

// ListResult is the response of List.
type ListResult struct {
	Runs   []run.Snapshot     `json:"workflows"`
	Counts map[run.Status]int `json:"counts"`
	Active int                `json:"active"`
}

// WorkflowService is the control surface of the orchestrator: it starts,
// inspects, reviews and cancels workflow runs and owns the goroutines that
// drive them.
type WorkflowService struct {
	cfg       WorkflowConfig
	store     database.Store
	pipelines *PipelineService
	driver    *Driver
	gate      *ReviewGate
	events    *EventEmitter
	metrics   *rfotel.Metrics

	sem     *semaphore.Weighted
	startMu sync.Mutex
	mu      sync.Mutex
	active  map[string]*activeRun
	wg      sync.WaitGroup
	baseCtx context.Context
	stop    context.CancelCauseFunc
	now     func() time.Time
}

// NewWorkflowService creates the workflow service.
func NewWorkflowService(
	cfg WorkflowConfig,
	store database.Store,
	pipelines *PipelineService,
	driver *Driver,
	gate *ReviewGate,
	events *EventEmitter,
) *WorkflowService {
	if cfg.MaxConcurrentRuns < 1 {
		cfg.MaxConcurrentRuns = 1
	}
	if cfg.DefaultPipeline == "" {
		cfg.DefaultPipeline = pipeline.DefaultTemplateID
	}
	if events == nil {
		events = NewEventEmitter(nil, nil)
	}
	ctx, stop := context.WithCancelCause(context.Background())
	return &WorkflowService{
		cfg:       cfg,
		store:     store,
		pipelines: pipelines,
		driver:    driver,
		gate:      gate,
		events:    events,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrentRuns)),
		active:    make(map[string]*activeRun),
		baseCtx:   ctx,
		stop:      stop,
		now:       time.Now,
	}
}

// SetMetrics enables metric recording.
func (s *WorkflowService) SetMetrics(m *rfotel.Metrics) { s.metrics = m }

// Start creates a run from req and begins driving it. A request carrying an
// idempotency key that was already used returns the existing run.
func (s *WorkflowService) Start(ctx context.Context, req *run.StartRequest) (*run.StartResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		s.startMu.Lock()
		defer s.startMu.Unlock()

		existing, err := s.store.FindRunByIdempotencyKey(ctx, req.IdempotencyKey)
		switch {
		case err == nil:
			slog.Info("duplicate start request", "run_id", existing.ID, "idempotency_key", req.IdempotencyKey)
			return &run.StartResult{RunID: existing.ID, Status: existing.Status}, nil
		case !errors.Is(err, domain.ErrNotFound):
			return nil, fmt.Errorf("lookup idempotency key: %w", err)
		}
	}

	pipelineID := req.PipelineID
	if pipelineID == "" {
		pipelineID = s.cfg.DefaultPipeline
	}
	tmpl, err := s.pipelines.Get(pipelineID)
	if err != nil {
		return nil, fmt.Errorf("unknown pipeline %q: %w", pipelineID, domain.ErrValidation)
	}
	phases, err := tmpl.Instantiate(req.InputKind)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	maxCost := s.cfg.MaxCostUSD
	switch {
	case req.MaxCostUSD != nil:
		maxCost = *req.MaxCostUSD
	case tmpl.MaxCostUSD > 0:
		maxCost = tmpl.MaxCostUSD
	}

	r, err := run.New(req, tmpl.ID, phases, maxCost, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveRun(ctx, r); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	slog.Info("workflow started",
		"run_id", r.ID,
		"pipeline_id", r.PipelineID,
		"input_kind", r.InputKind,
		"phases", len(r.Phases),
		"max_cost_usd", r.MaxCostUSD,
	)
	s.events.Emit(ctx, r.ID, event.TypeWorkflowStarted, r.CurrentPhase, event.WorkflowPayload{
		Status:     string(r.Status),
		PipelineID: r.PipelineID,
	})
	if s.metrics != nil {
		s.metrics.RunsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("pipeline", r.PipelineID)))
	}

	s.launch(r)
	return &run.StartResult{RunID: r.ID, Status: r.Status}, nil
}

// Get returns the latest checkpoint of a run.
func (s *WorkflowService) Get(ctx context.Context, id string) (*run.Run, error) {
	return s.store.GetRun(ctx, id)
}

// List returns snapshots of the most recent runs with per-status counts.
func (s *WorkflowService) List(ctx context.Context, filter database.RunFilter) (*ListResult, error) {
	runs, err := s.store.ListRuns(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	res := &ListResult{
		Runs:   make([]run.Snapshot, 0, len(runs)),
		Counts: make(map[run.Status]int),
		Active: s.Active(),
	}
	for i := range runs {
		res.Runs = append(res.Runs, runs[i].Snapshot())
		res.Counts[runs[i].Status]++
	}
	return res, nil
}

// Review returns the pending review checkpoint of a run.
func (s *WorkflowService) Review(ctx context.Context, id string) (run.ReviewSnapshot, error) {
	if snap, ok := s.gate.Pending(id); ok {
		return snap, nil
	}
	if _, err := s.store.GetRun(ctx, id); err != nil {
		return run.ReviewSnapshot{}, err
	}
	return run.ReviewSnapshot{}, fmt.Errorf("no pending review for run %s: %w", id, domain.ErrNotFound)
}

// SubmitReview delivers a reviewer decision to the run's checkpoint.
func (s *WorkflowService) SubmitReview(ctx context.Context, id string, d run.ReviewDecision) error {
	return s.gate.Submit(ctx, id, d)
}

// Events returns the recorded progress events of a run.
func (s *WorkflowService) Events(ctx context.Context, id string, limit int) ([]event.Event, error) {
	if _, err := s.store.GetRun(ctx, id); err != nil {
		return nil, err
	}
	return s.events.List(ctx, id, limit)
}

// Cancel stops a running or suspended run and marks it FAILED. Cancelling
// a finished run returns domain.ErrConflict.
func (s *WorkflowService) Cancel(ctx context.Context, id string) (*run.Run, error) {
	r, err := s.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status.IsTerminal() {
		return nil, fmt.Errorf("run %s is already %s: %w", id, r.Status, domain.ErrConflict)
	}

	s.mu.Lock()
	ar, driven := s.active[id]
	s.mu.Unlock()

	if !driven {
		if _, err := s.driver.cancelRun(ctx, r); err != nil {
			return nil, err
		}
		return r, nil
	}

	s.gate.Cancel(ctx, id)
	ar.cancel(errRunCancelled)
	select {
	case <-ar.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.store.GetRun(ctx, id)
}

// Active returns the number of runs currently driven by this process.
func (s *WorkflowService) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// PendingReviews returns the number of open review checkpoints.
func (s *WorkflowService) PendingReviews() int {
	return len(s.gate.PendingAll())
}
