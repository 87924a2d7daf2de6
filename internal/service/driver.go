package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	rfotel "github.com/Strob0t/ReelForge/internal/adapter/otel"
	"github.com/Strob0t/ReelForge/internal/domain"
	"github.com/Strob0t/ReelForge/internal/domain/event"
	"github.com/Strob0t/ReelForge/internal/domain/run"
	"github.com/Strob0t/ReelForge/internal/logger"
	"github.com/Strob0t/ReelForge/internal/port/database"
	"github.com/Strob0t/ReelForge/internal/port/executor"
	"github.com/Strob0t/ReelForge/internal/resilience"
)

// Directive tells the caller of Advance what to do next.
type Directive int

const (
	// Continue means the run has more work; call Advance again.
	Continue Directive = iota
	// Suspended means the run is awaiting review; the next Advance blocks
	// on the review gate.
	Suspended
	// Terminal means the run is COMPLETED or FAILED.
	Terminal
)

func (d Directive) String() string {
	switch d {
	case Continue:
		return "continue"
	case Suspended:
		return "suspended"
	case Terminal:
		return "terminal"
	default:
		return fmt.Sprintf("directive(%d)", int(d))
	}
}

var (
	// ErrShutdown is the context cause used when the process stops. Runs
	// interrupted by it keep their checkpoint and resume on the next start.
	ErrShutdown = errors.New("orchestrator shutting down")

	// ErrInterrupted is returned by Advance when ErrShutdown ended the step.
	ErrInterrupted = errors.New("workflow interrupted")
)

// DriverConfig holds the retry and timeout settings of the driver.
type DriverConfig struct {
	MaxRetries           int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	PhaseTimeout         time.Duration
	ReviewTimeout        time.Duration
}

// Driver advances a run through its phase sequence one step at a time.
// A run must only be advanced by one goroutine at a time.
type Driver struct {
	cfg       DriverConfig
	store     database.Store
	executors *executor.Registry
	gate      *ReviewGate
	events    *EventEmitter
	breakers  *resilience.Set
	metrics   *rfotel.Metrics
	now       func() time.Time
}

// NewDriver creates a phase pipeline driver.
func NewDriver(cfg DriverConfig, store database.Store, executors *executor.Registry, gate *ReviewGate, events *EventEmitter) *Driver {
	if events == nil {
		events = NewEventEmitter(nil, nil)
	}
	return &Driver{
		cfg:       cfg,
		store:     store,
		executors: executors,
		gate:      gate,
		events:    events,
		now:       time.Now,
	}
}

// SetBreakers guards each phase's executor with a circuit breaker.
func (d *Driver) SetBreakers(s *resilience.Set) { d.breakers = s }

// SetMetrics enables metric recording.
func (d *Driver) SetMetrics(m *rfotel.Metrics) { d.metrics = m }

// Advance performs one step of r: it executes the current phase, or awaits
// and applies the review decision of a suspended phase. r is mutated in place
// and checkpointed after every change. The returned error is reserved for
// checkpoint persistence failures and ErrInterrupted; collaborator failures
// are recorded on the run.
func (d *Driver) Advance(ctx context.Context, r *run.Run) (Directive, error) {
	if r.Status.IsTerminal() {
		return Terminal, nil
	}

	ctx = logger.WithRunID(ctx, r.ID)
	ctx, span := rfotel.StartRunSpan(ctx, r.ID, r.PipelineID)
	defer span.End()

	if ctx.Err() != nil {
		return d.interrupt(ctx, r)
	}

	switch r.Status {
	case run.StatusAwaitingReview:
		return d.awaitReview(ctx, r)
	case run.StatusRunning:
		return d.runPhase(ctx, r)
	default:
		return Terminal, fmt.Errorf("run %s: unexpected status %s", r.ID, r.Status)
	}
}

func (d *Driver) runPhase(ctx context.Context, r *run.Run) (Directive, error) {
	phase := r.CurrentPhase
	if r.IsPhaseComplete(phase) {
		return d.afterCompleted(ctx, r, phase)
	}

	idx := r.PhaseIndex(phase)
	for _, p := range r.Phases[:idx] {
		if !r.IsPhaseComplete(p.Name) {
			return d.fail(ctx, r, phase, fmt.Sprintf("phase %s cannot start before %s has completed", phase, p.Name))
		}
	}

	d.events.Emit(ctx, r.ID, event.TypePhaseStarted, phase, event.PhasePayload{
		Attempt: 1, Index: idx, Total: len(r.Phases),
	})

	out, err := d.executeWithRetry(ctx, r)
	if err != nil {
		return Terminal, err
	}
	if ctx.Err() != nil {
		return d.interrupt(ctx, r)
	}
	if out.Status != run.PhaseCompleted {
		msg := fmt.Sprintf("phase %s failed after %d attempts: %s", phase, out.Attempt, out.Error)
		return d.fail(ctx, r, phase, msg)
	}

	d.events.Emit(ctx, r.ID, event.TypePhaseCompleted, phase, event.PhasePayload{
		Attempt:    out.Attempt,
		CostUSD:    out.CostUSD,
		DurationMS: out.DurationMS,
		Index:      idx,
		Total:      len(r.Phases),
	})
	d.events.Emit(ctx, r.ID, event.TypeCostUpdated, phase, event.CostPayload{
		PhaseCostUSD: out.CostUSD,
		TotalCostUSD: r.TotalCost(),
		MaxCostUSD:   r.MaxCostUSD,
	})

	return d.afterCompleted(ctx, r, phase)
}

// executeWithRetry runs the current phase until it completes or its retry
// budget is spent. Every attempt replaces the phase output and is
// checkpointed. Calls turned away by an open circuit breaker do not count
// as attempts; the driver waits for the breaker instead. The error is
// non-nil only for checkpoint failures.
func (d *Driver) executeWithRetry(ctx context.Context, r *run.Run) (run.PhaseOutput, error) {
	phase := r.CurrentPhase
	maxRetries := d.cfg.MaxRetries
	if spec, ok := r.Spec(phase); ok && spec.MaxRetries != nil {
		maxRetries = *spec.MaxRetries
	}
	maxRetries = max(maxRetries, 0)

	bo := backoff.NewExponentialBackOff()
	if d.cfg.RetryInitialInterval > 0 {
		bo.InitialInterval = d.cfg.RetryInitialInterval
	}
	if d.cfg.RetryMaxInterval > 0 {
		bo.MaxInterval = d.cfg.RetryMaxInterval
	}

	var (
		attempt int
		last    run.PhaseOutput
		saveErr error
	)
	op := func() (run.PhaseOutput, error) {
		out, admitted := d.attempt(ctx, r, attempt+1)
		if !admitted {
			return last, d.circuitWait(phase)
		}
		attempt++
		r.SetOutput(out, d.now())
		last = out
		if err := d.save(ctx, r); err != nil {
			saveErr = err
			return out, backoff.Permanent(err)
		}
		if out.Status == run.PhaseCompleted {
			return out, nil
		}
		if ctx.Err() != nil {
			return out, backoff.Permanent(context.Cause(ctx))
		}
		d.events.Emit(ctx, r.ID, event.TypePhaseFailed, phase, event.PhasePayload{
			Attempt:    attempt,
			CostUSD:    out.CostUSD,
			DurationMS: out.DurationMS,
			Error:      out.Error,
			Index:      r.PhaseIndex(phase),
			Total:      len(r.Phases),
		})
		err := &run.PhaseExecutionError{Phase: phase, Attempt: attempt, Err: errors.New(out.Error)}
		if attempt > maxRetries {
			return out, backoff.Permanent(err)
		}
		return out, err
	}

	_, _ = backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			if errors.Is(err, resilience.ErrCircuitOpen) {
				slog.Info("phase executor circuit open, waiting",
					"run_id", r.ID,
					"phase", phase,
					"attempt", attempt+1,
					"backoff", wait,
				)
				return
			}
			slog.Warn("phase attempt failed, retrying",
				"run_id", r.ID,
				"phase", phase,
				"attempt", attempt,
				"max_retries", maxRetries,
				"backoff", wait,
				"error", err,
			)
		}),
	)
	return last, saveErr
}

// circuitWait is the retry error for a call rejected by phase's open
// breaker. Long open intervals are waited out in whole seconds; shorter ones
// fall back to the exponential schedule.
func (d *Driver) circuitWait(phase string) error {
	wait := d.breakers.Get(phase).OpenFor()
	if wait < time.Second {
		return resilience.ErrCircuitOpen
	}
	secs := int((wait + time.Second - 1) / time.Second)
	return fmt.Errorf("%w: %w", resilience.ErrCircuitOpen, backoff.RetryAfter(secs))
}

// attempt invokes the phase executor once and normalises its result. It
// reports false when the phase's circuit breaker turned the call away
// without invoking the executor.
func (d *Driver) attempt(ctx context.Context, r *run.Run, attempt int) (run.PhaseOutput, bool) {
	phase := r.CurrentPhase
	in := run.NewPhaseInput(r, attempt)

	ctx, span := rfotel.StartPhaseSpan(ctx, r.ID, phase, attempt)
	defer span.End()
	if d.cfg.PhaseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.PhaseTimeout)
		defer cancel()
	}

	start := d.now()
	var (
		res     *run.PhaseOutput
		invoked bool
	)
	call := func(ctx context.Context) error {
		invoked = true
		var err error
		res, err = d.invoke(ctx, r, in)
		if err == nil && res != nil && res.Status == run.PhaseFailed {
			return errors.New(res.Error)
		}
		return err
	}

	var err error
	if d.breakers != nil {
		err = d.breakers.Get(phase).Do(ctx, call)
	} else {
		err = call(ctx)
	}
	if !invoked {
		span.SetAttributes(attribute.Bool("circuit_open", true))
		return run.PhaseOutput{}, false
	}
	elapsed := d.now().Sub(start)

	out := normaliseOutput(phase, res, err, d.now())
	out.Attempt = attempt
	out.DurationMS = elapsed.Milliseconds()

	if out.Status == run.PhaseFailed {
		span.SetStatus(codes.Error, out.Error)
	}
	if d.metrics != nil {
		attrs := metric.WithAttributes(
			attribute.String("phase", phase),
			attribute.String("status", string(out.Status)),
		)
		d.metrics.PhaseAttempts.Add(ctx, 1, attrs)
		d.metrics.PhaseDuration.Record(ctx, elapsed.Seconds(), attrs)
	}
	return out, true
}

// invoke calls the executor for in.Phase, converting a panic into an error.
func (d *Driver) invoke(ctx context.Context, r *run.Run, in run.PhaseInput) (out *run.PhaseOutput, err error) {
	ex, err := d.executors.Resolve(in.Phase)
	if err != nil {
		return nil, err
	}
	defer func() {
		if p := recover(); p != nil {
			slog.Error("phase executor panicked",
				"run_id", r.ID,
				"phase", in.Phase,
				"attempt", in.Attempt,
				"panic", p,
				"stack", string(debug.Stack()),
			)
			out, err = nil, fmt.Errorf("executor panic: %v", p)
		}
	}()
	return ex.Execute(ctx, r.Clone(), in)
}

// normaliseOutput turns an executor result into a COMPLETED or FAILED
// output for phase.
func normaliseOutput(phase string, res *run.PhaseOutput, err error, now time.Time) run.PhaseOutput {
	if res != nil && res.Status == run.PhaseFailed {
		out := *res
		out.PhaseName = phase
		if out.Error == "" {
			out.Error = "phase reported failure"
		}
		out.CreatedAt = stampOutput(out.CreatedAt, now)
		if vErr := out.Validate(); vErr != nil {
			return run.FailedOutput(phase, vErr.Error(), now)
		}
		return out
	}
	if err != nil {
		return run.FailedOutput(phase, err.Error(), now)
	}
	if res == nil {
		return run.FailedOutput(phase, "executor returned no output", now)
	}

	out := *res
	out.PhaseName = phase
	switch out.Status {
	case "":
		out.Status = run.PhaseCompleted
	case run.PhaseCompleted:
	default:
		return run.FailedOutput(phase, fmt.Sprintf("executor returned status %s", out.Status), now)
	}
	out.CreatedAt = stampOutput(out.CreatedAt, now)
	if vErr := out.Validate(); vErr != nil {
		return run.FailedOutput(phase, vErr.Error(), now)
	}
	return out
}

// stampOutput returns the executor's created_at, or now when unset, in UTC
// without a monotonic reading.
func stampOutput(at, now time.Time) time.Time {
	if at.IsZero() {
		at = now
	}
	return at.UTC().Round(0)
}

// afterCompleted applies the budget check and the review gate to a phase
// whose latest output is COMPLETED.
func (d *Driver) afterCompleted(ctx context.Context, r *run.Run, phase string) (Directive, error) {
	if r.BudgetExceeded() {
		return d.fail(ctx, r, phase, fmt.Sprintf("cost budget exceeded: %.4f > %.4f USD", r.TotalCost(), r.MaxCostUSD))
	}

	spec, _ := r.Spec(phase)
	if !spec.Review {
		return d.advance(ctx, r, phase)
	}

	now := d.now()
	out, _ := r.Output(phase)
	if err := out.Transition(run.PhasePendingReview); err != nil {
		return Terminal, fmt.Errorf("run %s: %w", r.ID, err)
	}
	r.SetOutput(out, now)
	if err := r.Transition(run.StatusAwaitingReview, now); err != nil {
		return Terminal, err
	}
	if err := d.save(ctx, r); err != nil {
		return Terminal, err
	}
	if err := d.openReview(ctx, r); err != nil {
		return Terminal, err
	}

	slog.Info("phase awaiting review", "run_id", r.ID, "phase", phase, "total_cost_usd", r.TotalCost())
	d.events.Emit(ctx, r.ID, event.TypeReviewRequested, phase, event.ReviewPayload{
		Status: string(run.ReviewPending),
	})
	return Suspended, nil
}

// openReview registers the run's checkpoint with the gate. A checkpoint
// that is already open is kept.
func (d *Driver) openReview(ctx context.Context, r *run.Run) error {
	_, err := d.gate.Open(ctx, r.ID, r.ReviewSnapshot(d.now()))
	if err != nil && !errors.Is(err, domain.ErrConflict) {
		return err
	}
	return nil
}

// advance accepts the current phase and moves to the next one.
func (d *Driver) advance(ctx context.Context, r *run.Run, phase string) (Directive, error) {
	now := d.now()
	if out, ok := r.Output(phase); ok && out.Status == run.PhasePendingReview {
		if err := out.Transition(run.PhaseCompleted); err != nil {
			return Terminal, fmt.Errorf("run %s: %w", r.ID, err)
		}
		r.SetOutput(out, now)
	}
	r.ClearRevision(phase)

	if r.AdvancePhase(now) {
		if err := d.save(ctx, r); err != nil {
			return Terminal, err
		}
		return Continue, nil
	}

	if err := r.Transition(run.StatusCompleted, now); err != nil {
		return Terminal, err
	}
	if err := d.save(ctx, r); err != nil {
		return Terminal, err
	}

	total := r.TotalCost()
	slog.Info("workflow completed", "run_id", r.ID, "pipeline_id", r.PipelineID, "total_cost_usd", total)
	d.events.Emit(ctx, r.ID, event.TypeWorkflowCompleted, "", event.WorkflowPayload{
		Status:       string(r.Status),
		PipelineID:   r.PipelineID,
		TotalCostUSD: total,
	})
	d.recordRunEnd(ctx, r)
	return Terminal, nil
}

func (d *Driver) awaitReview(ctx context.Context, r *run.Run) (Directive, error) {
	phase := r.CurrentPhase
	if err := d.openReview(ctx, r); err != nil {
		return Terminal, err
	}

	rctx, span := rfotel.StartReviewSpan(ctx, r.ID, phase)
	dec, err := d.gate.Await(rctx, r.ID, d.cfg.ReviewTimeout)
	span.End()
	if err != nil {
		if ctx.Err() != nil {
			return d.interrupt(ctx, r)
		}
		return Terminal, fmt.Errorf("await review of run %s: %w", r.ID, err)
	}

	d.events.Emit(ctx, r.ID, event.TypeReviewResolved, phase, event.ReviewPayload{
		Status:     string(dec.Status),
		Feedback:   dec.Feedback,
		ReviewerID: dec.ReviewerID,
	})
	if d.metrics != nil {
		d.metrics.ReviewsResolved.Add(ctx, 1, metric.WithAttributes(
			attribute.String("phase", phase),
			attribute.String("status", string(dec.Status)),
		))
	}

	now := d.now()
	switch dec.Status {
	case run.ReviewApproved:
		if err := r.Transition(run.StatusRunning, now); err != nil {
			return Terminal, err
		}
		return d.advance(ctx, r, phase)

	case run.ReviewRevisionRequested:
		r.RequestRevision(phase, dec, now)
		r.ClearOutput(phase, now)
		if err := r.Transition(run.StatusRunning, now); err != nil {
			return Terminal, err
		}
		if err := d.save(ctx, r); err != nil {
			return Terminal, err
		}
		slog.Info("phase revision requested",
			"run_id", r.ID,
			"phase", phase,
			"revision", r.Revisions[phase].Count,
		)
		return Continue, nil

	default:
		if isCancelDecision(dec) {
			return d.cancelRun(ctx, r)
		}
		d.failPendingOutput(r, phase, now)
		msg := "rejected by reviewer"
		if dec.Feedback != "" {
			msg += ": " + dec.Feedback
		}
		return d.fail(ctx, r, phase, msg)
	}
}

func isCancelDecision(d run.ReviewDecision) bool {
	return d.Status == run.ReviewRejected &&
		d.ReviewerID == run.SystemReviewer &&
		d.Feedback == run.FeedbackCancelled
}

// failPendingOutput marks an output awaiting review as FAILED.
func (d *Driver) failPendingOutput(r *run.Run, phase string, now time.Time) {
	out, ok := r.Output(phase)
	if !ok || out.Status != run.PhasePendingReview {
		return
	}
	if err := out.Transition(run.PhaseFailed); err == nil {
		r.SetOutput(out, now)
	}
}

// interrupt handles a step whose context ended. A shutdown keeps the
// checkpoint for resume; any other cause cancels the run.
func (d *Driver) interrupt(ctx context.Context, r *run.Run) (Directive, error) {
	if errors.Is(context.Cause(ctx), ErrShutdown) {
		slog.Info("workflow interrupted, checkpoint kept for resume",
			"run_id", r.ID,
			"phase", r.CurrentPhase,
			"status", r.Status,
		)
		return Suspended, fmt.Errorf("run %s: %w", r.ID, ErrInterrupted)
	}
	return d.cancelRun(ctx, r)
}

func (d *Driver) cancelRun(ctx context.Context, r *run.Run) (Directive, error) {
	if r.Status.IsTerminal() {
		return Terminal, nil
	}
	now := d.now()
	phase := r.CurrentPhase
	d.failPendingOutput(r, phase, now)
	if err := r.Fail(phase, run.FeedbackCancelled, now); err != nil {
		return Terminal, err
	}
	if err := d.save(ctx, r); err != nil {
		return Terminal, err
	}

	slog.Info("workflow cancelled", "run_id", r.ID, "phase", phase)
	d.events.Emit(ctx, r.ID, event.TypeWorkflowCancelled, phase, event.WorkflowPayload{
		Status:       string(r.Status),
		PipelineID:   r.PipelineID,
		TotalCostUSD: r.TotalCost(),
		Error:        run.FeedbackCancelled,
	})
	d.recordRunEnd(ctx, r)
	return Terminal, nil
}

// fail records msg against phase, moves the run to FAILED and checkpoints it.
func (d *Driver) fail(ctx context.Context, r *run.Run, phase, msg string) (Directive, error) {
	if err := r.Fail(phase, msg, d.now()); err != nil {
		return Terminal, err
	}
	if err := d.save(ctx, r); err != nil {
		return Terminal, err
	}

	slog.Warn("workflow failed", "run_id", r.ID, "phase", phase, "error", msg)
	d.events.Emit(ctx, r.ID, event.TypeWorkflowFailed, phase, event.WorkflowPayload{
		Status:       string(r.Status),
		PipelineID:   r.PipelineID,
		TotalCostUSD: r.TotalCost(),
		Error:        msg,
	})
	d.recordRunEnd(ctx, r)
	return Terminal, nil
}

func (d *Driver) recordRunEnd(ctx context.Context, r *run.Run) {
	if d.metrics == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	attrs := metric.WithAttributes(attribute.String("pipeline", r.PipelineID))
	if r.Status == run.StatusCompleted {
		d.metrics.RunsCompleted.Add(ctx, 1, attrs)
	} else {
		d.metrics.RunsFailed.Add(ctx, 1, attrs)
	}
	d.metrics.RunCost.Record(ctx, r.TotalCost(), attrs)
}

// save checkpoints r. Checkpoints are written even when ctx is cancelled.
func (d *Driver) save(ctx context.Context, r *run.Run) error {
	if err := d.store.SaveRun(context.WithoutCancel(ctx), r); err != nil {
		return fmt.Errorf("checkpoint run %s: %w", r.ID, err)
	}
	return nil
}
