package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "reelforge"

// Metrics holds all ReelForge metric instruments.
type Metrics struct {
	RunsStarted     metric.Int64Counter
	RunsCompleted   metric.Int64Counter
	RunsFailed      metric.Int64Counter
	PhaseAttempts   metric.Int64Counter
	ReviewsResolved metric.Int64Counter
	PhaseDuration   metric.Float64Histogram
	RunCost         metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RunsStarted, err = meter.Int64Counter("reelforge.runs.started",
		metric.WithDescription("Number of workflow runs started"))
	if err != nil {
		return nil, err
	}

	m.RunsCompleted, err = meter.Int64Counter("reelforge.runs.completed",
		metric.WithDescription("Number of workflow runs completed"))
	if err != nil {
		return nil, err
	}

	m.RunsFailed, err = meter.Int64Counter("reelforge.runs.failed",
		metric.WithDescription("Number of workflow runs failed"))
	if err != nil {
		return nil, err
	}

	m.PhaseAttempts, err = meter.Int64Counter("reelforge.phase.attempts",
		metric.WithDescription("Number of phase executor attempts"))
	if err != nil {
		return nil, err
	}

	m.ReviewsResolved, err = meter.Int64Counter("reelforge.reviews.resolved",
		metric.WithDescription("Number of review checkpoints resolved"))
	if err != nil {
		return nil, err
	}

	m.PhaseDuration, err = meter.Float64Histogram("reelforge.phase.duration_seconds",
		metric.WithDescription("Phase attempt duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.RunCost, err = meter.Float64Histogram("reelforge.run.cost_usd",
		metric.WithDescription("Workflow run cost in USD"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
