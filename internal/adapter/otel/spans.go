package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "reelforge"

// StartRunSpan starts a span covering one driver step of a workflow run.
func StartRunSpan(ctx context.Context, runID, pipelineID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "workflow.advance",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("pipeline.id", pipelineID),
		),
	)
}

// StartPhaseSpan starts a span for a single executor attempt.
func StartPhaseSpan(ctx context.Context, runID, phase string, attempt int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "phase.execute",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("phase.name", phase),
			attribute.Int("phase.attempt", attempt),
		),
	)
}

// StartReviewSpan starts a span covering the wait on a review checkpoint.
func StartReviewSpan(ctx context.Context, runID, phase string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "review.await",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("phase.name", phase),
		),
	)
}
