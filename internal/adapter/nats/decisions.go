package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Strob0t/ReelForge/internal/domain"
	"github.com/Strob0t/ReelForge/internal/domain/run"
	"github.com/Strob0t/ReelForge/internal/port/messagequeue"
)

// ReviewSubmitter accepts review decisions for suspended runs.
type ReviewSubmitter interface {
	SubmitReview(ctx context.Context, id string, d run.ReviewDecision) error
}

// DecisionHandler returns a handler for workflows.review.decision messages.
// Decisions that cannot apply (unknown run, already resolved, invalid) are
// logged and acknowledged; other failures are returned for redelivery.
func DecisionHandler(svc ReviewSubmitter) messagequeue.Handler {
	return func(ctx context.Context, _ string, data []byte) error {
		var p messagequeue.ReviewDecisionPayload
		if err := json.Unmarshal(data, &p); err != nil {
			slog.Warn("review decision: invalid payload", "error", err)
			return nil
		}
		status, err := run.ParseReviewStatus(p.Status)
		if err != nil {
			slog.Warn("review decision rejected", "run_id", p.RunID, "error", err)
			return nil
		}

		err = svc.SubmitReview(ctx, p.RunID, run.ReviewDecision{
			Status:        status,
			Feedback:      p.Feedback,
			Modifications: p.Modifications,
			ReviewerID:    p.ReviewerID,
		})
		switch {
		case err == nil:
			slog.Info("review decision received", "run_id", p.RunID, "status", status, "channel", "nats")
			return nil
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrAlreadyResolved), errors.Is(err, domain.ErrValidation):
			slog.Warn("review decision not applied", "run_id", p.RunID, "error", err)
			return nil
		default:
			return fmt.Errorf("submit review for %s: %w", p.RunID, err)
		}
	}
}

// ConsumeDecisions subscribes svc to remote review decisions.
func ConsumeDecisions(ctx context.Context, q messagequeue.Queue, svc ReviewSubmitter) (func(), error) {
	return q.Subscribe(ctx, messagequeue.SubjectReviewDecision, DecisionHandler(svc))
}
