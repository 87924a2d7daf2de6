package run

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/ReelForge/internal/domain"
)

// ReviewStatus is the outcome of a human review checkpoint.
type ReviewStatus string

const (
	ReviewPending           ReviewStatus = "pending"
	ReviewApproved          ReviewStatus = "approved"
	ReviewRejected          ReviewStatus = "rejected"
	ReviewRevisionRequested ReviewStatus = "revision_requested"
)

// SystemReviewer is the reviewer id recorded for automatic resolutions. It is
// reserved: decisions submitted by reviewers may not use it.
const SystemReviewer = "system"

// IsSystemReviewer reports whether id names the reserved system reviewer.
func IsSystemReviewer(id string) bool {
	return strings.EqualFold(strings.TrimSpace(id), SystemReviewer)
}

const (
	FeedbackTimeoutApproved = "auto-approved due to timeout"
	FeedbackTimeoutRejected = "auto-rejected due to timeout"
	FeedbackCancelled       = "workflow cancelled"
)

// ParseReviewStatus accepts the wire form in any case.
func ParseReviewStatus(s string) (ReviewStatus, error) {
	st := ReviewStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case ReviewPending, ReviewApproved, ReviewRejected, ReviewRevisionRequested:
		return st, nil
	}
	return "", fmt.Errorf("invalid review status %q: %w", s, domain.ErrValidation)
}

// ReviewDecision is a reviewer's verdict on a suspended phase.
type ReviewDecision struct {
	Status        ReviewStatus    `json:"status"`
	Feedback      string          `json:"feedback,omitempty"`
	Modifications json.RawMessage `json:"modifications,omitempty"`
	ReviewerID    string          `json:"reviewer_id,omitempty"`
	DecidedAt     time.Time       `json:"decided_at"`
}

// Validate rejects decisions that cannot resolve a checkpoint.
func (d *ReviewDecision) Validate() error {
	if len(d.Modifications) > 0 && !json.Valid(d.Modifications) {
		return fmt.Errorf("modifications are not valid JSON: %w", domain.ErrValidation)
	}
	switch d.Status {
	case ReviewApproved, ReviewRejected, ReviewRevisionRequested:
		return nil
	case ReviewPending:
		return fmt.Errorf("pending is not a decision: %w", domain.ErrValidation)
	}
	return fmt.Errorf("invalid review status %q: %w", d.Status, domain.ErrValidation)
}

// TimeoutFallback selects what happens when nobody decides in time.
type TimeoutFallback string

const (
	FallbackApprove TimeoutFallback = "approve"
	FallbackReject  TimeoutFallback = "reject"
	FallbackHold    TimeoutFallback = "hold"
)

// ParseTimeoutFallback validates a configured fallback. Empty means approve.
func ParseTimeoutFallback(s string) (TimeoutFallback, error) {
	switch f := TimeoutFallback(strings.ToLower(s)); f {
	case "":
		return FallbackApprove, nil
	case FallbackApprove, FallbackReject, FallbackHold:
		return f, nil
	}
	return "", fmt.Errorf("invalid review fallback %q: %w", s, domain.ErrValidation)
}

// TimeoutDecision returns the synthetic decision for an expired checkpoint.
// It reports false for FallbackHold.
func TimeoutDecision(f TimeoutFallback, now time.Time) (ReviewDecision, bool) {
	switch f {
	case FallbackHold:
		return ReviewDecision{}, false
	case FallbackReject:
		return ReviewDecision{
			Status:     ReviewRejected,
			Feedback:   FeedbackTimeoutRejected,
			ReviewerID: SystemReviewer,
			DecidedAt:  stamp(now),
		}, true
	default:
		return ReviewDecision{
			Status:     ReviewApproved,
			Feedback:   FeedbackTimeoutApproved,
			ReviewerID: SystemReviewer,
			DecidedAt:  stamp(now),
		}, true
	}
}

// CancelDecision returns the synthetic rejection used when a run is cancelled
// while awaiting review.
func CancelDecision(now time.Time) ReviewDecision {
	return ReviewDecision{
		Status:     ReviewRejected,
		Feedback:   FeedbackCancelled,
		ReviewerID: SystemReviewer,
		DecidedAt:  stamp(now),
	}
}
