// Package event defines the progress events a workflow run emits while it
// moves through its phases.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of progress event.
type Type string

const (
	TypeWorkflowStarted   Type = "workflow.started"
	TypeWorkflowCompleted Type = "workflow.completed"
	TypeWorkflowFailed    Type = "workflow.failed"
	TypeWorkflowCancelled Type = "workflow.cancelled"

	TypePhaseStarted   Type = "phase.started"
	TypePhaseCompleted Type = "phase.completed"
	TypePhaseFailed    Type = "phase.failed"

	TypeReviewRequested Type = "review.requested"
	TypeReviewResolved  Type = "review.resolved"

	TypeCostUpdated Type = "cost.updated"
)

// AllTypes lists every event type in emission order of a typical run.
var AllTypes = []Type{
	TypeWorkflowStarted,
	TypePhaseStarted,
	TypePhaseCompleted,
	TypePhaseFailed,
	TypeCostUpdated,
	TypeReviewRequested,
	TypeReviewResolved,
	TypeWorkflowCompleted,
	TypeWorkflowFailed,
	TypeWorkflowCancelled,
}

// Event is a single immutable progress notification for a run.
type Event struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	Type      Type            `json:"type"`
	Phase     string          `json:"phase,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// New builds an event with a fresh id. Payload marshal failures are dropped
// to an empty payload; events are advisory.
func New(runID string, typ Type, phase string, payload any, now time.Time) Event {
	ev := Event{
		ID:        uuid.NewString(),
		RunID:     runID,
		Type:      typ,
		Phase:     phase,
		CreatedAt: now.UTC().Round(0),
	}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			ev.Payload = data
		}
	}
	return ev
}

// PhasePayload accompanies phase.* events.
type PhasePayload struct {
	Attempt    int     `json:"attempt"`
	CostUSD    float64 `json:"cost_usd,omitempty"`
	DurationMS int64   `json:"duration_ms,omitempty"`
	Error      string  `json:"error,omitempty"`
	Index      int     `json:"index"`
	Total      int     `json:"total"`
}

// CostPayload accompanies cost.updated events.
type CostPayload struct {
	PhaseCostUSD float64 `json:"phase_cost_usd"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	MaxCostUSD   float64 `json:"max_cost_usd,omitempty"`
}

// ReviewPayload accompanies review.* events.
type ReviewPayload struct {
	Status     string `json:"status,omitempty"`
	Feedback   string `json:"feedback,omitempty"`
	ReviewerID string `json:"reviewer_id,omitempty"`
}

// WorkflowPayload accompanies workflow.* events.
type WorkflowPayload struct {
	Status       string  `json:"status"`
	PipelineID   string  `json:"pipeline_id,omitempty"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	Error        string  `json:"error,omitempty"`
}
