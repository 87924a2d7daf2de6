package run

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Strob0t/ReelForge/internal/domain"
)

// PhaseStatus is the state of a single phase output.
type PhaseStatus string

const (
	PhasePending       PhaseStatus = "PENDING"
	PhaseRunning       PhaseStatus = "RUNNING"
	PhaseCompleted     PhaseStatus = "COMPLETED"
	PhaseFailed        PhaseStatus = "FAILED"
	PhasePendingReview PhaseStatus = "PENDING_REVIEW"
)

// PhaseOutput is the recorded result of one phase execution attempt.
type PhaseOutput struct {
	PhaseName  string          `json:"phase_name"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Status     PhaseStatus     `json:"status"`
	CostUSD    float64         `json:"cost_usd"`
	Error      string          `json:"error,omitempty"`
	Attempt    int             `json:"attempt,omitempty"`
	DurationMS int64           `json:"duration_ms,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NewPhaseOutput builds a validated output stamped with now.
func NewPhaseOutput(phase string, payload json.RawMessage, status PhaseStatus, cost float64, errMsg string, now time.Time) (PhaseOutput, error) {
	out := PhaseOutput{
		PhaseName: phase,
		Payload:   cloneRaw(payload),
		Status:    status,
		CostUSD:   cost,
		Error:     errMsg,
		CreatedAt: stamp(now),
	}
	if err := out.Validate(); err != nil {
		return PhaseOutput{}, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	return out, nil
}

// FailedOutput builds a FAILED output carrying msg.
func FailedOutput(phase, msg string, now time.Time) PhaseOutput {
	if msg == "" {
		msg = "phase failed"
	}
	return PhaseOutput{
		PhaseName: phase,
		Status:    PhaseFailed,
		Error:     msg,
		CreatedAt: stamp(now),
	}
}

// Validate checks the output invariants.
func (o *PhaseOutput) Validate() error {
	if o.PhaseName == "" {
		return errors.New("phase_name is required")
	}
	if !validPhaseStatuses[o.Status] {
		return fmt.Errorf("invalid phase status %q", o.Status)
	}
	if math.IsNaN(o.CostUSD) || math.IsInf(o.CostUSD, 0) {
		return errors.New("cost_usd must be a finite number")
	}
	if o.CostUSD < 0 {
		return errors.New("cost_usd must be non-negative")
	}
	if len(o.Payload) > 0 && !json.Valid(o.Payload) {
		return errors.New("payload is not valid JSON")
	}
	if o.Error != "" && o.Status != PhaseFailed {
		return fmt.Errorf("error set on %s output", o.Status)
	}
	if o.Attempt < 0 {
		return errors.New("attempt must be non-negative")
	}
	return nil
}

// Transition moves the output to a new status if the table allows it.
func (o *PhaseOutput) Transition(to PhaseStatus) error {
	if !CanTransitionPhase(o.Status, to) {
		return fmt.Errorf("phase %s: %s -> %s: %w", o.PhaseName, o.Status, to, ErrInvalidTransition)
	}
	o.Status = to
	return nil
}

// PhaseInput is what an executor receives for one attempt of a phase.
type PhaseInput struct {
	RunID         string                     `json:"run_id"`
	Phase         string                     `json:"phase"`
	Attempt       int                        `json:"attempt"`
	InputKind     string                     `json:"input_kind"`
	InputPayload  json.RawMessage            `json:"input_payload,omitempty"`
	Feedback      string                     `json:"feedback,omitempty"`
	Modifications json.RawMessage            `json:"modifications,omitempty"`
	Revision      int                        `json:"revision,omitempty"`
	Prior         map[string]json.RawMessage `json:"prior,omitempty"`
}

// NewPhaseInput assembles the executor input for the run's current phase.
func NewPhaseInput(r *Run, attempt int) PhaseInput {
	in := PhaseInput{
		RunID:        r.ID,
		Phase:        r.CurrentPhase,
		Attempt:      attempt,
		InputKind:    r.InputKind,
		InputPayload: cloneRaw(r.InputPayload),
		Prior:        r.PriorPayloads(r.CurrentPhase),
	}
	if rev, ok := r.Revisions[r.CurrentPhase]; ok {
		in.Feedback = rev.Feedback
		in.Modifications = cloneRaw(rev.Modifications)
		in.Revision = rev.Count
	}
	return in
}

// PhaseExecutionError is a collaborator failure for one phase attempt.
type PhaseExecutionError struct {
	Phase   string
	Attempt int
	Err     error
}

func (e *PhaseExecutionError) Error() string {
	return fmt.Sprintf("phase %s attempt %d: %v", e.Phase, e.Attempt, e.Err)
}

func (e *PhaseExecutionError) Unwrap() error { return e.Err }
