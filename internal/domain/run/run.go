// Package run defines the workflow Run entity: one execution of a phase
// pipeline, the outputs its phases produced, and the review decisions that
// gate progress between phases.
package run

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/ReelForge/internal/domain"
)

// Status represents the current state of a run.
type Status string

const (
	StatusRunning        Status = "RUNNING"
	StatusAwaitingReview Status = "AWAITING_REVIEW"
	StatusCompleted      Status = "COMPLETED"
	StatusFailed         Status = "FAILED"
)

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseStatus accepts a run status in any case.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusRunning, StatusAwaitingReview, StatusCompleted, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("invalid run status %q: %w", s, domain.ErrValidation)
}

// PhaseSpec is the static description of one phase in a run's sequence.
type PhaseSpec struct {
	Name       string `json:"name" yaml:"name"`
	Review     bool   `json:"review,omitempty" yaml:"review,omitempty"`
	MaxRetries *int   `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
}

// ErrorEntry records a run-level failure. Entries are append-only.
type ErrorEntry struct {
	Phase     string    `json:"phase"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Revision is a pending revision request for a phase, attached to the
// input of the phase's next execution.
type Revision struct {
	Feedback      string          `json:"feedback,omitempty"`
	Modifications json.RawMessage `json:"modifications,omitempty"`
	RequestedBy   string          `json:"requested_by,omitempty"`
	Count         int             `json:"count"`
}

// Run represents one end-to-end execution of a phase sequence.
//
// A Run is mutated only by the goroutine driving it. Everything else works
// on decoded checkpoints or snapshots.
type Run struct {
	ID             string                 `json:"id"`
	InputKind      string                 `json:"input_kind"`
	InputPayload   json.RawMessage        `json:"input_payload,omitempty"`
	PipelineID     string                 `json:"pipeline_id"`
	Phases         []PhaseSpec            `json:"phases"`
	PhaseOutputs   map[string]PhaseOutput `json:"phase_outputs"`
	CurrentPhase   string                 `json:"current_phase"`
	Status         Status                 `json:"status"`
	Errors         []ErrorEntry           `json:"errors,omitempty"`
	Revisions      map[string]Revision    `json:"revisions,omitempty"`
	MaxCostUSD     float64                `json:"max_cost_usd,omitempty"`
	IdempotencyKey string                 `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// StartRequest holds the fields needed to start a new run.
type StartRequest struct {
	InputKind      string          `json:"input_kind"`
	InputPayload   json.RawMessage `json:"input_payload,omitempty"`
	PipelineID     string          `json:"pipeline_id,omitempty"`
	MaxCostUSD     *float64        `json:"max_cost_usd,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// StartResult is returned by the control surface after a start request.
type StartResult struct {
	RunID  string `json:"run_id"`
	Status Status `json:"status"`
}

// New creates a RUNNING run positioned on the first phase of the sequence.
func New(req *StartRequest, pipelineID string, phases []PhaseSpec, maxCost float64, now time.Time) (*Run, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := ValidatePhases(phases); err != nil {
		return nil, err
	}

	at := stamp(now)
	seq := make([]PhaseSpec, len(phases))
	copy(seq, phases)

	return &Run{
		ID:             uuid.NewString(),
		InputKind:      req.InputKind,
		InputPayload:   compactRaw(req.InputPayload),
		PipelineID:     pipelineID,
		Phases:         seq,
		PhaseOutputs:   make(map[string]PhaseOutput, len(seq)),
		CurrentPhase:   seq[0].Name,
		Status:         StatusRunning,
		MaxCostUSD:     maxCost,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      at,
		UpdatedAt:      at,
	}, nil
}

// TotalCost is the sum of cost_usd over the latest output of every phase.
// It is always derived, never stored.
func (r *Run) TotalCost() float64 {
	var total float64
	for _, out := range r.PhaseOutputs {
		total += out.CostUSD
	}
	return total
}

// CostBreakdown returns the cost attributed to each phase that has an output.
func (r *Run) CostBreakdown() map[string]float64 {
	out := make(map[string]float64, len(r.PhaseOutputs))
	for name, po := range r.PhaseOutputs {
		out[name] = po.CostUSD
	}
	return out
}

// BudgetExceeded reports whether a configured cost budget has been passed.
func (r *Run) BudgetExceeded() bool {
	return r.MaxCostUSD > 0 && r.TotalCost() > r.MaxCostUSD
}

// Output returns the latest output for a phase.
func (r *Run) Output(phase string) (PhaseOutput, bool) {
	out, ok := r.PhaseOutputs[phase]
	return out, ok
}

// SetOutput stores out as the latest output of its phase, replacing any
// earlier attempt. The payload is compacted and created_at stamped so the
// stored output equals its decoded checkpoint.
func (r *Run) SetOutput(out PhaseOutput, now time.Time) {
	if r.PhaseOutputs == nil {
		r.PhaseOutputs = make(map[string]PhaseOutput)
	}
	out.Payload = compactRaw(out.Payload)
	out.CreatedAt = stamp(out.CreatedAt)
	r.PhaseOutputs[out.PhaseName] = out
	r.UpdatedAt = stamp(now)
}

// ClearOutput removes a phase's output so the phase runs again.
func (r *Run) ClearOutput(phase string, now time.Time) {
	delete(r.PhaseOutputs, phase)
	r.UpdatedAt = stamp(now)
}

// IsPhaseComplete reports whether the latest output of phase is COMPLETED.
func (r *Run) IsPhaseComplete(phase string) bool {
	out, ok := r.PhaseOutputs[phase]
	return ok && out.Status == PhaseCompleted
}

// PhaseIndex returns the position of phase in the sequence, or -1.
func (r *Run) PhaseIndex(phase string) int {
	for i, p := range r.Phases {
		if p.Name == phase {
			return i
		}
	}
	return -1
}

// Spec returns the static description of a phase.
func (r *Run) Spec(phase string) (PhaseSpec, bool) {
	if i := r.PhaseIndex(phase); i >= 0 {
		return r.Phases[i], true
	}
	return PhaseSpec{}, false
}

// NextPhase returns the phase following the current one.
func (r *Run) NextPhase() (string, bool) {
	i := r.PhaseIndex(r.CurrentPhase)
	if i < 0 || i+1 >= len(r.Phases) {
		return "", false
	}
	return r.Phases[i+1].Name, true
}

// AdvancePhase moves current_phase to the next phase of the sequence. It
// reports false, leaving the run untouched, when no phase remains.
func (r *Run) AdvancePhase(now time.Time) bool {
	next, ok := r.NextPhase()
	if !ok {
		return false
	}
	r.CurrentPhase = next
	r.UpdatedAt = stamp(now)
	return true
}

// CompletedPhases lists, in sequence order, the phases whose latest output
// is COMPLETED or awaiting review.
func (r *Run) CompletedPhases() []string {
	var done []string
	for _, p := range r.Phases {
		out, ok := r.PhaseOutputs[p.Name]
		if ok && (out.Status == PhaseCompleted || out.Status == PhasePendingReview) {
			done = append(done, p.Name)
		}
	}
	return done
}

// PriorPayloads returns the payloads of all COMPLETED phases before phase.
func (r *Run) PriorPayloads(phase string) map[string]json.RawMessage {
	idx := r.PhaseIndex(phase)
	prior := make(map[string]json.RawMessage)
	for i := 0; i < idx; i++ {
		name := r.Phases[i].Name
		if out, ok := r.PhaseOutputs[name]; ok && out.Status == PhaseCompleted {
			prior[name] = cloneRaw(out.Payload)
		}
	}
	return prior
}

// AppendError records a run-level error entry.
func (r *Run) AppendError(phase, message string, now time.Time) {
	at := stamp(now)
	r.Errors = append(r.Errors, ErrorEntry{Phase: phase, Message: message, Timestamp: at})
	r.UpdatedAt = at
}

// RequestRevision records feedback for the next execution of phase.
func (r *Run) RequestRevision(phase string, d ReviewDecision, now time.Time) {
	if r.Revisions == nil {
		r.Revisions = make(map[string]Revision)
	}
	prev := r.Revisions[phase]
	r.Revisions[phase] = Revision{
		Feedback:      d.Feedback,
		Modifications: compactRaw(d.Modifications),
		RequestedBy:   d.ReviewerID,
		Count:         prev.Count + 1,
	}
	r.UpdatedAt = stamp(now)
}

// ClearRevision drops a pending revision once its phase has been approved.
func (r *Run) ClearRevision(phase string) {
	delete(r.Revisions, phase)
	if len(r.Revisions) == 0 {
		r.Revisions = nil
	}
}

// Clone returns a deep copy of the run.
func (r *Run) Clone() *Run {
	c := *r
	c.InputPayload = cloneRaw(r.InputPayload)
	c.Phases = make([]PhaseSpec, len(r.Phases))
	for i, p := range r.Phases {
		c.Phases[i] = p
		if p.MaxRetries != nil {
			n := *p.MaxRetries
			c.Phases[i].MaxRetries = &n
		}
	}
	c.PhaseOutputs = make(map[string]PhaseOutput, len(r.PhaseOutputs))
	for k, v := range r.PhaseOutputs {
		v.Payload = cloneRaw(v.Payload)
		c.PhaseOutputs[k] = v
	}
	if r.Errors != nil {
		c.Errors = make([]ErrorEntry, len(r.Errors))
		copy(c.Errors, r.Errors)
	}
	if r.Revisions != nil {
		c.Revisions = make(map[string]Revision, len(r.Revisions))
		for k, v := range r.Revisions {
			v.Modifications = cloneRaw(v.Modifications)
			c.Revisions[k] = v
		}
	}
	return &c
}

// stamp normalises timestamps to UTC without a monotonic reading so that
// checkpoints round-trip exactly.
func stamp(t time.Time) time.Time {
	return t.UTC().Round(0)
}

// compactRaw returns b in the form json.Marshal emits it: compacted, and nil
// when empty. Invalid JSON is copied unchanged.
func compactRaw(b json.RawMessage) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return cloneRaw(b)
	}
	return json.RawMessage(buf.Bytes())
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	out := make(json.RawMessage, len(b))
	copy(out, b)
	return out
}
