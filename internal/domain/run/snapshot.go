package run

import (
	"encoding/json"
	"time"
	"unicode/utf8"
)

const (
	previewMaxChars = 200
	previewMaxItems = 3
	previewMaxDepth = 3
)

// Snapshot is the read-only view of a run exposed to the control surface.
type Snapshot struct {
	ID              string             `json:"id"`
	InputKind       string             `json:"input_kind"`
	PipelineID      string             `json:"pipeline_id"`
	Phases          []string           `json:"phases"`
	CurrentPhase    string             `json:"current_phase"`
	Status          Status             `json:"status"`
	PhasesCompleted []string           `json:"phases_completed"`
	TotalCostUSD    float64            `json:"total_cost_usd"`
	CostBreakdown   map[string]float64 `json:"cost_breakdown"`
	MaxCostUSD      float64            `json:"max_cost_usd,omitempty"`
	Errors          []ErrorEntry       `json:"errors,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Snapshot builds the read-only view of r.
func (r *Run) Snapshot() Snapshot {
	names := make([]string, len(r.Phases))
	for i, p := range r.Phases {
		names[i] = p.Name
	}
	s := Snapshot{
		ID:              r.ID,
		InputKind:       r.InputKind,
		PipelineID:      r.PipelineID,
		Phases:          names,
		CurrentPhase:    r.CurrentPhase,
		Status:          r.Status,
		PhasesCompleted: r.CompletedPhases(),
		TotalCostUSD:    r.TotalCost(),
		CostBreakdown:   r.CostBreakdown(),
		MaxCostUSD:      r.MaxCostUSD,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if len(r.Errors) > 0 {
		s.Errors = make([]ErrorEntry, len(r.Errors))
		copy(s.Errors, r.Errors)
	}
	if s.PhasesCompleted == nil {
		s.PhasesCompleted = []string{}
	}
	return s
}

// ReviewSnapshot is the sanitized state shown to a reviewer.
type ReviewSnapshot struct {
	RunID           string          `json:"workflow_id"`
	InputKind       string          `json:"input_type"`
	CurrentPhase    string          `json:"current_phase"`
	PhasesCompleted []string        `json:"phases_completed"`
	LatestOutput    *PhaseOutput    `json:"latest_output,omitempty"`
	TotalCostUSD    float64         `json:"total_cost"`
	Preview         Preview         `json:"preview"`
	Revision        int             `json:"revision,omitempty"`
	OpenedAt        time.Time       `json:"opened_at"`
	Decision        *ReviewDecision `json:"decision,omitempty"`
}

// Preview is a truncated, display-friendly view of a phase payload.
type Preview struct {
	Phase   string `json:"phase"`
	Content any    `json:"content"`
}

// ReviewSnapshot builds the reviewer view for the current phase.
func (r *Run) ReviewSnapshot(now time.Time) ReviewSnapshot {
	s := ReviewSnapshot{
		RunID:           r.ID,
		InputKind:       r.InputKind,
		CurrentPhase:    r.CurrentPhase,
		PhasesCompleted: r.CompletedPhases(),
		TotalCostUSD:    r.TotalCost(),
		Preview:         Preview{Phase: r.CurrentPhase, Content: map[string]any{}},
		OpenedAt:        stamp(now),
	}
	if s.PhasesCompleted == nil {
		s.PhasesCompleted = []string{}
	}
	if out, ok := r.PhaseOutputs[r.CurrentPhase]; ok {
		out.Payload = cloneRaw(out.Payload)
		s.LatestOutput = &out
		s.Preview.Content = PreviewPayload(out.Payload)
	}
	if rev, ok := r.Revisions[r.CurrentPhase]; ok {
		s.Revision = rev.Count
	}
	return s
}

// PreviewPayload decodes an opaque payload and truncates long strings and
// lists. Payloads that are not valid JSON are previewed as text.
func PreviewPayload(payload json.RawMessage) any {
	if len(payload) == 0 {
		return map[string]any{}
	}
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return truncate(string(payload))
	}
	return previewValue(v, 0)
}

func previewValue(v any, depth int) any {
	switch t := v.(type) {
	case string:
		return truncate(t)
	case []any:
		if depth >= previewMaxDepth {
			return len(t)
		}
		n := min(len(t), previewMaxItems)
		out := make([]any, n)
		for i := range n {
			out[i] = previewValue(t[i], depth+1)
		}
		return out
	case map[string]any:
		if depth >= previewMaxDepth {
			return len(t)
		}
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = previewValue(val, depth+1)
		}
		return out
	default:
		return v
	}
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= previewMaxChars {
		return s
	}
	r := []rune(s)
	return string(r[:previewMaxChars]) + "..."
}
