package messagequeue

import (
	"encoding/json"
	"time"
)

// EventPayload is the schema for workflows.events.* messages.
type EventPayload struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	Type      string          `json:"type"`
	Phase     string          `json:"phase,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// ReviewDecisionPayload is the schema for workflows.review.decision messages.
type ReviewDecisionPayload struct {
	RunID         string          `json:"run_id"`
	Status        string          `json:"status"`
	Feedback      string          `json:"feedback,omitempty"`
	Modifications json.RawMessage `json:"modifications,omitempty"`
	ReviewerID    string          `json:"reviewer_id,omitempty"`
}

// PhaseExecuteRequest is the schema for phases.execute.* requests.
type PhaseExecuteRequest struct {
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

// PhaseExecuteReply is the schema for replies to phases.execute.* requests.
type PhaseExecuteReply struct {
	Payload json.RawMessage `json:"payload,omitempty"`
	CostUSD float64         `json:"cost_usd"`
	Error   string          `json:"error,omitempty"`
}
