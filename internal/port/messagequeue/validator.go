package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch {
	case subject == SubjectReviewDecision:
		var p ReviewDecisionPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.RunID == "" {
			return fmt.Errorf("schema validation failed for %s: %w", subject, errors.New("run_id is required"))
		}
		if p.Status == "" {
			return fmt.Errorf("schema validation failed for %s: %w", subject, errors.New("status is required"))
		}
	case strings.HasPrefix(subject, SubjectWorkflowEvents+"."):
		var p EventPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.RunID == "" || p.Type == "" {
			return fmt.Errorf("schema validation failed for %s: %w", subject, errors.New("run_id and type are required"))
		}
	case strings.HasPrefix(subject, SubjectPhaseExecute+"."):
		var p PhaseExecuteRequest
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
	}
	return nil
}

// ValidateReply checks a phase worker reply.
func ValidateReply(data []byte) (*PhaseExecuteReply, error) {
	var reply PhaseExecuteReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("invalid phase reply: %w", err)
	}
	if reply.CostUSD < 0 {
		return nil, errors.New("invalid phase reply: cost_usd must be non-negative")
	}
	return &reply, nil
}
