package run

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/Strob0t/ReelForge/internal/domain"
)

// validStatuses enumerates all valid run statuses.
var validStatuses = map[Status]bool{
	StatusRunning:        true,
	StatusAwaitingReview: true,
	StatusCompleted:      true,
	StatusFailed:         true,
}

// validPhaseStatuses enumerates all valid phase output statuses.
var validPhaseStatuses = map[PhaseStatus]bool{
	PhasePending:       true,
	PhaseRunning:       true,
	PhaseCompleted:     true,
	PhaseFailed:        true,
	PhasePendingReview: true,
}

// Validate checks that a Run is internally consistent.
func (r *Run) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !validStatuses[r.Status] {
		return fmt.Errorf("invalid status %q", r.Status)
	}
	if err := ValidatePhases(r.Phases); err != nil {
		return err
	}
	if r.PhaseIndex(r.CurrentPhase) < 0 {
		return fmt.Errorf("current_phase %q is not part of the phase sequence", r.CurrentPhase)
	}
	if r.MaxCostUSD < 0 {
		return fmt.Errorf("max_cost_usd must be non-negative")
	}
	for name, out := range r.PhaseOutputs {
		if name != out.PhaseName {
			return fmt.Errorf("phase output keyed %q belongs to phase %q", name, out.PhaseName)
		}
		if r.PhaseIndex(name) < 0 {
			return fmt.Errorf("phase output for unknown phase %q", name)
		}
		if err := out.Validate(); err != nil {
			return fmt.Errorf("phase %s: %w", name, err)
		}
	}
	return nil
}

// ValidatePhases checks a phase sequence is non-empty with unique names.
func ValidatePhases(phases []PhaseSpec) error {
	if len(phases) == 0 {
		return fmt.Errorf("phase sequence is empty: %w", domain.ErrValidation)
	}
	seen := make(map[string]bool, len(phases))
	for i, p := range phases {
		if p.Name == "" {
			return fmt.Errorf("phase %d: name is required: %w", i, domain.ErrValidation)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate phase %q: %w", p.Name, domain.ErrValidation)
		}
		if p.MaxRetries != nil && *p.MaxRetries < 0 {
			return fmt.Errorf("phase %q: max_retries must be non-negative: %w", p.Name, domain.ErrValidation)
		}
		seen[p.Name] = true
	}
	return nil
}

// Validate checks that a StartRequest has all required fields.
func (r *StartRequest) Validate() error {
	if r.InputKind == "" {
		return fmt.Errorf("input_kind is required: %w", domain.ErrValidation)
	}
	if r.MaxCostUSD != nil && (*r.MaxCostUSD < 0 || math.IsNaN(*r.MaxCostUSD) || math.IsInf(*r.MaxCostUSD, 0)) {
		return fmt.Errorf("max_cost_usd must be a finite non-negative number: %w", domain.ErrValidation)
	}
	if len(r.InputPayload) > 0 && !json.Valid(r.InputPayload) {
		return fmt.Errorf("input_payload is not valid JSON: %w", domain.ErrValidation)
	}
	return nil
}
