// Package pipeline defines the phase sequences a workflow run can follow.
// Templates are loaded from YAML files or taken from the built-in presets;
// a run copies its template's phases at creation and never consults the
// template again.
package pipeline

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Strob0t/ReelForge/internal/domain/run"
)

var (
	ErrNameRequired     = errors.New("template name is required")
	ErrIDRequired       = errors.New("template id is required")
	ErrNoPhases         = errors.New("template must have at least one phase")
	ErrUnsupportedInput = errors.New("input kind not accepted by template")
)

// Template is a named, ordered phase sequence with per-phase review and
// retry settings.
type Template struct {
	ID          string          `json:"id" yaml:"id"`
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description" yaml:"description"`
	Builtin     bool            `json:"builtin" yaml:"-"`
	InputKinds  []string        `json:"input_kinds,omitempty" yaml:"input_kinds,omitempty"`
	MaxCostUSD  float64         `json:"max_cost_usd,omitempty" yaml:"max_cost_usd,omitempty"`
	Phases      []run.PhaseSpec `json:"phases" yaml:"phases"`
}

// Validate checks the template for structural correctness.
func (t *Template) Validate() error {
	if t.ID == "" {
		return ErrIDRequired
	}
	if t.Name == "" {
		return ErrNameRequired
	}
	if len(t.Phases) == 0 {
		return ErrNoPhases
	}
	if t.MaxCostUSD < 0 {
		return fmt.Errorf("template %q: max_cost_usd must be non-negative", t.ID)
	}
	if err := run.ValidatePhases(t.Phases); err != nil {
		return fmt.Errorf("template %q: %w", t.ID, err)
	}
	return nil
}

// Accepts reports whether the template can be started from inputKind.
// A template without input kinds accepts anything.
func (t *Template) Accepts(inputKind string) bool {
	return len(t.InputKinds) == 0 || slices.Contains(t.InputKinds, inputKind)
}

// Instantiate returns a private copy of the phase sequence for a new run.
func (t *Template) Instantiate(inputKind string) ([]run.PhaseSpec, error) {
	if !t.Accepts(inputKind) {
		return nil, fmt.Errorf("template %q does not accept %q: %w", t.ID, inputKind, ErrUnsupportedInput)
	}
	phases := make([]run.PhaseSpec, len(t.Phases))
	for i, p := range t.Phases {
		phases[i] = p
		if p.MaxRetries != nil {
			n := *p.MaxRetries
			phases[i].MaxRetries = &n
		}
	}
	return phases, nil
}

// GatedPhases lists the phases that suspend for human review.
func (t *Template) GatedPhases() []string {
	var gated []string
	for _, p := range t.Phases {
		if p.Review {
			gated = append(gated, p.Name)
		}
	}
	return gated
}
