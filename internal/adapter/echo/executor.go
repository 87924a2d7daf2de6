// Package echo provides a local phase executor for development. It completes
// every phase at zero cost and reports what it was given, so pipelines and
// the review flow can be exercised without remote workers.
package echo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Strob0t/ReelForge/internal/domain/run"
	"github.com/Strob0t/ReelForge/internal/port/executor"
)

// Result is the payload of an echo phase output.
type Result struct {
	Phase         string          `json:"phase"`
	Attempt       int             `json:"attempt"`
	InputKind     string          `json:"input_kind"`
	Input         json.RawMessage `json:"input,omitempty"`
	Feedback      string          `json:"feedback,omitempty"`
	Modifications json.RawMessage `json:"modifications,omitempty"`
	Revision      int             `json:"revision,omitempty"`
	PriorPhases   []string        `json:"prior_phases,omitempty"`
}

// Executor echoes its input back as the phase payload.
type Executor struct {
	delay time.Duration
	now   func() time.Time
}

var _ executor.Executor = (*Executor)(nil)

// New creates an echo executor. A positive delay simulates work and is
// interrupted by ctx.
func New(delay time.Duration) *Executor {
	return &Executor{delay: delay, now: time.Now}
}

// Execute returns a COMPLETED output describing in.
func (e *Executor) Execute(ctx context.Context, r *run.Run, in run.PhaseInput) (*run.PhaseOutput, error) {
	if e.delay > 0 {
		t := time.NewTimer(e.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	res := Result{
		Phase:         in.Phase,
		Attempt:       in.Attempt,
		InputKind:     in.InputKind,
		Input:         in.InputPayload,
		Feedback:      in.Feedback,
		Modifications: in.Modifications,
		Revision:      in.Revision,
	}
	if r != nil {
		for _, p := range r.Phases {
			if _, ok := in.Prior[p.Name]; ok {
				res.PriorPhases = append(res.PriorPhases, p.Name)
			}
		}
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("echo: marshal result: %w", err)
	}
	out, err := run.NewPhaseOutput(in.Phase, payload, run.PhaseCompleted, 0, "", e.now())
	if err != nil {
		return nil, fmt.Errorf("echo: %w", err)
	}
	return &out, nil
}
