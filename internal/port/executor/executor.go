// Package executor defines the port through which the phase driver invokes
// the external collaborators that perform each phase.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Strob0t/ReelForge/internal/domain/run"
)

// ErrNoExecutor is returned when no executor is registered for a phase.
var ErrNoExecutor = errors.New("no executor registered for phase")

// Executor performs one attempt of a phase. Implementations return an error
// for collaborator failures; the driver records them as FAILED outputs.
// The run is read-only.
type Executor interface {
	Execute(ctx context.Context, r *run.Run, in run.PhaseInput) (*run.PhaseOutput, error)
}

// Func adapts a function to the Executor interface.
type Func func(ctx context.Context, r *run.Run, in run.PhaseInput) (*run.PhaseOutput, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, r *run.Run, in run.PhaseInput) (*run.PhaseOutput, error) {
	return f(ctx, r, in)
}

// Registry maps phase names to executors with an optional fallback used
// for phases without a dedicated executor.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	fallback  Executor
}

// NewRegistry creates a registry. fallback may be nil.
func NewRegistry(fallback Executor) *Registry {
	return &Registry{
		executors: make(map[string]Executor),
		fallback:  fallback,
	}
}

// Register binds an executor to a phase name. Registering a phase twice
// replaces the earlier executor.
func (r *Registry) Register(phase string, e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[phase] = e
}

// Resolve returns the executor for phase.
func (r *Registry) Resolve(phase string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.executors[phase]; ok {
		return e, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoExecutor, phase)
}

// Phases returns the phase names with a dedicated executor, sorted.
func (r *Registry) Phases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
