package run

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a status change is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

var runTransitions = map[Status][]Status{
	StatusRunning:        {StatusAwaitingReview, StatusCompleted, StatusFailed},
	StatusAwaitingReview: {StatusRunning, StatusFailed},
}

var phaseTransitions = map[PhaseStatus][]PhaseStatus{
	PhasePending:       {PhaseRunning},
	PhaseRunning:       {PhaseCompleted, PhaseFailed},
	PhaseCompleted:     {PhasePendingReview},
	PhasePendingReview: {PhaseCompleted, PhaseFailed},
}

// CanTransition reports whether a run may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range runTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanTransitionPhase reports whether a phase output may move between statuses.
func CanTransitionPhase(from, to PhaseStatus) bool {
	for _, s := range phaseTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves the run to a new status if the table allows it.
func (r *Run) Transition(to Status, now time.Time) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("run %s: %s -> %s: %w", r.ID, r.Status, to, ErrInvalidTransition)
	}
	r.Status = to
	r.UpdatedAt = stamp(now)
	return nil
}

// Fail appends an error entry and moves the run to FAILED. Failing an
// already failed run only records the entry.
func (r *Run) Fail(phase, message string, now time.Time) error {
	r.AppendError(phase, message, now)
	if r.Status == StatusFailed {
		return nil
	}
	return r.Transition(StatusFailed, now)
}
