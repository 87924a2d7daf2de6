package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Strob0t/ReelForge/internal/domain"
	"github.com/Strob0t/ReelForge/internal/domain/run"
	"github.com/Strob0t/ReelForge/internal/port/broadcast"
)

// Broadcast event types emitted by the review gate.
const (
	EventReviewState    = "review.state"
	EventReviewDecision = "review.decision"
)

// ReviewHandle identifies an open review checkpoint.
type ReviewHandle struct {
	RunID    string    `json:"workflow_id"`
	Phase    string    `json:"phase"`
	OpenedAt time.Time `json:"opened_at"`
}

// ReviewDecisionEvent is broadcast when a checkpoint is resolved.
type ReviewDecisionEvent struct {
	RunID    string             `json:"workflow_id"`
	Phase    string             `json:"phase"`
	Decision run.ReviewDecision `json:"decision"`
}

type reviewEntry struct {
	snapshot run.ReviewSnapshot
	ch       chan run.ReviewDecision
	decided  bool
}

// ReviewGate holds the review checkpoints of suspended runs and delivers
// decisions to the driver waiting on them. A checkpoint accepts exactly one
// decision; the first writer wins.
type ReviewGate struct {
	mu       sync.Mutex
	entries  map[string]*reviewEntry
	fallback run.TimeoutFallback
	hub      broadcast.Broadcaster
	now      func() time.Time
}

// NewReviewGate creates a gate applying fallback when a checkpoint times out.
// hub may be nil.
func NewReviewGate(fallback run.TimeoutFallback, hub broadcast.Broadcaster) *ReviewGate {
	if fallback == "" {
		fallback = run.FallbackApprove
	}
	if hub == nil {
		hub = broadcast.Nop{}
	}
	return &ReviewGate{
		entries:  make(map[string]*reviewEntry),
		fallback: fallback,
		hub:      hub,
		now:      time.Now,
	}
}

// Fallback returns the configured timeout fallback.
func (g *ReviewGate) Fallback() run.TimeoutFallback { return g.fallback }

// Open registers a pending checkpoint for runID. Opening a run that already
// has a checkpoint returns domain.ErrConflict.
func (g *ReviewGate) Open(ctx context.Context, runID string, snap run.ReviewSnapshot) (*ReviewHandle, error) {
	g.mu.Lock()
	if _, ok := g.entries[runID]; ok {
		g.mu.Unlock()
		return nil, fmt.Errorf("review checkpoint for run %s: %w", runID, domain.ErrConflict)
	}
	snap.RunID = runID
	snap.Decision = nil
	if snap.OpenedAt.IsZero() {
		snap.OpenedAt = g.now().UTC()
	}
	g.entries[runID] = &reviewEntry{
		snapshot: snap,
		ch:       make(chan run.ReviewDecision, 1),
	}
	g.mu.Unlock()

	slog.Info("review checkpoint opened", "run_id", runID, "phase", snap.CurrentPhase)
	g.hub.BroadcastEvent(ctx, EventReviewState, snap)

	return &ReviewHandle{RunID: runID, Phase: snap.CurrentPhase, OpenedAt: snap.OpenedAt}, nil
}

// Submit delivers a reviewer's decision. It returns domain.ErrNotFound when
// nothing is pending for runID and domain.ErrAlreadyResolved when the
// checkpoint already holds a decision. The system reviewer id is reserved
// for the gate's own timeout and cancel decisions.
func (g *ReviewGate) Submit(ctx context.Context, runID string, d run.ReviewDecision) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if run.IsSystemReviewer(d.ReviewerID) {
		return fmt.Errorf("reviewer id %q is reserved: %w", d.ReviewerID, domain.ErrValidation)
	}
	if d.DecidedAt.IsZero() {
		d.DecidedAt = g.now()
	}
	d.DecidedAt = d.DecidedAt.UTC().Round(0)

	g.mu.Lock()
	e, ok := g.entries[runID]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("review checkpoint for run %s: %w", runID, domain.ErrNotFound)
	}
	if !g.resolveLocked(e, d) {
		g.mu.Unlock()
		return fmt.Errorf("review checkpoint for run %s: %w", runID, domain.ErrAlreadyResolved)
	}
	phase := e.snapshot.CurrentPhase
	g.mu.Unlock()

	slog.Info("review decision received",
		"run_id", runID,
		"phase", phase,
		"status", d.Status,
		"reviewer_id", d.ReviewerID,
	)
	g.hub.BroadcastEvent(ctx, EventReviewDecision, ReviewDecisionEvent{RunID: runID, Phase: phase, Decision: d})
	return nil
}

// Await blocks until the checkpoint of runID is resolved, its timeout
// elapses or ctx is done. On timeout the gate's fallback decides; with the
// hold fallback the wait continues without a deadline. The checkpoint is
// removed once its decision has been consumed or ctx ends the wait.
func (g *ReviewGate) Await(ctx context.Context, runID string, timeout time.Duration) (run.ReviewDecision, error) {
	g.mu.Lock()
	e, ok := g.entries[runID]
	g.mu.Unlock()
	if !ok {
		return run.ReviewDecision{}, fmt.Errorf("review checkpoint for run %s: %w", runID, domain.ErrNotFound)
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	for {
		select {
		case d := <-e.ch:
			g.remove(runID, e)
			return d, nil

		case <-expired:
			expired = nil
			d, ok := run.TimeoutDecision(g.fallback, g.now())
			if !ok {
				slog.Warn("review timed out, holding for a decision",
					"run_id", runID,
					"phase", e.snapshot.CurrentPhase,
					"timeout", timeout,
				)
				continue
			}
			g.mu.Lock()
			resolved := g.resolveLocked(e, d)
			g.mu.Unlock()
			if resolved {
				slog.Warn("review timed out, applying fallback",
					"run_id", runID,
					"phase", e.snapshot.CurrentPhase,
					"fallback", g.fallback,
					"timeout", timeout,
				)
				g.hub.BroadcastEvent(ctx, EventReviewDecision, ReviewDecisionEvent{
					RunID: runID, Phase: e.snapshot.CurrentPhase, Decision: d,
				})
			}

		case <-ctx.Done():
			g.remove(runID, e)
			return run.ReviewDecision{}, context.Cause(ctx)
		}
	}
}

// Cancel resolves a pending checkpoint with a synthetic rejection. It
// reports whether a pending checkpoint was found.
func (g *ReviewGate) Cancel(ctx context.Context, runID string) bool {
	d := run.CancelDecision(g.now())

	g.mu.Lock()
	e, ok := g.entries[runID]
	resolved := ok && g.resolveLocked(e, d)
	g.mu.Unlock()

	if resolved {
		slog.Info("review checkpoint cancelled", "run_id", runID, "phase", e.snapshot.CurrentPhase)
		g.hub.BroadcastEvent(ctx, EventReviewDecision, ReviewDecisionEvent{
			RunID: runID, Phase: e.snapshot.CurrentPhase, Decision: d,
		})
	}
	return resolved
}

// Pending returns the snapshot of an undecided checkpoint.
func (g *ReviewGate) Pending(runID string) (run.ReviewSnapshot, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[runID]
	if !ok || e.decided {
		return run.ReviewSnapshot{}, false
	}
	return e.snapshot, true
}

// PendingAll returns the snapshots of all undecided checkpoints, oldest first.
func (g *ReviewGate) PendingAll() []run.ReviewSnapshot {
	g.mu.Lock()
	list := make([]run.ReviewSnapshot, 0, len(g.entries))
	for _, e := range g.entries {
		if !e.decided {
			list = append(list, e.snapshot)
		}
	}
	g.mu.Unlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].OpenedAt.Equal(list[j].OpenedAt) {
			return list[i].RunID < list[j].RunID
		}
		return list[i].OpenedAt.Before(list[j].OpenedAt)
	})
	return list
}

// resolveLocked records d on e. Callers hold g.mu.
func (g *ReviewGate) resolveLocked(e *reviewEntry, d run.ReviewDecision) bool {
	if e.decided {
		return false
	}
	e.decided = true
	dec := d
	e.snapshot.Decision = &dec
	e.ch <- d
	return true
}

func (g *ReviewGate) remove(runID string, e *reviewEntry) {
	g.mu.Lock()
	if g.entries[runID] == e {
		delete(g.entries, runID)
	}
	g.mu.Unlock()
}
