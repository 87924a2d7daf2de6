package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/ReelForge/internal/domain/run"
	"github.com/Strob0t/ReelForge/internal/logger"
)

var errRunCancelled = errors.New(run.FeedbackCancelled)

type activeRun struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// launch starts the goroutine that drives r to a terminal state. Runs that
// are already driven by this process are ignored.
func (s *WorkflowService) launch(r *run.Run) bool {
	s.mu.Lock()
	if _, ok := s.active[r.ID]; ok {
		s.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancelCause(s.baseCtx)
	ar := &activeRun{cancel: cancel, done: make(chan struct{})}
	s.active[r.ID] = ar
	s.wg.Add(1)
	s.mu.Unlock()

	go s.drive(logger.WithRunID(ctx, r.ID), r, ar)
	return true
}

// drive advances r until it is terminal or interrupted. A concurrency slot
// is held while phases execute and released while the run awaits review.
func (s *WorkflowService) drive(ctx context.Context, r *run.Run, ar *activeRun) {
	holding := false
	defer func() {
		if holding {
			s.sem.Release(1)
		}
		ar.cancel(nil)
		s.mu.Lock()
		delete(s.active, r.ID)
		s.mu.Unlock()
		close(ar.done)
		s.wg.Done()
	}()

	for {
		switch {
		case r.Status == run.StatusAwaitingReview && holding:
			s.sem.Release(1)
			holding = false
		case r.Status == run.StatusRunning && !holding:
			// A failed acquire means ctx is done; Advance handles that.
			if err := s.sem.Acquire(ctx, 1); err == nil {
				holding = true
			}
		}

		dir, err := s.driver.Advance(ctx, r)
		if err != nil {
			if errors.Is(err, ErrInterrupted) {
				slog.Info("workflow driver stopped", "run_id", r.ID, "status", r.Status)
			} else {
				slog.Error("workflow driver failed", "run_id", r.ID, "phase", r.CurrentPhase, "error", err)
			}
			return
		}
		if dir == Terminal {
			return
		}
	}
}

// Resume relaunches every non-terminal run found in the checkpoint store.
// Runs whose checkpoint cannot be decoded are logged and skipped.
func (s *WorkflowService) Resume(ctx context.Context) (int, error) {
	ids, err := s.store.ListRunIDs(ctx, run.StatusRunning, run.StatusAwaitingReview)
	if err != nil {
		return 0, fmt.Errorf("list resumable runs: %w", err)
	}

	resumed := 0
	for _, id := range ids {
		r, err := s.store.GetRun(ctx, id)
		if err != nil {
			var decodeErr *run.CheckpointDecodeError
			if errors.As(err, &decodeErr) {
				slog.Warn("skipping undecodable checkpoint", "run_id", id, "error", err)
				continue
			}
			return resumed, fmt.Errorf("load run %s: %w", id, err)
		}
		if s.launch(r) {
			resumed++
			slog.Info("workflow resumed", "run_id", r.ID, "phase", r.CurrentPhase, "status", r.Status)
		}
	}
	return resumed, nil
}

// PurgeExpired deletes terminal runs older than the retention period.
func (s *WorkflowService) PurgeExpired(ctx context.Context) (int64, error) {
	if s.cfg.Retention <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.cfg.Retention)
	n, err := s.store.DeleteTerminalRunsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge runs: %w", err)
	}
	if n > 0 {
		slog.Info("expired workflow runs purged", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// RunJanitor purges expired runs every JanitorInterval until ctx is done.
func (s *WorkflowService) RunJanitor(ctx context.Context) {
	if s.cfg.JanitorInterval <= 0 || s.cfg.Retention <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.PurgeExpired(ctx); err != nil {
				slog.Error("retention janitor", "error", err)
			}
		}
	}
}

// Shutdown interrupts all driven runs, leaving their checkpoints for the
// next Resume, and waits for their goroutines to exit.
func (s *WorkflowService) Shutdown(ctx context.Context) error {
	s.stop(ErrShutdown)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown workflows: %w", ctx.Err())
	}
}

// Wait blocks until the run with id is no longer driven by this process.
func (s *WorkflowService) Wait(ctx context.Context, id string) error {
	s.mu.Lock()
	ar, ok := s.active[id]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-ar.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
