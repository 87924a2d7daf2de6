// Package database defines the checkpoint store port (interface).
package database

import (
	"context"
	"time"

	"github.com/Strob0t/ReelForge/internal/domain/run"
)

// RunFilter controls which runs ListRuns returns.
type RunFilter struct {
	Statuses []run.Status
	Limit    int
}

// Store persists run checkpoints. Implementations store the bytes produced
// by run.Encode and decode them on read; GetRun returns domain.ErrNotFound
// for unknown ids and a *run.CheckpointDecodeError for corrupt rows.
type Store interface {
	// SaveRun upserts the checkpoint of r.
	SaveRun(ctx context.Context, r *run.Run) error

	// GetRun loads a run by id.
	GetRun(ctx context.Context, id string) (*run.Run, error)

	// FindRunByIdempotencyKey returns the run started with key.
	FindRunByIdempotencyKey(ctx context.Context, key string) (*run.Run, error)

	// ListRuns returns runs ordered by created_at descending. Rows that
	// cannot be decoded are skipped.
	ListRuns(ctx context.Context, filter RunFilter) ([]run.Run, error)

	// ListRunIDs returns the ids of runs in any of the given statuses,
	// oldest first.
	ListRunIDs(ctx context.Context, statuses ...run.Status) ([]string, error)

	// DeleteTerminalRunsBefore removes COMPLETED and FAILED runs last
	// updated before cutoff and returns how many were removed.
	DeleteTerminalRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error
}
