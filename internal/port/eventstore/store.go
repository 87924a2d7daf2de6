// Package eventstore defines the port interface for the append-only progress
// event log.
package eventstore

import (
	"context"

	"github.com/Strob0t/ReelForge/internal/domain/event"
)

// DefaultLimit caps LoadByRun when the caller passes a non-positive limit.
const DefaultLimit = 500

// Store is the port interface for appending and loading progress events.
type Store interface {
	// Append persists a new event.
	Append(ctx context.Context, ev *event.Event) error

	// LoadByRun returns up to limit events for a run, oldest first.
	LoadByRun(ctx context.Context, runID string, limit int) ([]event.Event, error)
}
