package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/ReelForge/internal/domain/event"
	"github.com/Strob0t/ReelForge/internal/port/eventstore"
)

// EventStore implements eventstore.Store using PostgreSQL (append-only).
type EventStore struct {
	pool *pgxpool.Pool
}

var _ eventstore.Store = (*EventStore)(nil)

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts a new event into the workflow_events table.
func (s *EventStore) Append(ctx context.Context, ev *event.Event) error {
	var payload any
	if len(ev.Payload) > 0 {
		payload = ev.Payload
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO workflow_events (id, run_id, event_type, phase, payload, request_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, ev.RunID, string(ev.Type), ev.Phase, payload, ev.RequestID, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// eventColumns is the SELECT column list for workflow_events queries.
const eventColumns = `id, run_id, event_type, phase, payload, request_id, created_at`

func scanEvent(row scannable, ev *event.Event) error {
	var payload []byte
	if err := row.Scan(&ev.ID, &ev.RunID, &ev.Type, &ev.Phase, &payload, &ev.RequestID, &ev.CreatedAt); err != nil {
		return err
	}
	ev.Payload = payload
	return nil
}

// LoadByRun returns up to limit events for the run in insertion order.
func (s *EventStore) LoadByRun(ctx context.Context, runID string, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = eventstore.DefaultLimit
	}
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM workflow_events WHERE run_id = $1 ORDER BY seq ASC LIMIT $2`, eventColumns),
		runID, limit)
	if err != nil {
		return nil, fmt.Errorf("load events by run %s: %w", runID, err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var ev event.Event
		if err := scanEvent(rows, &ev); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return orEmpty(events), rows.Err()
}
