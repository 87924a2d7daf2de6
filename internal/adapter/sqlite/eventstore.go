package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Strob0t/ReelForge/internal/domain/event"
	"github.com/Strob0t/ReelForge/internal/port/eventstore"
)

// EventStore implements eventstore.Store on SQLite (append-only).
type EventStore struct {
	db *sql.DB
}

var _ eventstore.Store = (*EventStore)(nil)

// NewEventStore creates an event log on an open database.
func NewEventStore(d *DB) *EventStore {
	return &EventStore{db: d.db}
}

// Append inserts a new event into the workflow_events table.
func (s *EventStore) Append(ctx context.Context, ev *event.Event) error {
	var payload any
	if len(ev.Payload) > 0 {
		payload = []byte(ev.Payload)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_events (id, run_id, event_type, phase, payload, request_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.RunID, string(ev.Type), ev.Phase, payload, ev.RequestID, ev.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// LoadByRun returns up to limit events for the run in insertion order.
func (s *EventStore) LoadByRun(ctx context.Context, runID string, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = eventstore.DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, event_type, phase, payload, request_id, created_at
		 FROM workflow_events WHERE run_id = ? ORDER BY seq ASC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("load events by run %s: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	events := []event.Event{}
	for rows.Next() {
		var (
			ev      event.Event
			typ     string
			payload []byte
			created int64
		)
		if err := rows.Scan(&ev.ID, &ev.RunID, &typ, &ev.Phase, &payload, &ev.RequestID, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = event.Type(typ)
		ev.Payload = payload
		ev.CreatedAt = time.Unix(0, created).UTC()
		events = append(events, ev)
	}
	return events, rows.Err()
}
