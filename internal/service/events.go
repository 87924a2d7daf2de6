package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/Strob0t/ReelForge/internal/domain/event"
	"github.com/Strob0t/ReelForge/internal/logger"
	"github.com/Strob0t/ReelForge/internal/port/broadcast"
	"github.com/Strob0t/ReelForge/internal/port/eventstore"
)

// EventEmitter records progress events and fans them out to live observers.
// Events are advisory: storage and delivery failures are logged and never
// affect the run.
type EventEmitter struct {
	store eventstore.Store
	hub   broadcast.Broadcaster
	now   func() time.Time
}

// NewEventEmitter creates an emitter. Either argument may be nil.
func NewEventEmitter(store eventstore.Store, hub broadcast.Broadcaster) *EventEmitter {
	if hub == nil {
		hub = broadcast.Nop{}
	}
	return &EventEmitter{store: store, hub: hub, now: time.Now}
}

// Emit builds, stores and broadcasts a progress event. Events are recorded
// even when ctx has been cancelled.
func (e *EventEmitter) Emit(ctx context.Context, runID string, typ event.Type, phase string, payload any) {
	ctx = context.WithoutCancel(ctx)
	ev := event.New(runID, typ, phase, payload, e.now())
	ev.RequestID = logger.RequestID(ctx)

	if e.store != nil {
		if err := e.store.Append(ctx, &ev); err != nil {
			slog.Warn("append progress event", "run_id", runID, "type", typ, "error", err)
		}
	}
	e.hub.BroadcastEvent(ctx, string(typ), ev)
}

// List returns up to limit stored events of a run, oldest first.
func (e *EventEmitter) List(ctx context.Context, runID string, limit int) ([]event.Event, error) {
	if e.store == nil {
		return []event.Event{}, nil
	}
	if limit <= 0 {
		limit = eventstore.DefaultLimit
	}
	return e.store.LoadByRun(ctx, runID, limit)
}
