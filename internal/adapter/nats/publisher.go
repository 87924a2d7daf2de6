package nats

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Strob0t/ReelForge/internal/domain/event"
	"github.com/Strob0t/ReelForge/internal/port/messagequeue"
)

// EventPublisher forwards progress events to workflows.events.<type>. It
// implements broadcast.Broadcaster; payloads other than event.Event are
// ignored.
type EventPublisher struct {
	q messagequeue.Queue
}

// NewEventPublisher creates a publisher on q.
func NewEventPublisher(q messagequeue.Queue) *EventPublisher {
	return &EventPublisher{q: q}
}

// BroadcastEvent publishes ev when payload is a progress event.
func (p *EventPublisher) BroadcastEvent(ctx context.Context, _ string, payload any) {
	var ev event.Event
	switch v := payload.(type) {
	case event.Event:
		ev = v
	case *event.Event:
		ev = *v
	default:
		return
	}

	data, err := json.Marshal(messagequeue.EventPayload{
		ID:        ev.ID,
		RunID:     ev.RunID,
		Type:      string(ev.Type),
		Phase:     ev.Phase,
		Payload:   ev.Payload,
		CreatedAt: ev.CreatedAt,
	})
	if err != nil {
		return
	}
	if err := p.q.Publish(ctx, messagequeue.EventSubject(string(ev.Type)), data); err != nil {
		slog.Warn("publish progress event failed", "run_id", ev.RunID, "type", ev.Type, "error", err)
	}
}
