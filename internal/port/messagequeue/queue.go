// Package messagequeue defines the message queue port (interface).
package messagequeue

import (
	"context"
	"time"
)

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the request ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a durable handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Request sends data and waits for a single reply, bounded by timeout
	// and ctx.
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error)

	// Drain gracefully drains all subscriptions before closing.
	// Pending messages are processed; no new messages are accepted.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject constants for NATS subjects used by ReelForge.
const (
	SubjectWorkflowEvents = "workflows.events"          // workflows.events.{type}: progress events
	SubjectReviewDecision = "workflows.review.decision" // reviewer → orchestrator: review decisions
	SubjectPhaseExecute   = "phases.execute"            // phases.execute.{phase}: request/reply to phase workers
)

// StreamSubjects are the subject patterns captured by the JetStream stream.
// Phase execution uses core request/reply and is not persisted.
var StreamSubjects = []string{"workflows.>"}

// EventSubject returns the subject for a progress event type.
func EventSubject(eventType string) string {
	return SubjectWorkflowEvents + "." + eventType
}

// ExecuteSubject returns the request subject for a phase's workers.
func ExecuteSubject(phase string) string {
	return SubjectPhaseExecute + "." + phase
}
