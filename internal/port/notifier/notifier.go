// Package notifier defines the port for alerting reviewers and operators
// outside the control surface.
package notifier

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a notifier has no destination.
var ErrNotConfigured = errors.New("notifier: not configured")

// Levels understood by the notifiers.
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Notification is the payload sent through a Notifier.
type Notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Level   string `json:"level"`
	Source  string `json:"source"` // event type, e.g. "review.requested"
	RunID   string `json:"run_id,omitempty"`
	Link    string `json:"link,omitempty"`
}

// Notifier delivers notifications to one destination.
type Notifier interface {
	// Name returns the unique identifier of the notifier (e.g. "slack").
	Name() string

	// Send delivers a notification.
	Send(ctx context.Context, n Notification) error
}
