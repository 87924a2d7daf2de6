package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Strob0t/ReelForge/internal/domain/event"
	"github.com/Strob0t/ReelForge/internal/port/notifier"
)

// DefaultNotifyEvents are the event types forwarded when none are configured.
var DefaultNotifyEvents = []event.Type{
	event.TypeReviewRequested,
	event.TypeWorkflowCompleted,
	event.TypeWorkflowFailed,
}

const (
	notifyQueueSize   = 64
	notifySendTimeout = 30 * time.Second
)

// NotificationConfig configures the NotificationService.
type NotificationConfig struct {
	// Events limits which event types produce notifications.
	Events []string
	// ReviewURL is a link template for review requests. "{id}" is replaced
	// with the run ID.
	ReviewURL string
}

// NotificationService turns progress events into notifications for
// external reviewers. It implements broadcast.Broadcaster; delivery runs on
// a background goroutine so a slow webhook never stalls a run.
type NotificationService struct {
	notifiers []notifier.Notifier
	enabled   map[event.Type]bool
	reviewURL string

	mu     sync.RWMutex
	closed bool
	queue  chan notifier.Notification
	done   chan struct{}
}

// NewNotificationService creates the service and starts its dispatcher.
func NewNotificationService(notifiers []notifier.Notifier, cfg NotificationConfig) *NotificationService {
	enabled := make(map[event.Type]bool)
	for _, e := range cfg.Events {
		enabled[event.Type(strings.TrimSpace(e))] = true
	}
	if len(enabled) == 0 {
		for _, e := range DefaultNotifyEvents {
			enabled[e] = true
		}
	}
	s := &NotificationService{
		notifiers: notifiers,
		enabled:   enabled,
		reviewURL: cfg.ReviewURL,
		queue:     make(chan notifier.Notification, notifyQueueSize),
		done:      make(chan struct{}),
	}
	go s.dispatch()
	return s
}

// BroadcastEvent implements broadcast.Broadcaster. Only stored progress
// events of an enabled type are forwarded; a full queue drops the
// notification.
func (s *NotificationService) BroadcastEvent(_ context.Context, eventType string, payload any) {
	ev, ok := payload.(event.Event)
	if !ok || len(s.notifiers) == 0 || !s.enabled[event.Type(eventType)] {
		return
	}
	n, ok := s.build(&ev)
	if !ok {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- n:
	default:
		slog.Warn("notification queue full, dropping", "run_id", ev.RunID, "type", eventType)
	}
}

func (s *NotificationService) build(ev *event.Event) (notifier.Notification, bool) {
	n := notifier.Notification{Source: string(ev.Type), RunID: ev.RunID}
	var wp event.WorkflowPayload
	if len(ev.Payload) > 0 {
		_ = json.Unmarshal(ev.Payload, &wp)
	}

	switch ev.Type {
	case event.TypeReviewRequested:
		n.Title = "Review required: " + ev.Phase
		n.Message = fmt.Sprintf("Workflow %s is waiting for a decision on phase %s.", ev.RunID, ev.Phase)
		n.Level = notifier.LevelWarning
		if s.reviewURL != "" {
			n.Link = strings.ReplaceAll(s.reviewURL, "{id}", ev.RunID)
		}
	case event.TypeWorkflowCompleted:
		n.Title = "Workflow completed"
		n.Message = fmt.Sprintf("Pipeline %s finished. Total cost $%.4f.", wp.PipelineID, wp.TotalCostUSD)
		n.Level = notifier.LevelSuccess
	case event.TypeWorkflowFailed, event.TypeWorkflowCancelled:
		n.Title = "Workflow failed"
		if ev.Type == event.TypeWorkflowCancelled {
			n.Title = "Workflow cancelled"
		}
		n.Message = fmt.Sprintf("Pipeline %s stopped at phase %s: %s", wp.PipelineID, ev.Phase, wp.Error)
		n.Level = notifier.LevelError
	default:
		n.Title = string(ev.Type)
		n.Message = fmt.Sprintf("Workflow %s: %s", ev.RunID, ev.Type)
		n.Level = notifier.LevelInfo
	}
	return n, true
}

func (s *NotificationService) dispatch() {
	defer close(s.done)
	for n := range s.queue {
		s.Notify(context.Background(), n)
	}
}

// Notify sends n to every notifier. Errors are logged and do not interrupt
// delivery to the others.
func (s *NotificationService) Notify(ctx context.Context, n notifier.Notification) {
	ctx, cancel := context.WithTimeout(ctx, notifySendTimeout)
	defer cancel()
	for _, provider := range s.notifiers {
		if err := provider.Send(ctx, n); err != nil {
			slog.Warn("notification send failed",
				"provider", provider.Name(),
				"run_id", n.RunID,
				"title", n.Title,
				"error", err,
			)
			continue
		}
		slog.Debug("notification sent", "provider", provider.Name(), "run_id", n.RunID, "title", n.Title)
	}
}

// NotifierCount returns the number of configured notifiers.
func (s *NotificationService) NotifierCount() int {
	return len(s.notifiers)
}

// Close stops accepting notifications and waits for queued ones to be sent
// or for ctx to end.
func (s *NotificationService) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
