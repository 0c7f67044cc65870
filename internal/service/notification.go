// Package service contains application services.
package service

import (
	"context"
	"log/slog"

	"github.com/proofworks/ProofWorks/internal/port/notifier"
)

// NotificationService dispatches notification intents to all registered
// sinks. The workflow never talks to a delivery transport directly; it only
// hands off intents.
type NotificationService struct {
	notifiers     []notifier.Notifier
	enabledEvents map[string]bool
}

// NewNotificationService creates a NotificationService with the given sinks
// and list of enabled event sources (e.g., "assignment.created",
// "assignment.overdue"). If enabledEvents is nil or empty, all events are
// enabled.
func NewNotificationService(notifiers []notifier.Notifier, enabledEvents []string) *NotificationService {
	enabled := make(map[string]bool, len(enabledEvents))
	for _, e := range enabledEvents {
		enabled[e] = true
	}
	return &NotificationService{
		notifiers:     notifiers,
		enabledEvents: enabled,
	}
}

// Notify hands the intent to all registered sinks.
// Errors are logged but do not interrupt delivery to other sinks.
func (s *NotificationService) Notify(ctx context.Context, intent notifier.Intent) {
	if len(s.enabledEvents) > 0 && !s.enabledEvents[intent.Source] {
		return
	}

	for _, sink := range s.notifiers {
		if err := sink.Send(ctx, intent); err != nil {
			slog.Warn("notification send failed",
				"sink", sink.Name(),
				"title", intent.Title,
				"error", err,
			)
			continue
		}
		slog.Debug("notification intent sent", "sink", sink.Name(), "title", intent.Title)
	}
}

// NotifierCount returns the number of registered sinks.
func (s *NotificationService) NotifierCount() int {
	return len(s.notifiers)
}
