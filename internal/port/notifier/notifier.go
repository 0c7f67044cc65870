// Package notifier defines the notification-intent port (interface) and capabilities.
package notifier

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a notifier is not properly configured.
var ErrNotConfigured = errors.New("notifier: not configured")

// Intent is a request to notify someone about a workflow event. The core
// only records that a notification is wanted; delivery (email, push, in-app)
// is a collaborator's concern.
type Intent struct {
	RecipientID string `json:"recipient_id"` // validator user id
	Title       string `json:"title"`
	Message     string `json:"message"`
	Level       string `json:"level"`  // "info", "warning", "error"
	Source      string `json:"source"` // e.g. "assignment.created", "assignment.overdue"
	ResourceID  string `json:"resource_id,omitempty"`
}

// Capabilities declares which features a notifier sink supports.
type Capabilities struct {
	Batching bool `json:"batching"`
	Durable  bool `json:"durable"`
}

// Notifier is the port interface for handing off notification intents.
type Notifier interface {
	// Name returns the unique identifier for this sink (e.g. "queue", "log").
	Name() string

	// Capabilities returns what this sink supports.
	Capabilities() Capabilities

	// Send hands off a notification intent.
	Send(ctx context.Context, intent Intent) error
}
