// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject constants for the workflow event bus.
const (
	SubjectEvidenceSubmitted = "evidence.submitted" // inbound: a new evidence item needs review
	SubjectEvidenceDecision  = "evidence.decision"  // outbound: consensus decided an evidence item

	SubjectAssignmentCreated    = "assignments.created"
	SubjectAssignmentTransition = "assignments.transition"
	SubjectAssignmentReassigned = "assignments.reassigned"
	SubjectAssignmentOverdue    = "assignments.overdue"

	SubjectValidationRecorded = "validations.recorded"
	SubjectValidationFlagged  = "validations.flagged"

	SubjectValidatorApply = "validators.apply" // inbound: a user applies to join the reviewer pool

	SubjectNotifyIntent = "notify.intent" // notification intents for the delivery collaborator
)
