// Package broadcast defines the port for pushing workflow events to
// connected observers (dashboards, admin tooling).
package broadcast

// Event is a broadcast payload. Type identifies the event kind and
// Payload carries a JSON-serializable body.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Event type identifiers pushed over the broadcast channel.
const (
	EventAssignmentCreated    = "assignment.created"
	EventAssignmentTransition = "assignment.transition"
	EventAssignmentReassigned = "assignment.reassigned"
	EventAssignmentOverdue    = "assignment.overdue"
	EventValidationRecorded   = "validation.recorded"
	EventConsensusDecided     = "consensus.decided"
	EventValidatorRegistered  = "validator.registered"
)

// Broadcaster fans an event out to all connected observers.
type Broadcaster interface {
	Broadcast(event Event)
}

// Noop discards all events. Used when no broadcast surface is wired.
type Noop struct{}

func (Noop) Broadcast(Event) {}
