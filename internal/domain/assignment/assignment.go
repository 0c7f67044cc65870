// Package assignment defines the Assignment domain entity: the binding of
// one validator to one evidence item for a single review pass, governed by
// a strict state machine.
package assignment

import (
	"errors"
	"fmt"
	"time"
)

// Status represents the lifecycle state of an assignment.
type Status string

const (
	StatusAssigned   Status = "assigned"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusRejected   Status = "rejected"
)

// Priority controls how long a validator has before the assignment is overdue.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityUrgent   Priority = "urgent"
	PriorityCritical Priority = "critical"
)

// TimeoutByPriority maps each priority to its recommended review window.
// Kept as a lookup table so the policy can be tuned without touching the
// state machine.
var TimeoutByPriority = map[Priority]time.Duration{
	PriorityLow:      168 * time.Hour,
	PriorityNormal:   72 * time.Hour,
	PriorityHigh:     24 * time.Hour,
	PriorityUrgent:   8 * time.Hour,
	PriorityCritical: 2 * time.Hour,
}

// escalationOrder is the priority ladder used when an overdue assignment is
// bumped one level.
var escalationOrder = []Priority{
	PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent, PriorityCritical,
}

var (
	ErrIllegalTransition = errors.New("illegal assignment state transition")
	// ErrDuplicate indicates an active assignment already exists for the
	// (validator, evidence) pair.
	ErrDuplicate         = errors.New("active assignment already exists for validator and evidence")
	ErrInvalidPriority   = errors.New("invalid assignment priority")
	ErrEvidenceRequired  = errors.New("evidence id is required")
	ErrValidatorRequired = errors.New("validator id is required")
	ErrAlreadyTerminal   = errors.New("assignment is in a terminal state")
	ErrSameValidator     = errors.New("reassignment target is the current validator")
	ErrSelfReview        = errors.New("validators cannot review their own evidence")
)

// transitions is the full legal state graph. Anything not listed fails with
// ErrIllegalTransition.
var transitions = map[Status][]Status{
	StatusAssigned:   {StatusAccepted, StatusCancelled, StatusRejected},
	StatusAccepted:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

// Assignment binds one validator to one evidence item for one review pass.
type Assignment struct {
	ID               string     `json:"id"`
	EvidenceID       string     `json:"evidence_id"`
	ValidatorID      string     `json:"validator_id"`
	AssignedByID     string     `json:"assigned_by_id,omitempty"` // empty when auto-assigned
	Status           Status     `json:"status"`
	Priority         Priority   `json:"priority"`
	AssignedAt       time.Time  `json:"assigned_at"`
	DueDate          time.Time  `json:"due_date"`
	AcceptedAt       *time.Time `json:"accepted_at,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	EscalatedAt      *time.Time `json:"escalated_at,omitempty"`
	AutoAssigned     bool       `json:"auto_assigned"`
	NotificationSent bool       `json:"notification_sent"`
	ReminderSent     bool       `json:"reminder_sent"`
	AssignmentReason string     `json:"assignment_reason,omitempty"`
	Notes            string     `json:"notes,omitempty"`
	CompletionNotes  string     `json:"completion_notes,omitempty"`
	Version          int        `json:"version"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// ValidPriority reports whether p is one of the known priorities.
func ValidPriority(p Priority) bool {
	_, ok := TimeoutByPriority[p]
	return ok
}

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusRejected
}

// CanTransition reports whether moving from s to target is legal.
func (s Status) CanTransition(target Status) bool {
	for _, next := range transitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Transition moves the assignment to target, stamping the per-state
// timestamp. The assignment is left untouched on an illegal transition.
func (a *Assignment) Transition(target Status, now time.Time) error {
	if !a.Status.CanTransition(target) {
		return fmt.Errorf("%s -> %s: %w", a.Status, target, ErrIllegalTransition)
	}
	a.Status = target
	a.UpdatedAt = now
	switch target {
	case StatusAccepted:
		a.AcceptedAt = &now
	case StatusInProgress:
		a.StartedAt = &now
	case StatusCompleted, StatusCancelled, StatusRejected:
		a.CompletedAt = &now
	}
	return nil
}

// IsOverdue reports whether the assignment is still open past its due date.
func (a *Assignment) IsOverdue(now time.Time) bool {
	return !a.Status.IsTerminal() && now.After(a.DueDate)
}

// EscalatePriority bumps the priority one level toward critical and returns
// true if the priority changed. Critical assignments stay critical.
func (a *Assignment) EscalatePriority() bool {
	for i, p := range escalationOrder {
		if a.Priority == p && i+1 < len(escalationOrder) {
			a.Priority = escalationOrder[i+1]
			return true
		}
	}
	return false
}

// CreateRequest holds the fields needed to create a manual assignment.
type CreateRequest struct {
	EvidenceID   string     `json:"evidence_id"`
	ValidatorID  string     `json:"validator_id"`
	AssignedByID string     `json:"assigned_by_id,omitempty"`
	Priority     Priority   `json:"priority,omitempty"`
	DueDate      *time.Time `json:"due_date,omitempty"`
	Reason       string     `json:"reason,omitempty"`
}

// Validate checks the create request for correctness. An empty priority
// defaults to normal.
func (r *CreateRequest) Validate() error {
	if r.EvidenceID == "" {
		return ErrEvidenceRequired
	}
	if r.ValidatorID == "" {
		return ErrValidatorRequired
	}
	if r.Priority == "" {
		r.Priority = PriorityNormal
	}
	if !ValidPriority(r.Priority) {
		return ErrInvalidPriority
	}
	return nil
}
