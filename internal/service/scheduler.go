package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/proofworks/ProofWorks/internal/adapter/otel"
	"github.com/proofworks/ProofWorks/internal/adapter/ws"
	"github.com/proofworks/ProofWorks/internal/domain/assignment"
	"github.com/proofworks/ProofWorks/internal/domain/validator"
	"github.com/proofworks/ProofWorks/internal/port/broadcast"
	"github.com/proofworks/ProofWorks/internal/port/database"
	"github.com/proofworks/ProofWorks/internal/port/evidence"
	"github.com/proofworks/ProofWorks/internal/port/messagequeue"
	"github.com/proofworks/ProofWorks/internal/port/notifier"
)

// SchedulerService turns "evidence needs review" into a bound, time-boxed
// assignment and keeps validator workload within capacity. Capacity is
// enforced atomically by the store; the scheduler orchestrates the slot
// bookkeeping around the assignment state machine.
type SchedulerService struct {
	store         database.Store
	evidence      evidence.Provider
	consensus     *ConsensusService
	notifications *NotificationService
	queue         messagequeue.Queue
	hub           broadcast.Broadcaster
	metrics       *otel.Metrics
}

// NewSchedulerService creates a SchedulerService with all dependencies.
func NewSchedulerService(
	store database.Store,
	evidenceProvider evidence.Provider,
	consensusSvc *ConsensusService,
	notifications *NotificationService,
	queue messagequeue.Queue,
	hub broadcast.Broadcaster,
	metrics *otel.Metrics,
) *SchedulerService {
	return &SchedulerService{
		store:         store,
		evidence:      evidenceProvider,
		consensus:     consensusSvc,
		notifications: notifications,
		queue:         queue,
		hub:           hub,
		metrics:       metrics,
	}
}

// Assign creates a manual assignment binding the validator to the evidence
// item. The due date derives from the priority's recommended timeout when
// not supplied.
func (s *SchedulerService) Assign(ctx context.Context, req *assignment.CreateRequest) (*assignment.Assignment, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validate assignment request: %w", err)
	}

	ctx, span := otel.StartAssignmentSpan(ctx, "assign", req.EvidenceID, req.ValidatorID)
	defer span.End()

	ev, err := s.evidence.Get(ctx, req.EvidenceID)
	if err != nil {
		return nil, fmt.Errorf("fetch evidence %s: %w", req.EvidenceID, err)
	}

	active, err := s.store.HasActiveAssignment(ctx, req.ValidatorID, req.EvidenceID)
	if err != nil {
		return nil, fmt.Errorf("check active assignment: %w", err)
	}
	if active {
		return nil, assignment.ErrDuplicate
	}

	now := time.Now().UTC()
	v, err := s.store.AcquireValidatorSlot(ctx, req.ValidatorID, now)
	if err != nil {
		return nil, fmt.Errorf("acquire slot for validator %s: %w", req.ValidatorID, err)
	}
	if v.UserID == ev.SubmitterID {
		s.releaseSlot(ctx, v.ID, now)
		return nil, assignment.ErrSelfReview
	}

	a := &assignment.Assignment{
		EvidenceID:       req.EvidenceID,
		ValidatorID:      req.ValidatorID,
		AssignedByID:     req.AssignedByID,
		Status:           assignment.StatusAssigned,
		Priority:         req.Priority,
		AssignedAt:       now,
		DueDate:          dueDate(req, now),
		AssignmentReason: req.Reason,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreateAssignment(ctx, a); err != nil {
		s.releaseSlot(ctx, v.ID, now)
		return nil, fmt.Errorf("create assignment: %w", err)
	}

	s.afterCreate(ctx, a, v)
	return a, nil
}

// AutoAssign selects the best available validator for the evidence item and
// creates an assignment at normal priority. Candidates are ordered by
// ascending workload, then descending rating, ties broken by earliest
// activity. Fails with validator.ErrNoneEligible when the filtered pool is
// empty.
func (s *SchedulerService) AutoAssign(ctx context.Context, evidenceID, specialty string, minRating float64) (*assignment.Assignment, error) {
	if evidenceID == "" {
		return nil, assignment.ErrEvidenceRequired
	}

	ev, err := s.evidence.Get(ctx, evidenceID)
	if err != nil {
		return nil, fmt.Errorf("fetch evidence %s: %w", evidenceID, err)
	}

	pool, err := s.store.ListValidators(ctx, database.ValidatorFilter{
		Status:    validator.StatusActive,
		Specialty: specialty,
		MinRating: minRating,
	})
	if err != nil {
		return nil, fmt.Errorf("list candidate validators: %w", err)
	}

	now := time.Now().UTC()
	for i := range pool {
		c := &pool[i]
		if !c.CanAcceptAssignment() || c.UserID == ev.SubmitterID {
			continue
		}
		active, err := s.store.HasActiveAssignment(ctx, c.ID, evidenceID)
		if err != nil {
			return nil, fmt.Errorf("check active assignment: %w", err)
		}
		if active {
			continue
		}

		v, err := s.store.AcquireValidatorSlot(ctx, c.ID, now)
		if err != nil {
			// Lost the slot to a concurrent assignment; try the next candidate.
			if errors.Is(err, validator.ErrAtCapacity) || errors.Is(err, validator.ErrNotAcceptingWork) {
				continue
			}
			return nil, fmt.Errorf("acquire slot for validator %s: %w", c.ID, err)
		}

		a := &assignment.Assignment{
			EvidenceID:       evidenceID,
			ValidatorID:      v.ID,
			Status:           assignment.StatusAssigned,
			Priority:         assignment.PriorityNormal,
			AssignedAt:       now,
			DueDate:          now.Add(assignment.TimeoutByPriority[assignment.PriorityNormal]),
			AutoAssigned:     true,
			AssignmentReason: autoAssignReason(specialty),
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := s.store.CreateAssignment(ctx, a); err != nil {
			s.releaseSlot(ctx, v.ID, now)
			if errors.Is(err, assignment.ErrDuplicate) {
				continue
			}
			return nil, fmt.Errorf("create assignment: %w", err)
		}

		s.afterCreate(ctx, a, v)
		return a, nil
	}
	return nil, validator.ErrNoneEligible
}

// Accept records that the validator took on the assignment.
func (s *SchedulerService) Accept(ctx context.Context, id string) (*assignment.Assignment, error) {
	return s.transitionTo(ctx, id, assignment.StatusAccepted, "")
}

// Start records that the validator began the review.
func (s *SchedulerService) Start(ctx context.Context, id string) (*assignment.Assignment, error) {
	return s.transitionTo(ctx, id, assignment.StatusInProgress, "")
}

// Complete finishes the review pass, releases the validator's slot, and
// triggers a consensus re-evaluation for the evidence item.
func (s *SchedulerService) Complete(ctx context.Context, id, completionNotes string) (*assignment.Assignment, error) {
	a, err := s.transitionTo(ctx, id, assignment.StatusCompleted, completionNotes)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.AssignmentsCompleted.Add(ctx, 1)
		s.metrics.ReviewDuration.Record(ctx, a.CompletedAt.Sub(a.AssignedAt).Seconds())
	}
	if _, err := s.consensus.Evaluate(ctx, a.EvidenceID); err != nil {
		slog.Error("consensus evaluation after completion", "evidence_id", a.EvidenceID, "error", err)
	}
	return a, nil
}

// Cancel withdraws the assignment and releases the validator's slot.
func (s *SchedulerService) Cancel(ctx context.Context, id, reason string) (*assignment.Assignment, error) {
	return s.transitionTo(ctx, id, assignment.StatusCancelled, reason)
}

// Reject records that the validator declined the assignment and releases
// the slot.
func (s *SchedulerService) Reject(ctx context.Context, id, reason string) (*assignment.Assignment, error) {
	return s.transitionTo(ctx, id, assignment.StatusRejected, reason)
}

// transitionTo applies one state machine step and the slot bookkeeping that
// goes with it. A concurrent transition on the same assignment surfaces as
// domain.ErrConflict from the store, so double completion can never succeed
// twice.
func (s *SchedulerService) transitionTo(ctx context.Context, id string, target assignment.Status, notes string) (*assignment.Assignment, error) {
	a, err := s.store.GetAssignment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get assignment %s: %w", id, err)
	}

	now := time.Now().UTC()
	if err := a.Transition(target, now); err != nil {
		return nil, err
	}
	if notes != "" {
		a.CompletionNotes = notes
	}
	if err := s.store.UpdateAssignment(ctx, a); err != nil {
		return nil, fmt.Errorf("update assignment %s: %w", id, err)
	}

	if target.IsTerminal() {
		s.releaseSlot(ctx, a.ValidatorID, now)
	}

	publishJSON(ctx, s.queue, messagequeue.SubjectAssignmentTransition, a)
	s.hub.Broadcast(broadcast.Event{Type: broadcast.EventAssignmentTransition, Payload: assignmentEvent(a)})
	slog.Info("assignment transitioned", "assignment_id", a.ID, "status", a.Status)
	return a, nil
}

// Reassign atomically moves a non-terminal assignment to a new validator.
// The old validator's slot is released and the new one's consumed in a
// single transaction, so workload never drifts on failure.
func (s *SchedulerService) Reassign(ctx context.Context, id, newValidatorID string) (*assignment.Assignment, error) {
	if newValidatorID == "" {
		return nil, assignment.ErrValidatorRequired
	}

	a, err := s.store.GetAssignment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get assignment %s: %w", id, err)
	}
	if a.Status.IsTerminal() {
		return nil, assignment.ErrAlreadyTerminal
	}
	if a.ValidatorID == newValidatorID {
		return nil, assignment.ErrSameValidator
	}

	ev, err := s.evidence.Get(ctx, a.EvidenceID)
	if err != nil {
		return nil, fmt.Errorf("fetch evidence %s: %w", a.EvidenceID, err)
	}
	target, err := s.store.GetValidator(ctx, newValidatorID)
	if err != nil {
		return nil, fmt.Errorf("get validator %s: %w", newValidatorID, err)
	}
	if target.UserID == ev.SubmitterID {
		return nil, assignment.ErrSelfReview
	}

	now := time.Now().UTC()
	if err := s.store.SwapAssignmentValidator(ctx, a, newValidatorID, now); err != nil {
		return nil, fmt.Errorf("reassign to validator %s: %w", newValidatorID, err)
	}

	publishJSON(ctx, s.queue, messagequeue.SubjectAssignmentReassigned, a)
	s.hub.Broadcast(broadcast.Event{Type: broadcast.EventAssignmentReassigned, Payload: assignmentEvent(a)})
	s.notifications.Notify(ctx, notifier.Intent{
		RecipientID: target.UserID,
		Title:       "Evidence review reassigned to you",
		Message:     fmt.Sprintf("Evidence %s needs your review by %s.", a.EvidenceID, a.DueDate.Format(time.RFC3339)),
		Level:       "info",
		Source:      "assignment.reassigned",
		ResourceID:  a.ID,
	})
	slog.Info("assignment reassigned", "assignment_id", a.ID, "validator_id", newValidatorID)
	return a, nil
}

// ReassignAuto moves the assignment to the best available validator other
// than its current holder, using the same candidate ordering as AutoAssign.
// Fails with validator.ErrNoneEligible when no other validator can take it.
func (s *SchedulerService) ReassignAuto(ctx context.Context, id string) (*assignment.Assignment, error) {
	a, err := s.store.GetAssignment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get assignment %s: %w", id, err)
	}
	if a.Status.IsTerminal() {
		return nil, assignment.ErrAlreadyTerminal
	}

	pool, err := s.store.ListValidators(ctx, database.ValidatorFilter{Status: validator.StatusActive})
	if err != nil {
		return nil, fmt.Errorf("list candidate validators: %w", err)
	}

	for i := range pool {
		c := &pool[i]
		if c.ID == a.ValidatorID || !c.CanAcceptAssignment() {
			continue
		}
		moved, err := s.Reassign(ctx, id, c.ID)
		if err != nil {
			// The candidate filled up or opted out since listing; try the next.
			if errors.Is(err, validator.ErrAtCapacity) ||
				errors.Is(err, validator.ErrNotAcceptingWork) ||
				errors.Is(err, assignment.ErrSelfReview) {
				continue
			}
			return nil, err
		}
		return moved, nil
	}
	return nil, validator.ErrNoneEligible
}

// MarkNotified records that the delivery collaborator notified the
// validator about the assignment.
func (s *SchedulerService) MarkNotified(ctx context.Context, id string) error {
	return s.setFlag(ctx, id, func(a *assignment.Assignment) { a.NotificationSent = true })
}

// MarkReminded records that a due-date reminder was delivered.
func (s *SchedulerService) MarkReminded(ctx context.Context, id string) error {
	return s.setFlag(ctx, id, func(a *assignment.Assignment) { a.ReminderSent = true })
}

func (s *SchedulerService) setFlag(ctx context.Context, id string, set func(*assignment.Assignment)) error {
	a, err := s.store.GetAssignment(ctx, id)
	if err != nil {
		return fmt.Errorf("get assignment %s: %w", id, err)
	}
	set(a)
	a.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateAssignment(ctx, a); err != nil {
		return fmt.Errorf("update assignment %s: %w", id, err)
	}
	return nil
}

// Get retrieves an assignment by ID.
func (s *SchedulerService) Get(ctx context.Context, id string) (*assignment.Assignment, error) {
	return s.store.GetAssignment(ctx, id)
}

// ListByEvidence returns all assignments for an evidence item.
func (s *SchedulerService) ListByEvidence(ctx context.Context, evidenceID string) ([]assignment.Assignment, error) {
	return s.store.ListAssignmentsByEvidence(ctx, evidenceID)
}

// ListByValidator returns all assignments held by a validator.
func (s *SchedulerService) ListByValidator(ctx context.Context, validatorID string) ([]assignment.Assignment, error) {
	return s.store.ListAssignmentsByValidator(ctx, validatorID)
}

// afterCreate emits the events and the notification intent for a newly
// created assignment. The notificationSent flag is only flipped later, when
// the delivery collaborator confirms via MarkNotified.
func (s *SchedulerService) afterCreate(ctx context.Context, a *assignment.Assignment, v *validator.Validator) {
	if s.metrics != nil {
		s.metrics.AssignmentsCreated.Add(ctx, 1)
	}
	publishJSON(ctx, s.queue, messagequeue.SubjectAssignmentCreated, a)
	s.hub.Broadcast(broadcast.Event{Type: broadcast.EventAssignmentCreated, Payload: assignmentEvent(a)})
	s.notifications.Notify(ctx, notifier.Intent{
		RecipientID: v.UserID,
		Title:       "New evidence review assignment",
		Message:     fmt.Sprintf("Evidence %s needs your review by %s.", a.EvidenceID, a.DueDate.Format(time.RFC3339)),
		Level:       "info",
		Source:      "assignment.created",
		ResourceID:  a.ID,
	})
	slog.Info("assignment created",
		"assignment_id", a.ID,
		"evidence_id", a.EvidenceID,
		"validator_id", a.ValidatorID,
		"priority", a.Priority,
		"auto", a.AutoAssigned,
	)
}

// releaseSlot is compensation for a consumed slot; failures are logged
// because there is no caller that could meaningfully retry.
func (s *SchedulerService) releaseSlot(ctx context.Context, validatorID string, now time.Time) {
	if err := s.store.ReleaseValidatorSlot(ctx, validatorID, now); err != nil {
		slog.Error("release validator slot", "validator_id", validatorID, "error", err)
	}
}

func dueDate(req *assignment.CreateRequest, now time.Time) time.Time {
	if req.DueDate != nil {
		return req.DueDate.UTC()
	}
	return now.Add(assignment.TimeoutByPriority[req.Priority])
}

func autoAssignReason(specialty string) string {
	if specialty == "" {
		return "auto-assigned: best available validator"
	}
	return fmt.Sprintf("auto-assigned: best available validator for specialty %q", specialty)
}

func assignmentEvent(a *assignment.Assignment) ws.AssignmentEvent {
	return ws.AssignmentEvent{
		AssignmentID: a.ID,
		EvidenceID:   a.EvidenceID,
		ValidatorID:  a.ValidatorID,
		Status:       string(a.Status),
		Priority:     string(a.Priority),
	}
}

// publishJSON marshals v and publishes it on the subject. Publish failures
// are logged; the record is already durable in the store and the bus is a
// best-effort fan-out.
func publishJSON(ctx context.Context, q messagequeue.Queue, subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("marshal event payload", "subject", subject, "error", err)
		return
	}
	if err := q.Publish(ctx, subject, data); err != nil {
		slog.Error("publish event", "subject", subject, "error", err)
	}
}
