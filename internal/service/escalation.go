package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/proofworks/ProofWorks/internal/adapter/otel"
	"github.com/proofworks/ProofWorks/internal/adapter/ws"
	"github.com/proofworks/ProofWorks/internal/config"
	"github.com/proofworks/ProofWorks/internal/domain/assignment"
	"github.com/proofworks/ProofWorks/internal/domain/validation"
	"github.com/proofworks/ProofWorks/internal/domain/validator"
	"github.com/proofworks/ProofWorks/internal/port/broadcast"
	"github.com/proofworks/ProofWorks/internal/port/database"
	"github.com/proofworks/ProofWorks/internal/port/messagequeue"
	"github.com/proofworks/ProofWorks/internal/port/notifier"
)

// EscalationService detects stalled work and drives it back into the
// scheduler loop. What happens to an overdue assignment is configurable: the
// sweep escalates its priority, reassigns it to another validator, or flags
// the evidence's validations for human review. Soon-due assignments get a
// reminder intent regardless of the policy.
type EscalationService struct {
	store         database.Store
	scheduler     *SchedulerService
	notifications *NotificationService
	queue         messagequeue.Queue
	hub           broadcast.Broadcaster
	metrics       *otel.Metrics
	cfg           config.Sweeper

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// NewEscalationService creates an EscalationService with all dependencies.
func NewEscalationService(
	store database.Store,
	scheduler *SchedulerService,
	notifications *NotificationService,
	queue messagequeue.Queue,
	hub broadcast.Broadcaster,
	metrics *otel.Metrics,
	cfg config.Sweeper,
) *EscalationService {
	return &EscalationService{
		store:         store,
		scheduler:     scheduler,
		notifications: notifications,
		queue:         queue,
		hub:           hub,
		metrics:       metrics,
		cfg:           cfg,
		stopSweep:     make(chan struct{}),
	}
}

// StartSweeper launches the background ticker that runs the overdue and
// reminder passes at the configured interval.
func (s *EscalationService) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				now := time.Now().UTC()
				if _, err := s.SweepOverdue(ctx, now); err != nil {
					slog.Error("overdue sweep", "error", err)
				}
				if err := s.SendReminders(ctx, now); err != nil {
					slog.Error("reminder sweep", "error", err)
				}
			case <-s.stopSweep:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	slog.Info("escalation sweeper started", "interval", s.cfg.Interval)
}

// StopSweeper stops the background sweeper.
func (s *EscalationService) StopSweeper() {
	s.sweepOnce.Do(func() {
		close(s.stopSweep)
	})
}

// SweepOverdue applies the configured overdue action to every non-terminal
// assignment past its due date and returns the affected assignment IDs.
// Assignments already handled in an earlier pass are skipped, so re-running
// the sweep is idempotent. Items are processed concurrently, bounded by the
// configured parallelism, and a failure on one item never aborts the batch.
func (s *EscalationService) SweepOverdue(ctx context.Context, now time.Time) ([]string, error) {
	overdue, err := s.store.ListOverdueAssignments(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list overdue assignments: %w", err)
	}

	sem := semaphore.NewWeighted(s.cfg.MaxParallel)
	var (
		mu       sync.Mutex
		affected []string
	)
	for i := range overdue {
		a := overdue[i]
		if a.EscalatedAt != nil {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			return affected, fmt.Errorf("acquire sweep slot: %w", err)
		}
		go func() {
			defer sem.Release(1)
			if err := s.handleOverdue(ctx, &a, now, "assignment overdue"); err != nil {
				slog.Error("handle overdue assignment", "assignment_id", a.ID, "error", err)
				return
			}
			mu.Lock()
			affected = append(affected, a.ID)
			mu.Unlock()
		}()
	}
	if err := sem.Acquire(ctx, s.cfg.MaxParallel); err != nil {
		return affected, fmt.Errorf("wait for sweep: %w", err)
	}
	sem.Release(s.cfg.MaxParallel)

	if len(affected) > 0 {
		slog.Info("overdue sweep finished", "action", s.cfg.OverdueAction, "handled", len(affected), "scanned", len(overdue))
	}
	return affected, nil
}

// handleOverdue dispatches one overdue assignment to the configured action.
// An unset action behaves as escalate.
func (s *EscalationService) handleOverdue(ctx context.Context, a *assignment.Assignment, now time.Time, reason string) error {
	switch s.cfg.OverdueAction {
	case config.OverdueReassign:
		return s.reassignOverdue(ctx, a, now, reason)
	case config.OverdueReview:
		return s.reviewOverdue(ctx, a, now, reason)
	default:
		return s.escalate(ctx, a, now, reason)
	}
}

// reassignOverdue stamps the assignment so later sweeps skip it, then asks
// the scheduler to hand it to another eligible validator. An empty candidate
// pool is not an error; the assignment simply stays with its holder until a
// moderator intervenes.
func (s *EscalationService) reassignOverdue(ctx context.Context, a *assignment.Assignment, now time.Time, reason string) error {
	a.EscalatedAt = &now
	appendNote(a, "overdue, reassigning: "+reason)
	a.UpdatedAt = now
	if err := s.store.UpdateAssignment(ctx, a); err != nil {
		return fmt.Errorf("update assignment %s: %w", a.ID, err)
	}
	if s.metrics != nil {
		s.metrics.AssignmentsEscalated.Add(ctx, 1)
	}

	moved, err := s.scheduler.ReassignAuto(ctx, a.ID)
	if err != nil {
		if errors.Is(err, validator.ErrNoneEligible) {
			slog.Warn("no validator available for overdue reassignment", "assignment_id", a.ID)
			return nil
		}
		return fmt.Errorf("reassign overdue assignment %s: %w", a.ID, err)
	}
	*a = *moved
	return nil
}

// reviewOverdue stamps the assignment and flags every completed validation
// of its evidence item for moderator review. The assignment itself keeps its
// priority and holder.
func (s *EscalationService) reviewOverdue(ctx context.Context, a *assignment.Assignment, now time.Time, reason string) error {
	a.EscalatedAt = &now
	appendNote(a, "overdue, under review: "+reason)
	a.UpdatedAt = now
	if err := s.store.UpdateAssignment(ctx, a); err != nil {
		return fmt.Errorf("update assignment %s: %w", a.ID, err)
	}
	if s.metrics != nil {
		s.metrics.AssignmentsEscalated.Add(ctx, 1)
	}

	vals, err := s.store.ListValidationsByEvidence(ctx, a.EvidenceID)
	if err != nil {
		return fmt.Errorf("list validations for evidence %s: %w", a.EvidenceID, err)
	}
	for i := range vals {
		v := &vals[i]
		if v.CompletedAt == nil || v.RequiresReview {
			continue
		}
		v.Flag("assignment "+a.ID+" overdue", now)
		if err := s.store.UpdateValidation(ctx, v); err != nil {
			slog.Error("flag validation for overdue review", "validation_id", v.ID, "error", err)
			continue
		}
		publishJSON(ctx, s.queue, messagequeue.SubjectValidationFlagged, v)
	}
	return nil
}

// EscalateAssignment escalates one assignment outside the sweep, e.g. from
// a moderator action. Already-escalated assignments are returned unchanged.
func (s *EscalationService) EscalateAssignment(ctx context.Context, id, reason string) (*assignment.Assignment, error) {
	a, err := s.store.GetAssignment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get assignment %s: %w", id, err)
	}
	if a.Status.IsTerminal() {
		return nil, assignment.ErrAlreadyTerminal
	}
	if a.EscalatedAt != nil {
		return a, nil
	}
	if err := s.escalate(ctx, a, time.Now().UTC(), reason); err != nil {
		return nil, err
	}
	return a, nil
}

// escalate bumps the assignment one priority level, restarts its review
// window from the new priority's timeout, and stamps EscalatedAt so later
// sweeps skip it.
func (s *EscalationService) escalate(ctx context.Context, a *assignment.Assignment, now time.Time, reason string) error {
	a.EscalatedAt = &now
	if a.EscalatePriority() {
		a.DueDate = now.Add(assignment.TimeoutByPriority[a.Priority])
	}
	appendNote(a, "escalated: "+reason)
	a.UpdatedAt = now

	if err := s.store.UpdateAssignment(ctx, a); err != nil {
		return fmt.Errorf("update assignment %s: %w", a.ID, err)
	}

	if s.metrics != nil {
		s.metrics.AssignmentsEscalated.Add(ctx, 1)
	}
	publishJSON(ctx, s.queue, messagequeue.SubjectAssignmentOverdue, a)
	s.hub.Broadcast(broadcast.Event{Type: broadcast.EventAssignmentOverdue, Payload: ws.AssignmentEvent{
		AssignmentID: a.ID,
		EvidenceID:   a.EvidenceID,
		ValidatorID:  a.ValidatorID,
		Status:       string(a.Status),
		Priority:     string(a.Priority),
	}})
	s.notifyValidator(ctx, a.ValidatorID, notifier.Intent{
		Title:      "Assignment overdue",
		Message:    fmt.Sprintf("Your review of evidence %s is overdue and has been escalated to %s priority.", a.EvidenceID, a.Priority),
		Level:      "warning",
		Source:     "assignment.overdue",
		ResourceID: a.ID,
	})
	return nil
}

// SendReminders emits a reminder intent for every assignment due within the
// configured window that has not been reminded yet. The reminder flag is
// set immediately so a re-run does not double-remind.
func (s *EscalationService) SendReminders(ctx context.Context, now time.Time) error {
	due, err := s.store.ListAssignmentsDueWithin(ctx, now, s.cfg.ReminderWindow)
	if err != nil {
		return fmt.Errorf("list assignments due soon: %w", err)
	}

	for i := range due {
		a := &due[i]
		a.ReminderSent = true
		a.UpdatedAt = now
		if err := s.store.UpdateAssignment(ctx, a); err != nil {
			slog.Error("mark reminder sent", "assignment_id", a.ID, "error", err)
			continue
		}
		s.notifyValidator(ctx, a.ValidatorID, notifier.Intent{
			Title:      "Assignment due soon",
			Message:    fmt.Sprintf("Your review of evidence %s is due at %s.", a.EvidenceID, a.DueDate.Format(time.RFC3339)),
			Level:      "info",
			Source:     "assignment.reminder",
			ResourceID: a.ID,
		})
	}
	return nil
}

// FlagValidation marks a validation for human review, forcing its
// confidence down to the low band.
func (s *EscalationService) FlagValidation(ctx context.Context, id, reason string) (*validation.Validation, error) {
	v, err := s.store.GetValidation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get validation %s: %w", id, err)
	}

	now := time.Now().UTC()
	v.Flag(reason, now)
	if err := s.store.UpdateValidation(ctx, v); err != nil {
		return nil, fmt.Errorf("update validation %s: %w", id, err)
	}

	publishJSON(ctx, s.queue, messagequeue.SubjectValidationFlagged, v)
	slog.Info("validation flagged", "validation_id", v.ID, "reason", reason)
	return v, nil
}

// EscalateValidation appends an escalation annotation to a validation.
func (s *EscalationService) EscalateValidation(ctx context.Context, id, reason string) (*validation.Validation, error) {
	v, err := s.store.GetValidation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get validation %s: %w", id, err)
	}

	v.Escalate(reason, time.Now().UTC())
	if err := s.store.UpdateValidation(ctx, v); err != nil {
		return nil, fmt.Errorf("update validation %s: %w", id, err)
	}
	slog.Info("validation escalated", "validation_id", v.ID, "reason", reason)
	return v, nil
}

func appendNote(a *assignment.Assignment, note string) {
	if a.Notes == "" {
		a.Notes = note
		return
	}
	a.Notes += "\n" + note
}

// notifyValidator resolves the validator's user id and hands off the
// intent. Notification is best-effort; a missing validator only logs.
func (s *EscalationService) notifyValidator(ctx context.Context, validatorID string, intent notifier.Intent) {
	v, err := s.store.GetValidator(ctx, validatorID)
	if err != nil {
		slog.Warn("resolve validator for notification", "validator_id", validatorID, "error", err)
		return
	}
	intent.RecipientID = v.UserID
	s.notifications.Notify(ctx, intent)
}
