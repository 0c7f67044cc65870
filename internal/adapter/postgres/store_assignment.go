package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/proofworks/ProofWorks/internal/domain"
	"github.com/proofworks/ProofWorks/internal/domain/assignment"
	"github.com/proofworks/ProofWorks/internal/domain/validator"
)

// --- Assignments ---

func (s *Store) CreateAssignment(ctx context.Context, a *assignment.Assignment) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO assignments (evidence_id, validator_id, assigned_by_id, status, priority, assigned_at, due_date,
		                          auto_assigned, assignment_reason, notes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id, version, created_at, updated_at`,
		a.EvidenceID, a.ValidatorID, a.AssignedByID, string(a.Status), string(a.Priority), a.AssignedAt, a.DueDate,
		a.AutoAssigned, a.AssignmentReason, a.Notes,
	).Scan(&a.ID, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create assignment for evidence %s: %w", a.EvidenceID, assignment.ErrDuplicate)
		}
		return fmt.Errorf("create assignment: %w", err)
	}
	return nil
}

func (s *Store) GetAssignment(ctx context.Context, id string) (*assignment.Assignment, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, evidence_id, validator_id, assigned_by_id, status, priority, assigned_at, due_date,
		        accepted_at, started_at, completed_at, escalated_at, auto_assigned, notification_sent, reminder_sent,
		        assignment_reason, notes, completion_notes, version, created_at, updated_at
		 FROM assignments WHERE id = $1`, id)

	a, err := scanAssignment(row)
	if err != nil {
		return nil, notFoundWrap(err, "get assignment %s", id)
	}
	return &a, nil
}

func (s *Store) ListAssignmentsByEvidence(ctx context.Context, evidenceID string) ([]assignment.Assignment, error) {
	return s.listAssignments(ctx,
		`SELECT id, evidence_id, validator_id, assigned_by_id, status, priority, assigned_at, due_date,
		        accepted_at, started_at, completed_at, escalated_at, auto_assigned, notification_sent, reminder_sent,
		        assignment_reason, notes, completion_notes, version, created_at, updated_at
		 FROM assignments WHERE evidence_id = $1 ORDER BY created_at DESC`, evidenceID)
}

func (s *Store) ListAssignmentsByValidator(ctx context.Context, validatorID string) ([]assignment.Assignment, error) {
	return s.listAssignments(ctx,
		`SELECT id, evidence_id, validator_id, assigned_by_id, status, priority, assigned_at, due_date,
		        accepted_at, started_at, completed_at, escalated_at, auto_assigned, notification_sent, reminder_sent,
		        assignment_reason, notes, completion_notes, version, created_at, updated_at
		 FROM assignments WHERE validator_id = $1 ORDER BY created_at DESC`, validatorID)
}

func (s *Store) HasActiveAssignment(ctx context.Context, validatorID, evidenceID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM assignments
		   WHERE validator_id = $1 AND evidence_id = $2 AND status IN ('assigned', 'accepted', 'in_progress')
		 )`, validatorID, evidenceID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active assignment: %w", err)
	}
	return exists, nil
}

func (s *Store) UpdateAssignment(ctx context.Context, a *assignment.Assignment) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE assignments SET status = $2, priority = $3, due_date = $4, accepted_at = $5, started_at = $6,
		        completed_at = $7, escalated_at = $8, notification_sent = $9, reminder_sent = $10,
		        assignment_reason = $11, notes = $12, completion_notes = $13, updated_at = now(),
		        version = version + 1
		 WHERE id = $1 AND version = $14`,
		a.ID, string(a.Status), string(a.Priority), a.DueDate, a.AcceptedAt, a.StartedAt,
		a.CompletedAt, a.EscalatedAt, a.NotificationSent, a.ReminderSent,
		a.AssignmentReason, a.Notes, a.CompletionNotes, a.Version)
	if err != nil {
		return fmt.Errorf("update assignment %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update assignment %s: %w", a.ID, domain.ErrConflict)
	}
	a.Version++
	return nil
}

// SwapAssignmentValidator moves an assignment to a new validator in one
// transaction: the old slot is released, the new slot is acquired under the
// capacity guard, and the assignment is rebound and reset to assigned.
func (s *Store) SwapAssignmentValidator(ctx context.Context, a *assignment.Assignment, newValidatorID string, now time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	tag, err := tx.Exec(ctx,
		`UPDATE validators SET current_assignments = GREATEST(current_assignments - 1, 0), updated_at = $2
		 WHERE id = $1`, a.ValidatorID, now)
	if err := execExpectOne(tag, err, "release slot for validator %s", a.ValidatorID); err != nil {
		return err
	}

	tag, err = tx.Exec(ctx,
		`UPDATE validators SET current_assignments = current_assignments + 1, last_activity_at = $2, updated_at = $2
		 WHERE id = $1 AND status = 'active' AND available AND current_assignments < max_assignments`,
		newValidatorID, now)
	if err != nil {
		return fmt.Errorf("acquire slot for validator %s: %w", newValidatorID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM validators WHERE id = $1)`, newValidatorID).Scan(&exists); err != nil {
			return fmt.Errorf("check validator %s: %w", newValidatorID, err)
		}
		if !exists {
			return fmt.Errorf("acquire slot for validator %s: %w", newValidatorID, domain.ErrNotFound)
		}
		return fmt.Errorf("acquire slot for validator %s: %w", newValidatorID, validator.ErrAtCapacity)
	}

	tag, err = tx.Exec(ctx,
		`UPDATE assignments SET validator_id = $2, status = 'assigned', priority = $3, due_date = $4,
		        accepted_at = NULL, started_at = NULL, notification_sent = false, reminder_sent = false,
		        assignment_reason = $5, updated_at = $6, version = version + 1
		 WHERE id = $1 AND version = $7`,
		a.ID, newValidatorID, string(a.Priority), a.DueDate, a.AssignmentReason, now, a.Version)
	if err != nil {
		return fmt.Errorf("rebind assignment %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rebind assignment %s: %w", a.ID, domain.ErrConflict)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit swap: %w", err)
	}

	a.ValidatorID = newValidatorID
	a.Status = assignment.StatusAssigned
	a.AcceptedAt = nil
	a.StartedAt = nil
	a.NotificationSent = false
	a.ReminderSent = false
	a.UpdatedAt = now
	a.Version++
	return nil
}

func (s *Store) ListOverdueAssignments(ctx context.Context, now time.Time) ([]assignment.Assignment, error) {
	return s.listAssignments(ctx,
		`SELECT id, evidence_id, validator_id, assigned_by_id, status, priority, assigned_at, due_date,
		        accepted_at, started_at, completed_at, escalated_at, auto_assigned, notification_sent, reminder_sent,
		        assignment_reason, notes, completion_notes, version, created_at, updated_at
		 FROM assignments
		 WHERE status IN ('assigned', 'accepted', 'in_progress') AND due_date < $1
		 ORDER BY due_date ASC`, now)
}

func (s *Store) ListAssignmentsDueWithin(ctx context.Context, now time.Time, window time.Duration) ([]assignment.Assignment, error) {
	return s.listAssignments(ctx,
		`SELECT id, evidence_id, validator_id, assigned_by_id, status, priority, assigned_at, due_date,
		        accepted_at, started_at, completed_at, escalated_at, auto_assigned, notification_sent, reminder_sent,
		        assignment_reason, notes, completion_notes, version, created_at, updated_at
		 FROM assignments
		 WHERE status IN ('assigned', 'accepted', 'in_progress')
		   AND reminder_sent = false
		   AND due_date >= $1 AND due_date < $2
		 ORDER BY due_date ASC`, now, now.Add(window))
}

func (s *Store) listAssignments(ctx context.Context, query string, args ...any) ([]assignment.Assignment, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var assignments []assignment.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

func scanAssignment(row scannable) (assignment.Assignment, error) {
	var a assignment.Assignment
	err := row.Scan(
		&a.ID, &a.EvidenceID, &a.ValidatorID, &a.AssignedByID, &a.Status, &a.Priority, &a.AssignedAt, &a.DueDate,
		&a.AcceptedAt, &a.StartedAt, &a.CompletedAt, &a.EscalatedAt, &a.AutoAssigned, &a.NotificationSent, &a.ReminderSent,
		&a.AssignmentReason, &a.Notes, &a.CompletionNotes, &a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	return a, err
}
