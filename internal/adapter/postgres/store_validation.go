package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/proofworks/ProofWorks/internal/domain"
	"github.com/proofworks/ProofWorks/internal/domain/validation"
)

// --- Validations ---

func (s *Store) CreateValidation(ctx context.Context, v *validation.Validation) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO validations (evidence_id, validator_id, assignment_id, type, accuracy, completeness, relevance, quality,
		                          overall_score, confidence, decision, comments, internal_notes, feedback,
		                          requires_review, review_reason, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 RETURNING id, created_at, updated_at`,
		v.EvidenceID, nullIfEmpty(v.ValidatorID), nullIfEmpty(v.AssignmentID), string(v.Type),
		v.Scores.Accuracy, v.Scores.Completeness, v.Scores.Relevance, v.Scores.Quality,
		v.OverallScore, v.Confidence, v.Decision, v.Comments, v.InternalNotes, v.Feedback,
		v.RequiresReview, v.ReviewReason, v.CompletedAt,
	).Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create validation for evidence %s: %w", v.EvidenceID, validation.ErrDuplicate)
		}
		if isForeignKeyViolation(err) {
			// A dangling validator or assignment reference, not a new row.
			return fmt.Errorf("create validation for evidence %s: %w", v.EvidenceID, domain.ErrNotFound)
		}
		return fmt.Errorf("create validation: %w", err)
	}
	return nil
}

func (s *Store) GetValidation(ctx context.Context, id string) (*validation.Validation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, evidence_id, COALESCE(validator_id::text, ''), COALESCE(assignment_id::text, ''), type,
		        accuracy, completeness, relevance, quality, overall_score, confidence, decision, comments,
		        internal_notes, feedback, requires_review, review_reason, completed_at, created_at, updated_at
		 FROM validations WHERE id = $1`, id)

	v, err := scanValidation(row)
	if err != nil {
		return nil, notFoundWrap(err, "get validation %s", id)
	}
	return &v, nil
}

// ListValidationsByEvidence reads all validations for an evidence item in a
// repeatable-read transaction so consensus always sees a consistent snapshot.
func (s *Store) ListValidationsByEvidence(ctx context.Context, evidenceID string) ([]validation.Validation, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	rows, err := tx.Query(ctx,
		`SELECT id, evidence_id, COALESCE(validator_id::text, ''), COALESCE(assignment_id::text, ''), type,
		        accuracy, completeness, relevance, quality, overall_score, confidence, decision, comments,
		        internal_notes, feedback, requires_review, review_reason, completed_at, created_at, updated_at
		 FROM validations WHERE evidence_id = $1 ORDER BY created_at ASC`, evidenceID)
	if err != nil {
		return nil, fmt.Errorf("list validations: %w", err)
	}
	defer rows.Close()

	var validations []validation.Validation
	for rows.Next() {
		v, err := scanValidation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan validation: %w", err)
		}
		validations = append(validations, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit snapshot tx: %w", err)
	}
	return validations, nil
}

func (s *Store) HasValidationOfType(ctx context.Context, evidenceID, validatorID string, typ validation.Type) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM validations WHERE evidence_id = $1 AND validator_id = $2 AND type = $3
		 )`, evidenceID, validatorID, string(typ)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check validation of type: %w", err)
	}
	return exists, nil
}

func (s *Store) UpdateValidation(ctx context.Context, v *validation.Validation) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE validations SET confidence = $2, decision = $3, feedback = $4, requires_review = $5,
		        review_reason = $6, completed_at = $7, updated_at = now()
		 WHERE id = $1`,
		v.ID, v.Confidence, v.Decision, v.Feedback, v.RequiresReview, v.ReviewReason, v.CompletedAt)
	return execExpectOne(tag, err, "update validation %s", v.ID)
}

func scanValidation(row scannable) (validation.Validation, error) {
	var v validation.Validation
	err := row.Scan(
		&v.ID, &v.EvidenceID, &v.ValidatorID, &v.AssignmentID, &v.Type,
		&v.Scores.Accuracy, &v.Scores.Completeness, &v.Scores.Relevance, &v.Scores.Quality,
		&v.OverallScore, &v.Confidence, &v.Decision, &v.Comments,
		&v.InternalNotes, &v.Feedback, &v.RequiresReview, &v.ReviewReason, &v.CompletedAt, &v.CreatedAt, &v.UpdatedAt,
	)
	return v, err
}
