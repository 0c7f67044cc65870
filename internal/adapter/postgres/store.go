package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/proofworks/ProofWorks/internal/domain"
	"github.com/proofworks/ProofWorks/internal/domain/validator"
	"github.com/proofworks/ProofWorks/internal/port/database"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Validators ---

func (s *Store) CreateValidator(ctx context.Context, v *validator.Validator) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO validators (user_id, status, specialties, max_assignments, available, certification_level, last_activity_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, current_assignments, rating, total_validations, successful_validations, version, created_at, updated_at`,
		v.UserID, string(v.Status), pgTextArray(v.Specialties), v.MaxAssignments, v.Available, v.CertificationLevel, v.LastActivityAt,
	).Scan(&v.ID, &v.CurrentAssignments, &v.Rating, &v.TotalValidations, &v.SuccessfulValidations, &v.Version, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create validator for user %s: %w", v.UserID, domain.ErrConflict)
		}
		return fmt.Errorf("create validator: %w", err)
	}
	return nil
}

func (s *Store) GetValidator(ctx context.Context, id string) (*validator.Validator, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, user_id, status, specialties, max_assignments, current_assignments, available, rating,
		        total_validations, successful_validations, certification_level, certified_at, cert_expires_at,
		        last_activity_at, version, created_at, updated_at
		 FROM validators WHERE id = $1`, id)

	v, err := scanValidator(row)
	if err != nil {
		return nil, notFoundWrap(err, "get validator %s", id)
	}
	return &v, nil
}

func (s *Store) GetValidatorByUser(ctx context.Context, userID string) (*validator.Validator, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, user_id, status, specialties, max_assignments, current_assignments, available, rating,
		        total_validations, successful_validations, certification_level, certified_at, cert_expires_at,
		        last_activity_at, version, created_at, updated_at
		 FROM validators WHERE user_id = $1`, userID)

	v, err := scanValidator(row)
	if err != nil {
		return nil, notFoundWrap(err, "get validator for user %s", userID)
	}
	return &v, nil
}

func (s *Store) ListValidators(ctx context.Context, filter database.ValidatorFilter) ([]validator.Validator, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, status, specialties, max_assignments, current_assignments, available, rating,
		        total_validations, successful_validations, certification_level, certified_at, cert_expires_at,
		        last_activity_at, version, created_at, updated_at
		 FROM validators
		 WHERE ($1 = '' OR status = $1)
		   AND ($2 = '' OR $2 = ANY(specialties))
		   AND rating >= $3
		 ORDER BY current_assignments ASC, rating DESC, last_activity_at ASC`,
		string(filter.Status), filter.Specialty, filter.MinRating)
	if err != nil {
		return nil, fmt.Errorf("list validators: %w", err)
	}
	defer rows.Close()

	var validators []validator.Validator
	for rows.Next() {
		v, err := scanValidator(rows)
		if err != nil {
			return nil, fmt.Errorf("scan validator: %w", err)
		}
		validators = append(validators, v)
	}
	return validators, rows.Err()
}

func (s *Store) UpdateValidator(ctx context.Context, v *validator.Validator) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE validators SET status = $2, specialties = $3, max_assignments = $4, available = $5, rating = $6,
		        certification_level = $7, certified_at = $8, cert_expires_at = $9, updated_at = now(),
		        version = version + 1
		 WHERE id = $1 AND version = $10`,
		v.ID, string(v.Status), pgTextArray(v.Specialties), v.MaxAssignments, v.Available, v.Rating,
		v.CertificationLevel, v.CertifiedAt, v.CertExpiresAt, v.Version)
	if err != nil {
		return fmt.Errorf("update validator %s: %w", v.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update validator %s: %w", v.ID, domain.ErrConflict)
	}
	v.Version++
	return nil
}

// AcquireValidatorSlot increments the workload counter in a single guarded
// UPDATE so concurrent acquisitions can never exceed max_assignments.
func (s *Store) AcquireValidatorSlot(ctx context.Context, id string, now time.Time) (*validator.Validator, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE validators
		 SET current_assignments = current_assignments + 1, last_activity_at = $2, updated_at = $2
		 WHERE id = $1 AND status = 'active' AND available AND current_assignments < max_assignments
		 RETURNING id, user_id, status, specialties, max_assignments, current_assignments, available, rating,
		           total_validations, successful_validations, certification_level, certified_at, cert_expires_at,
		           last_activity_at, version, created_at, updated_at`, id, now)

	v, err := scanValidator(row)
	if err == nil {
		return &v, nil
	}

	// The guard rejected the update. Distinguish missing, unavailable and full.
	existing, getErr := s.GetValidator(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if existing.Status != validator.StatusActive || !existing.Available {
		return nil, fmt.Errorf("acquire slot for validator %s: %w", id, validator.ErrNotAcceptingWork)
	}
	return nil, fmt.Errorf("acquire slot for validator %s: %w", id, validator.ErrAtCapacity)
}

// ReleaseValidatorSlot decrements the workload counter, clamping at zero.
func (s *Store) ReleaseValidatorSlot(ctx context.Context, id string, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE validators
		 SET current_assignments = GREATEST(current_assignments - 1, 0), updated_at = $2
		 WHERE id = $1`, id, now)
	return execExpectOne(tag, err, "release slot for validator %s", id)
}

func (s *Store) RecordValidatorOutcome(ctx context.Context, id string, successful bool, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE validators
		 SET total_validations = total_validations + 1,
		     successful_validations = successful_validations + CASE WHEN $2 THEN 1 ELSE 0 END,
		     last_activity_at = $3, updated_at = $3
		 WHERE id = $1`, id, successful, now)
	return execExpectOne(tag, err, "record outcome for validator %s", id)
}

func scanValidator(row scannable) (validator.Validator, error) {
	var v validator.Validator
	err := row.Scan(
		&v.ID, &v.UserID, &v.Status, &v.Specialties, &v.MaxAssignments, &v.CurrentAssignments, &v.Available, &v.Rating,
		&v.TotalValidations, &v.SuccessfulValidations, &v.CertificationLevel, &v.CertifiedAt, &v.CertExpiresAt,
		&v.LastActivityAt, &v.Version, &v.CreatedAt, &v.UpdatedAt,
	)
	return v, err
}
