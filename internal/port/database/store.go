// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/proofworks/ProofWorks/internal/domain/assignment"
	"github.com/proofworks/ProofWorks/internal/domain/validation"
	"github.com/proofworks/ProofWorks/internal/domain/validator"
)

// ValidatorFilter narrows validator listings for auto-assignment selection.
type ValidatorFilter struct {
	Status    validator.Status
	Specialty string
	MinRating float64
}

// Store is the port interface for workflow persistence.
//
// Slot operations must be atomic: AcquireValidatorSlot increments the
// workload counter only while the validator can accept work and fails with
// validator.ErrAtCapacity otherwise, so concurrent assignment requests can
// never over-commit a validator. Update operations use optimistic locking on
// the entity version and fail with domain.ErrConflict on a stale write.
type Store interface {
	// Validators
	CreateValidator(ctx context.Context, v *validator.Validator) error
	GetValidator(ctx context.Context, id string) (*validator.Validator, error)
	GetValidatorByUser(ctx context.Context, userID string) (*validator.Validator, error)
	ListValidators(ctx context.Context, filter ValidatorFilter) ([]validator.Validator, error)
	UpdateValidator(ctx context.Context, v *validator.Validator) error
	AcquireValidatorSlot(ctx context.Context, id string, now time.Time) (*validator.Validator, error)
	ReleaseValidatorSlot(ctx context.Context, id string, now time.Time) error
	RecordValidatorOutcome(ctx context.Context, id string, successful bool, now time.Time) error

	// Assignments
	CreateAssignment(ctx context.Context, a *assignment.Assignment) error
	GetAssignment(ctx context.Context, id string) (*assignment.Assignment, error)
	ListAssignmentsByEvidence(ctx context.Context, evidenceID string) ([]assignment.Assignment, error)
	ListAssignmentsByValidator(ctx context.Context, validatorID string) ([]assignment.Assignment, error)
	HasActiveAssignment(ctx context.Context, validatorID, evidenceID string) (bool, error)
	UpdateAssignment(ctx context.Context, a *assignment.Assignment) error
	// SwapAssignmentValidator atomically releases the current validator's
	// slot, acquires the new validator's slot, and rebinds the assignment.
	// No slot is consumed when any step fails.
	SwapAssignmentValidator(ctx context.Context, a *assignment.Assignment, newValidatorID string, now time.Time) error
	ListOverdueAssignments(ctx context.Context, now time.Time) ([]assignment.Assignment, error)
	ListAssignmentsDueWithin(ctx context.Context, now time.Time, window time.Duration) ([]assignment.Assignment, error)

	// Validations
	CreateValidation(ctx context.Context, v *validation.Validation) error
	GetValidation(ctx context.Context, id string) (*validation.Validation, error)
	// ListValidationsByEvidence returns a consistent snapshot of all
	// validations for the evidence item; half-written records are never
	// visible.
	ListValidationsByEvidence(ctx context.Context, evidenceID string) ([]validation.Validation, error)
	HasValidationOfType(ctx context.Context, evidenceID, validatorID string, typ validation.Type) (bool, error)
	UpdateValidation(ctx context.Context, v *validation.Validation) error
}
