// Package memory provides an in-memory implementation of the database store
// port for tests and local development. It mirrors the PostgreSQL adapter's
// semantics: guarded slot counters, optimistic locking and duplicate
// detection behave identically.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/proofworks/ProofWorks/internal/domain"
	"github.com/proofworks/ProofWorks/internal/domain/assignment"
	"github.com/proofworks/ProofWorks/internal/domain/validation"
	"github.com/proofworks/ProofWorks/internal/domain/validator"
	"github.com/proofworks/ProofWorks/internal/port/database"
)

// Store keeps all workflow state in maps guarded by a single mutex.
type Store struct {
	mu          sync.RWMutex
	validators  map[string]*validator.Validator
	assignments map[string]*assignment.Assignment
	validations map[string]*validation.Validation
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{
		validators:  make(map[string]*validator.Validator),
		assignments: make(map[string]*assignment.Assignment),
		validations: make(map[string]*validation.Validation),
	}
}

// --- Validators ---

func (s *Store) CreateValidator(_ context.Context, v *validator.Validator) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.validators {
		if existing.UserID == v.UserID {
			return fmt.Errorf("create validator for user %s: %w", v.UserID, domain.ErrConflict)
		}
	}

	now := time.Now()
	v.ID = uuid.NewString()
	v.Version = 1
	v.CreatedAt = now
	v.UpdatedAt = now

	stored := copyValidator(v)
	s.validators[v.ID] = &stored
	return nil
}

func (s *Store) GetValidator(_ context.Context, id string) (*validator.Validator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.validators[id]
	if !ok {
		return nil, fmt.Errorf("get validator %s: %w", id, domain.ErrNotFound)
	}
	out := copyValidator(v)
	return &out, nil
}

func (s *Store) GetValidatorByUser(_ context.Context, userID string) (*validator.Validator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.validators {
		if v.UserID == userID {
			out := copyValidator(v)
			return &out, nil
		}
	}
	return nil, fmt.Errorf("get validator for user %s: %w", userID, domain.ErrNotFound)
}

func (s *Store) ListValidators(_ context.Context, filter database.ValidatorFilter) ([]validator.Validator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []validator.Validator
	for _, v := range s.validators {
		if filter.Status != "" && v.Status != filter.Status {
			continue
		}
		if !v.HasSpecialty(filter.Specialty) {
			continue
		}
		if v.Rating < filter.MinRating {
			continue
		}
		out = append(out, copyValidator(v))
	}

	// Selection order: least loaded first, then best rated, then least
	// recently active.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CurrentAssignments != out[j].CurrentAssignments {
			return out[i].CurrentAssignments < out[j].CurrentAssignments
		}
		if out[i].Rating != out[j].Rating {
			return out[i].Rating > out[j].Rating
		}
		return out[i].LastActivityAt.Before(out[j].LastActivityAt)
	})
	return out, nil
}

func (s *Store) UpdateValidator(_ context.Context, v *validator.Validator) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.validators[v.ID]
	if !ok {
		return fmt.Errorf("update validator %s: %w", v.ID, domain.ErrNotFound)
	}
	if existing.Version != v.Version {
		return fmt.Errorf("update validator %s: %w", v.ID, domain.ErrConflict)
	}

	existing.Status = v.Status
	existing.Specialties = append([]string(nil), v.Specialties...)
	existing.MaxAssignments = v.MaxAssignments
	existing.Available = v.Available
	existing.Rating = v.Rating
	existing.CertificationLevel = v.CertificationLevel
	existing.CertifiedAt = copyTime(v.CertifiedAt)
	existing.CertExpiresAt = copyTime(v.CertExpiresAt)
	existing.Version++
	existing.UpdatedAt = time.Now()
	v.Version = existing.Version
	return nil
}

func (s *Store) AcquireValidatorSlot(_ context.Context, id string, now time.Time) (*validator.Validator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.validators[id]
	if !ok {
		return nil, fmt.Errorf("acquire slot for validator %s: %w", id, domain.ErrNotFound)
	}
	if v.Status != validator.StatusActive || !v.Available {
		return nil, fmt.Errorf("acquire slot for validator %s: %w", id, validator.ErrNotAcceptingWork)
	}
	if v.CurrentAssignments >= v.MaxAssignments {
		return nil, fmt.Errorf("acquire slot for validator %s: %w", id, validator.ErrAtCapacity)
	}

	v.CurrentAssignments++
	v.LastActivityAt = now
	v.UpdatedAt = now
	out := copyValidator(v)
	return &out, nil
}

func (s *Store) ReleaseValidatorSlot(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.validators[id]
	if !ok {
		return fmt.Errorf("release slot for validator %s: %w", id, domain.ErrNotFound)
	}
	if v.CurrentAssignments > 0 {
		v.CurrentAssignments--
	}
	v.UpdatedAt = now
	return nil
}

func (s *Store) RecordValidatorOutcome(_ context.Context, id string, successful bool, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.validators[id]
	if !ok {
		return fmt.Errorf("record outcome for validator %s: %w", id, domain.ErrNotFound)
	}
	v.TotalValidations++
	if successful {
		v.SuccessfulValidations++
	}
	v.LastActivityAt = now
	v.UpdatedAt = now
	return nil
}

// --- Assignments ---

func (s *Store) CreateAssignment(_ context.Context, a *assignment.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.assignments {
		if existing.ValidatorID == a.ValidatorID && existing.EvidenceID == a.EvidenceID && !existing.Status.IsTerminal() {
			return fmt.Errorf("create assignment for evidence %s: %w", a.EvidenceID, assignment.ErrDuplicate)
		}
	}

	now := time.Now()
	a.ID = uuid.NewString()
	a.Version = 1
	a.CreatedAt = now
	a.UpdatedAt = now

	stored := copyAssignment(a)
	s.assignments[a.ID] = &stored
	return nil
}

func (s *Store) GetAssignment(_ context.Context, id string) (*assignment.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assignments[id]
	if !ok {
		return nil, fmt.Errorf("get assignment %s: %w", id, domain.ErrNotFound)
	}
	out := copyAssignment(a)
	return &out, nil
}

func (s *Store) ListAssignmentsByEvidence(_ context.Context, evidenceID string) ([]assignment.Assignment, error) {
	return s.listAssignments(func(a *assignment.Assignment) bool {
		return a.EvidenceID == evidenceID
	}), nil
}

func (s *Store) ListAssignmentsByValidator(_ context.Context, validatorID string) ([]assignment.Assignment, error) {
	return s.listAssignments(func(a *assignment.Assignment) bool {
		return a.ValidatorID == validatorID
	}), nil
}

func (s *Store) HasActiveAssignment(_ context.Context, validatorID, evidenceID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.assignments {
		if a.ValidatorID == validatorID && a.EvidenceID == evidenceID && !a.Status.IsTerminal() {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) UpdateAssignment(_ context.Context, a *assignment.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.assignments[a.ID]
	if !ok {
		return fmt.Errorf("update assignment %s: %w", a.ID, domain.ErrNotFound)
	}
	if existing.Version != a.Version {
		return fmt.Errorf("update assignment %s: %w", a.ID, domain.ErrConflict)
	}

	updated := copyAssignment(a)
	updated.Version = existing.Version + 1
	updated.UpdatedAt = time.Now()
	s.assignments[a.ID] = &updated
	a.Version = updated.Version
	return nil
}

func (s *Store) SwapAssignmentValidator(_ context.Context, a *assignment.Assignment, newValidatorID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.assignments[a.ID]
	if !ok {
		return fmt.Errorf("rebind assignment %s: %w", a.ID, domain.ErrNotFound)
	}
	if existing.Version != a.Version {
		return fmt.Errorf("rebind assignment %s: %w", a.ID, domain.ErrConflict)
	}

	next, ok := s.validators[newValidatorID]
	if !ok {
		return fmt.Errorf("acquire slot for validator %s: %w", newValidatorID, domain.ErrNotFound)
	}
	if next.Status != validator.StatusActive || !next.Available || next.CurrentAssignments >= next.MaxAssignments {
		return fmt.Errorf("acquire slot for validator %s: %w", newValidatorID, validator.ErrAtCapacity)
	}

	if prev, ok := s.validators[existing.ValidatorID]; ok && prev.CurrentAssignments > 0 {
		prev.CurrentAssignments--
		prev.UpdatedAt = now
	}
	next.CurrentAssignments++
	next.LastActivityAt = now
	next.UpdatedAt = now

	existing.ValidatorID = newValidatorID
	existing.Status = assignment.StatusAssigned
	existing.Priority = a.Priority
	existing.DueDate = a.DueDate
	existing.AcceptedAt = nil
	existing.StartedAt = nil
	existing.NotificationSent = false
	existing.ReminderSent = false
	existing.AssignmentReason = a.AssignmentReason
	existing.UpdatedAt = now
	existing.Version++

	a.ValidatorID = newValidatorID
	a.Status = assignment.StatusAssigned
	a.AcceptedAt = nil
	a.StartedAt = nil
	a.NotificationSent = false
	a.ReminderSent = false
	a.UpdatedAt = now
	a.Version = existing.Version
	return nil
}

func (s *Store) ListOverdueAssignments(_ context.Context, now time.Time) ([]assignment.Assignment, error) {
	return s.listAssignments(func(a *assignment.Assignment) bool {
		return a.IsOverdue(now)
	}), nil
}

func (s *Store) ListAssignmentsDueWithin(_ context.Context, now time.Time, window time.Duration) ([]assignment.Assignment, error) {
	limit := now.Add(window)
	return s.listAssignments(func(a *assignment.Assignment) bool {
		return !a.Status.IsTerminal() && !a.ReminderSent &&
			!a.DueDate.Before(now) && a.DueDate.Before(limit)
	}), nil
}

func (s *Store) listAssignments(match func(*assignment.Assignment) bool) []assignment.Assignment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []assignment.Assignment
	for _, a := range s.assignments {
		if match(a) {
			out = append(out, copyAssignment(a))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// --- Validations ---

func (s *Store) CreateValidation(_ context.Context, v *validation.Validation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Mirrors the validator_id foreign key in postgres.
	if v.ValidatorID != "" {
		if _, ok := s.validators[v.ValidatorID]; !ok {
			return fmt.Errorf("create validation for evidence %s: %w", v.EvidenceID, domain.ErrNotFound)
		}
	}

	if validation.ExclusivePerValidator(v.Type) {
		for _, existing := range s.validations {
			if existing.EvidenceID == v.EvidenceID && existing.ValidatorID == v.ValidatorID && existing.Type == v.Type {
				return fmt.Errorf("create validation for evidence %s: %w", v.EvidenceID, validation.ErrDuplicate)
			}
		}
	}

	now := time.Now()
	v.ID = uuid.NewString()
	v.CreatedAt = now
	v.UpdatedAt = now

	stored := copyValidation(v)
	s.validations[v.ID] = &stored
	return nil
}

func (s *Store) GetValidation(_ context.Context, id string) (*validation.Validation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.validations[id]
	if !ok {
		return nil, fmt.Errorf("get validation %s: %w", id, domain.ErrNotFound)
	}
	out := copyValidation(v)
	return &out, nil
}

func (s *Store) ListValidationsByEvidence(_ context.Context, evidenceID string) ([]validation.Validation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []validation.Validation
	for _, v := range s.validations {
		if v.EvidenceID == evidenceID {
			out = append(out, copyValidation(v))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) HasValidationOfType(_ context.Context, evidenceID, validatorID string, typ validation.Type) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.validations {
		if v.EvidenceID == evidenceID && v.ValidatorID == validatorID && v.Type == typ {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) UpdateValidation(_ context.Context, v *validation.Validation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.validations[v.ID]
	if !ok {
		return fmt.Errorf("update validation %s: %w", v.ID, domain.ErrNotFound)
	}

	existing.Confidence = v.Confidence
	existing.Decision = v.Decision
	existing.Feedback = v.Feedback
	existing.RequiresReview = v.RequiresReview
	existing.ReviewReason = v.ReviewReason
	existing.CompletedAt = copyTime(v.CompletedAt)
	existing.UpdatedAt = time.Now()
	return nil
}

// --- Copy helpers ---

func copyValidator(v *validator.Validator) validator.Validator {
	out := *v
	out.Specialties = append([]string(nil), v.Specialties...)
	out.CertifiedAt = copyTime(v.CertifiedAt)
	out.CertExpiresAt = copyTime(v.CertExpiresAt)
	return out
}

func copyAssignment(a *assignment.Assignment) assignment.Assignment {
	out := *a
	out.AcceptedAt = copyTime(a.AcceptedAt)
	out.StartedAt = copyTime(a.StartedAt)
	out.CompletedAt = copyTime(a.CompletedAt)
	out.EscalatedAt = copyTime(a.EscalatedAt)
	return out
}

func copyValidation(v *validation.Validation) validation.Validation {
	out := *v
	out.Scores.Accuracy = copyFloat(v.Scores.Accuracy)
	out.Scores.Completeness = copyFloat(v.Scores.Completeness)
	out.Scores.Relevance = copyFloat(v.Scores.Relevance)
	out.Scores.Quality = copyFloat(v.Scores.Quality)
	out.CompletedAt = copyTime(v.CompletedAt)
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	c := *f
	return &c
}
