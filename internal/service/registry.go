package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/proofworks/ProofWorks/internal/config"
	"github.com/proofworks/ProofWorks/internal/domain/validator"
	"github.com/proofworks/ProofWorks/internal/port/broadcast"
	"github.com/proofworks/ProofWorks/internal/port/database"
	"github.com/proofworks/ProofWorks/internal/port/identity"
	"github.com/proofworks/ProofWorks/internal/port/notifier"
)

// RegistryService manages the reviewer pool: registration, lifecycle,
// specialties, ratings, and certification.
type RegistryService struct {
	store           database.Store
	identity        identity.Provider
	notifications   *NotificationService
	hub             broadcast.Broadcaster
	defaultCapacity int
}

// NewRegistryService creates a RegistryService with all dependencies.
func NewRegistryService(
	store database.Store,
	identityProvider identity.Provider,
	notifications *NotificationService,
	hub broadcast.Broadcaster,
	cfg config.Workflow,
) *RegistryService {
	return &RegistryService{
		store:           store,
		identity:        identityProvider,
		notifications:   notifications,
		hub:             hub,
		defaultCapacity: cfg.MaxPerValidator,
	}
}

// Register adds a user to the reviewer pool in pending_approval state.
// The identity collaborator must confirm the user is eligible.
func (s *RegistryService) Register(ctx context.Context, req *validator.RegisterRequest) (*validator.Validator, error) {
	if req.MaxAssignments == 0 {
		req.MaxAssignments = s.defaultCapacity
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validate register request: %w", err)
	}

	eligible, err := s.identity.IsEligible(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("check eligibility for user %s: %w", req.UserID, err)
	}
	if !eligible {
		return nil, validator.ErrNotEligible
	}

	now := time.Now().UTC()
	v := &validator.Validator{
		UserID:         req.UserID,
		Status:         validator.StatusPendingApproval,
		Specialties:    req.Specialties,
		MaxAssignments: req.MaxAssignments,
		Available:      true,
		LastActivityAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateValidator(ctx, v); err != nil {
		return nil, fmt.Errorf("create validator: %w", err)
	}

	s.hub.Broadcast(broadcast.Event{Type: broadcast.EventValidatorRegistered, Payload: v})
	slog.Info("validator registered", "validator_id", v.ID, "user_id", v.UserID)
	return v, nil
}

// Approve moves a pending validator into the active pool.
func (s *RegistryService) Approve(ctx context.Context, id string) (*validator.Validator, error) {
	v, err := s.transition(ctx, id, []validator.Status{validator.StatusPendingApproval}, validator.StatusActive)
	if err != nil {
		return nil, err
	}
	s.notifications.Notify(ctx, notifier.Intent{
		RecipientID: v.UserID,
		Title:       "Validator application approved",
		Message:     "You can now receive evidence review assignments.",
		Level:       "info",
		Source:      "validator.approved",
		ResourceID:  v.ID,
	})
	return v, nil
}

// RejectRegistration declines a pending validator application.
func (s *RegistryService) RejectRegistration(ctx context.Context, id string) (*validator.Validator, error) {
	return s.transition(ctx, id, []validator.Status{validator.StatusPendingApproval}, validator.StatusRejected)
}

// Suspend removes an active validator from the pool without deleting the
// record.
func (s *RegistryService) Suspend(ctx context.Context, id string) (*validator.Validator, error) {
	return s.transition(ctx, id, []validator.Status{validator.StatusActive}, validator.StatusSuspended)
}

// Deactivate retires an active validator.
func (s *RegistryService) Deactivate(ctx context.Context, id string) (*validator.Validator, error) {
	return s.transition(ctx, id, []validator.Status{validator.StatusActive}, validator.StatusInactive)
}

// Reactivate returns a suspended or inactive validator to the active pool.
func (s *RegistryService) Reactivate(ctx context.Context, id string) (*validator.Validator, error) {
	return s.transition(ctx, id, []validator.Status{validator.StatusSuspended, validator.StatusInactive}, validator.StatusActive)
}

func (s *RegistryService) transition(ctx context.Context, id string, from []validator.Status, to validator.Status) (*validator.Validator, error) {
	v, err := s.store.GetValidator(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get validator %s: %w", id, err)
	}

	legal := false
	for _, f := range from {
		if v.Status == f {
			legal = true
			break
		}
	}
	if !legal {
		return nil, fmt.Errorf("%s -> %s: %w", v.Status, to, validator.ErrInvalidState)
	}

	v.Status = to
	v.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateValidator(ctx, v); err != nil {
		return nil, fmt.Errorf("update validator %s: %w", id, err)
	}
	slog.Info("validator status changed", "validator_id", v.ID, "status", v.Status)
	return v, nil
}

// SetAvailability flips the validator's soft on/off switch.
func (s *RegistryService) SetAvailability(ctx context.Context, id string, available bool) (*validator.Validator, error) {
	v, err := s.store.GetValidator(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get validator %s: %w", id, err)
	}
	v.Available = available
	v.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateValidator(ctx, v); err != nil {
		return nil, fmt.Errorf("update validator %s: %w", id, err)
	}
	return v, nil
}

// UpdateSpecialties replaces the validator's specialty tags.
func (s *RegistryService) UpdateSpecialties(ctx context.Context, id string, specialties []string) (*validator.Validator, error) {
	v, err := s.store.GetValidator(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get validator %s: %w", id, err)
	}
	v.Specialties = specialties
	v.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateValidator(ctx, v); err != nil {
		return nil, fmt.Errorf("update validator %s: %w", id, err)
	}
	return v, nil
}

// UpdateRating sets the validator's rating on the 0.0-5.0 scale.
func (s *RegistryService) UpdateRating(ctx context.Context, id string, rating float64) (*validator.Validator, error) {
	if rating < 0 || rating > validator.MaxRating {
		return nil, fmt.Errorf("rating %.2f: %w", rating, validator.ErrRatingOutOfRange)
	}
	v, err := s.store.GetValidator(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get validator %s: %w", id, err)
	}
	v.Rating = rating
	v.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateValidator(ctx, v); err != nil {
		return nil, fmt.Errorf("update validator %s: %w", id, err)
	}
	return v, nil
}

// RecordOutcome increments the validator's validation counters.
func (s *RegistryService) RecordOutcome(ctx context.Context, id string, successful bool) error {
	if err := s.store.RecordValidatorOutcome(ctx, id, successful, time.Now().UTC()); err != nil {
		return fmt.Errorf("record outcome for validator %s: %w", id, err)
	}
	return nil
}

// Certify grants the validator a certification level with an optional
// expiry. A nil expiry never lapses.
func (s *RegistryService) Certify(ctx context.Context, id, level string, expiresAt *time.Time) (*validator.Validator, error) {
	now := time.Now().UTC()
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, validator.ErrCertExpiryInvalid
	}
	v, err := s.store.GetValidator(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get validator %s: %w", id, err)
	}
	v.CertificationLevel = level
	v.CertifiedAt = &now
	v.CertExpiresAt = expiresAt
	v.UpdatedAt = now
	if err := s.store.UpdateValidator(ctx, v); err != nil {
		return nil, fmt.Errorf("update validator %s: %w", id, err)
	}
	slog.Info("validator certified", "validator_id", v.ID, "level", level)
	return v, nil
}

// RevokeCertification clears the validator's certification.
func (s *RegistryService) RevokeCertification(ctx context.Context, id string) (*validator.Validator, error) {
	v, err := s.store.GetValidator(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get validator %s: %w", id, err)
	}
	v.CertificationLevel = ""
	v.CertifiedAt = nil
	v.CertExpiresAt = nil
	v.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateValidator(ctx, v); err != nil {
		return nil, fmt.Errorf("update validator %s: %w", id, err)
	}
	return v, nil
}

// Get retrieves a validator by ID.
func (s *RegistryService) Get(ctx context.Context, id string) (*validator.Validator, error) {
	return s.store.GetValidator(ctx, id)
}

// GetByUser retrieves a validator by platform user ID.
func (s *RegistryService) GetByUser(ctx context.Context, userID string) (*validator.Validator, error) {
	return s.store.GetValidatorByUser(ctx, userID)
}

// List returns validators matching the filter.
func (s *RegistryService) List(ctx context.Context, filter database.ValidatorFilter) ([]validator.Validator, error) {
	return s.store.ListValidators(ctx, filter)
}
