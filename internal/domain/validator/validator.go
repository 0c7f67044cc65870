// Package validator defines the Validator domain entity: a reviewer's
// capacity, specialties, rating, and certification record.
package validator

import (
	"errors"
	"time"
)

// Status represents the lifecycle state of a validator.
type Status string

const (
	StatusPendingApproval Status = "pending_approval"
	StatusActive          Status = "active"
	StatusInactive        Status = "inactive"
	StatusSuspended       Status = "suspended"
	StatusRejected        Status = "rejected"
)

// MaxRating is the upper bound of the validator rating scale.
const MaxRating = 5.0

var (
	ErrAtCapacity = errors.New("validator is at assignment capacity")
	// ErrInvalidState covers rating/certification updates that would leave
	// the validator record inconsistent (negative rating, expiry before issue).
	ErrInvalidState     = errors.New("invalid validator state")
	ErrNotAcceptingWork = errors.New("validator is not accepting assignments")
	// ErrNotEligible means the identity collaborator refused the user for
	// the reviewer pool.
	ErrNotEligible = errors.New("user is not eligible to become a validator")
	// ErrNoneEligible means the auto-assignment pool was empty after
	// filtering by status, specialty, and rating.
	ErrNoneEligible      = errors.New("no eligible validator available")
	ErrUserIDRequired    = errors.New("validator user id is required")
	ErrCapacityRequired  = errors.New("max_assignments must be >= 1")
	ErrRatingOutOfRange  = errors.New("rating must be between 0.0 and 5.0")
	ErrCertExpiryInvalid = errors.New("certification expiry must be after issue time")
)

// Validator is the capability and workload record for a person who may
// review evidence. It is never hard-deleted; decommissioning is a status
// transition.
type Validator struct {
	ID                    string     `json:"id"`
	UserID                string     `json:"user_id"`
	Status                Status     `json:"status"`
	Specialties           []string   `json:"specialties"`
	MaxAssignments        int        `json:"max_assignments"`
	CurrentAssignments    int        `json:"current_assignments"`
	Available             bool       `json:"available"`
	Rating                float64    `json:"rating"`
	TotalValidations      int        `json:"total_validations"`
	SuccessfulValidations int        `json:"successful_validations"`
	CertificationLevel    string     `json:"certification_level,omitempty"`
	CertifiedAt           *time.Time `json:"certified_at,omitempty"`
	CertExpiresAt         *time.Time `json:"cert_expires_at,omitempty"`
	LastActivityAt        time.Time  `json:"last_activity_at"`
	Version               int        `json:"version"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// RegisterRequest holds the fields needed to register a new validator.
type RegisterRequest struct {
	UserID         string   `json:"user_id"`
	Specialties    []string `json:"specialties,omitempty"`
	MaxAssignments int      `json:"max_assignments"`
}

// Validate checks the register request for correctness.
func (r *RegisterRequest) Validate() error {
	if r.UserID == "" {
		return ErrUserIDRequired
	}
	if r.MaxAssignments < 1 {
		return ErrCapacityRequired
	}
	return nil
}

// CanAcceptAssignment reports whether the validator may take on new work.
// Capacity is also enforced atomically at the store; this check exists so
// selection can skip validators without burning a store round-trip.
func (v *Validator) CanAcceptAssignment() bool {
	return v.Status == StatusActive && v.Available && v.CurrentAssignments < v.MaxAssignments
}

// IsCertified reports whether the validator holds a currently valid
// certification. A certification with no expiry never lapses.
func (v *Validator) IsCertified(now time.Time) bool {
	if v.CertifiedAt == nil {
		return false
	}
	return v.CertExpiresAt == nil || v.CertExpiresAt.After(now)
}

// SuccessRate returns the fraction of validations deemed successful,
// or 0 when the validator has no history yet.
func (v *Validator) SuccessRate() float64 {
	if v.TotalValidations == 0 {
		return 0
	}
	return float64(v.SuccessfulValidations) / float64(v.TotalValidations)
}

// HasSpecialty reports whether the validator carries the given specialty tag.
// An empty tag matches every validator.
func (v *Validator) HasSpecialty(tag string) bool {
	if tag == "" {
		return true
	}
	for _, s := range v.Specialties {
		if s == tag {
			return true
		}
	}
	return false
}
