// Package validation defines the Validation domain entity: one recorded
// opinion about one evidence item, with per-dimension scores on the
// canonical 0.00-1.00 scale.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Type identifies who (or what) produced a validation.
type Type string

const (
	TypeAutomatic      Type = "automatic"
	TypePeer           Type = "peer"
	TypeModerator      Type = "moderator"
	TypeSelfAssessment Type = "self_assessment"
	TypeManual         Type = "manual"
	TypeExpert         Type = "expert"
)

// WeightByType maps each validation type to its weight. Reserved for
// weighted consensus; current consensus counts each opinion equally.
var WeightByType = map[Type]int{
	TypeModerator:      100,
	TypeExpert:         100,
	TypePeer:           70,
	TypeManual:         70,
	TypeAutomatic:      50,
	TypeSelfAssessment: 30,
}

// Confidence bands assigned by the recorder.
const (
	ConfidenceHigh   = 0.90
	ConfidenceMedium = 0.70
	ConfidenceAuto   = 0.60
	ConfidenceLow    = 0.30
)

var (
	ErrScoreOutOfRange = errors.New("score out of range: must be between 0.0 and 1.0")
	// ErrDuplicate indicates this validator already recorded a validation of
	// this type for the evidence item.
	ErrDuplicate             = errors.New("validation already recorded for validator and evidence")
	ErrInvalidType           = errors.New("invalid validation type")
	ErrEvidenceRequired      = errors.New("evidence id is required")
	ErrValidatorRequired     = errors.New("validator id is required for this validation type")
	ErrNoScores              = errors.New("at least one score dimension is required")
	ErrCertificationRequired = errors.New("expert validation requires a certified validator")
)

// Scores holds the per-dimension scores of a validation. A nil dimension
// means the reviewer did not score it; Overall averages only the supplied
// dimensions.
type Scores struct {
	Accuracy     *float64 `json:"accuracy,omitempty"`
	Completeness *float64 `json:"completeness,omitempty"`
	Relevance    *float64 `json:"relevance,omitempty"`
	Quality      *float64 `json:"quality,omitempty"`
}

// Validate checks every supplied dimension against the canonical range.
func (s Scores) Validate() error {
	for name, v := range s.dimensions() {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s %.2f: %w", name, *v, ErrScoreOutOfRange)
		}
	}
	return nil
}

// Overall returns the mean of the supplied dimensions, and false when no
// dimension was scored.
func (s Scores) Overall() (float64, bool) {
	sum, n := 0.0, 0
	for _, v := range s.dimensions() {
		if v != nil {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func (s Scores) dimensions() map[string]*float64 {
	return map[string]*float64{
		"accuracy":     s.Accuracy,
		"completeness": s.Completeness,
		"relevance":    s.Relevance,
		"quality":      s.Quality,
	}
}

// Validation is one opinion about one evidence item. Once CompletedAt is
// set the record is immutable except for review annotations appended to
// the feedback text.
type Validation struct {
	ID             string     `json:"id"`
	EvidenceID     string     `json:"evidence_id"`
	ValidatorID    string     `json:"validator_id,omitempty"` // empty for automatic validations
	AssignmentID   string     `json:"assignment_id,omitempty"`
	Type           Type       `json:"type"`
	Scores         Scores     `json:"scores"`
	OverallScore   float64    `json:"overall_score"`
	Confidence     float64    `json:"confidence"`
	Decision       string     `json:"decision,omitempty"`
	Comments       string     `json:"comments,omitempty"`
	InternalNotes  string     `json:"internal_notes,omitempty"`
	Feedback       string     `json:"feedback,omitempty"`
	RequiresReview bool       `json:"requires_review"`
	ReviewReason   string     `json:"review_reason,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// RecordRequest holds the fields needed to record a human validation.
type RecordRequest struct {
	EvidenceID   string `json:"evidence_id"`
	ValidatorID  string `json:"validator_id"`
	AssignmentID string `json:"assignment_id,omitempty"`
	Type         Type   `json:"type,omitempty"`
	Scores       Scores `json:"scores"`
	Decision     string `json:"decision,omitempty"`
	Comments     string `json:"comments,omitempty"`
}

// Validate checks the record request for correctness. An empty type
// defaults to manual.
func (r *RecordRequest) Validate() error {
	if r.EvidenceID == "" {
		return ErrEvidenceRequired
	}
	if r.Type == "" {
		r.Type = TypeManual
	}
	if !ValidType(r.Type) {
		return ErrInvalidType
	}
	if r.Type != TypeAutomatic && r.ValidatorID == "" {
		return ErrValidatorRequired
	}
	return r.Scores.Validate()
}

// ValidType reports whether t is one of the known validation types.
func ValidType(t Type) bool {
	_, ok := WeightByType[t]
	return ok
}

// ExclusivePerValidator reports whether the type allows at most one
// validation per (validator, evidence) pair.
func ExclusivePerValidator(t Type) bool {
	switch t {
	case TypeManual, TypePeer, TypeModerator:
		return true
	default:
		return false
	}
}

// Flag marks the validation for human review, forcing confidence down to
// the low band and appending a structured annotation to the feedback text.
func (v *Validation) Flag(reason string, now time.Time) {
	v.RequiresReview = true
	v.ReviewReason = reason
	v.Confidence = ConfidenceLow
	v.appendAnnotation("FLAGGED FOR REVIEW", reason, now)
	v.UpdatedAt = now
}

// Escalate appends an escalation annotation to the feedback text.
func (v *Validation) Escalate(reason string, now time.Time) {
	v.appendAnnotation("ESCALATED", reason, now)
	v.UpdatedAt = now
}

func (v *Validation) appendAnnotation(tag, reason string, now time.Time) {
	note := fmt.Sprintf("[%s %s] %s", tag, now.UTC().Format(time.RFC3339), reason)
	if v.Feedback == "" {
		v.Feedback = note
		return
	}
	v.Feedback = strings.TrimRight(v.Feedback, "\n") + "\n" + note
}
