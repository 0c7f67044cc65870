package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/proofworks/ProofWorks/internal/adapter/otel"
	"github.com/proofworks/ProofWorks/internal/adapter/ws"
	"github.com/proofworks/ProofWorks/internal/config"
	"github.com/proofworks/ProofWorks/internal/domain/validation"
	"github.com/proofworks/ProofWorks/internal/domain/validator"
	"github.com/proofworks/ProofWorks/internal/port/broadcast"
	"github.com/proofworks/ProofWorks/internal/port/database"
	"github.com/proofworks/ProofWorks/internal/port/evidence"
	"github.com/proofworks/ProofWorks/internal/port/messagequeue"
)

// Confidence banding: scores at or beyond these bounds are "clear" and get
// the high confidence band; anything between is mixed.
const (
	scoreClearlyPositive = 0.85
	scoreClearlyNegative = 0.30
)

// Automatic heuristic scoring policy.
const (
	autoBaseScore       = 0.60
	autoAttachmentBonus = 0.20
	autoDetailBonus     = 0.15
	autoPerturbation    = 0.05
)

// RecorderService captures one reviewer's (or the automatic heuristic's)
// opinion about one evidence item.
type RecorderService struct {
	store     database.Store
	evidence  evidence.Provider
	consensus *ConsensusService
	queue     messagequeue.Queue
	hub       broadcast.Broadcaster
	metrics   *otel.Metrics
	threshold float64
	minDescr  int
	certLevel string

	// perturb returns a value in [0, 1); swappable for deterministic tests.
	perturb func() float64
}

// NewRecorderService creates a RecorderService with all dependencies.
func NewRecorderService(
	store database.Store,
	evidenceProvider evidence.Provider,
	consensusSvc *ConsensusService,
	queue messagequeue.Queue,
	hub broadcast.Broadcaster,
	metrics *otel.Metrics,
	cfg config.Workflow,
) *RecorderService {
	return &RecorderService{
		store:     store,
		evidence:  evidenceProvider,
		consensus: consensusSvc,
		queue:     queue,
		hub:       hub,
		metrics:   metrics,
		threshold: cfg.ApprovalThreshold,
		minDescr:  cfg.MinDescriptionLen,
		certLevel: cfg.CertRequiredLevel,
		perturb:   rand.Float64,
	}
}

// Record stores a human validation. Every supplied score dimension must be
// on the canonical 0.00-1.00 scale; the overall score is the mean of the
// supplied dimensions. Exclusive types (manual, peer, moderator) admit at
// most one validation per (validator, evidence) pair.
func (s *RecorderService) Record(ctx context.Context, req *validation.RecordRequest) (*validation.Validation, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validate record request: %w", err)
	}
	overall, ok := req.Scores.Overall()
	if !ok {
		return nil, validation.ErrNoScores
	}

	if _, err := s.evidence.Get(ctx, req.EvidenceID); err != nil {
		return nil, fmt.Errorf("fetch evidence %s: %w", req.EvidenceID, err)
	}

	if req.ValidatorID != "" {
		val, err := s.store.GetValidator(ctx, req.ValidatorID)
		if err != nil {
			return nil, fmt.Errorf("fetch validator %s: %w", req.ValidatorID, err)
		}
		if req.Type == validation.TypeExpert && !s.expertEligible(val, time.Now().UTC()) {
			return nil, validation.ErrCertificationRequired
		}
	}

	if validation.ExclusivePerValidator(req.Type) {
		exists, err := s.store.HasValidationOfType(ctx, req.EvidenceID, req.ValidatorID, req.Type)
		if err != nil {
			return nil, fmt.Errorf("check existing validation: %w", err)
		}
		if exists {
			return nil, validation.ErrDuplicate
		}
	}

	now := time.Now().UTC()
	v := &validation.Validation{
		EvidenceID:   req.EvidenceID,
		ValidatorID:  req.ValidatorID,
		AssignmentID: req.AssignmentID,
		Type:         req.Type,
		Scores:       req.Scores,
		OverallScore: overall,
		Confidence:   confidenceFor(overall),
		Decision:     req.Decision,
		Comments:     req.Comments,
		CompletedAt:  &now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateValidation(ctx, v); err != nil {
		return nil, fmt.Errorf("create validation: %w", err)
	}

	if err := s.store.RecordValidatorOutcome(ctx, req.ValidatorID, overall >= s.threshold, now); err != nil {
		slog.Error("record validator outcome", "validator_id", req.ValidatorID, "error", err)
	}

	s.afterRecord(ctx, v)

	// Standalone opinions (no assignment to complete) re-evaluate consensus
	// immediately; assignment-linked ones re-evaluate when the assignment
	// completes.
	if v.AssignmentID == "" {
		if _, err := s.consensus.Evaluate(ctx, v.EvidenceID); err != nil {
			slog.Error("consensus evaluation after validation", "evidence_id", v.EvidenceID, "error", err)
		}
	}
	return v, nil
}

// AutoValidate produces the deterministic heuristic opinion for an evidence
// item: a base score plus bonuses for attachments and a detailed
// description, with a small bounded perturbation, clamped to the canonical
// range.
func (s *RecorderService) AutoValidate(ctx context.Context, evidenceID string) (*validation.Validation, error) {
	if evidenceID == "" {
		return nil, validation.ErrEvidenceRequired
	}

	ctx, span := otel.StartAutoValidateSpan(ctx, evidenceID)
	defer span.End()

	ev, err := s.evidence.Get(ctx, evidenceID)
	if err != nil {
		return nil, fmt.Errorf("fetch evidence %s: %w", evidenceID, err)
	}

	score := autoBaseScore
	var notes []string
	if ev.HasAttachments() {
		score += autoAttachmentBonus
		notes = append(notes, "supporting attachments provided")
	} else {
		notes = append(notes, "no attachments provided")
	}
	if len(ev.Description) >= s.minDescr {
		score += autoDetailBonus
		notes = append(notes, "detailed description provided")
	} else {
		notes = append(notes, "description is brief")
	}
	score += (s.perturb()*2 - 1) * autoPerturbation
	score = clamp01(score)

	decision := "reject"
	if score >= s.threshold {
		decision = "approve"
	}

	now := time.Now().UTC()
	v := &validation.Validation{
		EvidenceID:   evidenceID,
		Type:         validation.TypeAutomatic,
		OverallScore: score,
		Confidence:   validation.ConfidenceAuto,
		Decision:     decision,
		Feedback:     "Automatic validation: " + strings.Join(notes, "; ") + ".",
		CompletedAt:  &now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateValidation(ctx, v); err != nil {
		return nil, fmt.Errorf("create automatic validation: %w", err)
	}

	s.afterRecord(ctx, v)

	if _, err := s.consensus.Evaluate(ctx, evidenceID); err != nil {
		slog.Error("consensus evaluation after auto-validation", "evidence_id", evidenceID, "error", err)
	}
	return v, nil
}

// expertEligible reports whether a validator may record expert-type
// validations: a current certification, at the configured level when one is
// set.
func (s *RecorderService) expertEligible(val *validator.Validator, now time.Time) bool {
	if !val.IsCertified(now) {
		return false
	}
	return s.certLevel == "" || val.CertificationLevel == s.certLevel
}

func (s *RecorderService) afterRecord(ctx context.Context, v *validation.Validation) {
	if s.metrics != nil {
		s.metrics.ValidationsRecorded.Add(ctx, 1)
	}
	publishJSON(ctx, s.queue, messagequeue.SubjectValidationRecorded, v)
	s.hub.Broadcast(broadcast.Event{Type: broadcast.EventValidationRecorded, Payload: ws.ValidationEvent{
		ValidationID: v.ID,
		EvidenceID:   v.EvidenceID,
		Type:         string(v.Type),
		OverallScore: v.OverallScore,
		Decision:     v.Decision,
	}})
	slog.Info("validation recorded",
		"validation_id", v.ID,
		"evidence_id", v.EvidenceID,
		"type", v.Type,
		"overall_score", v.OverallScore,
	)
}

// Get retrieves a validation by ID.
func (s *RecorderService) Get(ctx context.Context, id string) (*validation.Validation, error) {
	return s.store.GetValidation(ctx, id)
}

// ListByEvidence returns all validations for an evidence item.
func (s *RecorderService) ListByEvidence(ctx context.Context, evidenceID string) ([]validation.Validation, error) {
	return s.store.ListValidationsByEvidence(ctx, evidenceID)
}

// confidenceFor bands the reviewer confidence: clear approvals and clear
// rejections are high confidence, everything in between is mixed.
func confidenceFor(overall float64) float64 {
	if overall >= scoreClearlyPositive || overall <= scoreClearlyNegative {
		return validation.ConfidenceHigh
	}
	return validation.ConfidenceMedium
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
