package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/proofworks/ProofWorks/internal/config"
	"github.com/proofworks/ProofWorks/internal/domain"
	"github.com/proofworks/ProofWorks/internal/domain/validator"
	"github.com/proofworks/ProofWorks/internal/port/messagequeue"
)

// submittedEvent is the payload the evidence collaborator publishes when a
// new evidence item needs review.
type submittedEvent struct {
	EvidenceID string `json:"evidence_id"`
	Specialty  string `json:"specialty,omitempty"`
}

// applyEvent is the payload published when a user applies to join the
// reviewer pool.
type applyEvent struct {
	UserID         string   `json:"user_id"`
	Specialties    []string `json:"specialties,omitempty"`
	MaxAssignments int      `json:"max_assignments,omitempty"`
}

// IntakeService is the entry path of the workflow: it consumes
// evidence.submitted events and turns each into review work (a real
// assignment or, when no validator is eligible, the automatic heuristic),
// and routes reviewer-pool applications into the registry.
type IntakeService struct {
	queue      messagequeue.Queue
	scheduler  *SchedulerService
	recorder   *RecorderService
	registry   *RegistryService
	autoOnIdle bool
}

// NewIntakeService creates an IntakeService with all dependencies.
func NewIntakeService(queue messagequeue.Queue, scheduler *SchedulerService, recorder *RecorderService, registry *RegistryService, cfg config.Workflow) *IntakeService {
	return &IntakeService{
		queue:      queue,
		scheduler:  scheduler,
		recorder:   recorder,
		registry:   registry,
		autoOnIdle: cfg.AutoValidateOnIdle,
	}
}

// Start subscribes to the inbound subjects. The returned function cancels
// all subscriptions.
func (s *IntakeService) Start(ctx context.Context) (func(), error) {
	cancelEvidence, err := s.queue.Subscribe(ctx, messagequeue.SubjectEvidenceSubmitted, s.handle)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", messagequeue.SubjectEvidenceSubmitted, err)
	}
	cancelApply, err := s.queue.Subscribe(ctx, messagequeue.SubjectValidatorApply, s.handleApply)
	if err != nil {
		cancelEvidence()
		return nil, fmt.Errorf("subscribe %s: %w", messagequeue.SubjectValidatorApply, err)
	}
	slog.Info("intake subscribers started")
	return func() {
		cancelEvidence()
		cancelApply()
	}, nil
}

func (s *IntakeService) handle(ctx context.Context, _ string, data []byte) error {
	var ev submittedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		// A malformed message will never parse; drop it instead of redelivering.
		slog.Error("malformed evidence.submitted event", "error", err)
		return nil
	}
	if ev.EvidenceID == "" {
		slog.Error("evidence.submitted event without evidence_id")
		return nil
	}

	a, err := s.scheduler.AutoAssign(ctx, ev.EvidenceID, ev.Specialty, 0)
	if err == nil {
		slog.Info("evidence routed to validator",
			"evidence_id", ev.EvidenceID,
			"assignment_id", a.ID,
			"validator_id", a.ValidatorID,
		)
		return nil
	}
	if !errors.Is(err, validator.ErrNoneEligible) {
		return fmt.Errorf("auto-assign evidence %s: %w", ev.EvidenceID, err)
	}

	if !s.autoOnIdle {
		slog.Warn("no eligible validator, evidence left pending", "evidence_id", ev.EvidenceID)
		return nil
	}
	v, err := s.recorder.AutoValidate(ctx, ev.EvidenceID)
	if err != nil {
		return fmt.Errorf("auto-validate evidence %s: %w", ev.EvidenceID, err)
	}
	slog.Info("evidence auto-validated, no eligible validator",
		"evidence_id", ev.EvidenceID,
		"validation_id", v.ID,
		"score", v.OverallScore,
	)
	return nil
}

func (s *IntakeService) handleApply(ctx context.Context, _ string, data []byte) error {
	var app applyEvent
	if err := json.Unmarshal(data, &app); err != nil {
		slog.Error("malformed validators.apply event", "error", err)
		return nil
	}
	if app.UserID == "" {
		slog.Error("validators.apply event without user_id")
		return nil
	}

	v, err := s.registry.Register(ctx, &validator.RegisterRequest{
		UserID:         app.UserID,
		Specialties:    app.Specialties,
		MaxAssignments: app.MaxAssignments,
	})
	if err != nil {
		// Ineligible or duplicate applications are final; redelivery cannot fix them.
		if errors.Is(err, validator.ErrNotEligible) || errors.Is(err, domain.ErrConflict) {
			slog.Warn("validator application declined", "user_id", app.UserID, "error", err)
			return nil
		}
		return fmt.Errorf("register validator for user %s: %w", app.UserID, err)
	}
	slog.Info("validator application received", "validator_id", v.ID, "user_id", v.UserID)
	return nil
}
