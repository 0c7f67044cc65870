package service

import (
	"context"
	"testing"
	"time"

	"github.com/proofworks/ProofWorks/internal/config"
	"github.com/proofworks/ProofWorks/internal/domain/consensus"
	"github.com/proofworks/ProofWorks/internal/domain/validation"
	"github.com/proofworks/ProofWorks/internal/port/broadcast"
	"github.com/proofworks/ProofWorks/internal/port/messagequeue"
)

func completedValidation(id, evidenceID, validatorID string, typ validation.Type, overall float64) validation.Validation {
	now := time.Now().UTC()
	return validation.Validation{
		ID:           id,
		EvidenceID:   evidenceID,
		ValidatorID:  validatorID,
		Type:         typ,
		OverallScore: overall,
		CompletedAt:  &now,
	}
}

func TestConsensusTieRejects(t *testing.T) {
	store := &mockStore{validations: []validation.Validation{
		completedValidation("1", "e1", "v1", validation.TypePeer, 0.80),
		completedValidation("2", "e1", "v2", validation.TypePeer, 0.60),
	}}
	cfg := config.Defaults().Workflow
	cfg.SinglePassEnabled = false
	svc := NewConsensusService(store, &mockQueue{}, &mockHub{}, nil, cfg)

	res, err := svc.Compute(context.Background(), "e1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ApprovalCount != 1 || res.RejectionCount != 1 {
		t.Fatalf("expected 1/1 split, got %d/%d", res.ApprovalCount, res.RejectionCount)
	}
	if res.Decision != consensus.DecisionRejected {
		t.Fatalf("a tie must reject, got %s", res.Decision)
	}
	if res.Confidence != 0 {
		t.Fatalf("expected confidence 0 on a tie, got %.2f", res.Confidence)
	}
}

func TestConsensusPendingWithoutValidations(t *testing.T) {
	svc := NewConsensusService(&mockStore{}, &mockQueue{}, &mockHub{}, nil, config.Defaults().Workflow)

	res, err := svc.Compute(context.Background(), "e1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Decision != consensus.DecisionPending || res.Confidence != 0 {
		t.Fatalf("expected pending with confidence 0, got %s / %.2f", res.Decision, res.Confidence)
	}
}

func TestConsensusEvaluatePublishesDecision(t *testing.T) {
	store := &mockStore{validations: []validation.Validation{
		completedValidation("1", "e1", "v1", validation.TypePeer, 0.90),
		completedValidation("2", "e1", "v2", validation.TypePeer, 0.85),
	}}
	queue := &mockQueue{}
	hub := &mockHub{}
	cfg := config.Defaults().Workflow
	cfg.SinglePassEnabled = false
	svc := NewConsensusService(store, queue, hub, nil, cfg)

	res, err := svc.Evaluate(context.Background(), "e1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Decision != consensus.DecisionApproved {
		t.Fatalf("expected approved, got %s", res.Decision)
	}
	if queue.countSubject(messagequeue.SubjectEvidenceDecision) != 1 {
		t.Fatal("expected a decision event on the queue")
	}
	if hub.countType(broadcast.EventConsensusDecided) != 1 {
		t.Fatal("expected a consensus broadcast")
	}
	if res.DisplayScore() != res.Score*consensus.DisplayScale {
		t.Fatalf("display score must be a pure transform, got %.2f", res.DisplayScore())
	}
}

func TestConsensusEvaluatePendingPublishesNothing(t *testing.T) {
	queue := &mockQueue{}
	hub := &mockHub{}
	svc := NewConsensusService(&mockStore{}, queue, hub, nil, config.Defaults().Workflow)

	res, err := svc.Evaluate(context.Background(), "e1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Decision != consensus.DecisionPending {
		t.Fatalf("expected pending, got %s", res.Decision)
	}
	if len(queue.published) != 0 || len(hub.events) != 0 {
		t.Fatal("pending consensus must not publish events")
	}
}

func TestConsensusModeratorShortCircuit(t *testing.T) {
	store := &mockStore{validations: []validation.Validation{
		completedValidation("1", "e1", "v1", validation.TypePeer, 0.20),
		completedValidation("2", "e1", "v2", validation.TypePeer, 0.25),
		completedValidation("3", "e1", "mod", validation.TypeModerator, 0.95),
	}}
	svc := NewConsensusService(store, &mockQueue{}, &mockHub{}, nil, config.Defaults().Workflow)

	res, err := svc.Compute(context.Background(), "e1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.ShortCircuited {
		t.Fatal("expected the moderator validation to short-circuit")
	}
	if res.Decision != consensus.DecisionApproved {
		t.Fatalf("expected approved, got %s", res.Decision)
	}
}

func TestConsensusAutomaticExcludedWithoutSinglePass(t *testing.T) {
	store := &mockStore{validations: []validation.Validation{
		completedValidation("1", "e1", "", validation.TypeAutomatic, 0.95),
	}}
	cfg := config.Defaults().Workflow
	cfg.SinglePassEnabled = false
	svc := NewConsensusService(store, &mockQueue{}, &mockHub{}, nil, cfg)

	res, err := svc.Compute(context.Background(), "e1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Decision != consensus.DecisionPending || res.TotalValidations != 0 {
		t.Fatalf("automatic opinions must not count, got %s with %d validations", res.Decision, res.TotalValidations)
	}
}
