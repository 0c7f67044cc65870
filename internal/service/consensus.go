package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/proofworks/ProofWorks/internal/adapter/otel"
	"github.com/proofworks/ProofWorks/internal/adapter/ws"
	"github.com/proofworks/ProofWorks/internal/config"
	"github.com/proofworks/ProofWorks/internal/domain/consensus"
	"github.com/proofworks/ProofWorks/internal/domain/validation"
	"github.com/proofworks/ProofWorks/internal/port/broadcast"
	"github.com/proofworks/ProofWorks/internal/port/database"
	"github.com/proofworks/ProofWorks/internal/port/messagequeue"
)

// ConsensusService aggregates the recorded validations for an evidence item
// into a single decision and publishes it for the evidence collaborator.
type ConsensusService struct {
	store   database.Store
	queue   messagequeue.Queue
	hub     broadcast.Broadcaster
	metrics *otel.Metrics
	policy  consensus.Policy
}

// NewConsensusService creates a ConsensusService with all dependencies.
func NewConsensusService(
	store database.Store,
	queue messagequeue.Queue,
	hub broadcast.Broadcaster,
	metrics *otel.Metrics,
	cfg config.Workflow,
) *ConsensusService {
	policy := consensus.Policy{ApprovalThreshold: cfg.ApprovalThreshold}
	if cfg.SinglePassEnabled {
		policy.SinglePassTypes = []validation.Type{validation.TypeModerator, validation.TypeAutomatic}
	}
	return &ConsensusService{
		store:   store,
		queue:   queue,
		hub:     hub,
		metrics: metrics,
		policy:  policy,
	}
}

// Compute derives the current consensus for the evidence item without side
// effects. The validations are read as one consistent snapshot.
func (s *ConsensusService) Compute(ctx context.Context, evidenceID string) (consensus.Result, error) {
	vals, err := s.store.ListValidationsByEvidence(ctx, evidenceID)
	if err != nil {
		return consensus.Result{}, fmt.Errorf("list validations for evidence %s: %w", evidenceID, err)
	}
	return consensus.Compute(evidenceID, vals, s.policy), nil
}

// Evaluate recomputes consensus and, when a decision has been reached,
// publishes it on the event bus and to connected observers. Pending results
// produce no events.
func (s *ConsensusService) Evaluate(ctx context.Context, evidenceID string) (consensus.Result, error) {
	ctx, span := otel.StartConsensusSpan(ctx, evidenceID)
	defer span.End()

	res, err := s.Compute(ctx, evidenceID)
	if err != nil {
		return consensus.Result{}, err
	}
	if res.Decision == consensus.DecisionPending {
		return res, nil
	}

	if s.metrics != nil {
		s.metrics.ConsensusDecisions.Add(ctx, 1)
		s.metrics.ConsensusScore.Record(ctx, res.Score)
	}

	data, err := json.Marshal(res)
	if err != nil {
		return res, fmt.Errorf("marshal consensus result: %w", err)
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectEvidenceDecision, data); err != nil {
		slog.Error("publish evidence decision", "evidence_id", evidenceID, "error", err)
		// The decision is recomputable from stored validations, so a failed
		// publish is not fatal here.
	}

	s.hub.Broadcast(broadcast.Event{Type: broadcast.EventConsensusDecided, Payload: ws.ConsensusEvent{
		EvidenceID:   res.EvidenceID,
		Decision:     string(res.Decision),
		Score:        res.Score,
		DisplayScore: res.DisplayScore(),
		Confidence:   res.Confidence,
	}})

	slog.Info("consensus decided",
		"evidence_id", evidenceID,
		"decision", res.Decision,
		"approvals", res.ApprovalCount,
		"rejections", res.RejectionCount,
		"confidence", res.Confidence,
	)
	return res, nil
}
