package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/proofworks/ProofWorks/internal/config"
	"github.com/proofworks/ProofWorks/internal/domain/validation"
	"github.com/proofworks/ProofWorks/internal/domain/validator"
)

func newIntake(store *mockStore, ev *fakeEvidence, autoOnIdle bool) (*IntakeService, *mockQueue) {
	queue := &mockQueue{}
	hub := &mockHub{}
	cfg := config.Defaults().Workflow
	cfg.AutoValidateOnIdle = autoOnIdle
	cons := NewConsensusService(store, queue, hub, nil, cfg)
	notify := NewNotificationService(nil, nil)
	sched := NewSchedulerService(store, ev, cons, notify, queue, hub, nil)
	rec := NewRecorderService(store, ev, cons, queue, hub, nil, cfg)
	reg := NewRegistryService(store, &fakeIdentity{eligible: map[string]bool{"u-new": true}}, notify, &mockHub{}, cfg)
	return NewIntakeService(queue, sched, rec, reg, cfg), queue
}

func TestIntakeAssignsWhenValidatorAvailable(t *testing.T) {
	store := &mockStore{validators: []validator.Validator{activeValidator("v1", "u1", 5)}}
	svc, _ := newIntake(store, evidenceFixture(), true)

	data, _ := json.Marshal(submittedEvent{EvidenceID: "e1"})
	if err := svc.handle(context.Background(), "evidence.submitted", data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assignments, _ := store.ListAssignmentsByEvidence(context.Background(), "e1")
	if len(assignments) != 1 || assignments[0].ValidatorID != "v1" {
		t.Fatalf("expected one assignment for v1, got %+v", assignments)
	}
	if len(store.validations) != 0 {
		t.Fatal("heuristic must not run when a validator was assigned")
	}
}

func TestIntakeFallsBackToHeuristic(t *testing.T) {
	store := &mockStore{} // empty pool
	svc, _ := newIntake(store, evidenceFixture(), true)

	data, _ := json.Marshal(submittedEvent{EvidenceID: "e1"})
	if err := svc.handle(context.Background(), "evidence.submitted", data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.validations) != 1 || store.validations[0].Type != validation.TypeAutomatic {
		t.Fatalf("expected one automatic validation, got %+v", store.validations)
	}
}

func TestIntakeNoFallbackWhenDisabled(t *testing.T) {
	store := &mockStore{}
	svc, _ := newIntake(store, evidenceFixture(), false)

	data, _ := json.Marshal(submittedEvent{EvidenceID: "e1"})
	if err := svc.handle(context.Background(), "evidence.submitted", data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.validations) != 0 {
		t.Fatal("heuristic must not run when disabled")
	}
}

func TestIntakeRegistersApplicant(t *testing.T) {
	store := &mockStore{}
	svc, _ := newIntake(store, evidenceFixture(), true)

	data, _ := json.Marshal(applyEvent{UserID: "u-new", Specialties: []string{"fitness"}})
	if err := svc.handleApply(context.Background(), "validators.apply", data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	v, err := store.GetValidatorByUser(context.Background(), "u-new")
	if err != nil {
		t.Fatalf("expected validator registered: %v", err)
	}
	if v.Status != validator.StatusPendingApproval {
		t.Fatalf("expected pending_approval, got %s", v.Status)
	}
}

func TestIntakeDeclinesIneligibleApplicant(t *testing.T) {
	store := &mockStore{}
	svc, _ := newIntake(store, evidenceFixture(), true)

	data, _ := json.Marshal(applyEvent{UserID: "u-unknown"})
	if err := svc.handleApply(context.Background(), "validators.apply", data); err != nil {
		t.Fatalf("ineligible applications must not be redelivered, got %v", err)
	}
	if len(store.validators) != 0 {
		t.Fatal("ineligible applicant must not be registered")
	}
}

func TestIntakeDropsMalformedEvents(t *testing.T) {
	svc, _ := newIntake(&mockStore{}, evidenceFixture(), true)

	if err := svc.handle(context.Background(), "evidence.submitted", []byte("{broken")); err != nil {
		t.Fatalf("malformed events must be dropped, got %v", err)
	}
	if err := svc.handle(context.Background(), "evidence.submitted", []byte(`{}`)); err != nil {
		t.Fatalf("events without evidence_id must be dropped, got %v", err)
	}
}
