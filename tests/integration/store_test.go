//go:build integration

package integration_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/proofworks/ProofWorks/internal/domain/assignment"
	"github.com/proofworks/ProofWorks/internal/domain/validation"
	"github.com/proofworks/ProofWorks/internal/domain/validator"
)

var userSeq int

func createValidator(t *testing.T, capacity int) *validator.Validator {
	t.Helper()
	userSeq++
	v := &validator.Validator{
		UserID:         fmt.Sprintf("it-user-%d-%d", time.Now().UnixNano(), userSeq),
		Status:         validator.StatusActive,
		Specialties:    []string{"fitness"},
		MaxAssignments: capacity,
		Available:      true,
		LastActivityAt: time.Now(),
	}
	if err := testStore.CreateValidator(context.Background(), v); err != nil {
		t.Fatalf("CreateValidator: %v", err)
	}
	return v
}

func createAssignment(t *testing.T, validatorID, evidenceID string) *assignment.Assignment {
	t.Helper()
	now := time.Now()
	a := &assignment.Assignment{
		EvidenceID:  evidenceID,
		ValidatorID: validatorID,
		Status:      assignment.StatusAssigned,
		Priority:    assignment.PriorityNormal,
		AssignedAt:  now,
		DueDate:     now.Add(72 * time.Hour),
	}
	if err := testStore.CreateAssignment(context.Background(), a); err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}
	return a
}

func TestValidatorSlotCapacity(t *testing.T) {
	ctx := context.Background()
	v := createValidator(t, 2)

	now := time.Now()
	for i := 1; i <= 2; i++ {
		got, err := testStore.AcquireValidatorSlot(ctx, v.ID, now)
		if err != nil {
			t.Fatalf("AcquireValidatorSlot %d: %v", i, err)
		}
		if got.CurrentAssignments != i {
			t.Fatalf("expected workload %d, got %d", i, got.CurrentAssignments)
		}
	}

	if _, err := testStore.AcquireValidatorSlot(ctx, v.ID, now); !errors.Is(err, validator.ErrAtCapacity) {
		t.Fatalf("expected ErrAtCapacity, got %v", err)
	}

	if err := testStore.ReleaseValidatorSlot(ctx, v.ID, now); err != nil {
		t.Fatalf("ReleaseValidatorSlot: %v", err)
	}
	got, err := testStore.GetValidator(ctx, v.ID)
	if err != nil {
		t.Fatalf("GetValidator: %v", err)
	}
	if got.CurrentAssignments != 1 {
		t.Fatalf("expected workload 1 after release, got %d", got.CurrentAssignments)
	}
}

func TestValidatorSlotRequiresActive(t *testing.T) {
	ctx := context.Background()
	v := createValidator(t, 2)

	v.Status = validator.StatusSuspended
	if err := testStore.UpdateValidator(ctx, v); err != nil {
		t.Fatalf("UpdateValidator: %v", err)
	}

	if _, err := testStore.AcquireValidatorSlot(ctx, v.ID, time.Now()); !errors.Is(err, validator.ErrNotAcceptingWork) {
		t.Fatalf("expected ErrNotAcceptingWork, got %v", err)
	}
}

func TestValidatorOptimisticLock(t *testing.T) {
	ctx := context.Background()
	v := createValidator(t, 2)

	v.Rating = 4.2
	if err := testStore.UpdateValidator(ctx, v); err != nil {
		t.Fatalf("first update: %v", err)
	}
	// Version was bumped in place, so a second update must still succeed.
	v.Rating = 4.5
	if err := testStore.UpdateValidator(ctx, v); err != nil {
		t.Fatalf("second update: %v", err)
	}

	got, err := testStore.GetValidator(ctx, v.ID)
	if err != nil {
		t.Fatalf("GetValidator: %v", err)
	}
	if got.Rating != 4.5 {
		t.Fatalf("expected rating 4.5, got %v", got.Rating)
	}
	if got.Version != 3 {
		t.Fatalf("expected version 3 after two updates, got %d", got.Version)
	}
}

func TestAssignmentActivePairUnique(t *testing.T) {
	ctx := context.Background()
	v := createValidator(t, 3)
	evidenceID := fmt.Sprintf("ev-pair-%d", time.Now().UnixNano())

	a := createAssignment(t, v.ID, evidenceID)

	dup := &assignment.Assignment{
		EvidenceID:  evidenceID,
		ValidatorID: v.ID,
		Status:      assignment.StatusAssigned,
		Priority:    assignment.PriorityNormal,
		AssignedAt:  time.Now(),
		DueDate:     time.Now().Add(72 * time.Hour),
	}
	if err := testStore.CreateAssignment(ctx, dup); !errors.Is(err, assignment.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	active, err := testStore.HasActiveAssignment(ctx, v.ID, evidenceID)
	if err != nil {
		t.Fatalf("HasActiveAssignment: %v", err)
	}
	if !active {
		t.Fatal("expected active assignment")
	}

	// A terminal assignment frees the pair for a new review pass.
	now := time.Now()
	if err := a.Transition(assignment.StatusCancelled, now); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := testStore.UpdateAssignment(ctx, a); err != nil {
		t.Fatalf("UpdateAssignment: %v", err)
	}
	if err := testStore.CreateAssignment(ctx, dup); err != nil {
		t.Fatalf("CreateAssignment after cancel: %v", err)
	}
}

func TestSwapAssignmentValidator(t *testing.T) {
	ctx := context.Background()
	v1 := createValidator(t, 2)
	v2 := createValidator(t, 2)
	evidenceID := fmt.Sprintf("ev-swap-%d", time.Now().UnixNano())

	now := time.Now()
	if _, err := testStore.AcquireValidatorSlot(ctx, v1.ID, now); err != nil {
		t.Fatalf("AcquireValidatorSlot: %v", err)
	}
	a := createAssignment(t, v1.ID, evidenceID)
	if err := a.Transition(assignment.StatusAccepted, now); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := testStore.UpdateAssignment(ctx, a); err != nil {
		t.Fatalf("UpdateAssignment: %v", err)
	}

	if err := testStore.SwapAssignmentValidator(ctx, a, v2.ID, time.Now()); err != nil {
		t.Fatalf("SwapAssignmentValidator: %v", err)
	}

	got, err := testStore.GetAssignment(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAssignment: %v", err)
	}
	if got.ValidatorID != v2.ID {
		t.Fatalf("expected validator %s, got %s", v2.ID, got.ValidatorID)
	}
	if got.Status != assignment.StatusAssigned {
		t.Fatalf("expected status assigned after swap, got %s", got.Status)
	}
	if got.AcceptedAt != nil {
		t.Fatal("expected accepted_at cleared after swap")
	}

	old, _ := testStore.GetValidator(ctx, v1.ID)
	cur, _ := testStore.GetValidator(ctx, v2.ID)
	if old.CurrentAssignments != 0 || cur.CurrentAssignments != 1 {
		t.Fatalf("expected workloads 0/1, got %d/%d", old.CurrentAssignments, cur.CurrentAssignments)
	}
}

func TestSwapToFullValidatorFails(t *testing.T) {
	ctx := context.Background()
	v1 := createValidator(t, 2)
	full := createValidator(t, 1)

	now := time.Now()
	if _, err := testStore.AcquireValidatorSlot(ctx, full.ID, now); err != nil {
		t.Fatalf("fill target: %v", err)
	}
	if _, err := testStore.AcquireValidatorSlot(ctx, v1.ID, now); err != nil {
		t.Fatalf("AcquireValidatorSlot: %v", err)
	}
	a := createAssignment(t, v1.ID, fmt.Sprintf("ev-full-%d", time.Now().UnixNano()))

	if err := testStore.SwapAssignmentValidator(ctx, a, full.ID, time.Now()); !errors.Is(err, validator.ErrAtCapacity) {
		t.Fatalf("expected ErrAtCapacity, got %v", err)
	}

	// The transaction must have rolled back the slot release.
	got, _ := testStore.GetAssignment(ctx, a.ID)
	if got.ValidatorID != v1.ID {
		t.Fatalf("expected assignment to stay with %s, got %s", v1.ID, got.ValidatorID)
	}
	old, _ := testStore.GetValidator(ctx, v1.ID)
	if old.CurrentAssignments != 1 {
		t.Fatalf("expected workload 1 after failed swap, got %d", old.CurrentAssignments)
	}
}

func TestValidationExclusiveType(t *testing.T) {
	ctx := context.Background()
	v := createValidator(t, 2)
	evidenceID := fmt.Sprintf("ev-val-%d", time.Now().UnixNano())
	score := 0.8

	first := &validation.Validation{
		EvidenceID:   evidenceID,
		ValidatorID:  v.ID,
		Type:         validation.TypeManual,
		Scores:       validation.Scores{Accuracy: &score},
		OverallScore: score,
		Decision:     "approve",
	}
	if err := testStore.CreateValidation(ctx, first); err != nil {
		t.Fatalf("CreateValidation: %v", err)
	}

	second := &validation.Validation{
		EvidenceID:   evidenceID,
		ValidatorID:  v.ID,
		Type:         validation.TypeManual,
		Scores:       validation.Scores{Accuracy: &score},
		OverallScore: score,
	}
	if err := testStore.CreateValidation(ctx, second); !errors.Is(err, validation.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// Automatic validations carry no validator and are not pair-scoped.
	for range 2 {
		auto := &validation.Validation{
			EvidenceID:   evidenceID,
			Type:         validation.TypeAutomatic,
			OverallScore: 0.6,
		}
		if err := testStore.CreateValidation(ctx, auto); err != nil {
			t.Fatalf("CreateValidation automatic: %v", err)
		}
	}

	list, err := testStore.ListValidationsByEvidence(ctx, evidenceID)
	if err != nil {
		t.Fatalf("ListValidationsByEvidence: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 validations, got %d", len(list))
	}
}

func TestOverdueAndReminderWindows(t *testing.T) {
	ctx := context.Background()
	v := createValidator(t, 3)
	now := time.Now()

	overdue := createAssignment(t, v.ID, fmt.Sprintf("ev-late-%d", now.UnixNano()))
	overdue.DueDate = now.Add(-time.Hour)
	if err := testStore.UpdateAssignment(ctx, overdue); err != nil {
		t.Fatalf("UpdateAssignment overdue: %v", err)
	}

	soon := createAssignment(t, v.ID, fmt.Sprintf("ev-soon-%d", now.UnixNano()))
	soon.DueDate = now.Add(2 * time.Hour)
	if err := testStore.UpdateAssignment(ctx, soon); err != nil {
		t.Fatalf("UpdateAssignment soon: %v", err)
	}

	late, err := testStore.ListOverdueAssignments(ctx, now)
	if err != nil {
		t.Fatalf("ListOverdueAssignments: %v", err)
	}
	if !containsAssignment(late, overdue.ID) || containsAssignment(late, soon.ID) {
		t.Fatalf("expected only the overdue assignment, got %d items", len(late))
	}

	due, err := testStore.ListAssignmentsDueWithin(ctx, now, 4*time.Hour)
	if err != nil {
		t.Fatalf("ListAssignmentsDueWithin: %v", err)
	}
	if !containsAssignment(due, soon.ID) || containsAssignment(due, overdue.ID) {
		t.Fatalf("expected only the soon-due assignment, got %d items", len(due))
	}

	soon.ReminderSent = true
	if err := testStore.UpdateAssignment(ctx, soon); err != nil {
		t.Fatalf("UpdateAssignment reminder: %v", err)
	}
	due, err = testStore.ListAssignmentsDueWithin(ctx, now, 4*time.Hour)
	if err != nil {
		t.Fatalf("ListAssignmentsDueWithin after reminder: %v", err)
	}
	if containsAssignment(due, soon.ID) {
		t.Fatal("expected reminded assignment to be excluded")
	}
}

func containsAssignment(list []assignment.Assignment, id string) bool {
	for _, a := range list {
		if a.ID == id {
			return true
		}
	}
	return false
}
