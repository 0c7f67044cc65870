package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/proofworks/ProofWorks/internal/domain"
	"github.com/proofworks/ProofWorks/internal/domain/assignment"
	domevidence "github.com/proofworks/ProofWorks/internal/domain/evidence"
	"github.com/proofworks/ProofWorks/internal/domain/validation"
	"github.com/proofworks/ProofWorks/internal/domain/validator"
	"github.com/proofworks/ProofWorks/internal/port/broadcast"
	"github.com/proofworks/ProofWorks/internal/port/database"
	"github.com/proofworks/ProofWorks/internal/port/evidence"
	"github.com/proofworks/ProofWorks/internal/port/messagequeue"
	"github.com/proofworks/ProofWorks/internal/port/notifier"
)

// Ensure mockStore implements database.Store at compile time.
var _ database.Store = (*mockStore)(nil)

// mockStore is a minimal in-memory implementation of database.Store for
// testing. The sweep escalates concurrently, so access is serialized.
type mockStore struct {
	mu          sync.Mutex
	validators  []validator.Validator
	assignments []assignment.Assignment
	validations []validation.Validation
	nextID      int

	outcomes []bool // recorded by RecordValidatorOutcome

	// Error hooks. Set these to inject failures.
	createValidatorErr  error
	updateValidatorErr  error
	acquireSlotErr      error
	createAssignmentErr error
	updateAssignmentErr error
	listOverdueErr      error
	createValidationErr error
	updateValidationErr error
	listValidationsErr  error
}

func (m *mockStore) genID(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s-%d", prefix, m.nextID)
}

// --- Validators ---

func (m *mockStore) CreateValidator(_ context.Context, v *validator.Validator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createValidatorErr != nil {
		return m.createValidatorErr
	}
	for i := range m.validators {
		if m.validators[i].UserID == v.UserID {
			return domain.ErrConflict
		}
	}
	if v.ID == "" {
		v.ID = m.genID("val")
	}
	m.validators = append(m.validators, *v)
	return nil
}

func (m *mockStore) GetValidator(_ context.Context, id string) (*validator.Validator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findValidator(id)
}

func (m *mockStore) findValidator(id string) (*validator.Validator, error) {
	for i := range m.validators {
		if m.validators[i].ID == id {
			out := m.validators[i]
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) GetValidatorByUser(_ context.Context, userID string) (*validator.Validator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.validators {
		if m.validators[i].UserID == userID {
			out := m.validators[i]
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) ListValidators(_ context.Context, filter database.ValidatorFilter) ([]validator.Validator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []validator.Validator
	for i := range m.validators {
		v := m.validators[i]
		if filter.Status != "" && v.Status != filter.Status {
			continue
		}
		if !v.HasSpecialty(filter.Specialty) {
			continue
		}
		if v.Rating < filter.MinRating {
			continue
		}
		out = append(out, v)
	}
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

func (m *mockStore) UpdateValidator(_ context.Context, v *validator.Validator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateValidatorErr != nil {
		return m.updateValidatorErr
	}
	for i := range m.validators {
		if m.validators[i].ID == v.ID {
			m.validators[i] = *v
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockStore) AcquireValidatorSlot(_ context.Context, id string, now time.Time) (*validator.Validator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acquireSlotErr != nil {
		return nil, m.acquireSlotErr
	}
	for i := range m.validators {
		if m.validators[i].ID != id {
			continue
		}
		v := &m.validators[i]
		if v.Status != validator.StatusActive || !v.Available {
			return nil, validator.ErrNotAcceptingWork
		}
		if v.CurrentAssignments >= v.MaxAssignments {
			return nil, validator.ErrAtCapacity
		}
		v.CurrentAssignments++
		v.LastActivityAt = now
		out := *v
		return &out, nil
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) ReleaseValidatorSlot(_ context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.validators {
		if m.validators[i].ID == id {
			if m.validators[i].CurrentAssignments > 0 {
				m.validators[i].CurrentAssignments--
			}
			m.validators[i].LastActivityAt = now
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockStore) RecordValidatorOutcome(_ context.Context, id string, successful bool, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.validators {
		if m.validators[i].ID == id {
			m.validators[i].TotalValidations++
			if successful {
				m.validators[i].SuccessfulValidations++
			}
			m.outcomes = append(m.outcomes, successful)
			return nil
		}
	}
	return domain.ErrNotFound
}

// --- Assignments ---

func (m *mockStore) CreateAssignment(_ context.Context, a *assignment.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createAssignmentErr != nil {
		return m.createAssignmentErr
	}
	for i := range m.assignments {
		ex := &m.assignments[i]
		if ex.ValidatorID == a.ValidatorID && ex.EvidenceID == a.EvidenceID && !ex.Status.IsTerminal() {
			return assignment.ErrDuplicate
		}
	}
	if a.ID == "" {
		a.ID = m.genID("asg")
	}
	m.assignments = append(m.assignments, *a)
	return nil
}

func (m *mockStore) GetAssignment(_ context.Context, id string) (*assignment.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.assignments {
		if m.assignments[i].ID == id {
			out := m.assignments[i]
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) ListAssignmentsByEvidence(_ context.Context, evidenceID string) ([]assignment.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []assignment.Assignment
	for i := range m.assignments {
		if m.assignments[i].EvidenceID == evidenceID {
			out = append(out, m.assignments[i])
		}
	}
	return out, nil
}

func (m *mockStore) ListAssignmentsByValidator(_ context.Context, validatorID string) ([]assignment.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []assignment.Assignment
	for i := range m.assignments {
		if m.assignments[i].ValidatorID == validatorID {
			out = append(out, m.assignments[i])
		}
	}
	return out, nil
}

func (m *mockStore) HasActiveAssignment(_ context.Context, validatorID, evidenceID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.assignments {
		a := &m.assignments[i]
		if a.ValidatorID == validatorID && a.EvidenceID == evidenceID && !a.Status.IsTerminal() {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStore) UpdateAssignment(_ context.Context, a *assignment.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateAssignmentErr != nil {
		return m.updateAssignmentErr
	}
	for i := range m.assignments {
		if m.assignments[i].ID == a.ID {
			m.assignments[i] = *a
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockStore) SwapAssignmentValidator(_ context.Context, a *assignment.Assignment, newValidatorID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var target *validator.Validator
	for i := range m.validators {
		if m.validators[i].ID == newValidatorID {
			target = &m.validators[i]
			break
		}
	}
	if target == nil {
		return domain.ErrNotFound
	}
	if !target.CanAcceptAssignment() {
		return validator.ErrAtCapacity
	}
	for i := range m.validators {
		if m.validators[i].ID == a.ValidatorID && m.validators[i].CurrentAssignments > 0 {
			m.validators[i].CurrentAssignments--
		}
	}
	target.CurrentAssignments++

	a.ValidatorID = newValidatorID
	a.Status = assignment.StatusAssigned
	a.AcceptedAt = nil
	a.StartedAt = nil
	a.NotificationSent = false
	a.ReminderSent = false
	a.UpdatedAt = now
	for i := range m.assignments {
		if m.assignments[i].ID == a.ID {
			m.assignments[i] = *a
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockStore) ListOverdueAssignments(_ context.Context, now time.Time) ([]assignment.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listOverdueErr != nil {
		return nil, m.listOverdueErr
	}
	var out []assignment.Assignment
	for i := range m.assignments {
		if m.assignments[i].IsOverdue(now) {
			out = append(out, m.assignments[i])
		}
	}
	return out, nil
}

func (m *mockStore) ListAssignmentsDueWithin(_ context.Context, now time.Time, window time.Duration) ([]assignment.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit := now.Add(window)
	var out []assignment.Assignment
	for i := range m.assignments {
		a := &m.assignments[i]
		if a.Status.IsTerminal() || a.ReminderSent {
			continue
		}
		if !a.DueDate.Before(now) && a.DueDate.Before(limit) {
			out = append(out, *a)
		}
	}
	return out, nil
}

// --- Validations ---

func (m *mockStore) CreateValidation(_ context.Context, v *validation.Validation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createValidationErr != nil {
		return m.createValidationErr
	}
	if validation.ExclusivePerValidator(v.Type) && v.ValidatorID != "" {
		for i := range m.validations {
			ex := &m.validations[i]
			if ex.EvidenceID == v.EvidenceID && ex.ValidatorID == v.ValidatorID && ex.Type == v.Type {
				return validation.ErrDuplicate
			}
		}
	}
	if v.ID == "" {
		v.ID = m.genID("vdn")
	}
	m.validations = append(m.validations, *v)
	return nil
}

func (m *mockStore) GetValidation(_ context.Context, id string) (*validation.Validation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.validations {
		if m.validations[i].ID == id {
			out := m.validations[i]
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) ListValidationsByEvidence(_ context.Context, evidenceID string) ([]validation.Validation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listValidationsErr != nil {
		return nil, m.listValidationsErr
	}
	var out []validation.Validation
	for i := range m.validations {
		if m.validations[i].EvidenceID == evidenceID {
			out = append(out, m.validations[i])
		}
	}
	return out, nil
}

func (m *mockStore) HasValidationOfType(_ context.Context, evidenceID, validatorID string, typ validation.Type) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.validations {
		v := &m.validations[i]
		if v.EvidenceID == evidenceID && v.ValidatorID == validatorID && v.Type == typ {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStore) UpdateValidation(_ context.Context, v *validation.Validation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateValidationErr != nil {
		return m.updateValidationErr
	}
	for i := range m.validations {
		if m.validations[i].ID == v.ID {
			m.validations[i] = *v
			return nil
		}
	}
	return domain.ErrNotFound
}

// --- Collaborator doubles ---

// mockQueue implements messagequeue.Queue for testing.
type mockQueue struct {
	mu        sync.Mutex
	published []struct {
		subject string
		data    []byte
	}
	publishErr error
}

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return q.publishErr
	}
	q.published = append(q.published, struct {
		subject string
		data    []byte
	}{subject, data})
	return nil
}

func (q *mockQueue) Subscribe(_ context.Context, _ string, _ messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *mockQueue) Drain() error      { return nil }
func (q *mockQueue) Close() error      { return nil }
func (q *mockQueue) IsConnected() bool { return true }

func (q *mockQueue) countSubject(subject string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, p := range q.published {
		if p.subject == subject {
			n++
		}
	}
	return n
}

// mockNotifier implements notifier.Notifier for testing.
type mockNotifier struct {
	mu      sync.Mutex
	name    string
	sent    []notifier.Intent
	sendErr error
}

func (m *mockNotifier) Name() string                        { return m.name }
func (m *mockNotifier) Capabilities() notifier.Capabilities { return notifier.Capabilities{} }
func (m *mockNotifier) Send(_ context.Context, intent notifier.Intent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, intent)
	return nil
}

func (m *mockNotifier) intents() []notifier.Intent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]notifier.Intent, len(m.sent))
	copy(out, m.sent)
	return out
}

// mockHub implements broadcast.Broadcaster and records events.
type mockHub struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (h *mockHub) Broadcast(e broadcast.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
}

func (h *mockHub) countType(eventType string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// fakeEvidence implements the evidence.Provider port.
type fakeEvidence struct {
	items map[string]*domevidence.Evidence
	err   error
}

var _ evidence.Provider = (*fakeEvidence)(nil)

func (f *fakeEvidence) Get(_ context.Context, id string) (*domevidence.Evidence, error) {
	if f.err != nil {
		return nil, f.err
	}
	if ev, ok := f.items[id]; ok {
		out := *ev
		return &out, nil
	}
	return nil, domain.ErrNotFound
}

// fakeIdentity implements the identity.Provider port.
type fakeIdentity struct {
	eligible map[string]bool
	err      error
}

func (f *fakeIdentity) IsEligible(_ context.Context, userID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.eligible[userID], nil
}
