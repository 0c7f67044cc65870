package validator

import (
	"testing"
	"time"
)

func TestCanAcceptAssignment(t *testing.T) {
	tests := []struct {
		name string
		v    Validator
		want bool
	}{
		{"active with free capacity", Validator{Status: StatusActive, Available: true, MaxAssignments: 3, CurrentAssignments: 1}, true},
		{"at capacity", Validator{Status: StatusActive, Available: true, MaxAssignments: 3, CurrentAssignments: 3}, false},
		{"unavailable", Validator{Status: StatusActive, Available: false, MaxAssignments: 3}, false},
		{"suspended", Validator{Status: StatusSuspended, Available: true, MaxAssignments: 3}, false},
		{"pending approval", Validator{Status: StatusPendingApproval, Available: true, MaxAssignments: 3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.CanAcceptAssignment(); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestIsCertified(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	v := Validator{}
	if v.IsCertified(now) {
		t.Fatal("validator without certification must not be certified")
	}

	v.CertifiedAt = &past
	if !v.IsCertified(now) {
		t.Fatal("certification without expiry must not lapse")
	}

	v.CertExpiresAt = &future
	if !v.IsCertified(now) {
		t.Fatal("expected certification valid before expiry")
	}

	v.CertExpiresAt = &past
	if v.IsCertified(now) {
		t.Fatal("expected expired certification to be invalid")
	}
}

func TestSuccessRate(t *testing.T) {
	v := Validator{}
	if got := v.SuccessRate(); got != 0 {
		t.Fatalf("expected 0 with no history, got %f", got)
	}

	v = Validator{TotalValidations: 4, SuccessfulValidations: 3}
	if got := v.SuccessRate(); got != 0.75 {
		t.Fatalf("expected 0.75, got %f", got)
	}
}

func TestHasSpecialty(t *testing.T) {
	v := Validator{Specialties: []string{"fitness", "photography"}}
	if !v.HasSpecialty("fitness") {
		t.Fatal("expected fitness specialty to match")
	}
	if v.HasSpecialty("cooking") {
		t.Fatal("expected cooking to not match")
	}
	if !v.HasSpecialty("") {
		t.Fatal("empty tag must match every validator")
	}
}

func TestRegisterRequest_Validate(t *testing.T) {
	req := RegisterRequest{UserID: "u1", MaxAssignments: 5}
	if err := req.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req = RegisterRequest{MaxAssignments: 5}
	if err := req.Validate(); err != ErrUserIDRequired {
		t.Fatalf("expected ErrUserIDRequired, got %v", err)
	}

	req = RegisterRequest{UserID: "u1"}
	if err := req.Validate(); err != ErrCapacityRequired {
		t.Fatalf("expected ErrCapacityRequired, got %v", err)
	}
}
