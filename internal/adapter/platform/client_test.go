package platform

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/proofworks/ProofWorks/internal/domain"
	"github.com/proofworks/ProofWorks/internal/resilience"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	return NewClient(srv.URL, resilience.NewBreaker(3, time.Second)), srv
}

func TestGetEvidence(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/internal/evidence/ev-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"ev-1","challenge_id":"ch-1","submitter_id":"user-1","description":"proof","attachment_count":2}`))
	})
	defer srv.Close()

	ev, err := c.Get(context.Background(), "ev-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ev.ID != "ev-1" || ev.ChallengeID != "ch-1" || ev.AttachmentCount != 2 {
		t.Errorf("unexpected evidence: %+v", ev)
	}
}

func TestGetEvidenceNotFound(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer srv.Close()

	_, err := c.Get(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNotFoundDoesNotTripBreaker(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer srv.Close()

	for i := 0; i < 5; i++ {
		_, err := c.Get(context.Background(), "missing")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("call %d: expected ErrNotFound, got %v", i, err)
		}
	}
}

func TestServerErrorsTripBreaker(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer srv.Close()

	for i := 0; i < 3; i++ {
		if _, err := c.Get(context.Background(), "ev-1"); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}

	_, err := c.Get(context.Background(), "ev-1")
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestIsEligible(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/internal/users/user-1/validator-eligibility" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"eligible":true}`))
	})
	defer srv.Close()

	ok, err := c.IsEligible(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("eligibility: %v", err)
	}
	if !ok {
		t.Error("expected eligible")
	}
}
