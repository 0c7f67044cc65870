// Package platform implements the evidence and identity provider ports
// against the platform's internal REST API. All calls run behind a circuit
// breaker so a struggling collaborator cannot stall the workflow.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/proofworks/ProofWorks/internal/domain"
	domevidence "github.com/proofworks/ProofWorks/internal/domain/evidence"
	"github.com/proofworks/ProofWorks/internal/resilience"
)

// Client talks to the platform's internal API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a platform client. The breaker is shared across evidence
// and identity lookups since both hit the same collaborator.
func NewClient(baseURL string, breaker *resilience.Breaker) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		breaker:    breaker,
	}
}

// Get fetches an evidence submission by ID. Implements evidence.Provider.
func (c *Client) Get(ctx context.Context, id string) (*domevidence.Evidence, error) {
	var ev domevidence.Evidence
	err := c.call(func() error {
		return c.getJSON(ctx, "/internal/evidence/"+url.PathEscape(id), &ev)
	})
	if err != nil {
		return nil, fmt.Errorf("platform evidence %s: %w", id, err)
	}
	return &ev, nil
}

// IsEligible reports whether the user may register as a validator.
// Implements identity.Provider.
func (c *Client) IsEligible(ctx context.Context, userID string) (bool, error) {
	var resp struct {
		Eligible bool `json:"eligible"`
	}
	err := c.call(func() error {
		return c.getJSON(ctx, "/internal/users/"+url.PathEscape(userID)+"/validator-eligibility", &resp)
	})
	if err != nil {
		return false, fmt.Errorf("platform eligibility %s: %w", userID, err)
	}
	return resp.Eligible, nil
}

// call runs fn behind the breaker. A 404 is a valid answer from a healthy
// collaborator and must not count toward tripping the circuit.
func (c *Client) call(fn func() error) error {
	var notFound bool
	err := c.breaker.Execute(func() error {
		if err := fn(); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				notFound = true
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	if notFound {
		return domain.ErrNotFound
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("platform request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("platform call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("platform API %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("platform decode: %w", err)
	}
	return nil
}
