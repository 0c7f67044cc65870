// Package evidence defines the read-only port to the evidence collaborator.
package evidence

import (
	"context"

	domevidence "github.com/proofworks/ProofWorks/internal/domain/evidence"
)

// Provider serves evidence metadata owned by the challenge/evidence
// collaborator. The workflow core never writes through this port.
type Provider interface {
	// Get returns the evidence item, or domain.ErrNotFound.
	Get(ctx context.Context, id string) (*domevidence.Evidence, error)
}
