// Package identity defines the read-only port to the user identity collaborator.
package identity

import "context"

// Provider answers whether a platform user may join the reviewer pool.
// Account management itself lives outside the workflow core.
type Provider interface {
	// IsEligible reports whether the user id exists and is allowed to
	// become a validator.
	IsEligible(ctx context.Context, userID string) (bool, error)
}
