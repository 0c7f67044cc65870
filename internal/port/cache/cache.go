// Package cache defines the cache port (interface).
package cache

import (
	"context"
	"time"
)

// Cache is a small in-process cache for hot lookups.
type Cache interface {
	// Get retrieves a value. ok is false on a miss.
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)

	// Set stores a value with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value.
	Delete(ctx context.Context, key string) error

	// Close shuts down the cache and releases resources.
	Close()
}
