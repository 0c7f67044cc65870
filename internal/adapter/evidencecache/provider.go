// Package evidencecache decorates the evidence provider port with a
// read-through cache. Evidence submissions are immutable once under review,
// so short-TTL caching is safe and saves a collaborator round-trip on every
// validation heuristic and assignment check.
package evidencecache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	domevidence "github.com/proofworks/ProofWorks/internal/domain/evidence"
	"github.com/proofworks/ProofWorks/internal/port/cache"
	"github.com/proofworks/ProofWorks/internal/port/evidence"
)

// Provider is a caching wrapper around another evidence.Provider.
type Provider struct {
	inner  evidence.Provider
	cache  cache.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a read-through caching provider.
func New(inner evidence.Provider, c cache.Cache, ttl time.Duration, logger *slog.Logger) *Provider {
	return &Provider{inner: inner, cache: c, ttl: ttl, logger: logger}
}

// Get returns the evidence item, serving from cache when possible. Cache
// failures are logged and fall through to the inner provider.
func (p *Provider) Get(ctx context.Context, id string) (*domevidence.Evidence, error) {
	key := "evidence:" + id

	if data, ok, err := p.cache.Get(ctx, key); err == nil && ok {
		var ev domevidence.Evidence
		if err := json.Unmarshal(data, &ev); err == nil {
			return &ev, nil
		}
		p.logger.Warn("evidence cache entry corrupt, refetching", "evidence_id", id)
	}

	ev, err := p.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(ev); err == nil {
		if err := p.cache.Set(ctx, key, data, p.ttl); err != nil {
			p.logger.Warn("evidence cache set failed", "evidence_id", id, "error", err)
		}
	}
	return ev, nil
}
