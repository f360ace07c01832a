package cache

import (
	"context"
	"time"

	"github.com/revittco/toolgate/internal/store"
)

// IntegrationSource caches integration record reads in front of the store,
// so the execution hot path does not hit the database for every call. The
// registry invalidates entries on every mutation; the TTL is only a
// backstop against missed invalidations.
type IntegrationSource struct {
	store store.IntegrationStore
	cache *Cache[string, *store.Integration]
}

// NewIntegrationSource wraps an integration store with a read cache.
func NewIntegrationSource(s store.IntegrationStore, maxEntries int, ttl time.Duration) *IntegrationSource {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &IntegrationSource{
		store: s,
		cache: New[string, *store.Integration](maxEntries, ttl),
	}
}

// GetIntegration returns a defensive copy of the cached record. Copies keep
// callers from mutating what later reads will see.
func (s *IntegrationSource) GetIntegration(ctx context.Context, id string) (*store.Integration, error) {
	integ, err := s.cache.GetOrLoad(id, func() (*store.Integration, error) {
		return s.store.GetIntegration(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return integ.Clone(), nil
}

// Invalidate drops one record from the cache.
func (s *IntegrationSource) Invalidate(id string) {
	s.cache.Invalidate(id)
}

// Flush drops every cached record.
func (s *IntegrationSource) Flush() {
	s.cache.Flush()
}

// Stats returns the cache counters.
func (s *IntegrationSource) Stats() Stats {
	return s.cache.Snapshot()
}
