package policy

import (
	"context"
	"sync"
	"time"

	"github.com/manorchestra/core/manmodel"
)

// CacheTTL is the process-local positive-result cache lifetime (spec §4.2).
const CacheTTL = 30 * time.Second

type cacheEntry struct {
	policy    manmodel.ManPolicy
	expiresAt time.Time
}

// Service implements the Policy Store & Cache contract: Load resolves a
// policy by trying (tenant, workflow), then (tenant, ""), then ("", ""),
// then the built-in default, caching positive results for CacheTTL. Upsert
// writes through the Store and invalidates the cache entry for that key.
type Service struct {
	store Store

	mu    sync.Mutex
	cache map[Key]cacheEntry
}

// NewService constructs a Service backed by store.
func NewService(store Store) *Service {
	return &Service{
		store: store,
		cache: make(map[Key]cacheEntry),
	}
}

// Load resolves the effective policy for (tenantID, workflowKey), per the
// lookup order in spec §4.2. Never fails: falls back to
// manmodel.DefaultPolicy() when no tier has a saved policy.
func (s *Service) Load(ctx context.Context, tenantID, workflowKey string) manmodel.ManPolicy {
	tiers := []Key{
		{Tenant: tenantID, Workflow: workflowKey},
		{Tenant: tenantID, Workflow: ""},
		{Tenant: "", Workflow: ""},
	}
	seen := make(map[Key]struct{}, len(tiers))
	for _, key := range tiers {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if p, ok := s.lookup(ctx, key); ok {
			return p
		}
	}
	return manmodel.DefaultPolicy()
}

func (s *Service) lookup(ctx context.Context, key Key) (manmodel.ManPolicy, bool) {
	if p, ok := s.fromCache(key); ok {
		return p, true
	}
	p, err := s.store.Get(ctx, key)
	if err != nil {
		return manmodel.ManPolicy{}, false
	}
	s.putCache(key, p)
	return p, true
}

func (s *Service) fromCache(key Key) (manmodel.ManPolicy, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return manmodel.ManPolicy{}, false
	}
	return entry.policy, true
}

func (s *Service) putCache(key Key, p manmodel.ManPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[key] = cacheEntry{policy: p, expiresAt: time.Now().Add(CacheTTL)}
}

// Upsert writes policy for key through the Store and invalidates the cache
// entry so the next Load observes the new value.
func (s *Service) Upsert(ctx context.Context, key Key, p manmodel.ManPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := s.store.Upsert(ctx, key, p); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()
	return nil
}
