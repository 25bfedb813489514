// Package memstore provides an in-memory implementation of policy.Store for
// tests and the manctl test subcommand.
package memstore

import (
	"context"
	"sync"

	"github.com/manorchestra/core/manmodel"
	"github.com/manorchestra/core/policy"
)

// Store is an in-memory, concurrency-safe policy.Store.
type Store struct {
	mu       sync.RWMutex
	policies map[policy.Key]manmodel.ManPolicy
}

var _ policy.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{policies: make(map[policy.Key]manmodel.ManPolicy)}
}

func (s *Store) Get(ctx context.Context, key policy.Key) (manmodel.ManPolicy, error) {
	select {
	case <-ctx.Done():
		return manmodel.ManPolicy{}, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[key]
	if !ok {
		return manmodel.ManPolicy{}, policy.ErrNotFound
	}
	return p, nil
}

func (s *Store) Upsert(ctx context.Context, key policy.Key, p manmodel.ManPolicy) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[key] = p
	return nil
}
