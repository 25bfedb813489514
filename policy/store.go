// Package policy provides the Policy Store & Cache (spec §4.2): loading a
// ManPolicy for a (tenant, workflow) scope with fallback to tenant-wide and
// built-in defaults, backed by a pluggable persistent Store and fronted by a
// short-lived process-local cache.
package policy

import (
	"context"
	"errors"

	"github.com/manorchestra/core/manmodel"
)

// ErrNotFound is returned by a Store when no policy is saved for the given
// scope; Service treats it as "fall through to the next lookup tier".
var ErrNotFound = errors.New("policy: not found")

// Key identifies a policy's scope. Workflow == "" means a tenant-wide
// policy; Tenant == "" && Workflow == "" means the global default override.
type Key struct {
	Tenant   string
	Workflow string
}

// Store persists ManPolicy documents keyed by (tenant, workflow) scope.
// Implementations: policy/mongo (production), policy/memstore (tests).
type Store interface {
	Get(ctx context.Context, key Key) (manmodel.ManPolicy, error)
	Upsert(ctx context.Context, key Key, policy manmodel.ManPolicy) error
}
