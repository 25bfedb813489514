// Package plancache defines the narrow interface the Workflow
// Coordinator's CacheLookup state needs from an exact-match plan cache:
// a fast path in front of (out-of-scope) semantic/embedding-based plan
// matching. plancache/redis ships a default implementation.
package plancache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/manorchestra/core/manmodel"
)

// Cache looks up and stores Plans keyed by normalized goal text.
type Cache interface {
	// Lookup returns the cached Plan for key, and whether it was found.
	Lookup(ctx context.Context, key string) (manmodel.Plan, bool, error)
	// Store saves plan under key, overwriting any prior entry.
	Store(ctx context.Context, key string, plan manmodel.Plan) error
}

// Key derives the exact-match cache key for a goal within a given
// tenant/workflow scope: a hash of the normalized (trimmed, lowercased,
// whitespace-collapsed) goal text, namespaced so two tenants or workflow
// keys asking the same literal goal never collide.
func Key(tenantID, workflowKey, goal string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(goal))), " ")
	sum := sha256.Sum256([]byte(tenantID + "\x00" + workflowKey + "\x00" + normalized))
	return hex.EncodeToString(sum[:])
}
