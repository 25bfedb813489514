// Package redis implements plancache.Cache on top of go-redis/v9, storing
// each cached Plan as a JSON value under a namespaced key with a TTL so
// stale plans eventually fall out of the exact-match fast path.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/manorchestra/core/manmodel"
	"github.com/manorchestra/core/plancache"
)

const keyPrefix = "manorchestra:plancache:"

// Cache is a plancache.Cache backed by a Redis client.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ plancache.Cache = (*Cache)(nil)

// New constructs a Cache. ttl is the expiry applied to every stored
// entry; zero means entries never expire.
func New(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

func redisKey(key string) string {
	return keyPrefix + key
}

// Lookup implements plancache.Cache.
func (c *Cache) Lookup(ctx context.Context, key string) (manmodel.Plan, bool, error) {
	raw, err := c.rdb.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return manmodel.Plan{}, false, nil
	}
	if err != nil {
		return manmodel.Plan{}, false, fmt.Errorf("plancache/redis: get: %w", err)
	}
	var plan manmodel.Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return manmodel.Plan{}, false, fmt.Errorf("plancache/redis: decode cached plan: %w", err)
	}
	return plan, true, nil
}

// Store implements plancache.Cache.
func (c *Cache) Store(ctx context.Context, key string, plan manmodel.Plan) error {
	raw, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("plancache/redis: encode plan: %w", err)
	}
	if err := c.rdb.Set(ctx, redisKey(key), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("plancache/redis: set: %w", err)
	}
	return nil
}
