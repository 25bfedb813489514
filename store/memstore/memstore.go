// Package memstore is an in-memory implementation of store.Capability for
// tests and the manctl test subcommand. Documents are stored as
// encoding/json round-tripped map[string]any so Filter/guard matching works
// uniformly regardless of the caller's concrete document type.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/manorchestra/core/store"
)

// Collection is an in-memory, concurrency-safe store.Capability.
type Collection struct {
	mu   sync.RWMutex
	docs []map[string]any
}

var _ store.Capability = (*Collection)(nil)

// New creates an empty in-memory collection.
func New() *Collection {
	return &Collection{}
}

func toMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func fromMap(m map[string]any, dest any) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dest)
}

func matches(doc map[string]any, filter store.Filter) bool {
	for k, want := range filter {
		got, ok := doc[k]
		if !ok {
			return false
		}
		wantJSON, _ := json.Marshal(want)
		gotJSON, _ := json.Marshal(got)
		if string(wantJSON) != string(gotJSON) {
			return false
		}
	}
	return true
}

func (c *Collection) Insert(_ context.Context, doc any) error {
	m, err := toMap(doc)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = append(c.docs, m)
	return nil
}

func (c *Collection) Upsert(_ context.Context, filter store.Filter, doc any) error {
	m, err := toMap(doc)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, d := range c.docs {
		if matches(d, filter) {
			c.docs[i] = m
			return nil
		}
	}
	c.docs = append(c.docs, m)
	return nil
}

func (c *Collection) Update(_ context.Context, filter, guard store.Filter, doc any) error {
	m, err := toMap(doc)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, d := range c.docs {
		if matches(d, filter) && matches(d, guard) {
			c.docs[i] = m
			return nil
		}
	}
	return store.ErrNotFound
}

func (c *Collection) SelectOne(_ context.Context, filter store.Filter, dest any) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, d := range c.docs {
		if matches(d, filter) {
			return fromMap(d, dest)
		}
	}
	return store.ErrNotFound
}

func (c *Collection) Select(_ context.Context, filter store.Filter, limit, offset int, dest any) error {
	c.mu.RLock()
	var matched []map[string]any
	for _, d := range c.docs {
		if matches(d, filter) {
			matched = append(matched, d)
		}
	}
	c.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return formatOrderKey(matched[i]) < formatOrderKey(matched[j])
	})

	if offset > 0 && offset < len(matched) {
		matched = matched[offset:]
	} else if offset >= len(matched) {
		matched = nil
	}
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	b, err := json.Marshal(matched)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dest)
}

func (c *Collection) Delete(_ context.Context, filter store.Filter) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.docs[:0]
	for _, d := range c.docs {
		if !matches(d, filter) {
			kept = append(kept, d)
		}
	}
	c.docs = kept
	return nil
}

func (c *Collection) Count(_ context.Context, filter store.Filter) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, d := range c.docs {
		if matches(d, filter) {
			n++
		}
	}
	return n, nil
}

// formatOrderKey provides a deterministic, stable iteration order for Select
// results (by created_at if present, else id) so tests are not flaky.
func formatOrderKey(d map[string]any) string {
	if v, ok := d["created_at"]; ok {
		b, _ := json.Marshal(v)
		return string(b)
	}
	if v, ok := d["id"]; ok {
		b, _ := json.Marshal(v)
		return string(b)
	}
	return ""
}
