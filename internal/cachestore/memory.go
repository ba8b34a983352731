// Package cachestore provides CacheStorage backends: an in-memory store and a
// SQLite-backed store that survives restarts.
package cachestore

import (
	"context"
	"fmt"
	"sync"

	"github.com/cryguy/swcache/internal/core"
)

// Memory is an in-memory CacheStorage. Buckets live as long as the value.
type Memory struct {
	mu      sync.Mutex
	order   []string
	buckets map[string]*memoryBucket
}

type memoryBucket struct {
	keys    []string
	entries map[string]*core.Response
}

var _ core.CacheStorage = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{buckets: make(map[string]*memoryBucket)}
}

func (m *Memory) Open(_ context.Context, name string) (core.Cache, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[name]; !ok {
		m.buckets[name] = &memoryBucket{entries: make(map[string]*core.Response)}
		m.order = append(m.order, name)
	}
	return &memoryCache{store: m, name: name}, nil
}

func (m *Memory) Has(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.buckets[name]
	return ok, nil
}

func (m *Memory) Keys(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...), nil
}

func (m *Memory) Delete(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[name]; !ok {
		return false, nil
	}
	delete(m.buckets, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true, nil
}

// memoryCache is a handle on one bucket. Operations on a handle whose bucket
// was deleted behave like an empty bucket; writes recreate nothing.
type memoryCache struct {
	store *Memory
	name  string
}

func (c *memoryCache) Name() string { return c.name }

// bucket must be called with store.mu held.
func (c *memoryCache) bucket() *memoryBucket {
	return c.store.buckets[c.name]
}

func (c *memoryCache) Match(_ context.Context, req *core.Request) (*core.Response, error) {
	if !req.IsGet() {
		return nil, nil
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	b := c.bucket()
	if b == nil {
		return nil, nil
	}
	if resp, ok := b.entries[core.CacheKey(req.URL)]; ok {
		return resp.Clone(), nil
	}
	return nil, nil
}

func (c *memoryCache) Put(ctx context.Context, req *core.Request, resp *core.Response) error {
	return c.PutAll(ctx, []core.Entry{{Request: req, Response: resp}})
}

func (c *memoryCache) PutAll(_ context.Context, entries []core.Entry) error {
	for _, e := range entries {
		if err := validateEntry(e); err != nil {
			return err
		}
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	b := c.bucket()
	if b == nil {
		return nil
	}
	for _, e := range entries {
		key := core.CacheKey(e.Request.URL)
		if _, seen := b.entries[key]; !seen {
			b.keys = append(b.keys, key)
		}
		b.entries[key] = e.Response.Clone()
	}
	return nil
}

func (c *memoryCache) Delete(_ context.Context, req *core.Request) (bool, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	b := c.bucket()
	if b == nil {
		return false, nil
	}
	key := core.CacheKey(req.URL)
	if _, ok := b.entries[key]; !ok {
		return false, nil
	}
	delete(b.entries, key)
	for i, k := range b.keys {
		if k == key {
			b.keys = append(b.keys[:i], b.keys[i+1:]...)
			break
		}
	}
	return true, nil
}

func (c *memoryCache) Keys(_ context.Context) ([]string, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	b := c.bucket()
	if b == nil {
		return nil, nil
	}
	return append([]string(nil), b.keys...), nil
}

// validateEntry applies the checks Cache.put performs before storing.
func validateEntry(e core.Entry) error {
	if e.Request == nil {
		return fmt.Errorf("cache put: nil request")
	}
	if !e.Request.IsGet() {
		return fmt.Errorf("cache put %s %s: %w", e.Request.Method, e.Request.URL, core.ErrMethodNotCacheable)
	}
	if e.Response == nil {
		return fmt.Errorf("cache put %s: %w", e.Request.URL, core.ErrNilResponse)
	}
	return nil
}
