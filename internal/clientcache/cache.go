// Package clientcache caches one backend.Client per Backend record,
// invalidating it when the record's version changes or a Ping fails.
package clientcache

import (
	"context"
	"sync"

	"torrent-gateway/internal/backend"
	"torrent-gateway/internal/model"
)

// Factory constructs a backend.Client purely from a Backend record.
type Factory func(*model.Backend) (backend.Client, error)

type entry struct {
	client  backend.Client
	version int64
}

// Cache is safe for concurrent use. One Cache is shared across every
// request the gateway serves.
type Cache struct {
	factory Factory

	mu      sync.Mutex
	entries map[string]entry
}

// New builds a Cache that constructs clients with factory.
func New(factory Factory) *Cache {
	return &Cache{factory: factory, entries: make(map[string]entry)}
}

// Get returns the cached client for b if its version still matches,
// otherwise constructs and caches a fresh one.
func (c *Cache) Get(b *model.Backend) (backend.Client, error) {
	c.mu.Lock()
	if e, ok := c.entries[b.ID]; ok && e.version == b.Version {
		c.mu.Unlock()
		return e.client, nil
	}
	c.mu.Unlock()

	client, err := c.factory(b)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[b.ID] = entry{client: client, version: b.Version}
	c.mu.Unlock()
	return client, nil
}

// Invalidate discards any cached client for backendID, forcing the
// next Get to reconstruct it.
func (c *Cache) Invalidate(backendID string) {
	c.mu.Lock()
	delete(c.entries, backendID)
	c.mu.Unlock()
}

// Ping fetches (or builds) b's client and probes it. A failing probe
// evicts the cached client so the next call starts from a fresh
// connection rather than a possibly wedged one.
func (c *Cache) Ping(ctx context.Context, b *model.Backend) error {
	client, err := c.Get(b)
	if err != nil {
		return err
	}
	if err := client.Ping(ctx); err != nil {
		c.Invalidate(b.ID)
		return err
	}
	return nil
}
