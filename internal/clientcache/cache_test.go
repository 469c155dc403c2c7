package clientcache

import (
	"context"
	"errors"
	"testing"

	"torrent-gateway/internal/backend"
	"torrent-gateway/internal/backend/memory"
	"torrent-gateway/internal/model"
)

func TestGet_CachesByVersion(t *testing.T) {
	builds := 0
	cache := New(func(b *model.Backend) (backend.Client, error) {
		builds++
		return memory.New(), nil
	})

	b := &model.Backend{ID: "b1", Version: 1}

	c1, err := cache.Get(b)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	c2, err := cache.Get(b)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c1 != c2 {
		t.Fatal("expected same cached client across calls with unchanged version")
	}
	if builds != 1 {
		t.Fatalf("got %d builds, want 1", builds)
	}

	b.Version = 2
	c3, err := cache.Get(b)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c3 == c1 {
		t.Fatal("expected a new client after version bump")
	}
	if builds != 2 {
		t.Fatalf("got %d builds, want 2 after version bump", builds)
	}
}

func TestPing_EvictsOnFailure(t *testing.T) {
	fake := memory.New()
	cache := New(func(b *model.Backend) (backend.Client, error) { return fake, nil })

	b := &model.Backend{ID: "b1", Version: 1}
	if err := cache.Ping(context.Background(), b); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	fake.FailPingWith(errors.New("unreachable"))
	if err := cache.Ping(context.Background(), b); err == nil {
		t.Fatal("expected ping failure")
	}

	cache.mu.Lock()
	_, cached := cache.entries[b.ID]
	cache.mu.Unlock()
	if cached {
		t.Fatal("expected cache entry to be evicted after failed ping")
	}
}

func TestInvalidate(t *testing.T) {
	builds := 0
	cache := New(func(b *model.Backend) (backend.Client, error) {
		builds++
		return memory.New(), nil
	})
	b := &model.Backend{ID: "b1", Version: 1}

	if _, err := cache.Get(b); err != nil {
		t.Fatalf("Get: %v", err)
	}
	cache.Invalidate("b1")
	if _, err := cache.Get(b); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if builds != 2 {
		t.Fatalf("got %d builds, want 2 after invalidate", builds)
	}
}
