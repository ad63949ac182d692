package data

import (
	"context"
	"sync"
	"time"
)

// Source supplies items for name-keyed lookups (autocomplete, pickers).
type Source[T any] interface {
	// Key returns the lookup key for one item.
	Key(item T) string
	// Load fetches the full item list from the backing store.
	Load(ctx context.Context) ([]T, error)
}

// Cached wraps a Source with a TTL cache so repeated lookups within the
// window do not hit the backing store.
type Cached[T any] struct {
	src Source[T]
	ttl time.Duration

	mu       sync.Mutex
	items    []T
	byKey    map[string]T
	loadedAt time.Time
}

func NewCached[T any](src Source[T], ttl time.Duration) *Cached[T] {
	return &Cached[T]{src: src, ttl: ttl}
}

// Items returns the cached list, reloading it if the TTL has expired.
func (c *Cached[T]) Items(ctx context.Context) ([]T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.refreshLocked(ctx); err != nil {
		return nil, err
	}
	return c.items, nil
}

// Lookup returns the cached item for a key. The second result is false when
// the key is unknown.
func (c *Cached[T]) Lookup(ctx context.Context, key string) (T, bool, error) {
	var zero T
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.refreshLocked(ctx); err != nil {
		return zero, false, err
	}
	item, ok := c.byKey[key]
	if !ok {
		return zero, false, nil
	}
	return item, true, nil
}

// Invalidate drops the cached list so the next access reloads.
func (c *Cached[T]) Invalidate() {
	c.mu.Lock()
	c.loadedAt = time.Time{}
	c.mu.Unlock()
}

func (c *Cached[T]) refreshLocked(ctx context.Context) error {
	if !c.loadedAt.IsZero() && time.Since(c.loadedAt) < c.ttl {
		return nil
	}
	items, err := c.src.Load(ctx)
	if err != nil {
		return err
	}
	byKey := make(map[string]T, len(items))
	for _, it := range items {
		byKey[c.src.Key(it)] = it
	}
	c.items = items
	c.byKey = byKey
	c.loadedAt = time.Now()
	return nil
}
