package cache

import (
	"context"
	"fmt"
	"sync"
)

// InMemoryPresenceCache is a thread-safe, in-memory implementation of PresenceCache.
// It is the default backend when no shared cache is configured, and the one
// used in tests. Values with a Clone method are copied on the way in and out.
type InMemoryPresenceCache[K comparable, V any] struct {
	mu   sync.RWMutex
	data map[K]V
}

// NewInMemoryPresenceCache creates a new in-memory presence cache.
func NewInMemoryPresenceCache[K comparable, V any]() *InMemoryPresenceCache[K, V] {
	return &InMemoryPresenceCache[K, V]{
		data: make(map[K]V),
	}
}

// Set stores a value for a key.
func (c *InMemoryPresenceCache[K, V]) Set(_ context.Context, key K, value V) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = cloneValue(value)
	return nil
}

// Fetch retrieves a value by its key.
func (c *InMemoryPresenceCache[K, V]) Fetch(_ context.Context, key K) (V, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.data[key]
	if !ok {
		var zero V
		return zero, fmt.Errorf("key '%v': %w", key, ErrCacheMiss)
	}
	return cloneValue(value), nil
}

// Delete removes a key.
func (c *InMemoryPresenceCache[K, V]) Delete(_ context.Context, key K) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// Len reports the number of entries currently held.
func (c *InMemoryPresenceCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Close is a no-op for the in-memory implementation.
func (c *InMemoryPresenceCache[K, V]) Close() error {
	return nil
}
