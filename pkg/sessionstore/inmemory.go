package sessionstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/illmade-knight/go-presence/pkg/types"
)

// InMemoryStore is a thread-safe, in-memory Store intended for local
// development and tests.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]types.Record
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string]types.Record)}
}

// FindAndUpsert applies the upsert under the store lock.
func (s *InMemoryStore) FindAndUpsert(_ context.Context, id string, insertOnly, alwaysSet types.Record) (types.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.data[id]
	next := types.Upsert(current, exists, insertOnly, alwaysSet)
	s.data[id] = next
	return next.Clone(), nil
}

// FindByID returns a copy of the stored record.
func (s *InMemoryStore) FindByID(_ context.Context, id string) (types.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[id]
	if !ok {
		return types.Record{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return rec.Clone(), nil
}

// Close is a no-op for the in-memory implementation.
func (s *InMemoryStore) Close() error {
	return nil
}
