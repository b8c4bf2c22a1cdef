package presence_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-presence/pkg/cache"
	"github.com/illmade-knight/go-presence/pkg/presence"
	"github.com/illmade-knight/go-presence/pkg/sessionstore"
	"github.com/illmade-knight/go-presence/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var errBackendDown = errors.New("backend down")

// mockStore wraps the in-memory store with call counters, injectable failures
// and a one-shot gate that parks the next upsert after it has committed.
type mockStore struct {
	*sessionstore.InMemoryStore
	upsertErr error
	readErr   error
	upserts   atomic.Int32
	reads     atomic.Int32

	holdNext  atomic.Bool
	committed chan struct{}
	release   chan struct{}
}

func newMockStore() *mockStore {
	return &mockStore{InMemoryStore: sessionstore.NewInMemoryStore()}
}

func (s *mockStore) FindAndUpsert(ctx context.Context, id string, insertOnly, alwaysSet types.Record) (types.Record, error) {
	s.upserts.Add(1)
	if s.upsertErr != nil {
		return types.Record{}, s.upsertErr
	}
	rec, err := s.InMemoryStore.FindAndUpsert(ctx, id, insertOnly, alwaysSet)
	if s.holdNext.CompareAndSwap(true, false) {
		s.committed <- struct{}{}
		<-s.release
	}
	return rec, err
}

// holdNextUpsert arms the gate. The held call signals committed once its
// write is visible and returns when release is closed.
func (s *mockStore) holdNextUpsert() {
	s.committed = make(chan struct{}, 1)
	s.release = make(chan struct{})
	s.holdNext.Store(true)
}

func (s *mockStore) FindByID(ctx context.Context, id string) (types.Record, error) {
	s.reads.Add(1)
	if s.readErr != nil {
		return types.Record{}, s.readErr
	}
	return s.InMemoryStore.FindByID(ctx, id)
}

// mockCache wraps the in-memory presence cache with counters, injectable
// failures and an optional gate that holds Fetch calls until released.
type mockCache struct {
	*cache.InMemoryPresenceCache[string, types.Record]
	setErr    error
	fetchErr  error
	deleteErr error
	sets      atomic.Int32
	fetches   atomic.Int32
	deletes   atomic.Int32

	fetchGate chan struct{}
	waiting   sync.WaitGroup
}

func newMockCache() *mockCache {
	return &mockCache{InMemoryPresenceCache: cache.NewInMemoryPresenceCache[string, types.Record]()}
}

func (c *mockCache) Set(ctx context.Context, key string, value types.Record) error {
	c.sets.Add(1)
	if c.setErr != nil {
		return c.setErr
	}
	return c.InMemoryPresenceCache.Set(ctx, key, value)
}

func (c *mockCache) Fetch(ctx context.Context, key string) (types.Record, error) {
	c.fetches.Add(1)
	if c.fetchGate != nil {
		c.waiting.Done()
		<-c.fetchGate
	}
	if c.fetchErr != nil {
		return types.Record{}, c.fetchErr
	}
	return c.InMemoryPresenceCache.Fetch(ctx, key)
}

func (c *mockCache) Delete(ctx context.Context, key string) error {
	c.deletes.Add(1)
	if c.deleteErr != nil {
		return c.deleteErr
	}
	return c.InMemoryPresenceCache.Delete(ctx, key)
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTestManager builds a Manager over mocks and closes it at test end.
func newTestManager(t *testing.T, timeout time.Duration, opts ...presence.Option) (*presence.Manager, *mockStore, *mockCache) {
	t.Helper()
	store := newMockStore()
	presenceCache := newMockCache()
	cfg := &presence.Config{OnlineTimeout: timeout, EventBufferSize: 16}

	m, err := presence.New(cfg, store, presenceCache, zerolog.Nop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, store, presenceCache
}

// receiveEvent waits for one offline event or fails the test.
func receiveEvent(t *testing.T, events <-chan presence.OfflineEvent, timeout time.Duration) presence.OfflineEvent {
	t.Helper()
	select {
	case evt, ok := <-events:
		require.True(t, ok, "event channel closed unexpectedly")
		return evt
	case <-time.After(timeout):
		t.Fatal("timed out waiting for offline event")
	}
	return presence.OfflineEvent{}
}

// assertNoEvent fails if an offline event arrives within the window.
func assertNoEvent(t *testing.T, events <-chan presence.OfflineEvent, window time.Duration) {
	t.Helper()
	select {
	case evt, ok := <-events:
		if ok {
			t.Fatalf("unexpected offline event for %q (%s)", evt.SessionID, evt.Reason)
		}
	case <-time.After(window):
	}
}
