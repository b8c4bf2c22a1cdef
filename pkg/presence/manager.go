// Package presence tracks which sessions are online. Records are written to a
// durable store and mirrored into a presence cache; each online session has a
// single sliding expiry timer whose firing takes the session offline and
// notifies subscribers.
package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-presence/pkg/cache"
	"github.com/illmade-knight/go-presence/pkg/sessionstore"
	"github.com/illmade-knight/go-presence/pkg/types"
	"github.com/rs/zerolog"
)

// expiryCleanupTimeout bounds the cache delete issued from a timer callback,
// which has no caller context.
const expiryCleanupTimeout = 10 * time.Second

// Option customises a Manager.
type Option func(*Manager)

// WithClock replaces the time source used for initTime/lastTime.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// Manager is the presence manager. All methods are safe for concurrent use.
type Manager struct {
	store     sessionstore.Store
	cache     cache.PresenceCache[string, types.Record]
	timeout   time.Duration
	bufferLen int
	now       func() time.Time
	logger    zerolog.Logger
	metrics   *Metrics

	timers *timerRegistry
	locks  *keyedMutex
	events *broadcaster
}

// New creates a Manager. The durable store is required; a nil presence cache
// falls back to an in-memory cache private to this Manager.
func New(
	cfg *Config,
	store sessionstore.Store,
	presenceCache cache.PresenceCache[string, types.Record],
	logger zerolog.Logger,
	opts ...Option,
) (*Manager, error) {
	if store == nil {
		return nil, errors.New("durable session store cannot be nil")
	}
	if cfg == nil {
		cfg = NewConfigDefaults()
	}
	logger = logger.With().Str("component", "PresenceManager").Logger()
	if presenceCache == nil {
		logger.Warn().Msg("No presence cache configured, using an in-memory cache.")
		presenceCache = cache.NewInMemoryPresenceCache[string, types.Record]()
	}

	m := &Manager{
		store:     store,
		cache:     presenceCache,
		timeout:   cfg.OnlineTimeout,
		bufferLen: cfg.EventBufferSize,
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
		logger:    logger,
		timers:    newTimerRegistry(),
		locks:     newKeyedMutex(),
	}
	if m.timeout <= 0 {
		m.timeout = DefaultOnlineTimeout
	}
	if m.bufferLen <= 0 {
		m.bufferLen = DefaultEventBufferSize
	}
	for _, opt := range opts {
		opt(m)
	}
	m.events = newBroadcaster(logger, m.metrics)

	logger.Info().Dur("online_timeout", m.timeout).Msg("Presence manager initialized.")
	return m, nil
}

// Set upserts the durable record for sessionID and marks the session online.
// initTime is written only when the record is created; lastTime on every call.
// Caller fields named initTime or lastTime are ignored. The session's lock is
// held from the upsert through the cache write so concurrent calls for one id
// reach both tiers in the same order.
func (m *Manager) Set(ctx context.Context, sessionID string, fields map[string]interface{}) (types.Record, error) {
	if sessionID == "" {
		return types.Record{}, ErrEmptySessionID
	}
	unlock := m.locks.lock(sessionID)
	defer unlock()
	if m.timers.isClosed() {
		return types.Record{}, ErrClosed
	}

	now := m.now()
	insertOnly := types.Record{InitTime: now}
	alwaysSet := types.Record{Fields: withoutSystemFields(fields), LastTime: now}

	rec, err := m.store.FindAndUpsert(ctx, sessionID, insertOnly, alwaysSet)
	if err != nil {
		m.metrics.failed("store")
		m.logger.Error().Err(err).Str("session_id", sessionID).Msg("Durable upsert failed.")
		return types.Record{}, &StoreError{Op: "set", SessionID: sessionID, Err: err}
	}

	if err := m.touchLocked(ctx, sessionID, rec, true); err != nil {
		return types.Record{}, err
	}
	return rec, nil
}

// Get returns the session, preferring the presence cache. A cache hit only
// rearms the timer; a miss reloads presence from the durable store. Get
// returns ErrNotFound when neither tier holds the session.
func (m *Manager) Get(ctx context.Context, sessionID string) (types.Record, error) {
	if sessionID == "" {
		return types.Record{}, ErrEmptySessionID
	}
	if m.timers.isClosed() {
		return types.Record{}, ErrClosed
	}

	rec, err := m.cache.Fetch(ctx, sessionID)
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		return types.Record{}, m.cacheReadFailed(sessionID, err)
	}

	unlock := m.locks.lock(sessionID)
	defer unlock()

	if err == nil {
		m.logger.Debug().Str("session_id", sessionID).Msg("Presence cache hit.")
		if m.timers.has(sessionID) {
			if err := m.touchLocked(ctx, sessionID, rec, false); err != nil {
				return types.Record{}, err
			}
			return rec, nil
		}
		// No live timer: the entry predates this manager, or an offline
		// transition ran after the read. Reread under the lock before
		// re-establishing presence from it.
		rec, err = m.cache.Fetch(ctx, sessionID)
		if err == nil {
			if err := m.touchLocked(ctx, sessionID, rec, true); err != nil {
				return types.Record{}, err
			}
			return rec, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			return types.Record{}, m.cacheReadFailed(sessionID, err)
		}
	}

	m.logger.Debug().Str("session_id", sessionID).Msg("Presence cache miss, reading durable store.")
	rec, err = m.store.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sessionstore.ErrNotFound) {
			return types.Record{}, fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
		}
		m.metrics.failed("store")
		m.logger.Error().Err(err).Str("session_id", sessionID).Msg("Durable read failed.")
		return types.Record{}, &StoreError{Op: "get", SessionID: sessionID, Err: err}
	}

	if err := m.touchLocked(ctx, sessionID, rec, true); err != nil {
		return types.Record{}, err
	}
	return rec, nil
}

// Destroy takes the session offline: the presence entry and timer are
// removed and, if the session was online, one offline event is raised.
// Cache delete failures are logged and do not stop the transition. The
// durable record is untouched.
func (m *Manager) Destroy(ctx context.Context, sessionID string) {
	if sessionID == "" {
		return
	}
	unlock := m.locks.lock(sessionID)
	wasOnline := m.timers.remove(sessionID, nil)
	m.deleteFromCache(ctx, sessionID)
	unlock()

	if wasOnline {
		m.wentOffline(sessionID, ReasonDestroyed)
	}
}

// Subscribe returns a channel of offline events and a func that cancels the
// subscription and closes the channel. bufferSize <= 0 uses the configured
// default. Events are dropped for a subscriber whose buffer is full.
func (m *Manager) Subscribe(bufferSize int) (<-chan OfflineEvent, func()) {
	if bufferSize <= 0 {
		bufferSize = m.bufferLen
	}
	return m.events.subscribe(bufferSize)
}

// IsOnline reports whether sessionID has a live expiry timer.
func (m *Manager) IsOnline(sessionID string) bool {
	return m.timers.has(sessionID)
}

// OnlineCount reports the number of live expiry timers.
func (m *Manager) OnlineCount() int {
	return m.timers.len()
}

// Close stops every expiry timer without raising offline events and closes
// all subscriber channels. Presence cache entries are left in place. Set and
// Get return ErrClosed afterwards.
func (m *Manager) Close() error {
	stopped := m.timers.stopAll()
	m.metrics.setOnline(0)
	m.events.close()
	m.logger.Info().Int("timers_stopped", stopped).Msg("Presence manager closed.")
	return nil
}

func (m *Manager) cacheReadFailed(sessionID string, err error) error {
	m.metrics.failed("cache")
	m.logger.Error().Err(err).Str("session_id", sessionID).Msg("Presence cache read failed.")
	return &CacheError{Op: "get", SessionID: sessionID, Err: err}
}

// touchLocked is the single path through which a session is marked active.
// The caller holds the session's lock. With fullPath the record is written to
// the presence cache first; a failed write leaves the timer untouched.
func (m *Manager) touchLocked(ctx context.Context, sessionID string, rec types.Record, fullPath bool) error {
	if m.timers.isClosed() {
		return ErrClosed
	}
	if fullPath {
		if err := m.cache.Set(ctx, sessionID, rec); err != nil {
			m.metrics.failed("cache")
			m.logger.Error().Err(err).Str("session_id", sessionID).Msg("Presence cache write failed, timer not rearmed.")
			return &CacheError{Op: "touch", SessionID: sessionID, Err: err}
		}
	}

	replaced, ok := m.timers.arm(sessionID, m.timeout, func(entry *timerEntry) {
		m.expire(sessionID, entry)
	})
	if !ok {
		return ErrClosed
	}
	m.metrics.touched(fullPath)
	m.metrics.setOnline(m.timers.len())
	if !replaced {
		m.logger.Debug().Str("session_id", sessionID).Msg("Session online.")
	}
	return nil
}

// expire is the timer callback. A callback whose entry has been replaced or
// removed in the meantime does nothing.
func (m *Manager) expire(sessionID string, entry *timerEntry) {
	unlock := m.locks.lock(sessionID)
	if !m.timers.remove(sessionID, entry) {
		unlock()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), expiryCleanupTimeout)
	m.deleteFromCache(ctx, sessionID)
	cancel()
	unlock()

	m.wentOffline(sessionID, ReasonExpired)
}

func (m *Manager) deleteFromCache(ctx context.Context, sessionID string) {
	if err := m.cache.Delete(ctx, sessionID); err != nil {
		m.metrics.failed("cache")
		m.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to delete presence entry, continuing offline transition.")
	}
}

func (m *Manager) wentOffline(sessionID string, reason OfflineReason) {
	m.metrics.wentOffline(reason)
	m.metrics.setOnline(m.timers.len())
	m.logger.Info().Str("session_id", sessionID).Str("reason", string(reason)).Msg("Session offline.")
	m.events.publish(OfflineEvent{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Reason:    reason,
		Time:      m.now(),
	})
}

func withoutSystemFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if k == types.FieldInitTime || k == types.FieldLastTime {
			continue
		}
		out[k] = v
	}
	return out
}
