package presence

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// OfflineReason says why a session left presence.
type OfflineReason string

const (
	ReasonExpired   OfflineReason = "expired"
	ReasonDestroyed OfflineReason = "destroyed"
)

// OfflineEvent is raised exactly once per online-to-offline transition.
type OfflineEvent struct {
	ID        string        `json:"id"`
	SessionID string        `json:"sessionId"`
	Reason    OfflineReason `json:"reason"`
	Time      time.Time     `json:"time"`
}

// broadcaster fans offline events out to subscribers without waiting on
// them: a full subscriber buffer drops the event for that subscriber.
type broadcaster struct {
	mu      sync.RWMutex
	subs    map[uint64]chan OfflineEvent
	nextID  uint64
	closed  bool
	logger  zerolog.Logger
	metrics *Metrics
}

func newBroadcaster(logger zerolog.Logger, metrics *Metrics) *broadcaster {
	return &broadcaster{
		subs:    make(map[uint64]chan OfflineEvent),
		logger:  logger,
		metrics: metrics,
	}
}

func (b *broadcaster) subscribe(size int) (<-chan OfflineEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan OfflineEvent, size)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.unsubscribe(id) })
	}
}

func (b *broadcaster) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *broadcaster) publish(evt OfflineEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.metrics.droppedEvent()
			b.logger.Warn().Str("session_id", evt.SessionID).Msg("Subscriber buffer full, offline event dropped.")
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
