package presence

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for a Manager. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	online  prometheus.Gauge
	touches *prometheus.CounterVec
	offline *prometheus.CounterVec
	dropped prometheus.Counter
	errors  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "presence_online_sessions",
			Help: "Number of sessions with a live expiry timer.",
		}),
		touches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_touches_total",
			Help: "Touches by path: full (cache write and rearm) or timer (rearm only).",
		}, []string{"path"}),
		offline: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_offline_total",
			Help: "Offline transitions by reason.",
		}, []string{"reason"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "presence_offline_events_dropped_total",
			Help: "Offline events dropped because a subscriber buffer was full.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_errors_total",
			Help: "Operation failures by backend kind.",
		}, []string{"kind"}),
	}
	for _, c := range []prometheus.Collector{m.online, m.touches, m.offline, m.dropped, m.errors} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register presence metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) setOnline(n int) {
	if m != nil {
		m.online.Set(float64(n))
	}
}

func (m *Metrics) touched(fullPath bool) {
	if m == nil {
		return
	}
	path := "timer"
	if fullPath {
		path = "full"
	}
	m.touches.WithLabelValues(path).Inc()
}

func (m *Metrics) wentOffline(reason OfflineReason) {
	if m != nil {
		m.offline.WithLabelValues(string(reason)).Inc()
	}
}

func (m *Metrics) droppedEvent() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *Metrics) failed(kind string) {
	if m != nil {
		m.errors.WithLabelValues(kind).Inc()
	}
}
