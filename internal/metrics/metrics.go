// Package metrics holds the prometheus collectors for the realtime client.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "shopwire"

var dispatchBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25}

// Metrics is the set of client collectors.
type Metrics struct {
	framesReceived    *prometheus.CounterVec
	framesDropped     *prometheus.CounterVec
	dispatchLatency   prometheus.Histogram
	reconnectAttempts prometheus.Counter
	connectionStatus  prometheus.Gauge
	listenerPanics    *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	activeTopics      prometheus.Gauge
}

// New creates the collectors and registers them with reg. Collectors that
// are already registered are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "frames_received_total",
			Help:      "Inbound frames decoded, by event type",
		}, []string{"type"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped before dispatch, by reason",
		}, []string{"reason"}),
		dispatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Time spent delivering one event to every listener",
			Buckets:   dispatchBuckets,
		}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts scheduled after a failure",
		}),
		connectionStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "status",
			Help:      "Connection status (0 disconnected, 1 connecting, 2 connected, 3 reconnecting)",
		}),
		listenerPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "listener_panics_total",
			Help:      "Listener invocations that panicked, by event type",
		}, []string{"type"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "notifications_total",
			Help:      "Notifications added to the center, by category and level",
		}, []string{"category", "level"}),
		activeTopics: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "active_topics",
			Help:      "Topics with at least one listener",
		}),
	}

	if reg == nil {
		return m, nil
	}

	var errs []error
	m.framesReceived = register(reg, m.framesReceived, &errs)
	m.framesDropped = register(reg, m.framesDropped, &errs)
	m.dispatchLatency = register(reg, m.dispatchLatency, &errs)
	m.reconnectAttempts = register(reg, m.reconnectAttempts, &errs)
	m.connectionStatus = register(reg, m.connectionStatus, &errs)
	m.listenerPanics = register(reg, m.listenerPanics, &errs)
	m.notifications = register(reg, m.notifications, &errs)
	m.activeTopics = register(reg, m.activeTopics, &errs)

	return m, errors.Join(errs...)
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C, errs *[]error) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		*errs = append(*errs, err)
	}
	return c
}

// FrameReceived counts a decoded frame.
func (m *Metrics) FrameReceived(eventType string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(eventType).Inc()
}

// FrameDropped counts a frame discarded before dispatch.
func (m *Metrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}

// ObserveDispatch records how long one dispatch cycle took.
func (m *Metrics) ObserveDispatch(d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchLatency.Observe(d.Seconds())
}

// ReconnectAttempt counts a scheduled reconnect.
func (m *Metrics) ReconnectAttempt() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

// SetConnectionStatus records the numeric connection status.
func (m *Metrics) SetConnectionStatus(status int) {
	if m == nil {
		return
	}
	m.connectionStatus.Set(float64(status))
}

// ListenerPanic counts a recovered listener panic.
func (m *Metrics) ListenerPanic(eventType string) {
	if m == nil {
		return
	}
	m.listenerPanics.WithLabelValues(eventType).Inc()
}

// Notification counts a notification added to the center.
func (m *Metrics) Notification(category, level string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(category, level).Inc()
}

// SetActiveTopics records the number of topics with listeners.
func (m *Metrics) SetActiveTopics(n int) {
	if m == nil {
		return
	}
	m.activeTopics.Set(float64(n))
}
