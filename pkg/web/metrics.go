package web

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/param-go/param/pkg/param"
)

// MetricsConfig configures the Prometheus metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "param").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for dispatch duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) { c.Namespace = namespace }
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) { c.ConstLabels = labels }
}

// WithBuckets sets the dispatch duration histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) { c.Buckets = buckets }
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) { c.Registry = registry }
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "param",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the Prometheus metrics for a panel server.
//
// Metrics collected:
//   - param_batches_total: Counter of completed top-level batches
//   - param_watcher_fires_total: Counter of watcher invocations
//   - param_watcher_errors_total: Counter of watcher errors
//   - param_dispatch_duration_seconds: Histogram of batch dispatch duration
//   - param_active_sessions: Gauge of connected sessions
//   - param_detached_sessions: Gauge of disconnected but resumable sessions
//   - param_reconnects_total: Counter of session resumes
//   - param_websocket_errors_total: Counter of WebSocket errors by type
type Metrics struct {
	batchesTotal     prometheus.Counter
	watcherFires     prometheus.Counter
	watcherErrors    prometheus.Counter
	dispatchDuration prometheus.Histogram
	activeSessions   prometheus.Gauge
	detachedSessions prometheus.Gauge
	reconnectsTotal  prometheus.Counter
	wsErrors         *prometheus.CounterVec
}

// NewMetrics creates and registers the panel server metrics.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}

	factory := promauto.With(config.Registry)

	return &Metrics{
		batchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "batches_total",
			Help:        "Total number of completed attribute batches",
			ConstLabels: config.ConstLabels,
		}),

		watcherFires: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "watcher_fires_total",
			Help:        "Total number of watcher invocations",
			ConstLabels: config.ConstLabels,
		}),

		watcherErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "watcher_errors_total",
			Help:        "Total number of watcher errors",
			ConstLabels: config.ConstLabels,
		}),

		dispatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Name:        "dispatch_duration_seconds",
			Help:        "Batch dispatch duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "active_sessions",
			Help:        "Number of connected panel sessions",
			ConstLabels: config.ConstLabels,
		}),

		detachedSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "detached_sessions",
			Help:        "Number of detached (disconnected but resumable) sessions",
			ConstLabels: config.ConstLabels,
		}),

		reconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "reconnects_total",
			Help:        "Total number of session reconnections",
			ConstLabels: config.ConstLabels,
		}),

		wsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "websocket_errors_total",
			Help:        "Total WebSocket errors by type",
			ConstLabels: config.ConstLabels,
		}, []string{"type"}),
	}
}

// Observer returns a dispatcher observer that records batch statistics.
// Pass it to param.WithObserver when constructing a session's dispatcher.
func (m *Metrics) Observer() func(param.BatchStats) {
	return func(stats param.BatchStats) {
		m.batchesTotal.Inc()
		m.watcherFires.Add(float64(stats.Fired))
		m.watcherErrors.Add(float64(stats.Errors))
		m.dispatchDuration.Observe(stats.Duration.Seconds())
	}
}

// RecordSessionStart records a new connected session.
func (m *Metrics) RecordSessionStart() {
	m.activeSessions.Inc()
}

// RecordSessionEnd records a session being removed entirely.
func (m *Metrics) RecordSessionEnd() {
	m.activeSessions.Dec()
}

// RecordSessionDetach records a session becoming detached.
func (m *Metrics) RecordSessionDetach() {
	m.activeSessions.Dec()
	m.detachedSessions.Inc()
}

// RecordSessionResume records a detached session being reattached.
func (m *Metrics) RecordSessionResume() {
	m.activeSessions.Inc()
	m.detachedSessions.Dec()
	m.reconnectsTotal.Inc()
}

// RecordSessionRestore records a session rebuilt from a stored snapshot.
// Unlike RecordSessionResume, the session was not detached in this process,
// so the detached gauge is left alone.
func (m *Metrics) RecordSessionRestore() {
	m.activeSessions.Inc()
	m.reconnectsTotal.Inc()
}

// RecordWebSocketError records a WebSocket error by type.
func (m *Metrics) RecordWebSocketError(errorType string) {
	m.wsErrors.WithLabelValues(errorType).Inc()
}
