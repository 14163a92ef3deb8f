package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for FleetRelay
type Metrics struct {
	// Event pipeline counters
	EventsReceivedTotal  *prometheus.CounterVec
	EventsSkippedTotal   *prometheus.CounterVec
	RendersTotal         *prometheus.CounterVec
	RenderFallbacksTotal *prometheus.CounterVec

	// Delivery counters
	DeliveriesSentTotal     *prometheus.CounterVec
	DeliveriesFailedTotal   *prometheus.CounterVec
	DeliveriesDeferredTotal *prometheus.CounterVec

	// Driver response counters
	RepliesRelayedTotal *prometheus.CounterVec

	// Queue gauges
	QueueSize     prometheus.Gauge
	QueueDeferred prometheus.Gauge

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		EventsReceivedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetrelay_events_received_total",
				Help: "Total number of fleet events received, by provider",
			},
			[]string{"provider"},
		),
		EventsSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetrelay_events_skipped_total",
				Help: "Total number of events dropped without a delivery",
			},
			[]string{"provider", "reason"},
		),
		RendersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetrelay_renders_total",
				Help: "Total number of successful template renders",
			},
			[]string{"event_type", "language"},
		),
		RenderFallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetrelay_render_fallbacks_total",
				Help: "Total number of renders served in the default language",
			},
			[]string{"event_type", "requested_language"},
		),
		DeliveriesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetrelay_deliveries_sent_total",
				Help: "Total number of messages delivered to drivers",
			},
			[]string{"event_type"},
		),
		DeliveriesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetrelay_deliveries_failed_total",
				Help: "Total number of permanently failed deliveries",
			},
			[]string{"event_type"},
		),
		DeliveriesDeferredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetrelay_deliveries_deferred_total",
				Help: "Total number of deliveries deferred for retry",
			},
			[]string{"event_type"},
		),
		RepliesRelayedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetrelay_replies_relayed_total",
				Help: "Total number of driver replies relayed to fleet platforms",
			},
			[]string{"action"},
		),
		QueueSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fleetrelay_queue_size",
				Help: "Number of pending and deferred deliveries in the queue",
			},
		),
		QueueDeferred: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fleetrelay_queue_deferred",
				Help: "Number of deliveries waiting for a retry slot",
			},
		),
		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleetrelay_api_requests_total",
				Help: "Total number of HTTP API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fleetrelay_api_request_duration_seconds",
				Help:    "HTTP API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.EventsReceivedTotal,
		m.EventsSkippedTotal,
		m.RendersTotal,
		m.RenderFallbacksTotal,
		m.DeliveriesSentTotal,
		m.DeliveriesFailedTotal,
		m.DeliveriesDeferredTotal,
		m.RepliesRelayedTotal,
		m.QueueSize,
		m.QueueDeferred,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance, or nil when metrics are disabled
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncEventsReceived increments the received-events counter
func IncEventsReceived(provider string) {
	if m := Global(); m != nil {
		m.EventsReceivedTotal.WithLabelValues(provider).Inc()
	}
}

// IncEventsSkipped increments the skipped-events counter
func IncEventsSkipped(provider, reason string) {
	if m := Global(); m != nil {
		m.EventsSkippedTotal.WithLabelValues(provider, reason).Inc()
	}
}

// IncRenders increments the render counter
func IncRenders(eventType, language string) {
	if m := Global(); m != nil {
		m.RendersTotal.WithLabelValues(eventType, language).Inc()
	}
}

// IncRenderFallbacks increments the language-fallback counter
func IncRenderFallbacks(eventType, requestedLanguage string) {
	if m := Global(); m != nil {
		m.RenderFallbacksTotal.WithLabelValues(eventType, requestedLanguage).Inc()
	}
}

// IncDeliveriesSent increments the delivered counter
func IncDeliveriesSent(eventType string) {
	if m := Global(); m != nil {
		m.DeliveriesSentTotal.WithLabelValues(eventType).Inc()
	}
}

// IncDeliveriesFailed increments the permanently-failed counter
func IncDeliveriesFailed(eventType string) {
	if m := Global(); m != nil {
		m.DeliveriesFailedTotal.WithLabelValues(eventType).Inc()
	}
}

// IncDeliveriesDeferred increments the deferred counter
func IncDeliveriesDeferred(eventType string) {
	if m := Global(); m != nil {
		m.DeliveriesDeferredTotal.WithLabelValues(eventType).Inc()
	}
}

// IncRepliesRelayed increments the relayed-replies counter
func IncRepliesRelayed(action string) {
	if m := Global(); m != nil {
		m.RepliesRelayedTotal.WithLabelValues(action).Inc()
	}
}
