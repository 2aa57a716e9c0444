package observability

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the subscription server.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Event metrics
	eventsPublishedTotal *prometheus.CounterVec
	busSubscribers       prometheus.Gauge
	broadcastTotal       *prometheus.CounterVec
	signalErrorsTotal    *prometheus.CounterVec

	// Database metrics
	dbQueriesTotal    *prometheus.CounterVec
	dbQueryDuration   *prometheus.HistogramVec
	dbConnections     prometheus.Gauge
	dbConnectionsIdle prometheus.Gauge
	dbConnectionsMax  prometheus.Gauge

	// Realtime metrics
	realtimeConnections   prometheus.Gauge
	realtimeSubscriptions prometheus.Gauge
	realtimeMessagesTotal *prometheus.CounterVec
	realtimeErrorsTotal   *prometheus.CounterVec

	// System metrics
	systemUptime prometheus.Gauge
}

// NewMetrics creates the metrics on a fresh registry, together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gqlsubs_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gqlsubs_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		httpRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gqlsubs_http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		eventsPublishedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gqlsubs_events_published_total",
				Help: "Total number of events published on the bus",
			},
			[]string{"operation"},
		),
		busSubscribers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gqlsubs_bus_subscribers",
				Help: "Current number of subscribers attached to the event bus",
			},
		),
		broadcastTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gqlsubs_broadcast_messages_total",
				Help: "Total number of broadcast group messages by direction and result",
			},
			[]string{"direction", "result"},
		),
		signalErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gqlsubs_signal_errors_total",
				Help: "Total number of write notifications that could not become events",
			},
			[]string{"reason"},
		),

		dbQueriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gqlsubs_db_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"operation", "table", "result"},
		),
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gqlsubs_db_query_duration_seconds",
				Help:    "Database query latency in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"operation", "table"},
		),
		dbConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gqlsubs_db_connections",
				Help: "Current number of database connections",
			},
		),
		dbConnectionsIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gqlsubs_db_connections_idle",
				Help: "Current number of idle database connections",
			},
		),
		dbConnectionsMax: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gqlsubs_db_connections_max",
				Help: "Maximum number of database connections",
			},
		),

		realtimeConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gqlsubs_realtime_connections",
				Help: "Current number of websocket connections",
			},
		),
		realtimeSubscriptions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gqlsubs_realtime_subscriptions",
				Help: "Current number of active subscriptions",
			},
		),
		realtimeMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gqlsubs_realtime_messages_total",
				Help: "Total number of websocket messages by type",
			},
			[]string{"type"},
		),
		realtimeErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gqlsubs_realtime_errors_total",
				Help: "Total number of websocket errors by type",
			},
			[]string{"type"},
		),

		systemUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gqlsubs_uptime_seconds",
				Help: "Time since the server started in seconds",
			},
		),
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MetricsMiddleware returns a Fiber middleware that collects HTTP metrics
func (m *Metrics) MetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if m == nil {
			return c.Next()
		}

		start := time.Now()
		m.httpRequestsInFlight.Inc()
		defer m.httpRequestsInFlight.Dec()

		// Label values outlive the request; fiber strings alias reused buffers.
		path := normalizePath(utils.CopyString(c.Path()))
		method := utils.CopyString(c.Method())

		err := c.Next()

		status := statusClass(c.Response().StatusCode())
		m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())

		return err
	}
}

// RecordEventPublished counts an event accepted by the bus
func (m *Metrics) RecordEventPublished(operation string) {
	if m == nil {
		return
	}
	m.eventsPublishedTotal.WithLabelValues(operation).Inc()
}

// SetBusSubscribers updates the attached subscriber gauge
func (m *Metrics) SetBusSubscribers(n int) {
	if m == nil {
		return
	}
	m.busSubscribers.Set(float64(n))
}

// RecordBroadcast counts a message sent to or received from the broadcast group
func (m *Metrics) RecordBroadcast(direction string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.broadcastTotal.WithLabelValues(direction, result).Inc()
}

// RecordSignalError counts a write notification dropped before reaching the bus
func (m *Metrics) RecordSignalError(reason string) {
	if m == nil {
		return
	}
	m.signalErrorsTotal.WithLabelValues(reason).Inc()
}

// RecordDBQuery records database query metrics
func (m *Metrics) RecordDBQuery(operation, table string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.dbQueriesTotal.WithLabelValues(operation, table, result).Inc()
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// UpdateDBStats updates database connection pool stats
func (m *Metrics) UpdateDBStats(total, idle, max int32) {
	if m == nil {
		return
	}
	m.dbConnections.Set(float64(total))
	m.dbConnectionsIdle.Set(float64(idle))
	m.dbConnectionsMax.Set(float64(max))
}

// UpdateRealtimeStats updates realtime connection stats
func (m *Metrics) UpdateRealtimeStats(connections, subscriptions int) {
	if m == nil {
		return
	}
	m.realtimeConnections.Set(float64(connections))
	m.realtimeSubscriptions.Set(float64(subscriptions))
}

// RecordRealtimeMessage records a websocket message by protocol type
func (m *Metrics) RecordRealtimeMessage(messageType string) {
	if m == nil {
		return
	}
	m.realtimeMessagesTotal.WithLabelValues(messageType).Inc()
}

// RecordRealtimeError records a realtime connection error
func (m *Metrics) RecordRealtimeError(errorType string) {
	if m == nil {
		return
	}
	m.realtimeErrorsTotal.WithLabelValues(errorType).Inc()
}

// UpdateUptime updates the system uptime metric
func (m *Metrics) UpdateUptime(startTime time.Time) {
	if m == nil {
		return
	}
	m.systemUptime.Set(time.Since(startTime).Seconds())
}

// Handler returns a Fiber handler that exposes Prometheus metrics
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// normalizePath keeps label cardinality bounded.
func normalizePath(path string) string {
	if len(path) > 50 {
		return "long_path"
	}
	return path
}

// statusClass returns the HTTP status class (2xx, 3xx, 4xx, 5xx)
func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
