package observability

import (
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusClass(t *testing.T) {
	testCases := []struct {
		status   int
		expected string
	}{
		{200, "2xx"},
		{204, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{500, "5xx"},
		{600, "5xx"},
		{100, "unknown"},
		{0, "unknown"},
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprintf("status_%d", tc.status), func(t *testing.T) {
			assert.Equal(t, tc.expected, statusClass(tc.status))
		})
	}
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/graphql", normalizePath("/graphql"))
	assert.Equal(t, "long_path", normalizePath("/api/v1/very/long/path/that/exceeds/fifty/characters/limit/here"))
}

func TestMetrics_Recorders(t *testing.T) {
	m := NewMetrics()
	require.NotNil(t, m)

	m.RecordEventPublished("created")
	m.RecordEventPublished("created")
	m.RecordEventPublished("deleted")
	m.SetBusSubscribers(3)
	m.UpdateRealtimeStats(2, 5)
	m.RecordRealtimeMessage("start_subscription")
	m.RecordRealtimeError("invalid_message")
	m.RecordSignalError("unknown_record_type")
	m.RecordBroadcast("outbound", nil)
	m.UpdateUptime(time.Now().Add(-time.Minute))
	m.RecordDBQuery("insert", "test_models", time.Millisecond, nil)
	m.RecordDBQuery("insert", "test_models", time.Millisecond, errors.New("boom"))
	m.UpdateDBStats(4, 1, 10)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsPublishedTotal.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsPublishedTotal.WithLabelValues("deleted")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.busSubscribers))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.realtimeConnections))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.realtimeSubscriptions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.signalErrorsTotal.WithLabelValues("unknown_record_type")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.broadcastTotal.WithLabelValues("outbound", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dbQueriesTotal.WithLabelValues("insert", "test_models", "error")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.dbConnections))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.dbConnectionsMax))
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		_ = NewMetrics()
		_ = NewMetrics()
	})
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordEventPublished("created")
		m.SetBusSubscribers(1)
		m.UpdateRealtimeStats(1, 1)
		m.RecordRealtimeMessage("data")
		m.RecordRealtimeError("x")
		m.RecordSignalError("x")
		m.RecordBroadcast("inbound", assert.AnError)
		m.UpdateUptime(time.Now())
		m.RecordDBQuery("select", "t", time.Second, nil)
		m.UpdateDBStats(1, 1, 1)
	})
}

func TestMetrics_HandlerAndMiddleware(t *testing.T) {
	m := NewMetrics()

	app := fiber.New()
	app.Use(m.MetricsMiddleware())
	app.Get("/metrics", m.Handler())
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })
	app.Get("/status/check", func(c *fiber.Ctx) error { return c.SendString("ok") })

	// Later requests reuse the request buffers; earlier labels must survive.
	for _, path := range []string{"/ping", "/status/check", "/ping"} {
		resp, err := app.Test(httptest.NewRequest("GET", path, nil))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, 200, resp.StatusCode)
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `gqlsubs_http_requests_total{method="GET",path="/ping",status="2xx"} 2`)
	assert.Contains(t, string(body), `gqlsubs_http_requests_total{method="GET",path="/status/check",status="2xx"} 1`)
}
