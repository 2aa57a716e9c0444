package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/fluxbase-eu/gqlsubs/internal/observability"
	"github.com/fluxbase-eu/gqlsubs/internal/pipeline"
	"github.com/fluxbase-eu/gqlsubs/internal/ratelimit"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestRedactQueryString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "no sensitive params", input: "a=1&b=2", want: "a=1&b=2"},
		{name: "token", input: "token=abc&x=1", want: "token=%5Bredacted%5D&x=1"},
		{name: "case insensitive", input: "Access_Token=abc", want: "Access_Token=%5Bredacted%5D"},
		{name: "unparseable", input: "%zz", want: "[redacted]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, redactQueryString(tt.input))
		})
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	app := fiber.New()
	app.Use(requestid.New())
	app.Use(RequestLogger(RequestLoggerConfig{
		SkipPaths: []string{"/health"},
		Logger:    &logger,
	}))
	app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/graphql", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusUnauthorized) })

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Zero(t, buf.Len(), "skipped path is not logged")

	resp, err = app.Test(httptest.NewRequest("GET", "/graphql?token=secret-value", nil))
	require.NoError(t, err)
	resp.Body.Close()

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "/graphql", entry["path"])
	assert.Equal(t, float64(fiber.StatusUnauthorized), entry["status"])
	assert.NotEmpty(t, entry["request_id"])
	assert.NotContains(t, buf.String(), "secret-value")
}

func TestEventPublishLimiter(t *testing.T) {
	store := ratelimit.NewMemoryStore(time.Minute)
	defer store.Close()

	app := fiber.New()
	app.Post("/events", EventPublishLimiter(store, 2), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusAccepted)
	})

	for i := 0; i < 2; i++ {
		resp, err := app.Test(httptest.NewRequest("POST", "/events", nil))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
		assert.Equal(t, strconv.Itoa(1-i), resp.Header.Get("X-RateLimit-Remaining"))
	}

	resp, err := app.Test(httptest.NewRequest("POST", "/events", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get(fiber.HeaderRetryAfter))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Maximum 2 per minute")
}

type failingStore struct{}

func (failingStore) Increment(context.Context, string, time.Duration) (int64, error) {
	return 0, assert.AnError
}
func (failingStore) Reset(context.Context, string) error { return nil }
func (failingStore) Close() error                        { return nil }

func TestRateLimiter_StoreFailureAllows(t *testing.T) {
	app := fiber.New()
	app.Get("/", NewRateLimiter(RateLimiterConfig{Store: failingStore{}, Max: 1, Expiration: time.Minute}),
		func(c *fiber.Ctx) error { return c.SendString("ok") })

	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	}
}

func TestTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := observability.NewTracerFromProvider(provider)

	var handlerRequestID string
	app := fiber.New()
	app.Use(requestid.New())
	app.Use(Tracing(TracingConfig{Tracer: tracer, SkipPaths: []string{"/health"}}))
	app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Post("/graphql", func(c *fiber.Ctx) error {
		handlerRequestID = pipeline.RequestIDFrom(c.UserContext())
		return c.SendStatus(fiber.StatusInternalServerError)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, recorder.Ended())

	req := httptest.NewRequest("POST", "/graphql", nil)
	req.Header.Set(fiber.HeaderXRequestID, "req-1")
	resp, err = app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "req-1", handlerRequestID)
	assert.NotEmpty(t, resp.Header.Get("X-Trace-ID"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "POST /graphql", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("http.request_id", "req-1"))
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestTracing_Disabled(t *testing.T) {
	tracer, err := observability.NewTracer(t.Context(), observability.TracerConfig{Enabled: false})
	require.NoError(t, err)

	app := fiber.New()
	app.Use(Tracing(TracingConfig{Tracer: tracer}))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil), int(time.Second.Milliseconds()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Empty(t, resp.Header.Get("X-Trace-ID"))
}
