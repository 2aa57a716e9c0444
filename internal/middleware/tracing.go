package middleware

import (
	"fmt"

	"github.com/fluxbase-eu/gqlsubs/internal/observability"
	"github.com/fluxbase-eu/gqlsubs/internal/pipeline"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// TracingConfig holds configuration for the tracing middleware
type TracingConfig struct {
	// Tracer creates the spans. A nil or disabled tracer turns the middleware
	// into a pass-through.
	Tracer *observability.Tracer

	// SkipPaths are paths that should not be traced (e.g., /health, /metrics)
	SkipPaths []string
}

// Tracing returns a Fiber middleware that creates a server span per request.
// The span context and the request ID are handed to handlers through
// UserContext so GraphQL executions nest under the HTTP span.
func Tracing(cfg TracingConfig) fiber.Handler {
	if cfg.Tracer == nil || !cfg.Tracer.IsEnabled() {
		return func(c *fiber.Ctx) error {
			return c.Next()
		}
	}

	skipPaths := make(map[string]bool, len(cfg.SkipPaths))
	for _, path := range cfg.SkipPaths {
		skipPaths[path] = true
	}

	return func(c *fiber.Ctx) error {
		if skipPaths[c.Path()] {
			return c.Next()
		}

		ctx := otel.GetTextMapPropagator().Extract(
			c.UserContext(),
			propagation.HeaderCarrier(c.GetReqHeaders()),
		)
		if id := requestID(c); id != "" {
			ctx = pipeline.WithRequestID(ctx, id)
		}

		// Span attributes are exported after the request buffers are reused.
		method := utils.CopyString(c.Method())
		path := utils.CopyString(c.Path())

		ctx, span := cfg.Tracer.StartSpan(ctx, method+" "+path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(method),
				semconv.URLPath(path),
				attribute.String("http.request_id", utils.CopyString(requestID(c))),
				attribute.String("net.peer.ip", utils.CopyString(c.IP())),
			),
		)
		defer span.End()

		if span.SpanContext().HasTraceID() {
			c.Set("X-Trace-ID", span.SpanContext().TraceID().String())
		}
		c.SetUserContext(ctx)

		err := c.Next()

		statusCode := c.Response().StatusCode()
		span.SetAttributes(semconv.HTTPResponseStatusCode(statusCode))
		if statusCode >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", statusCode))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		return err
	}
}

// requestID returns the ID set by the requestid middleware, falling back to
// the incoming header
func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok && id != "" {
		return id
	}
	return c.Get(fiber.HeaderXRequestID)
}
