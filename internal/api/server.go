package api

import (
	"context"
	"time"

	"github.com/fluxbase-eu/gqlsubs/internal/config"
	"github.com/fluxbase-eu/gqlsubs/internal/graphqlexec"
	"github.com/fluxbase-eu/gqlsubs/internal/middleware"
	"github.com/fluxbase-eu/gqlsubs/internal/observability"
	"github.com/fluxbase-eu/gqlsubs/internal/ratelimit"
	"github.com/fluxbase-eu/gqlsubs/internal/realtime"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog/log"
)

// HealthChecker reports whether the backing store is reachable
type HealthChecker interface {
	Health(ctx context.Context) error
}

// EventPublisher injects custom events
type EventPublisher interface {
	Custom(ctx context.Context, name, message string) error
}

// Options wires the server to the rest of the process. Realtime and Manager
// are nil when websocket subscriptions are disabled; event publishing is
// only rate limited when RateLimits is set.
type Options struct {
	Executor   *graphqlexec.Executor
	Realtime   *realtime.Handler
	Manager    *realtime.Manager
	Events     EventPublisher
	Store      HealthChecker
	RateLimits ratelimit.Store
	Metrics    *observability.Metrics
	Tracer     *observability.Tracer
}

// Server represents the HTTP server
type Server struct {
	app       *fiber.App
	config    *config.Config
	opts      Options
	startedAt time.Time
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, opts Options) *Server {
	app := fiber.New(fiber.Config{
		ServerHeader:          "gqlsubs",
		AppName:               "gqlsubs",
		BodyLimit:             cfg.Server.BodyLimit,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		DisableStartupMessage: !cfg.Debug,
		ErrorHandler:          customErrorHandler,
	})

	server := &Server{
		app:       app,
		config:    cfg,
		opts:      opts,
		startedAt: time.Now(),
	}

	server.setupMiddlewares()
	server.setupRoutes()

	return server
}

// setupMiddlewares sets up global middlewares
func (s *Server) setupMiddlewares() {
	// Request ID must come first so every later middleware can log it
	s.app.Use(requestid.New())

	if s.config.Tracing.Enabled {
		s.app.Use(middleware.Tracing(middleware.TracingConfig{
			Tracer:    s.opts.Tracer,
			SkipPaths: []string{"/health", s.config.Metrics.Path},
		}))
	}

	s.app.Use(middleware.RequestLogger(middleware.RequestLoggerConfig{
		SkipPaths:            []string{"/health", s.config.Metrics.Path},
		SlowRequestThreshold: time.Second,
	}))

	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: s.config.Debug,
	}))

	s.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))

	if s.config.Metrics.Enabled && s.opts.Metrics != nil {
		s.app.Use(s.opts.Metrics.MetricsMiddleware())
	}
}

// setupRoutes sets up all routes
func (s *Server) setupRoutes() {
	s.app.Get("/health", s.handleHealth)

	if s.config.Metrics.Enabled && s.opts.Metrics != nil {
		s.app.Get(s.config.Metrics.Path, s.handleMetrics)
	}

	if s.config.Realtime.Enabled && s.opts.Realtime != nil {
		s.app.Get(s.config.Realtime.Path, s.opts.Realtime.HandleWebSocket)
	}
	if s.config.GraphQL.HTTPEnabled && s.opts.Executor != nil {
		s.app.Post(s.config.Realtime.Path, s.handleGraphQL)
	}

	v1 := s.app.Group("/api/v1")

	if s.opts.Events != nil {
		handlers := []fiber.Handler{}
		if s.config.Server.EventRateLimit > 0 && s.opts.RateLimits != nil {
			handlers = append(handlers, middleware.EventPublishLimiter(s.opts.RateLimits, s.config.Server.EventRateLimit))
		}
		handlers = append(handlers, s.handlePublishEvent)
		v1.Post("/events", handlers...)
	}

	if s.opts.Realtime != nil {
		v1.Get("/realtime/stats", s.opts.Realtime.HandleStats)
	}

	// 404 for anything else
	s.app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Not Found",
			"path":  c.Path(),
		})
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbHealthy := true
	if s.opts.Store != nil {
		if err := s.opts.Store.Health(ctx); err != nil {
			dbHealthy = false
			log.Error().Err(err).Msg("Database health check failed")
		}
	}

	status := "ok"
	httpStatus := fiber.StatusOK
	if !dbHealthy {
		status = "degraded"
		httpStatus = fiber.StatusServiceUnavailable
	}

	connections := 0
	if s.opts.Manager != nil {
		connections = s.opts.Manager.Count()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"services": fiber.Map{
			"database": dbHealthy,
			"realtime": s.config.Realtime.Enabled,
		},
		"connections": connections,
		"timestamp":   time.Now().UTC(),
	})
}

func (s *Server) handleMetrics(c *fiber.Ctx) error {
	s.opts.Metrics.UpdateUptime(s.startedAt)
	return s.opts.Metrics.Handler()(c)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.Server.Address).Msg("Starting HTTP server")
	return s.app.Listen(s.config.Server.Address)
}

// Shutdown gracefully shuts down the server. Websocket sessions are closed
// first so their pipelines detach before the listener goes away.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.opts.Manager != nil {
		log.Info().Msg("Closing WebSocket connections")
		s.opts.Manager.Shutdown()
	}

	log.Info().Msg("Shutting down HTTP server")
	return s.app.ShutdownWithContext(ctx)
}

// App returns the underlying Fiber app instance for testing
func (s *Server) App() *fiber.App {
	return s.app
}

// customErrorHandler handles errors globally
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	if code >= 500 {
		log.Error().Err(err).Str("path", c.Path()).Msg("Server error")
	}

	return c.Status(code).JSON(fiber.Map{
		"error": message,
		"code":  code,
	})
}
