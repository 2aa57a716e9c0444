package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fluxbase-eu/gqlsubs/internal/api"
	"github.com/fluxbase-eu/gqlsubs/internal/auth"
	"github.com/fluxbase-eu/gqlsubs/internal/config"
	"github.com/fluxbase-eu/gqlsubs/internal/database"
	"github.com/fluxbase-eu/gqlsubs/internal/eventbus"
	"github.com/fluxbase-eu/gqlsubs/internal/events"
	"github.com/fluxbase-eu/gqlsubs/internal/graphqlexec"
	"github.com/fluxbase-eu/gqlsubs/internal/observability"
	"github.com/fluxbase-eu/gqlsubs/internal/pipeline"
	"github.com/fluxbase-eu/gqlsubs/internal/pubsub"
	"github.com/fluxbase-eu/gqlsubs/internal/ratelimit"
	"github.com/fluxbase-eu/gqlsubs/internal/realtime"
	"github.com/fluxbase-eu/gqlsubs/internal/scaling"
	"github.com/fluxbase-eu/gqlsubs/internal/scheduler"
	"github.com/fluxbase-eu/gqlsubs/internal/schema"
	"github.com/fluxbase-eu/gqlsubs/internal/signals"
	"github.com/fluxbase-eu/gqlsubs/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 30 * time.Second
	statsInterval   = 15 * time.Second
)

// app holds every long-lived component of a serve process
type app struct {
	cfg       *config.Config
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	db        *database.Connection
	store     store.Store
	bus       *eventbus.Bus
	ps        pubsub.PubSub
	group     *pubsub.Group
	listener  *signals.Listener
	scheduler *scheduler.Scheduler
	lock      scaling.Lock
	elector   *scaling.LeaderElector
	limits    ratelimit.Store
	manager   *realtime.Manager
	server    *api.Server
}

// newApp wires the process. Every event reaches local subscribers through
// one bus; when scaling is distributed, writes and custom events are
// published to the group instead and arrive on the bus through the relay.
func newApp(ctx context.Context, cfg *config.Config) (a *app, err error) {
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	if cfg.Metrics.Enabled {
		a.metrics = observability.NewMetrics()
	}

	a.tracer, err = observability.NewTracer(ctx, observability.TracerConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize OpenTelemetry tracer, tracing will be disabled")
		a.tracer, _ = observability.NewTracer(ctx, observability.TracerConfig{Enabled: false})
		err = nil
	}

	registry := events.NewRegistry()
	if err = store.RegisterTypes(registry); err != nil {
		return nil, fmt.Errorf("failed to register record types: %w", err)
	}

	a.bus = eventbus.New()
	a.bus.SetMetrics(a.metrics)

	var pool *pgxpool.Pool
	if cfg.Database.Driver == "postgres" {
		if a.db, err = database.NewConnection(ctx, cfg.Database); err != nil {
			return nil, err
		}
		a.db.SetMetrics(a.metrics)
		if err = a.db.Migrate(); err != nil {
			return nil, err
		}
		pool = a.db.Pool()
	}

	var publisher events.Publisher = a.bus
	a.ps, err = pubsub.NewPubSub(&cfg.Scaling, pool)
	switch {
	case errors.Is(err, pubsub.ErrLocalBackend):
		err = nil
	case err != nil:
		return nil, err
	default:
		a.group = pubsub.NewGroup(a.ps, cfg.Scaling.Channel, registry, a.bus)
		a.group.SetMetrics(a.metrics)
		publisher = a.group
	}

	adapter := signals.NewAdapter(registry, publisher)
	adapter.SetMetrics(a.metrics)

	// Trigger notifications reach every process, so the listener feeds the
	// local bus directly and the store runs without hooks.
	var hooks store.Hooks = adapter
	if cfg.Signals.Source == "postgres" {
		hooks = nil
		local := signals.NewAdapter(registry, a.bus)
		local.SetMetrics(a.metrics)
		a.listener = signals.NewListener(pool, cfg.Signals.NotifyChannel, local, store.Tables)
	}

	switch cfg.Database.Driver {
	case "postgres":
		a.store = store.NewPostgresStore(a.db, hooks)
	default:
		if a.store, err = store.NewSQLiteStore(ctx, cfg.Database.SQLitePath, hooks); err != nil {
			return nil, err
		}
	}

	sch, err := schema.New(a.store, registry)
	if err != nil {
		return nil, fmt.Errorf("failed to build schema: %w", err)
	}
	exec := graphqlexec.New(sch, pipeline.NewStream(a.bus).Root(), graphqlexec.Limits{
		MaxDepth:      cfg.GraphQL.MaxDepth,
		MaxComplexity: cfg.GraphQL.MaxComplexity,
		Introspection: cfg.GraphQL.Introspection,
	}, a.tracer)

	a.scheduler = scheduler.New(adapter)
	for _, ev := range cfg.CustomEvents {
		if err = a.scheduler.Schedule(ev.Name, ev.Schedule, ev.Payload); err != nil {
			return nil, err
		}
	}

	// Every replica runs the cron loop; only the elected one fires.
	if len(cfg.CustomEvents) > 0 {
		a.lock, err = scaling.NewLock(&cfg.Scaling, pool, "scheduler", scaling.SchedulerLockID)
		switch {
		case errors.Is(err, scaling.ErrNoElection):
			err = nil
		case err != nil:
			return nil, err
		default:
			a.elector = scaling.NewLeaderElector(a.lock, "scheduler")
			a.scheduler.Pause()
		}
	}

	if cfg.Server.EventRateLimit > 0 {
		if a.limits, err = ratelimit.NewStore(&cfg.Scaling, pool); err != nil {
			return nil, err
		}
	}

	a.manager = realtime.NewManager(ctx, cfg.Scaling.Channel)
	a.manager.SetMetrics(a.metrics)

	var handler *realtime.Handler
	if cfg.Realtime.Enabled {
		var validator realtime.TokenValidator
		if cfg.Auth.JWTSecret != "" {
			jwtManager, jwtErr := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
			if jwtErr != nil {
				return nil, jwtErr
			}
			validator = realtime.NewJWTValidator(jwtManager)
		}
		handler = realtime.NewHandler(a.manager, exec, validator, realtime.HandlerConfig{
			Subprotocol:      cfg.Realtime.Subprotocol,
			MessageSizeLimit: cfg.Realtime.MessageSizeLimit,
			MaxConnections:   cfg.Realtime.MaxConnections,
			RequireToken:     cfg.Auth.RequireToken,
			Session: realtime.SessionConfig{
				OutboundBufferSize: cfg.Realtime.OutboundBufferSize,
				MessagesPerSecond:  cfg.Realtime.MessagesPerSecond,
				MessageBurst:       cfg.Realtime.MessageBurst,
			},
		})
	}

	a.server = api.NewServer(cfg, api.Options{
		Executor:   exec,
		Realtime:   handler,
		Manager:    a.manager,
		Events:     adapter,
		Store:      a.store,
		RateLimits: a.limits,
		Metrics:    a.metrics,
		Tracer:     a.tracer,
	})

	log.Info().
		Str("driver", cfg.Database.Driver).
		Str("signals", cfg.Signals.Source).
		Str("backend", backendName(cfg.Scaling)).
		Int("custom_events", len(cfg.CustomEvents)).
		Msg("Components initialized")

	return a, nil
}

func backendName(sc config.ScalingConfig) string {
	if sc.Backend == "" {
		return "local"
	}
	return sc.Backend
}

// run serves until ctx is cancelled or a component fails, then shuts
// everything down
func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.server.Start(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if a.group != nil {
		g.Go(func() error { return a.group.Run(gctx) })
	}

	if a.listener != nil {
		g.Go(func() error {
			if err := a.listener.Run(gctx); err != nil && gctx.Err() == nil {
				return fmt.Errorf("signal listener: %w", err)
			}
			return nil
		})
	}

	a.scheduler.Start()
	if a.elector != nil {
		a.elector.Start(gctx, a.scheduler.Resume, a.scheduler.Pause)
	}

	g.Go(func() error {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if a.db != nil {
					a.db.RecordStats()
				}
			}
		}
	})

	// Shutdown runs once the first component fails or the signal arrives;
	// it also unblocks the server goroutine.
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if a.elector != nil {
			a.elector.Stop(shutdownCtx)
		}
		a.scheduler.Stop(shutdownCtx)
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})

	err := g.Wait()
	a.close(context.Background())
	if err != nil {
		return err
	}

	log.Info().Msg("Server exited")
	return nil
}

// close releases resources in reverse construction order. Safe on a
// partially built app.
func (a *app) close(ctx context.Context) {
	if a.bus != nil {
		_ = a.bus.Close()
	}
	if a.limits != nil {
		_ = a.limits.Close()
	}
	if a.lock != nil {
		if err := a.lock.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close leader lock")
		}
	}
	if a.ps != nil {
		if err := a.ps.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close pub/sub backend")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close store")
		}
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to shutdown OpenTelemetry tracer")
		}
	}
}
