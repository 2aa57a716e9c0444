package pubsub

import (
	"errors"
	"fmt"

	"github.com/fluxbase-eu/gqlsubs/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// ErrLocalBackend is returned by NewPubSub for the local backend, where
// events go straight to the in-process bus and no PubSub is needed.
var ErrLocalBackend = errors.New("local backend does not use pub/sub")

// NewPubSub creates a pub/sub based on the scaling configuration.
//
// Backend options:
// - "postgres": PostgreSQL LISTEN/NOTIFY (multi-process without Redis)
// - "redis": Redis pub/sub
//
// The pool parameter is required for the postgres backend.
func NewPubSub(cfg *config.ScalingConfig, pool *pgxpool.Pool) (PubSub, error) {
	channel := cfg.Channel
	if channel == "" {
		channel = DefaultChannel
	}

	switch cfg.Backend {
	case "local", "":
		return nil, ErrLocalBackend

	case "postgres":
		if pool == nil {
			return nil, fmt.Errorf("database pool is required for postgres pub/sub backend")
		}
		log.Info().Str("channel", channel).Msg("Using PostgreSQL pub/sub (multi-process mode)")
		ps := NewPostgresPubSub(pool, channel)
		if err := ps.Start(); err != nil {
			return nil, fmt.Errorf("failed to start PostgreSQL pub/sub: %w", err)
		}
		return ps, nil

	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis_url is required for redis pub/sub backend")
		}
		log.Info().Str("channel", channel).Msg("Using Redis pub/sub (multi-process mode)")
		ps, err := NewRedisPubSub(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis for pub/sub: %w", err)
		}
		return ps, nil

	default:
		return nil, fmt.Errorf("unknown pub/sub backend: %s (valid options: local, postgres, redis)", cfg.Backend)
	}
}
