package scaling

import (
	"errors"
	"fmt"
	"time"

	"github.com/fluxbase-eu/gqlsubs/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoElection is returned by NewLock for backends that run a single
// replica and need no election.
var ErrNoElection = errors.New("leader election is not needed for the local backend")

// leaseTTL outlives three missed renewals
const leaseTTL = 15 * time.Second

// NewLock returns the lock matching the scaling backend. name identifies the
// work being guarded; lockID is used by the postgres backend.
func NewLock(cfg *config.ScalingConfig, pool *pgxpool.Pool, name string, lockID int64) (Lock, error) {
	switch cfg.Backend {
	case "local", "":
		return nil, ErrNoElection

	case "postgres":
		if pool == nil {
			return nil, fmt.Errorf("database pool is required for postgres leader election")
		}
		return NewAdvisoryLock(pool, lockID), nil

	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis_url is required for redis leader election")
		}
		lock, err := NewRedisLock(cfg.RedisURL, "gqlsubs:leader:"+name, leaseTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		return lock, nil

	default:
		return nil, fmt.Errorf("unknown leader election backend: %s (valid options: local, postgres, redis)", cfg.Backend)
	}
}
