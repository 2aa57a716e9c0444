package ratelimit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore implements Store on the gqlsubs_rate_limits table, using an
// upsert so concurrent replicas share one counter per key.
type PostgresStore struct {
	db querier
}

// NewPostgresStore creates a PostgreSQL-backed rate limit store. The table
// is created by the embedded migrations.
func NewPostgresStore(db querier) *PostgresStore {
	return &PostgresStore{db: db}
}

// Increment atomically increments the counter for a key.
func (s *PostgresStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO gqlsubs_rate_limits (key, count, expires_at)
		VALUES ($1, 1, $2)
		ON CONFLICT (key) DO UPDATE SET
			count = CASE
				WHEN gqlsubs_rate_limits.expires_at <= NOW() THEN 1
				ELSE gqlsubs_rate_limits.count + 1
			END,
			expires_at = CASE
				WHEN gqlsubs_rate_limits.expires_at <= NOW() THEN EXCLUDED.expires_at
				ELSE gqlsubs_rate_limits.expires_at
			END
		RETURNING count
	`, key, time.Now().Add(window)).Scan(&count)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to increment rate limit counter")
		return 0, err
	}

	return count, nil
}

// Reset resets the counter for a key.
func (s *PostgresStore) Reset(ctx context.Context, key string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM gqlsubs_rate_limits WHERE key = $1`, key)
	return err
}

// Cleanup removes expired rows and returns how many were deleted
func (s *PostgresStore) Cleanup(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM gqlsubs_rate_limits WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Close is a no-op; the pool belongs to the caller.
func (s *PostgresStore) Close() error {
	return nil
}
