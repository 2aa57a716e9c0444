// Package ratelimit provides fixed-window counters shared by every replica
// that points at the same backend.
package ratelimit

import (
	"context"
	"time"
)

// Store is the interface for rate limit storage backends:
//   - Memory: single instance deployments
//   - PostgreSQL: multi-instance deployments without additional infrastructure
//   - Redis: anything speaking the Redis protocol
type Store interface {
	// Increment atomically increments the counter for a key. A missing or
	// expired key starts a new window of the given length at count 1.
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)

	// Reset resets the counter for a key.
	Reset(ctx context.Context, key string) error

	// Close releases resources owned by the store.
	Close() error
}

// Result contains the rate limit check result
type Result struct {
	Allowed   bool
	Remaining int64
	Limit     int64
	// ResetAt is an upper bound; the window may have started earlier.
	ResetAt time.Time
}

// Check increments the counter for key and reports whether the call fits
// within limit for the current window.
func Check(ctx context.Context, store Store, key string, limit int64, window time.Duration) (*Result, error) {
	count, err := store.Increment(ctx, key, window)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Allowed:   count <= limit,
		Remaining: limit - count,
		Limit:     limit,
		ResetAt:   time.Now().Add(window),
	}
	if result.Remaining < 0 {
		result.Remaining = 0
	}

	return result, nil
}
