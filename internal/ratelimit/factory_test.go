package ratelimit

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/fluxbase-eu/gqlsubs/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore(t *testing.T) {
	t.Run("memory store for local backends", func(t *testing.T) {
		for _, backend := range []string{"", "local"} {
			store, err := NewStore(&config.ScalingConfig{Backend: backend}, nil)
			require.NoError(t, err)
			_, ok := store.(*MemoryStore)
			assert.True(t, ok, "should be MemoryStore")
			require.NoError(t, store.Close())
		}
	})

	t.Run("errors for postgres backend without pool", func(t *testing.T) {
		store, err := NewStore(&config.ScalingConfig{Backend: "postgres"}, nil)
		require.Error(t, err)
		assert.Nil(t, store)
		assert.Contains(t, err.Error(), "database pool is required")
	})

	t.Run("errors for redis backend without url", func(t *testing.T) {
		store, err := NewStore(&config.ScalingConfig{Backend: "redis"}, nil)
		require.Error(t, err)
		assert.Nil(t, store)
		assert.Contains(t, err.Error(), "redis_url is required")
	})

	t.Run("redis store", func(t *testing.T) {
		mr := miniredis.RunT(t)

		store, err := NewStore(&config.ScalingConfig{Backend: "redis", RedisURL: "redis://" + mr.Addr()}, nil)
		require.NoError(t, err)
		defer store.Close()

		_, ok := store.(*RedisStore)
		assert.True(t, ok, "should be RedisStore")
	})

	t.Run("errors for unknown backend", func(t *testing.T) {
		store, err := NewStore(&config.ScalingConfig{Backend: "memcached"}, nil)
		require.Error(t, err)
		assert.Nil(t, store)
		assert.Contains(t, err.Error(), "valid options: local, postgres, redis")
	})
}
