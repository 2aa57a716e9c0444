package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)

	store, err := NewRedisStore("redis://" + mr.Addr())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		count, err := store.Increment(ctx, "events:10.0.0.1", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, count)
	}

	assert.True(t, mr.Exists("gqlsubs:ratelimit:events:10.0.0.1"))
	ttl := mr.TTL("gqlsubs:ratelimit:events:10.0.0.1")
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)

	t.Run("window expires", func(t *testing.T) {
		mr.FastForward(2 * time.Minute)
		count, err := store.Increment(ctx, "events:10.0.0.1", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("reset", func(t *testing.T) {
		require.NoError(t, store.Reset(ctx, "events:10.0.0.1"))
		assert.False(t, mr.Exists("gqlsubs:ratelimit:events:10.0.0.1"))
	})
}

func TestRedisStore_SharedAcrossClients(t *testing.T) {
	mr := miniredis.RunT(t)

	a, err := NewRedisStore("redis://" + mr.Addr())
	require.NoError(t, err)
	defer a.Close()
	b, err := NewRedisStore("redis://" + mr.Addr())
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()

	_, err = a.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	count, err := b.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisStore("redis://" + addr)
	require.Error(t, err)
}
