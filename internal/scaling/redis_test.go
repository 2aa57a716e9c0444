package scaling

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLock(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	a, err := NewRedisLock("redis://"+mr.Addr(), "gqlsubs:leader:scheduler", time.Minute)
	require.NoError(t, err)
	defer a.Close()
	b, err := NewRedisLock("redis://"+mr.Addr(), "gqlsubs:leader:scheduler", time.Minute)
	require.NoError(t, err)
	defer b.Close()

	held, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, held)

	held, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, held)

	t.Run("owner renews", func(t *testing.T) {
		mr.FastForward(45 * time.Second)
		held, err := a.TryAcquire(ctx)
		require.NoError(t, err)
		assert.True(t, held)
		assert.Equal(t, time.Minute, mr.TTL("gqlsubs:leader:scheduler"))
	})

	t.Run("only the owner releases", func(t *testing.T) {
		require.NoError(t, b.Release(ctx))
		assert.True(t, mr.Exists("gqlsubs:leader:scheduler"))

		require.NoError(t, a.Release(ctx))
		assert.False(t, mr.Exists("gqlsubs:leader:scheduler"))

		held, err := b.TryAcquire(ctx)
		require.NoError(t, err)
		assert.True(t, held)
	})

	t.Run("lease lapses", func(t *testing.T) {
		mr.FastForward(2 * time.Minute)
		held, err := a.TryAcquire(ctx)
		require.NoError(t, err)
		assert.True(t, held)

		held, err = b.TryAcquire(ctx)
		require.NoError(t, err)
		assert.False(t, held)
	})
}
