package main

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/fluxbase-eu/gqlsubs/internal/config"
	"github.com/fluxbase-eu/gqlsubs/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const appConfig = `
server:
  address: "127.0.0.1:0"
metrics:
  enabled: false
custom_events:
  - name: heartbeat
    schedule: "@every 1m"
    payload: alive
`

func TestNewApp_Local(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, appConfig))
	require.NoError(t, err)

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.close(context.Background())

	assert.Nil(t, a.group, "local backend has no broadcast group")
	assert.Nil(t, a.elector, "single replica needs no election")
	assert.Nil(t, a.listener)
	_, ok := a.limits.(*ratelimit.MemoryStore)
	assert.True(t, ok)
	assert.Equal(t, []string{"heartbeat"}, a.scheduler.Names())
	require.NoError(t, a.store.Health(context.Background()))
}

func TestNewApp_Redis(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg, err := config.Load(writeConfig(t, appConfig))
	require.NoError(t, err)
	cfg.Scaling = config.ScalingConfig{Backend: "redis", RedisURL: "redis://" + mr.Addr(), Channel: "subscriptions"}

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.close(context.Background())

	assert.NotNil(t, a.group)
	require.NotNil(t, a.elector)
	assert.False(t, a.elector.IsLeader(), "election starts with run")
	_, ok := a.limits.(*ratelimit.RedisStore)
	assert.True(t, ok)
}

func TestNewApp_RateLimitDisabled(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, appConfig))
	require.NoError(t, err)
	cfg.Server.EventRateLimit = 0
	cfg.CustomEvents = nil

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.close(context.Background())

	assert.Nil(t, a.limits)
	assert.Nil(t, a.lock)
}
