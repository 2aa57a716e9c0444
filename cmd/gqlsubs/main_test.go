package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fluxbase-eu/gqlsubs/internal/auth"
	"github.com/fluxbase-eu/gqlsubs/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const testSecret = "0123456789abcdef0123"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "gqlsubs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestSetupLogging(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	tests := []struct {
		name string
		cfg  config.Config
		want zerolog.Level
	}{
		{name: "default", cfg: config.Config{}, want: zerolog.InfoLevel},
		{name: "log level", cfg: config.Config{LogLevel: "warn"}, want: zerolog.WarnLevel},
		{name: "debug wins", cfg: config.Config{Debug: true, LogLevel: "error"}, want: zerolog.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			setupLogging(&tt.cfg, &buf)
			assert.Equal(t, tt.want, zerolog.GlobalLevel())
		})
	}
}

func TestVersionCmd(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "gqlsubs "+Version))
	assert.Contains(t, out, "Commit: ")
}

func TestConfigCmd_RedactsSecrets(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: `+testSecret+`
scaling:
  backend: redis
  redis_url: redis://:hunter2@localhost:6379
`)

	out, _, err := execute(t, "config", "--config", path)
	require.NoError(t, err)
	assert.NotContains(t, out, testSecret)
	assert.NotContains(t, out, "hunter2")

	var printed map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(out), &printed))
	assert.Equal(t, redacted, printed["auth"].(map[string]interface{})["jwt_secret"])
	assert.Equal(t, "15s", printed["server"].(map[string]interface{})["read_timeout"])
}

func TestTokenCmd(t *testing.T) {
	path := writeConfig(t, "auth:\n  jwt_secret: "+testSecret+"\n")

	out, stderr, err := execute(t, "token", "--config", path, "--user", "42", "--role", "admin")
	require.NoError(t, err)
	assert.Contains(t, stderr, "expires: ")

	manager, err := auth.NewJWTManager(testSecret, time.Hour)
	require.NoError(t, err)
	claims, err := manager.ValidateToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "42", claims.UserID)
	assert.Equal(t, "admin", claims.Role)
}

func TestTokenCmd_RequiresSecret(t *testing.T) {
	path := writeConfig(t, "log_level: info\n")

	_, _, err := execute(t, "token", "--config", path, "--user", "42")
	require.ErrorIs(t, err, auth.ErrMissingSecret)
}

func TestMigrateCmd_RequiresPostgres(t *testing.T) {
	path := writeConfig(t, "database:\n  driver: sqlite\n")

	_, _, err := execute(t, "migrate", "up", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migrations require database driver 'postgres'")
}

func TestMigrateDown_RejectsZeroSteps(t *testing.T) {
	path := writeConfig(t, "database:\n  driver: sqlite\n")

	_, _, err := execute(t, "migrate", "down", "--steps", "0", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--steps must be at least 1")
}

func TestBackendName(t *testing.T) {
	assert.Equal(t, "local", backendName(config.ScalingConfig{}))
	assert.Equal(t, "redis", backendName(config.ScalingConfig{Backend: "redis"}))
}
