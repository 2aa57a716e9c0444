package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable override
const EnvPrefix = "GQLSUBS"

// Config represents the application configuration
type Config struct {
	Server       ServerConfig        `mapstructure:"server" yaml:"server"`
	Database     DatabaseConfig      `mapstructure:"database" yaml:"database"`
	Realtime     RealtimeConfig      `mapstructure:"realtime" yaml:"realtime"`
	GraphQL      GraphQLConfig       `mapstructure:"graphql" yaml:"graphql"`
	Scaling      ScalingConfig       `mapstructure:"scaling" yaml:"scaling"`
	Signals      SignalsConfig       `mapstructure:"signals" yaml:"signals"`
	CustomEvents []CustomEventConfig `mapstructure:"custom_events" yaml:"custom_events"`
	Auth         AuthConfig          `mapstructure:"auth" yaml:"auth"`
	Metrics      MetricsConfig       `mapstructure:"metrics" yaml:"metrics"`
	Tracing      TracingConfig       `mapstructure:"tracing" yaml:"tracing"`
	Debug        bool                `mapstructure:"debug" yaml:"debug"`
	LogLevel     string              `mapstructure:"log_level" yaml:"log_level"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address      string        `mapstructure:"address" yaml:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	BodyLimit    int           `mapstructure:"body_limit" yaml:"body_limit"`

	// EventRateLimit caps POST /api/v1/events per IP and minute, 0 disables
	EventRateLimit int `mapstructure:"event_rate_limit" yaml:"event_rate_limit"`
}

// DatabaseConfig selects the store backend and holds PostgreSQL settings
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" yaml:"driver"` // sqlite or postgres
	SQLitePath      string        `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	User            string        `mapstructure:"user" yaml:"user"`
	Password        string        `mapstructure:"password" yaml:"password"`
	Database        string        `mapstructure:"database" yaml:"database"`
	SSLMode         string        `mapstructure:"ssl_mode" yaml:"ssl_mode"`
	MaxConnections  int32         `mapstructure:"max_connections" yaml:"max_connections"`
	MinConnections  int32         `mapstructure:"min_connections" yaml:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime" yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time" yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `mapstructure:"health_check_period" yaml:"health_check_period"`
}

// RealtimeConfig contains websocket subscription settings
type RealtimeConfig struct {
	Enabled            bool    `mapstructure:"enabled" yaml:"enabled"`
	Path               string  `mapstructure:"path" yaml:"path"`
	Subprotocol        string  `mapstructure:"subprotocol" yaml:"subprotocol"`
	MaxConnections     int     `mapstructure:"max_connections" yaml:"max_connections"`
	OutboundBufferSize int     `mapstructure:"outbound_buffer_size" yaml:"outbound_buffer_size"`
	MessageSizeLimit   int64   `mapstructure:"message_size_limit" yaml:"message_size_limit"`
	MessagesPerSecond  float64 `mapstructure:"messages_per_second" yaml:"messages_per_second"` // 0 disables rate limiting
	MessageBurst       int     `mapstructure:"message_burst" yaml:"message_burst"`
}

// ScalingConfig selects how events reach other processes
type ScalingConfig struct {
	Backend  string `mapstructure:"backend" yaml:"backend"` // local, postgres or redis
	RedisURL string `mapstructure:"redis_url" yaml:"redis_url"`
	Channel  string `mapstructure:"channel" yaml:"channel"`
}

// SignalsConfig selects where write notifications come from
type SignalsConfig struct {
	Source        string `mapstructure:"source" yaml:"source"` // store or postgres
	NotifyChannel string `mapstructure:"notify_channel" yaml:"notify_channel"`
}

// CustomEventConfig schedules a custom event
type CustomEventConfig struct {
	Name     string `mapstructure:"name" yaml:"name"`
	Schedule string `mapstructure:"schedule" yaml:"schedule"`
	Payload  string `mapstructure:"payload" yaml:"payload"`
}

// AuthConfig contains connection authentication settings
type AuthConfig struct {
	JWTSecret    string        `mapstructure:"jwt_secret" yaml:"jwt_secret"` // empty allows anonymous connections only
	RequireToken bool          `mapstructure:"require_token" yaml:"require_token"`
	TokenTTL     time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
}

// MetricsConfig contains Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// TracingConfig contains OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint"`
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"`
	Environment string  `mapstructure:"environment" yaml:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure" yaml:"insecure"`
}

// Load loads configuration from an optional file and environment variables.
// An empty configFile searches gqlsubs.yaml in the usual locations.
func Load(configFile string) (*Config, error) {
	if err := loadEnvFile(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("gqlsubs")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/gqlsubs")
	}

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Info().Msg("No config file found, using environment variables and defaults")
	} else {
		log.Info().Str("file", v.ConfigFileUsed()).Msg("Config file loaded")
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// loadEnvFile loads environment variables from the first .env file found.
// Variables already set in the environment win.
func loadEnvFile() error {
	for _, location := range []string{".env", ".env.local"} {
		if _, err := os.Stat(location); err == nil {
			if err := godotenv.Load(location); err != nil {
				return fmt.Errorf("error loading .env file from %s: %w", location, err)
			}
			log.Info().Str("file", location).Msg(".env file loaded")
			return nil
		}
	}

	return fmt.Errorf("no .env file found")
}

// setDefaults registers a default for every key so that each one can be
// overridden from the environment
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.body_limit", 1024*1024)
	v.SetDefault("server.event_rate_limit", 600)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.sqlite_path", "file:gqlsubs.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.database", "gqlsubs")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.min_connections", 1)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "1m")

	v.SetDefault("realtime.enabled", true)
	v.SetDefault("realtime.path", "/graphql")
	v.SetDefault("realtime.subprotocol", "graphql-ws")
	v.SetDefault("realtime.max_connections", 1000)
	v.SetDefault("realtime.outbound_buffer_size", 100)
	v.SetDefault("realtime.message_size_limit", 512*1024)
	v.SetDefault("realtime.messages_per_second", 0)
	v.SetDefault("realtime.message_burst", 20)

	v.SetDefault("graphql.max_depth", 10)
	v.SetDefault("graphql.max_complexity", 1000)
	v.SetDefault("graphql.introspection", true)
	v.SetDefault("graphql.http_enabled", true)

	v.SetDefault("scaling.backend", "local")
	v.SetDefault("scaling.redis_url", "")
	v.SetDefault("scaling.channel", "subscriptions")

	v.SetDefault("signals.source", "store")
	v.SetDefault("signals.notify_channel", "gqlsubs_changes")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.require_token", false)
	v.SetDefault("auth.token_ttl", "1h")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.service_name", "gqlsubs")
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.insecure", true)

	v.SetDefault("debug", false)
	v.SetDefault("log_level", "info")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration error: %w", err)
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database configuration error: %w", err)
	}
	if err := c.Realtime.Validate(); err != nil {
		return fmt.Errorf("realtime configuration error: %w", err)
	}
	if err := c.GraphQL.Validate(); err != nil {
		return fmt.Errorf("graphql configuration error: %w", err)
	}
	if err := c.Scaling.Validate(); err != nil {
		return fmt.Errorf("scaling configuration error: %w", err)
	}
	if err := c.Signals.Validate(); err != nil {
		return fmt.Errorf("signals configuration error: %w", err)
	}
	for i, ev := range c.CustomEvents {
		if err := ev.Validate(); err != nil {
			return fmt.Errorf("custom_events[%d] configuration error: %w", i, err)
		}
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth configuration error: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics configuration error: %w", err)
	}
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing configuration error: %w", err)
	}

	if c.Database.Driver != "postgres" {
		if c.Signals.Source == "postgres" {
			return fmt.Errorf("signals source 'postgres' requires database driver 'postgres'")
		}
		if c.Scaling.Backend == "postgres" {
			return fmt.Errorf("scaling backend 'postgres' requires database driver 'postgres'")
		}
	}

	switch c.LogLevel {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level: %s", c.LogLevel)
	}

	return nil
}

// Validate validates server configuration
func (sc *ServerConfig) Validate() error {
	if sc.Address == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if sc.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be positive, got: %v", sc.ReadTimeout)
	}
	if sc.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be positive, got: %v", sc.WriteTimeout)
	}
	if sc.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be positive, got: %v", sc.IdleTimeout)
	}
	if sc.BodyLimit <= 0 {
		return fmt.Errorf("body_limit must be positive, got: %d", sc.BodyLimit)
	}
	if sc.EventRateLimit < 0 {
		return fmt.Errorf("event_rate_limit cannot be negative, got: %d", sc.EventRateLimit)
	}
	return nil
}

// Validate validates database configuration
func (dc *DatabaseConfig) Validate() error {
	switch dc.Driver {
	case "sqlite":
		if dc.SQLitePath == "" {
			return fmt.Errorf("sqlite_path is required for the sqlite driver")
		}
		return nil
	case "postgres":
	default:
		return fmt.Errorf("invalid database driver: %s (must be 'sqlite' or 'postgres')", dc.Driver)
	}

	if dc.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if dc.Port < 1 || dc.Port > 65535 {
		return fmt.Errorf("database port must be between 1 and 65535, got: %d", dc.Port)
	}
	if dc.User == "" {
		return fmt.Errorf("database user is required")
	}
	if dc.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if dc.MaxConnections < dc.MinConnections {
		return fmt.Errorf("max_connections must be greater than or equal to min_connections")
	}
	return nil
}

func (dc *DatabaseConfig) url(scheme string, query url.Values) string {
	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(dc.User, dc.Password),
		Host:     net.JoinHostPort(dc.Host, strconv.Itoa(dc.Port)),
		Path:     "/" + dc.Database,
		RawQuery: query.Encode(),
	}
	return u.String()
}

// ConnectionString returns the PostgreSQL connection string
func (dc *DatabaseConfig) ConnectionString() string {
	return dc.url("postgres", url.Values{"sslmode": {dc.SSLMode}})
}

// MigrateURL returns the golang-migrate database URL recording versions in
// migrationsTable
func (dc *DatabaseConfig) MigrateURL(migrationsTable string) string {
	return dc.url("pgx5", url.Values{
		"sslmode":            {dc.SSLMode},
		"x-migrations-table": {migrationsTable},
	})
}

// Validate validates realtime configuration
func (rc *RealtimeConfig) Validate() error {
	if !rc.Enabled {
		return nil
	}
	if !strings.HasPrefix(rc.Path, "/") {
		return fmt.Errorf("realtime path must start with '/', got: %q", rc.Path)
	}
	if rc.Subprotocol == "" {
		return fmt.Errorf("realtime subprotocol is required")
	}
	if rc.MaxConnections < 0 {
		return fmt.Errorf("max_connections cannot be negative")
	}
	if rc.OutboundBufferSize < 1 {
		return fmt.Errorf("outbound_buffer_size must be at least 1, got: %d", rc.OutboundBufferSize)
	}
	if rc.MessageSizeLimit < 0 {
		return fmt.Errorf("message_size_limit cannot be negative")
	}
	if rc.MessagesPerSecond < 0 {
		return fmt.Errorf("messages_per_second cannot be negative")
	}
	if rc.MessagesPerSecond > 0 && rc.MessageBurst < 1 {
		return fmt.Errorf("message_burst must be at least 1 when rate limiting is enabled")
	}
	return nil
}

// Validate validates scaling configuration
func (sc *ScalingConfig) Validate() error {
	switch sc.Backend {
	case "", "local", "postgres":
	case "redis":
		if sc.RedisURL == "" {
			return fmt.Errorf("redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid scaling backend: %s (must be 'local', 'postgres' or 'redis')", sc.Backend)
	}
	return nil
}

// Distributed reports whether events cross process boundaries
func (sc *ScalingConfig) Distributed() bool {
	return sc.Backend == "postgres" || sc.Backend == "redis"
}

// Validate validates signals configuration
func (sc *SignalsConfig) Validate() error {
	switch sc.Source {
	case "store":
	case "postgres":
		if sc.NotifyChannel == "" {
			return fmt.Errorf("notify_channel is required for the postgres source")
		}
	default:
		return fmt.Errorf("invalid signals source: %s (must be 'store' or 'postgres')", sc.Source)
	}
	return nil
}

// Validate validates a scheduled custom event
func (ec *CustomEventConfig) Validate() error {
	if ec.Name == "" {
		return fmt.Errorf("custom event name is required")
	}
	if ec.Schedule == "" {
		return fmt.Errorf("schedule is required for custom event %s", ec.Name)
	}
	return nil
}

// Validate validates auth configuration
func (ac *AuthConfig) Validate() error {
	if ac.RequireToken && ac.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required when require_token is enabled")
	}
	if ac.JWTSecret != "" && len(ac.JWTSecret) < 16 {
		return fmt.Errorf("jwt_secret must be at least 16 characters")
	}
	if ac.TokenTTL < 0 {
		return fmt.Errorf("token_ttl cannot be negative")
	}
	return nil
}

// Validate validates metrics configuration
func (mc *MetricsConfig) Validate() error {
	if mc.Enabled && !strings.HasPrefix(mc.Path, "/") {
		return fmt.Errorf("metrics path must start with '/', got: %q", mc.Path)
	}
	return nil
}

// Validate validates tracing configuration
func (tc *TracingConfig) Validate() error {
	if !tc.Enabled {
		return nil
	}
	if tc.Endpoint == "" {
		return fmt.Errorf("tracing endpoint is required when tracing is enabled")
	}
	if tc.SampleRate < 0 || tc.SampleRate > 1 {
		return fmt.Errorf("sample_rate must be between 0.0 and 1.0, got: %v", tc.SampleRate)
	}
	return nil
}
