package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration for a taskhub instance.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	Coordination  CoordinationConfig  `yaml:"coordination"`
	Database      DatabaseConfig      `yaml:"database"`
	Presence      PresenceConfig      `yaml:"presence"`
	Activity      ActivityConfig      `yaml:"activity"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Logging       LoggingConfig       `yaml:"logging"`
	Tracing       TracingConfig       `yaml:"tracing"`
}

// ServerConfig configures the HTTP/websocket listener.
type ServerConfig struct {
	// Host to bind. Defaults to 0.0.0.0.
	Host string `yaml:"host"`
	// Port to listen on. Defaults to 8080.
	Port int `yaml:"port"`
	// InstanceID uniquely identifies this instance on the relay
	// channel. Defaults to a generated UUID.
	InstanceID string `yaml:"instance_id"`
}

// AuthConfig configures handshake credential validation.
type AuthConfig struct {
	// JWTSecret enables bearer-token validation when non-empty.
	JWTSecret string `yaml:"jwt_secret"`
	// APIKeys declares static keys mapped to fixed identities.
	APIKeys []APIKeyConfig `yaml:"api_keys"`
}

// APIKeyConfig declares a static API key and associated identity.
type APIKeyConfig struct {
	Key    string `yaml:"key"`
	UserID string `yaml:"user_id"`
	Email  string `yaml:"email"`
	Name   string `yaml:"name"`
}

// CoordinationConfig configures the shared coordination store. When
// Addr is empty the instance runs with an in-process store and
// cross-instance relay is disabled.
type CoordinationConfig struct {
	// Addr is the Redis address, e.g. "localhost:6379".
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// Channel is the pub/sub channel for cross-instance relay.
	// Defaults to "taskhub:events".
	Channel string `yaml:"channel"`
}

// DatabaseConfig configures the task-data store.
type DatabaseConfig struct {
	// DSN is the Postgres connection string. When empty an in-memory
	// store is used (development only).
	DSN string `yaml:"dsn"`
}

// PresenceConfig tunes presence liveness.
type PresenceConfig struct {
	// TTL is the presence key expiry. Defaults to 5 minutes.
	TTL time.Duration `yaml:"ttl"`
	// HeartbeatInterval refreshes the key before expiry.
	// Defaults to 4 minutes and must be shorter than TTL.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// TypingTimeout auto-clears a typing indicator after inactivity.
	// Defaults to 5 seconds.
	TypingTimeout time.Duration `yaml:"typing_timeout"`
}

// ActivityConfig bounds the per-user activity feed.
type ActivityConfig struct {
	// MaxEntries caps the feed by rank. Defaults to 100.
	MaxEntries int `yaml:"max_entries"`
	// MaxAge expires entries by age. Defaults to 168h (7 days).
	MaxAge time.Duration `yaml:"max_age"`
	// ReplayLimit is the default page size for feed replay.
	// Defaults to 50.
	ReplayLimit int `yaml:"replay_limit"`
}

// NotificationsConfig tunes the reminder dispatcher.
type NotificationsConfig struct {
	// ScanInterval is how often due reminders are scanned.
	// Defaults to 60 seconds.
	ScanInterval time.Duration `yaml:"scan_interval"`
	// Window is how far ahead of the reminder time a notification
	// fires. Defaults to 5 minutes.
	Window time.Duration `yaml:"window"`
	// DedupeTTL is the lifetime of sent markers. Defaults to 1 hour.
	DedupeTTL time.Duration `yaml:"dedupe_ttl"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level: "debug", "info", "warn", "error". Defaults to "info".
	Level string `yaml:"level"`
	// Format: "json" or "text". Defaults to "json".
	Format string `yaml:"format"`
}

// TracingConfig configures the optional OTLP trace exporter.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	// SampleRate in [0,1]. Defaults to 1.
	SampleRate float64 `yaml:"sample_rate"`
}

// ApplyDefaults fills zero values with production defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Coordination.Channel == "" {
		c.Coordination.Channel = "taskhub:events"
	}
	if c.Presence.TTL <= 0 {
		c.Presence.TTL = 5 * time.Minute
	}
	if c.Presence.HeartbeatInterval <= 0 {
		c.Presence.HeartbeatInterval = 4 * time.Minute
	}
	if c.Presence.TypingTimeout <= 0 {
		c.Presence.TypingTimeout = 5 * time.Second
	}
	if c.Activity.MaxEntries <= 0 {
		c.Activity.MaxEntries = 100
	}
	if c.Activity.MaxAge <= 0 {
		c.Activity.MaxAge = 7 * 24 * time.Hour
	}
	if c.Activity.ReplayLimit <= 0 {
		c.Activity.ReplayLimit = 50
	}
	if c.Notifications.ScanInterval <= 0 {
		c.Notifications.ScanInterval = 60 * time.Second
	}
	if c.Notifications.Window <= 0 {
		c.Notifications.Window = 5 * time.Minute
	}
	if c.Notifications.DedupeTTL <= 0 {
		c.Notifications.DedupeTTL = time.Hour
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Tracing.SampleRate <= 0 {
		c.Tracing.SampleRate = 1
	}
}

// Validate checks cross-field constraints after defaults are applied.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Presence.HeartbeatInterval >= c.Presence.TTL {
		return fmt.Errorf("presence.heartbeat_interval must be shorter than presence.ttl")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format %q must be json or text", c.Logging.Format)
	}
	if c.Tracing.Enabled && strings.TrimSpace(c.Tracing.Endpoint) == "" {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
	}
	return nil
}
