// Package config provides unified configuration loading for the
// collaboration daemon: defaults, then a YAML file, then environment
// variable overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("collabd.yaml").
//	    WithEnvPrefix("COLLAB").
//	    Load()
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the complete daemon configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server" env:"SERVER"`
	Log          LogConfig          `yaml:"log" env:"LOG"`
	Registry     RegistryConfig     `yaml:"registry" env:"REGISTRY"`
	ContextStore ContextStoreConfig `yaml:"context_store" env:"CONTEXT_STORE"`
	Conversation ConversationConfig `yaml:"conversation" env:"CONVERSATION"`
	Delegation   DelegationConfig   `yaml:"delegation" env:"DELEGATION"`
	Session      SessionConfig      `yaml:"session" env:"SESSION"`
	Telemetry    TelemetryConfig    `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	// RateLimit is requests per second per client; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT"`
	// RateBurst is the burst allowance when limiting is on.
	RateBurst int `yaml:"rate_burst" env:"RATE_BURST"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json or console.
	Format string `yaml:"format" env:"FORMAT"`
}

// RegistryConfig configures the agent registry.
type RegistryConfig struct {
	// Alpha is the exponential-moving-average weight for outcomes.
	Alpha float64 `yaml:"alpha" env:"ALPHA"`
}

// ContextStoreConfig configures the shared context store.
type ContextStoreConfig struct {
	// Backend: memory or redis.
	Backend string `yaml:"backend" env:"BACKEND"`
	// SweepInterval is the period of the expiry sweep.
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`

	Redis RedisConfig `yaml:"redis" env:"REDIS"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr      string `yaml:"addr" env:"ADDR"`
	Password  string `yaml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" env:"DB"`
	PoolSize  int    `yaml:"pool_size" env:"POOL_SIZE"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// ConversationConfig configures conversation persistence.
type ConversationConfig struct {
	// Backend: memory or sqlite.
	Backend string `yaml:"backend" env:"BACKEND"`
	// DSN is the database path for the sqlite backend.
	DSN string `yaml:"dsn" env:"DSN"`
}

// DelegationConfig configures the delegation engine.
type DelegationConfig struct {
	// ResponseTimeout is how long a pending request may wait before it
	// is treated as implicitly rejected; 0 disables the expiry loop.
	ResponseTimeout time.Duration `yaml:"response_timeout" env:"RESPONSE_TIMEOUT"`
	// ExpiryInterval is how often timed-out requests are collected.
	ExpiryInterval time.Duration `yaml:"expiry_interval" env:"EXPIRY_INTERVAL"`
}

// SessionConfig configures the session manager.
type SessionConfig struct {
	MaxDelegationAttempts int `yaml:"max_delegation_attempts" env:"MAX_DELEGATION_ATTEMPTS"`
	DefaultPriority       int `yaml:"default_priority" env:"DEFAULT_PRIORITY"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	SampleRatio  float64 `yaml:"sample_ratio" env:"SAMPLE_RATIO"`
}

// DefaultConfig returns the configuration used when nothing else is
// specified.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       0,
			RateBurst:       20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Registry: RegistryConfig{
			Alpha: 0.2,
		},
		ContextStore: ContextStoreConfig{
			Backend:       "memory",
			SweepInterval: time.Minute,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				DB:        0,
				PoolSize:  10,
				KeyPrefix: "collab:",
			},
		},
		Conversation: ConversationConfig{
			Backend: "memory",
			DSN:     "collab.db",
		},
		Delegation: DelegationConfig{
			ResponseTimeout: 5 * time.Minute,
			ExpiryInterval:  30 * time.Second,
		},
		Session: SessionConfig{
			MaxDelegationAttempts: 3,
			DefaultPriority:       5,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ServiceName:  "collabd",
			OTLPEndpoint: "localhost:4317",
			SampleRatio:  1.0,
		},
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Registry.Alpha <= 0 || c.Registry.Alpha > 1 {
		errs = append(errs, "registry alpha must be in (0, 1]")
	}
	switch c.ContextStore.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("unknown context store backend %q", c.ContextStore.Backend))
	}
	switch c.Conversation.Backend {
	case "memory", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("unknown conversation backend %q", c.Conversation.Backend))
	}
	if c.Session.MaxDelegationAttempts <= 0 {
		errs = append(errs, "max_delegation_attempts must be positive")
	}
	if c.Session.DefaultPriority < 1 || c.Session.DefaultPriority > 10 {
		errs = append(errs, "default_priority must be in 1-10")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, "telemetry sample_ratio must be in [0, 1]")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
