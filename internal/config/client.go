// Package config loads the environment configuration of the shopsync
// client and the collectiond server.
package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/pzron/ecom-sub001/pkg/config"
	"github.com/pzron/ecom-sub001/pkg/database"
	"github.com/pzron/ecom-sub001/pkg/tracing"
)

// Storage backends for the client's durable state.
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
	StorageSQLite = "sqlite"
)

// Client holds all configuration for the shopsync client.
type Client struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"warn"`

	// Collection API
	APIBaseURL     string        `env:"SHOPSYNC_API_URL" envDefault:"http://localhost:8080"`
	RequestTimeout time.Duration `env:"SHOPSYNC_REQUEST_TIMEOUT" envDefault:"10s"`

	// Sync engine
	PushTimeout time.Duration `env:"SHOPSYNC_PUSH_TIMEOUT" envDefault:"10s"`
	PullTimeout time.Duration `env:"SHOPSYNC_PULL_TIMEOUT" envDefault:"15s"`
	MaxAttempts int           `env:"SHOPSYNC_MAX_ATTEMPTS" envDefault:"2"`
	MinBackoff  time.Duration `env:"SHOPSYNC_MIN_BACKOFF" envDefault:"200ms"`
	MaxBackoff  time.Duration `env:"SHOPSYNC_MAX_BACKOFF" envDefault:"5s"`
	PushRate    float64       `env:"SHOPSYNC_PUSH_RATE" envDefault:"20"`
	PushBurst   int           `env:"SHOPSYNC_PUSH_BURST" envDefault:"10"`

	// Durable state
	Storage    string        `env:"SHOPSYNC_STORAGE" envDefault:"sqlite"`
	Namespace  string        `env:"SHOPSYNC_NAMESPACE" envDefault:"shopsync"`
	SQLitePath string        `env:"SHOPSYNC_SQLITE_PATH" envDefault:"shopsync.db"`
	RedisTTL   time.Duration `env:"SHOPSYNC_REDIS_TTL" envDefault:"0s"`
	Redis      database.RedisConfig

	Tracing tracing.Config
}

// LoadClient reads client configuration from environment variables.
func LoadClient() (*Client, error) {
	cfg := &Client{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load shopsync config: %w", err)
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "shopsync"
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Client) validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("SHOPSYNC_API_URL is required")
	}
	switch c.Storage {
	case StorageMemory, StorageRedis, StorageSQLite:
	default:
		return fmt.Errorf("SHOPSYNC_STORAGE must be one of memory, redis, sqlite: got %q", c.Storage)
	}
	if c.Storage == StorageSQLite && c.SQLitePath == "" {
		return fmt.Errorf("SHOPSYNC_SQLITE_PATH is required for sqlite storage")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("SHOPSYNC_MAX_ATTEMPTS must be at least 1: got %d", c.MaxAttempts)
	}
	if c.MinBackoff > c.MaxBackoff {
		return fmt.Errorf("SHOPSYNC_MIN_BACKOFF %s exceeds SHOPSYNC_MAX_BACKOFF %s", c.MinBackoff, c.MaxBackoff)
	}
	if c.PushRate < 0 {
		return fmt.Errorf("SHOPSYNC_PUSH_RATE must not be negative")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("TRACING_SAMPLE_RATE must be between 0.0 and 1.0")
	}
	return nil
}
