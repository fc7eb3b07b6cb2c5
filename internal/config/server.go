package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/pzron/ecom-sub001/pkg/config"
	"github.com/pzron/ecom-sub001/pkg/database"
	"github.com/pzron/ecom-sub001/pkg/tracing"
)

// Repository backends for the collection API.
const (
	RepositoryRedis    = "redis"
	RepositoryPostgres = "postgres"
)

const defaultJWTSecret = "change-this-to-a-secure-secret"

// Server holds all configuration for the collectiond service.
type Server struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort        int           `env:"COLLECTIOND_HTTP_PORT" envDefault:"8080"`
	ShutdownTimeout time.Duration `env:"COLLECTIOND_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Storage
	Repository string        `env:"COLLECTIOND_REPOSITORY" envDefault:"redis"`
	RecordTTL  time.Duration `env:"COLLECTIOND_RECORD_TTL" envDefault:"0s"`
	Redis      database.RedisConfig
	Postgres   database.PostgresConfig

	// Kafka; no brokers disables change events.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`

	// JWT
	JWTSecret string `env:"JWT_SECRET" envDefault:"change-this-to-a-secure-secret"`

	Tracing tracing.Config
}

// LoadServer reads server configuration from environment variables.
func LoadServer() (*Server, error) {
	cfg := &Server{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load collectiond config: %w", err)
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "collectiond"
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Server) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	switch c.Repository {
	case RepositoryRedis, RepositoryPostgres:
	default:
		return fmt.Errorf("COLLECTIOND_REPOSITORY must be redis or postgres: got %q", c.Repository)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("TRACING_SAMPLE_RATE must be between 0.0 and 1.0")
	}

	// In non-development environments, require an explicitly set, strong JWT secret.
	if c.Environment != "development" {
		if c.JWTSecret == defaultJWTSecret {
			return fmt.Errorf("JWT_SECRET must be explicitly set via environment variable in %q mode", c.Environment)
		}
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters long, got %d", len(c.JWTSecret))
		}
	}
	return nil
}
