// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every tunable of the service. All values come from KONSOL_*
// environment variables; unset optional integrations leave their feature
// disabled rather than failing startup.
type Config struct {
	Addr     string `env:"KONSOL_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"KONSOL_GRPC_ADDR" envDefault:":9090"`

	// PGDSN empty means the in-memory store, for local development only.
	PGDSN string `env:"KONSOL_PG_DSN"`

	AuthSecret   string        `env:"KONSOL_AUTH_SECRET"`
	AuthTokenTTL time.Duration `env:"KONSOL_AUTH_TOKEN_TTL" envDefault:"1h"`

	DirectoryURL     string        `env:"KONSOL_DIRECTORY_URL"`
	DirectoryToken   string        `env:"KONSOL_DIRECTORY_TOKEN"`
	DirectoryTimeout time.Duration `env:"KONSOL_DIRECTORY_TIMEOUT" envDefault:"10s"`

	SecretsURL   string `env:"KONSOL_SECRETS_URL"`
	SecretsToken string `env:"KONSOL_SECRETS_TOKEN"`

	// ReconcileCron is a standard cron expression; empty disables the
	// in-process reconciler.
	ReconcileCron  string `env:"KONSOL_RECONCILE_CRON" envDefault:"@every 5m"`
	ReconcileBatch int    `env:"KONSOL_RECONCILE_BATCH" envDefault:"100"`

	RateLimitPerSec float64 `env:"KONSOL_RATE_LIMIT_PER_SEC" envDefault:"50"`
	RateLimitBurst  int     `env:"KONSOL_RATE_LIMIT_BURST" envDefault:"100"`

	MaxBodyBytes int64 `env:"KONSOL_MAX_BODY_BYTES" envDefault:"1048576"`

	Version string `env:"KONSOL_VERSION" envDefault:"dev"`
}

// Load parses the environment and validates cross-field constraints.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("KONSOL_ADDR must not be empty")
	}
	if c.DirectoryURL != "" && c.DirectoryToken == "" {
		return fmt.Errorf("KONSOL_DIRECTORY_TOKEN is required when KONSOL_DIRECTORY_URL is set")
	}
	if c.DirectoryTimeout <= 0 {
		return fmt.Errorf("KONSOL_DIRECTORY_TIMEOUT must be positive")
	}
	if c.ReconcileBatch <= 0 {
		return fmt.Errorf("KONSOL_RECONCILE_BATCH must be positive")
	}
	if c.RateLimitPerSec <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limit settings must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("KONSOL_MAX_BODY_BYTES must be positive")
	}
	return nil
}

// DirectoryConfigured reports whether a real directory endpoint was supplied.
func (c *Config) DirectoryConfigured() bool { return strings.TrimSpace(c.DirectoryURL) != "" }
