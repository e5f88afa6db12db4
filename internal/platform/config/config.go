// Package config builds the process configuration from environment
// variables so main stays lean. Every knob has a production-safe default;
// only secrets and connection strings must be provided.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the full process configuration, loaded from TURNSTILE_* env vars.
type Config struct {
	Server    Server
	Webhook   Webhook
	RateLimit RateLimit
	Cache     Cache
	Sync      Sync
	Queue     Queue
	Postgres  Postgres
	Redis     Redis
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr     string `default:":8080"`
	LogLevel string `split_words:"true" default:"info"`
}

// Webhook configures the inbound integration channel authenticator.
type Webhook struct {
	// Secret is held server-side only; scanning clients never see it.
	Secret          string        `required:"true"`
	FreshnessWindow time.Duration `split_words:"true" default:"5m"`
	ClockSkew       time.Duration `split_words:"true" default:"30s"`
	ReplayRetention time.Duration `split_words:"true" default:"10m"`
	AlertThreshold  int           `split_words:"true" default:"5"`
	AlertWindow     time.Duration `split_words:"true" default:"10m"`
}

// RateLimit configures the fixed-window limiter on public endpoints.
type RateLimit struct {
	Requests int           `default:"100"`
	Window   time.Duration `default:"1m"`
}

// Cache configures the read-endpoint response cache.
type Cache struct {
	TTL        time.Duration `default:"30s"`
	MaxEntries int           `split_words:"true" default:"1024"`
}

// Sync configures the queue drain coordinator.
type Sync struct {
	Workers         int           `default:"4"`
	BatchSize       int           `split_words:"true" default:"32"`
	Interval        time.Duration `default:"5s"`
	PurgeAfter      time.Duration `split_words:"true" default:"24h"`
	MaxAttempts     uint          `split_words:"true" default:"5"`
	InitialInterval time.Duration `split_words:"true" default:"200ms"`
	MaxInterval     time.Duration `split_words:"true" default:"5s"`
}

// Queue configures local scan-queue durability.
type Queue struct {
	// SQLitePath is the on-device queue file. Empty selects the in-memory
	// store, which does not survive restarts and is only for tests/dev.
	SQLitePath string `split_words:"true"`
}

// Postgres configures the authoritative ticket store connection.
type Postgres struct {
	// DSN empty selects the in-memory ticket store (dev only).
	DSN string
}

// Redis configures the optional Redis backend for the nonce store and
// response cache.
type Redis struct {
	URL          string
	PoolSize     int           `split_words:"true" default:"10"`
	MinIdleConns int           `split_words:"true" default:"2"`
	DialTimeout  time.Duration `split_words:"true" default:"5s"`
	ReadTimeout  time.Duration `split_words:"true" default:"3s"`
	WriteTimeout time.Duration `split_words:"true" default:"3s"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("turnstile", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Webhook.ReplayRetention < cfg.Webhook.FreshnessWindow {
		return nil, fmt.Errorf("replay retention %s must cover the freshness window %s",
			cfg.Webhook.ReplayRetention, cfg.Webhook.FreshnessWindow)
	}
	return &cfg, nil
}
