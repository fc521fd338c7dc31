// Package config loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Upstream adapter modes.
const (
	ModeStream = "stream"
	ModeBatch  = "batch"
)

// Config holds all configuration for the gateway
type Config struct {
	// Server
	HTTPPort       int      `env:"HTTP_PORT" envDefault:"8080"`
	Environment    string   `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	// Upstream backend
	UpstreamMode  string        `env:"UPSTREAM_MODE" envDefault:"stream"`
	UpstreamURL   string        `env:"UPSTREAM_URL" envDefault:"http://localhost:11434"`
	UpstreamModel string        `env:"UPSTREAM_MODEL" envDefault:"deepseek-r1:1.5b"`
	ChunkTimeout  time.Duration `env:"CHUNK_TIMEOUT" envDefault:"10s"`

	// Admission control
	RateLimit  int           `env:"RATE_LIMIT" envDefault:"5"`
	RateWindow time.Duration `env:"RATE_WINDOW" envDefault:"1m"`

	// Request validation
	MaxMessages     int `env:"MAX_MESSAGES" envDefault:"50"`
	MaxContentChars int `env:"MAX_CONTENT_CHARS" envDefault:"32000"`

	// PostgreSQL request audit log (disabled when empty)
	DatabaseURL string `env:"DATABASE_URL"`
}

// Load loads configuration from .env file (if present) and environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if cfg.UpstreamMode != ModeStream && cfg.UpstreamMode != ModeBatch {
		return nil, fmt.Errorf("invalid UPSTREAM_MODE %q (want %q or %q)", cfg.UpstreamMode, ModeStream, ModeBatch)
	}

	return cfg, nil
}
