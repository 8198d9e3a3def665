package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Config is the ambient environment shared by all three binaries
// (runner, push, failwatcher): database connection, logging, admin API
// auth, and notification credentials. Per-host GPU/label/path settings
// are CLI flags (urfave/cli/v2), not env vars, since every runner host
// on a shared deployment needs its own values — matching the original
// runner.py's argparse surface.
type Config struct {
	Env      string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`

	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`

	AdminAPIPort string `env:"ADMIN_API_PORT" envDefault:"8080"`
	MetricsPort  string `env:"METRICS_PORT" envDefault:"9090"`
	JWTSecret    string `env:"JWT_SECRET" validate:"required"`

	SlackWebhookURL   string `env:"SLACK_WEBHOOK_URL"`
	ResendAPIKey      string `env:"RESEND_API_KEY"`
	ResendFrom        string `env:"RESEND_FROM"`
	FailureDigestTo   string `env:"FAILURE_DIGEST_TO"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel converts the LOG_LEVEL string to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
