// Command failwatcher polls for newly failed jobs and posts them to
// Slack (plus an optional email digest) — the Go form of fail-watcher.py.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/distgpu/runner/config"
	"github.com/distgpu/runner/internal/infrastructure/postgres"
	ctxlog "github.com/distgpu/runner/internal/log"
	"github.com/distgpu/runner/internal/notify"
	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "failwatcher",
		Usage: "poll failed jobs and alert Slack / email",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "poll-interval", Value: 30 * time.Second, Usage: "same cadence fail-watcher.py used"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pool.Close()

	jobRepo := postgres.NewJobRepository(pool)
	sender := notify.NewSender(cfg.ResendAPIKey, cfg.ResendFrom, logger)

	notifier := notify.NewNotifier(
		jobRepo,
		cfg.SlackWebhookURL,
		sender,
		cfg.FailureDigestTo,
		c.Duration("poll-interval"),
		logger,
	)

	logger.Info("failwatcher started", "poll_interval", c.Duration("poll-interval"))
	notifier.Run(ctx)
	logger.Info("failwatcher shut down")
	return nil
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
