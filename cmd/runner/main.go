// Command runner is the executor host: it registers itself, claims Queue
// jobs that fit its GPUs and labels, drives them through an executor
// backend, and serves the admin HTTP API and Prometheus metrics — the Go
// form of runner.py's ExecutorManager plus the serving wrapper it never had.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/distgpu/runner/config"
	"github.com/distgpu/runner/internal/executor"
	"github.com/distgpu/runner/internal/gitrepo"
	"github.com/distgpu/runner/internal/gpu"
	"github.com/distgpu/runner/internal/health"
	"github.com/distgpu/runner/internal/infrastructure/postgres"
	ctxlog "github.com/distgpu/runner/internal/log"
	"github.com/distgpu/runner/internal/metrics"
	"github.com/distgpu/runner/internal/scheduler"
	"github.com/distgpu/runner/internal/shutdown"
	"github.com/distgpu/runner/internal/transport/http/handler"
	httptransport "github.com/distgpu/runner/internal/transport/http"
	"github.com/distgpu/runner/internal/tui"
	"github.com/distgpu/runner/internal/usecase"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "runner",
		Usage: "register this host and execute GPU jobs off the shared queue",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "runner name; defaults to the hostname"},
			&cli.StringFlag{Name: "gpus", Usage: "comma-separated GPU indices this host may use; empty means every GPU found"},
			&cli.StringSliceFlag{Name: "labels", Usage: "capability labels this host advertises, e.g. --labels a100 --labels fast-disk"},
			&cli.Float64Flag{Name: "max-gpu-memory-used", Value: 0.1, Usage: "fraction of a GPU's memory that still counts as free when --gpus is empty and GPUs are detected at startup"},
			&cli.IntFlag{Name: "max-parallel", Value: 10, Usage: "maximum jobs this host runs at once"},
			&cli.StringFlag{Name: "temp-dir-root", Value: filepath.Join(os.Getenv("HOME"), ".distgpu-runner", "tmp"), Usage: "workspace root for in-flight jobs"},
			&cli.StringFlag{Name: "trash-dir-root", Value: filepath.Join(os.Getenv("HOME"), ".distgpu-runner", "trash"), Usage: "finished workspaces are moved here instead of deleted"},
			&cli.StringFlag{Name: "repo-cache-dir", Value: filepath.Join(os.Getenv("HOME"), ".distgpu-runner", "repo-cache"), Usage: "shared bare-clone cache directory"},
			&cli.StringFlag{Name: "venv-root", Value: filepath.Join(os.Getenv("HOME"), ".distgpu-runner", "venvs"), Usage: "root directory for the python_venv backend's per-repo virtualenvs"},
			&cli.BoolFlag{Name: "tui", Value: true, Usage: "render the paged terminal UI"},
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

	name := c.String("name")
	if name == "" {
		name, _ = os.Hostname()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pool.Close()
	logger.Info("db connected")

	metrics.Register()
	metrics.RunnerStartTime.SetToCurrentTime()
	checker := health.NewChecker(pool, logger, prometheus.DefaultRegisterer)

	jobRepo := postgres.NewJobRepository(pool)
	runnerRepo := postgres.NewRunnerRepository(pool)
	scheduleRepo := postgres.NewScheduleRepository(pool, logger)

	registry := executor.NewRegistry()
	registry.Register(executor.DefaultBackendName, executor.NewPythonVenv(c.String("venv-root")))

	cloner := gitrepo.NewCloner(c.String("repo-cache-dir"))

	ledgerDir := filepath.Join(c.String("temp-dir-root"), "..", "gpu-ledger")
	ledger := gpu.NewLedger(
		filepath.Join(ledgerDir, name+".lock"),
		filepath.Join(ledgerDir, name+".json"),
		10*time.Minute,
	)

	availableGPUIDs, err := parseGPUFlag(c.String("gpus"), ctx, c.Float64("max-gpu-memory-used"))
	if err != nil {
		return fmt.Errorf("resolve gpus: %w", err)
	}

	guard := shutdown.NewGuard()

	var program *tui.Program
	var host scheduler.PageHost
	if c.Bool("tui") {
		program = tui.New()
		host = program
	}

	mgr := scheduler.NewManager(
		jobRepo, runnerRepo, registry, cloner, ledger, logger, guard, host,
		scheduler.Config{
			Name:            name,
			Labels:          c.StringSlice("labels"),
			AvailableGPUIDs: availableGPUIDs,
			MaxParallel:     c.Int("max-parallel"),
			TempDirRoot:     c.String("temp-dir-root"),
			TrashRoot:       c.String("trash-dir-root"),
		},
	)

	dispatcher := scheduler.NewDispatcher(scheduleRepo, logger, 5*time.Second)
	go dispatcher.Start(ctx)

	jobHandler := handler.NewJobHandler(usecase.NewJobUsecase(jobRepo), logger)
	runnerHandler := handler.NewRunnerHandler(usecase.NewRunnerUsecase(runnerRepo), logger)
	healthHandler := handler.NewHealthHandler(checker)
	router := httptransport.NewRouter(jobHandler, runnerHandler, healthHandler, logger, []byte(cfg.JWTSecret))

	adminSrv := &http.Server{Addr: ":" + cfg.AdminAPIPort, Handler: router}
	go func() {
		logger.Info("admin api started", "port", cfg.AdminAPIPort)
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin api", "error", err)
		}
	}()

	metricsSrv := metrics.NewServer(":" + cfg.MetricsPort)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	managerDone := make(chan error, 1)
	// The manager sees shutdown only through the guard, at tick boundaries;
	// its context is not cancelled by the signal so the drain can still
	// reach the database and let subprocesses exit on their own.
	go func() { managerDone <- mgr.Run(context.WithoutCancel(ctx)) }()

	if program != nil {
		go func() {
			if err := program.Start(); err != nil {
				logger.Error("tui", "error", err)
			}
		}()
	}

	if err := <-managerDone; err != nil {
		logger.Error("manager exited with error", "error", err)
	}
	if program != nil {
		program.Quit()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin api shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	logger.Info("runner shut down")
	return nil
}

// parseGPUFlag resolves --gpus into a concrete index list. An empty flag
// means "every GPU nvidia-smi currently reports" (mirrors runner.py's
// --gpus default of None, which GPUtil-detects at startup).
func parseGPUFlag(raw string, ctx context.Context, maxMemoryUsed float64) ([]int, error) {
	if raw == "" {
		detected, err := gpu.DetectAvailable(ctx, maxMemoryUsed)
		if err != nil {
			return nil, nil // CPU-only host: proceed with no GPUs
		}
		return detected, nil
	}

	var ids []int
	for _, part := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid --gpus value %q: %w", part, err)
		}
		ids = append(ids, n)
	}
	return ids, nil
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
