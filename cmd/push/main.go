// Command push submits a Job (or a recurring Schedule) onto the shared
// queue — the Go form of push.py, plus schedule management since the
// admin HTTP API deliberately exposes no schedule-writing routes.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/distgpu/runner/config"
	"github.com/distgpu/runner/internal/domain"
	"github.com/distgpu/runner/internal/infrastructure/postgres"
	"github.com/distgpu/runner/internal/repository"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "push",
		Usage: "submit a job or manage a recurring schedule",
		Commands: []*cli.Command{
			pushJobCommand,
			scheduleCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var pushJobCommand = &cli.Command{
	Name:  "job",
	Usage: "insert a single Queue job",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "command", Required: true, Usage: "shell command to execute in the cloned workspace"},
		&cli.StringFlag{Name: "repo-url", Required: true},
		&cli.StringFlag{Name: "commit-hash", Required: true},
		&cli.IntFlag{Name: "priority", Value: 5},
		&cli.StringSliceFlag{Name: "labels", Usage: "required capability labels"},
		&cli.IntFlag{Name: "num-gpu", Value: 1},
		&cli.StringFlag{Name: "executor", Value: "python_venv"},
		&cli.BoolFlag{Name: "no-push", Aliases: []string{"n"}, Usage: "print the assembled command and exit without inserting a row"},
	},
	Action: func(c *cli.Context) error {
		command := c.String("command")

		if c.Bool("no-push") {
			fmt.Println(command)
			return nil
		}

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}

		ctx := context.Background()
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("db: %w", err)
		}
		defer pool.Close()

		jobRepo := postgres.NewJobRepository(pool)
		created, err := jobRepo.Create(ctx, &domain.Job{
			RepoURL:        c.String("repo-url"),
			CommitHash:     c.String("commit-hash"),
			Status:         domain.StatusQueue,
			Command:        command,
			Priority:       c.Int("priority"),
			NumGPU:         c.Int("num-gpu"),
			RequiredLabels: strings.Join(c.StringSlice("labels"), ","),
			Executor:       c.String("executor"),
		})
		if err != nil {
			return fmt.Errorf("create job: %w", err)
		}

		fmt.Println(created.ID)
		return nil
	},
}

var scheduleCommand = &cli.Command{
	Name:  "schedule",
	Usage: "manage recurring job templates",
	Subcommands: []*cli.Command{
		scheduleCreateCommand,
		scheduleListCommand,
		schedulePauseCommand,
		scheduleResumeCommand,
		scheduleDeleteCommand,
	},
}

func openScheduleRepo(ctx context.Context) (*postgres.ScheduleRepository, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("db: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	return postgres.NewScheduleRepository(pool, logger), pool.Close, nil
}

var scheduleCreateCommand = &cli.Command{
	Name:  "create",
	Usage: "create a recurring schedule",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "name", Required: true},
		&cli.StringFlag{Name: "cron", Required: true, Usage: "standard 5-field cron expression"},
		&cli.StringFlag{Name: "command", Required: true},
		&cli.StringFlag{Name: "repo-url", Required: true},
		&cli.StringFlag{Name: "commit-hash", Required: true},
		&cli.IntFlag{Name: "priority", Value: 5},
		&cli.StringSliceFlag{Name: "labels"},
		&cli.IntFlag{Name: "num-gpu", Value: 1},
		&cli.StringFlag{Name: "executor", Value: "python_venv"},
	},
	Action: func(c *cli.Context) error {
		sched, err := cron.ParseStandard(c.String("cron"))
		if err != nil {
			return domain.ErrInvalidCronExpr
		}

		ctx := context.Background()
		repo, closeFn, err := openScheduleRepo(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		created, err := repo.Create(ctx, &domain.Schedule{
			Name:           c.String("name"),
			CronExpr:       c.String("cron"),
			RepoURL:        c.String("repo-url"),
			CommitHash:     c.String("commit-hash"),
			Command:        c.String("command"),
			Priority:       c.Int("priority"),
			NumGPU:         c.Int("num-gpu"),
			RequiredLabels: strings.Join(c.StringSlice("labels"), ","),
			Executor:       c.String("executor"),
			NextRunAt:      sched.Next(time.Now()),
		})
		if err != nil {
			return fmt.Errorf("create schedule: %w", err)
		}

		fmt.Println(created.ID)
		return nil
	},
}

var scheduleListCommand = &cli.Command{
	Name:  "list",
	Usage: "list schedules",
	Action: func(c *cli.Context) error {
		ctx := context.Background()
		repo, closeFn, err := openScheduleRepo(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		schedules, err := repo.List(ctx, repository.ListSchedulesInput{Limit: 1000})
		if err != nil {
			return fmt.Errorf("list schedules: %w", err)
		}
		for _, s := range schedules {
			state := "active"
			if s.Paused {
				state = "paused"
			}
			fmt.Printf("%d\t%s\t%s\t%s\tnext=%s\n", s.ID, s.Name, s.CronExpr, state, s.NextRunAt.Format(time.RFC3339))
		}
		return nil
	},
}

var schedulePauseCommand = &cli.Command{
	Name:      "pause",
	Usage:     "pause a schedule by id",
	ArgsUsage: "<id>",
	Action:    setPaused(true),
}

var scheduleResumeCommand = &cli.Command{
	Name:      "resume",
	Usage:     "resume a paused schedule by id",
	ArgsUsage: "<id>",
	Action:    setPaused(false),
}

func setPaused(paused bool) cli.ActionFunc {
	return func(c *cli.Context) error {
		id, err := strconv.ParseInt(c.Args().First(), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid schedule id: %w", err)
		}

		ctx := context.Background()
		repo, closeFn, err := openScheduleRepo(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := repo.SetPaused(ctx, id, paused); err != nil {
			return fmt.Errorf("set paused: %w", err)
		}
		return nil
	}
}

var scheduleDeleteCommand = &cli.Command{
	Name:      "delete",
	Usage:     "delete a schedule by id",
	ArgsUsage: "<id>",
	Action: func(c *cli.Context) error {
		id, err := strconv.ParseInt(c.Args().First(), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid schedule id: %w", err)
		}

		ctx := context.Background()
		repo, closeFn, err := openScheduleRepo(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := repo.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete schedule: %w", err)
		}
		return nil
	},
}
