package domain

import (
	"errors"
	"time"
)

var (
	ErrScheduleNotFound      = errors.New("schedule not found")
	ErrInvalidCronExpr       = errors.New("invalid cron expression")
	ErrScheduleAlreadyPaused = errors.New("schedule is already paused")
	ErrScheduleNotPaused     = errors.New("schedule is not paused")
	ErrScheduleNameConflict  = errors.New("schedule with this name already exists")
)

// Schedule is a recurring template that fires a Job on a cron cadence.
// Firing is order-independent, unlike the main queue pop, so its
// repository is free to use SKIP LOCKED.
type Schedule struct {
	ID             int64
	Name           string
	CronExpr       string
	RepoURL        string
	CommitHash     string
	Command        string
	Priority       int
	NumGPU         int
	RequiredLabels string
	Executor       string
	Paused         bool
	NextRunAt      time.Time
	LastRunAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
