package repository

import (
	"context"
	"time"

	"github.com/distgpu/runner/internal/domain"
)

type ListSchedulesInput struct {
	CursorTime *time.Time // cursor on (created_at DESC, id DESC)
	CursorID   int64
	Limit      int
}

type ScheduleRepository interface {
	Create(ctx context.Context, s *domain.Schedule) (*domain.Schedule, error)
	GetByID(ctx context.Context, id int64) (*domain.Schedule, error)
	List(ctx context.Context, input ListSchedulesInput) ([]*domain.Schedule, error)
	SetPaused(ctx context.Context, id int64, paused bool) error
	Delete(ctx context.Context, id int64) error
	// ClaimAndFire atomically claims due schedules, inserts a Queue job for
	// each and advances next_run_at — all in one transaction. A schedule
	// locked by another transaction is fired by that one, so, unlike
	// PopNextJob, it is safe to use SKIP LOCKED.
	ClaimAndFire(ctx context.Context, limit int, computeNext func(*domain.Schedule) time.Time) ([]*domain.Job, error)
}
