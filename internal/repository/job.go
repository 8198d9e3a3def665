package repository

import (
	"context"
	"time"

	"github.com/distgpu/runner/internal/domain"
)

type ListJobsInput struct {
	Status     domain.JobStatus // empty = any
	CursorTime *time.Time       // cursor on (created_at DESC, id DESC)
	CursorID   int64
	Limit      int
}

// JobRepository is the job-queue store. PopNextJob is the one operation
// with a transactional contract beyond plain CRUD — see its doc comment.
type JobRepository interface {
	Create(ctx context.Context, job *domain.Job) (*domain.Job, error)
	Get(ctx context.Context, id int64) (*domain.Job, error)
	Update(ctx context.Context, id int64, upd domain.JobUpdate) (*domain.Job, error)
	UpdateTimestamp(ctx context.Context, id int64) (*domain.Job, error)

	// PopNextJob peeks the highest (priority DESC, num_gpu DESC) Queue job;
	// if it needs more GPUs than maxGPUAvailable, nothing is claimed. Otherwise
	// every Queue job with num_gpu <= maxGPUAvailable is locked FOR UPDATE,
	// scanned in (priority DESC, created_at ASC) order, and the first one
	// whose required labels are a subset of labels is flipped to Running and
	// returned. Returns nil, nil when nothing qualifies.
	PopNextJob(ctx context.Context, maxGPUAvailable int, labels map[string]struct{}) (*domain.Job, error)

	FailedJobsSince(ctx context.Context, since time.Time) ([]*domain.Job, error)
	List(ctx context.Context, input ListJobsInput) ([]*domain.Job, error)
	ListByScheduleID(ctx context.Context, scheduleID int64, limit int, cursorTime *time.Time, cursorID int64) ([]*domain.Job, error)
}
