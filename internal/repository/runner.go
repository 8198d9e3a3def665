package repository

import (
	"context"

	"github.com/distgpu/runner/internal/domain"
)

// RunnerRepository is the registry of executor hosts, adapted from the
// teacher's attempt-log CRUD shape (create/get/update/remove) onto the
// runner record.
type RunnerRepository interface {
	Create(ctx context.Context, r *domain.Runner) (*domain.Runner, error)
	Get(ctx context.Context, id int64) (*domain.Runner, error)
	GetByName(ctx context.Context, name string) (*domain.Runner, error)
	Update(ctx context.Context, id int64, status domain.RunnerStatus, gpuIDs, labels string) (*domain.Runner, error)
	UpdateTimestamp(ctx context.Context, id int64) error
	List(ctx context.Context) ([]*domain.Runner, error)
	Remove(ctx context.Context, id int64) error
}
