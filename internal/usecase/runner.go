package usecase

import (
	"context"
	"fmt"

	"github.com/distgpu/runner/internal/domain"
	"github.com/distgpu/runner/internal/repository"
)

// RunnerUsecase exposes the runner registry to the admin API: a snapshot
// of who's registered, and the one remote write it's allowed (stop).
type RunnerUsecase struct {
	repo repository.RunnerRepository
}

func NewRunnerUsecase(repo repository.RunnerRepository) *RunnerUsecase {
	return &RunnerUsecase{repo: repo}
}

func (u *RunnerUsecase) List(ctx context.Context) ([]*domain.Runner, error) {
	runners, err := u.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list runners: %w", err)
	}
	return runners, nil
}

func (u *RunnerUsecase) GetByName(ctx context.Context, name string) (*domain.Runner, error) {
	r, err := u.repo.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get runner: %w", err)
	}
	return r, nil
}

// Stop sets the runner's status to Stop. The runner's own tick
// (syncRunnerStatus) picks this up on its next heartbeat and drains:
// it stops admitting new jobs and kills its active jobs with resume=true,
// so they return to Queue. The runner row stays registered.
func (u *RunnerUsecase) Stop(ctx context.Context, name string) (*domain.Runner, error) {
	r, err := u.repo.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get runner: %w", err)
	}

	updated, err := u.repo.Update(ctx, r.ID, domain.RunnerStop, r.GPUIDs, r.Labels)
	if err != nil {
		return nil, fmt.Errorf("stop runner: %w", err)
	}
	return updated, nil
}
