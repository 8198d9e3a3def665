package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/distgpu/runner/internal/domain"
	"github.com/distgpu/runner/internal/repository"
	"github.com/distgpu/runner/internal/usecase"
)

type fakeJobRepo struct {
	jobs map[int64]*domain.Job
}

func newFakeJobRepo(jobs ...*domain.Job) *fakeJobRepo {
	r := &fakeJobRepo{jobs: make(map[int64]*domain.Job)}
	for _, j := range jobs {
		r.jobs[j.ID] = j
	}
	return r
}

func (r *fakeJobRepo) Create(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	r.jobs[job.ID] = job
	return job, nil
}

func (r *fakeJobRepo) Get(ctx context.Context, id int64) (*domain.Job, error) {
	j, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return j, nil
}

func (r *fakeJobRepo) Update(ctx context.Context, id int64, upd domain.JobUpdate) (*domain.Job, error) {
	j, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if upd.Status != nil {
		j.Status = *upd.Status
	}
	if upd.Message != nil {
		j.Message = *upd.Message
	}
	if upd.GPUIDs != nil {
		j.GPUIDs = *upd.GPUIDs
	}
	if upd.Host != nil {
		j.Host = *upd.Host
	}
	if upd.RunID != nil {
		j.RunID = *upd.RunID
	}
	return j, nil
}

func (r *fakeJobRepo) UpdateTimestamp(ctx context.Context, id int64) (*domain.Job, error) {
	return r.Get(ctx, id)
}

func (r *fakeJobRepo) PopNextJob(ctx context.Context, maxGPUAvailable int, labels map[string]struct{}) (*domain.Job, error) {
	return nil, nil
}

func (r *fakeJobRepo) FailedJobsSince(ctx context.Context, since time.Time) ([]*domain.Job, error) {
	return nil, nil
}

func (r *fakeJobRepo) List(ctx context.Context, input repository.ListJobsInput) ([]*domain.Job, error) {
	return nil, nil
}

func (r *fakeJobRepo) ListByScheduleID(ctx context.Context, scheduleID int64, limit int, cursorTime *time.Time, cursorID int64) ([]*domain.Job, error) {
	return nil, nil
}

func TestJobUsecase_Cancel_FlipsQueuedJobToCancel(t *testing.T) {
	repo := newFakeJobRepo(&domain.Job{ID: 1, Status: domain.StatusQueue})
	uc := usecase.NewJobUsecase(repo)

	got, err := uc.Cancel(context.Background(), 1)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != domain.StatusCancel {
		t.Fatalf("expected Cancel status, got %s", got.Status)
	}
}

func TestJobUsecase_Cancel_RejectsTerminalJob(t *testing.T) {
	repo := newFakeJobRepo(&domain.Job{ID: 1, Status: domain.StatusFinish})
	uc := usecase.NewJobUsecase(repo)

	_, err := uc.Cancel(context.Background(), 1)
	if err != domain.ErrInvalidStatus {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestJobUsecase_Cancel_RejectsAlreadyCancelledJob(t *testing.T) {
	repo := newFakeJobRepo(&domain.Job{ID: 1, Status: domain.StatusCancel})
	uc := usecase.NewJobUsecase(repo)

	_, err := uc.Cancel(context.Background(), 1)
	if err != domain.ErrInvalidStatus {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestJobUsecase_Cancel_UnknownJobPropagatesNotFound(t *testing.T) {
	repo := newFakeJobRepo()
	uc := usecase.NewJobUsecase(repo)

	_, err := uc.Cancel(context.Background(), 99)
	if err == nil {
		t.Fatal("expected an error for unknown job")
	}
}

func TestJobUsecase_Get_ReturnsJob(t *testing.T) {
	repo := newFakeJobRepo(&domain.Job{ID: 7, Status: domain.StatusRunning})
	uc := usecase.NewJobUsecase(repo)

	got, err := uc.Get(context.Background(), 7)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != 7 {
		t.Fatalf("expected job 7, got %d", got.ID)
	}
}
