package usecase

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/distgpu/runner/internal/domain"
	"github.com/distgpu/runner/internal/repository"
)

// JobUsecase is the read/control surface the admin API drives. It never
// writes status=Running, gpu_ids, or host directly — those columns stay
// the scheduler's exclusive write path (PopNextJob / startJob).
type JobUsecase struct {
	repo repository.JobRepository
}

func NewJobUsecase(repo repository.JobRepository) *JobUsecase {
	return &JobUsecase{repo: repo}
}

func (u *JobUsecase) Get(ctx context.Context, id int64) (*domain.Job, error) {
	job, err := u.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

type ListJobsInput struct {
	Status domain.JobStatus
	Cursor string
	Limit  int
}

type ListJobsResult struct {
	Jobs       []*domain.Job
	NextCursor *string
}

type jobCursor struct {
	CreatedAt time.Time `json:"c"`
	ID        int64     `json:"i"`
}

func decodeCursor(s string) (*time.Time, int64, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, 0, fmt.Errorf("decode cursor: %w", err)
	}
	var c jobCursor
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, 0, fmt.Errorf("unmarshal cursor: %w", err)
	}
	return &c.CreatedAt, c.ID, nil
}

func encodeCursor(createdAt time.Time, id int64) string {
	b, _ := json.Marshal(jobCursor{CreatedAt: createdAt, ID: id})
	return base64.RawURLEncoding.EncodeToString(b)
}

func (u *JobUsecase) List(ctx context.Context, input ListJobsInput) (ListJobsResult, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	repoInput := repository.ListJobsInput{
		Status: input.Status,
		Limit:  limit + 1,
	}

	if input.Cursor != "" {
		cursorTime, cursorID, err := decodeCursor(input.Cursor)
		if err != nil {
			return ListJobsResult{}, domain.ErrInvalidStatus
		}
		repoInput.CursorTime = cursorTime
		repoInput.CursorID = cursorID
	}

	jobs, err := u.repo.List(ctx, repoInput)
	if err != nil {
		return ListJobsResult{}, fmt.Errorf("list jobs: %w", err)
	}

	var nextCursor *string
	if len(jobs) == limit+1 {
		last := jobs[limit]
		s := encodeCursor(last.CreatedAt, last.ID)
		nextCursor = &s
		jobs = jobs[:limit]
	}

	return ListJobsResult{Jobs: jobs, NextCursor: nextCursor}, nil
}

// Cancel flips a non-terminal job away from its current status so the
// owning runner's next heartbeat tick (checkActiveJobStatus) kills it
// with resume=false, per the job invariant that only the scheduler
// writes status=Running/gpu_ids/host.
func (u *JobUsecase) Cancel(ctx context.Context, id int64) (*domain.Job, error) {
	job, err := u.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if job.Status.IsTerminal() {
		return nil, domain.ErrInvalidStatus
	}

	status := domain.StatusCancel
	updated, err := u.repo.Update(ctx, id, domain.JobUpdate{Status: &status})
	if err != nil {
		return nil, fmt.Errorf("cancel job: %w", err)
	}
	return updated, nil
}
