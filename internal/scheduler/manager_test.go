package scheduler

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/distgpu/runner/internal/domain"
	"github.com/distgpu/runner/internal/gpu"
	"github.com/distgpu/runner/internal/repository"
)

// fakeJobRepo is a single-job stand-in for repository.JobRepository, just
// enough to drive getNextJob without a database.
type fakeJobRepo struct {
	job *domain.Job
}

func (r *fakeJobRepo) Create(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	r.job = job
	return job, nil
}

func (r *fakeJobRepo) Get(ctx context.Context, id int64) (*domain.Job, error) {
	if r.job == nil || r.job.ID != id {
		return nil, domain.ErrJobNotFound
	}
	return r.job, nil
}

func (r *fakeJobRepo) Update(ctx context.Context, id int64, upd domain.JobUpdate) (*domain.Job, error) {
	if r.job == nil || r.job.ID != id {
		return nil, domain.ErrJobNotFound
	}
	if upd.Status != nil {
		r.job.Status = *upd.Status
	}
	if upd.Message != nil {
		r.job.Message = *upd.Message
	}
	if upd.GPUIDs != nil {
		r.job.GPUIDs = *upd.GPUIDs
	}
	if upd.Host != nil {
		r.job.Host = *upd.Host
	}
	if upd.RunID != nil {
		r.job.RunID = *upd.RunID
	}
	return r.job, nil
}

func (r *fakeJobRepo) UpdateTimestamp(ctx context.Context, id int64) (*domain.Job, error) {
	return r.Get(ctx, id)
}

// PopNextJob mirrors the postgres implementation's contract closely enough
// for this test: a queued job qualifies only if it fits maxGPUAvailable and
// its required labels are a subset of the runner's labels.
func (r *fakeJobRepo) PopNextJob(ctx context.Context, maxGPUAvailable int, labels map[string]struct{}) (*domain.Job, error) {
	if r.job == nil || r.job.Status != domain.StatusQueue {
		return nil, nil
	}
	if r.job.NumGPU > maxGPUAvailable {
		return nil, nil
	}
	if !domain.LabelsSubsetOf(r.job.RequiredLabelSet(), labels) {
		return nil, nil
	}
	r.job.Status = domain.StatusRunning
	return r.job, nil
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

// writeFakeNvidiaSMI drops a script on PATH that reports 4 host GPUs, all
// fully free, mimicking `nvidia-smi --query-gpu=... --format=csv,noheader`.
func writeFakeNvidiaSMI(t *testing.T, binDir string) {
	t.Helper()
	script := "#!/bin/sh\ncat <<'EOF'\n0, 0, 1000\n1, 0, 1000\n2, 0, 1000\n3, 0, 1000\nEOF\n"
	path := filepath.Join(binDir, "nvidia-smi")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake nvidia-smi: %v", err)
	}
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

// TestGetNextJob_PartitionedGPUsStillPickUpJobs reproduces the scenario a
// --gpus subset creates: the host has 4 GPUs but this runner only owns a
// candidate subset of them. getNextJob must still pick up a job that fits
// within that subset instead of demanding every host-visible GPU be free.
func TestGetNextJob_PartitionedGPUsStillPickUpJobs(t *testing.T) {
	dir := t.TempDir()
	writeFakeNvidiaSMI(t, dir)

	ledger := gpu.NewLedger(filepath.Join(dir, "gpu.lock"), filepath.Join(dir, "gpu_history.json"), time.Hour)
	jobRepo := &fakeJobRepo{job: &domain.Job{ID: 1, Status: domain.StatusQueue, NumGPU: 1}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mgr := NewManager(jobRepo, nil, nil, nil, ledger, logger, nil, nil, Config{
		Name:            "partition-host",
		AvailableGPUIDs: []int{0, 1}, // this host-runner only claims 2 of the box's 4 GPUs
		MaxParallel:     10,
	})

	got, err := mgr.getNextJob(context.Background())
	if err != nil {
		t.Fatalf("getNextJob: %v", err)
	}
	if got == nil {
		t.Fatal("expected a job to be picked up despite the --gpus partition")
	}
	if got.Host != "partition-host" {
		t.Fatalf("expected host stamped, got %q", got.Host)
	}
	if got.GPUIDs == "" {
		t.Fatal("expected gpu ids stamped on the popped job")
	}
}

// TestGetNextJob_AlreadyReservedGPUStillPicksUpJob covers the other
// starvation trigger named in review: a GPU already reserved by a prior
// job must not block picking up the next one.
func TestGetNextJob_AlreadyReservedGPUStillPicksUpJob(t *testing.T) {
	dir := t.TempDir()
	writeFakeNvidiaSMI(t, dir)

	ledger := gpu.NewLedger(filepath.Join(dir, "gpu.lock"), filepath.Join(dir, "gpu_history.json"), time.Hour)
	if _, err := ledger.TryReserve([]int{0, 1, 2, 3}, []int{0, 1, 2, 3}, 1); err != nil {
		t.Fatalf("seed reservation: %v", err)
	}

	jobRepo := &fakeJobRepo{job: &domain.Job{ID: 1, Status: domain.StatusQueue, NumGPU: 1}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mgr := NewManager(jobRepo, nil, nil, nil, ledger, logger, nil, nil, Config{
		Name:            "full-host",
		AvailableGPUIDs: []int{0, 1, 2, 3},
		MaxParallel:     10,
	})

	got, err := mgr.getNextJob(context.Background())
	if err != nil {
		t.Fatalf("getNextJob: %v", err)
	}
	if got == nil {
		t.Fatal("expected a job to be picked up from the remaining free gpus")
	}
}
