// Package worker drives one Job's execution end to end: workspace minting,
// repository clone, backend prepare/execute/cleanup, stdio capture, and
// posting the outcome back to the ExecutorManager — the Go analogue of
// runner.py's WrapExecutor thread.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/distgpu/runner/internal/domain"
	"github.com/distgpu/runner/internal/executor"
	"github.com/distgpu/runner/internal/gitrepo"
	"github.com/distgpu/runner/internal/repository"
)

// Worker runs a single Job in its own goroutine and reports completion on
// a shared channel so the manager's tick loop can react without blocking.
type Worker struct {
	jobRepo     repository.JobRepository
	registry    *executor.Registry
	cloner      *gitrepo.Cloner
	logger      *slog.Logger
	tempDirRoot string
	trashRoot   string

	job      *domain.Job
	finishCh chan<- int64

	mu         sync.Mutex
	backend    executor.Backend
	stdoutPath string
	stderrPath string
	result     *string // nil => success

	shouldResume atomic.Bool
	finished     atomic.Bool
}

func New(jobRepo repository.JobRepository, registry *executor.Registry, cloner *gitrepo.Cloner, logger *slog.Logger, job *domain.Job, tempDirRoot, trashRoot string, finishCh chan<- int64) *Worker {
	return &Worker{
		jobRepo:     jobRepo,
		registry:    registry,
		cloner:      cloner,
		logger:      logger.With("job_id", job.ID),
		tempDirRoot: tempDirRoot,
		trashRoot:   trashRoot,
		job:         job,
		finishCh:    finishCh,
	}
}

// Job returns the job this worker owns. Safe to call from the manager's
// tick loop, which only ever reads status/gpu fields concurrently with Run.
func (w *Worker) Job() *domain.Job {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.job
}

func (w *Worker) SetJob(j *domain.Job) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.job = j
}

// Render returns the captured stdout/stderr for display, or "" before the
// workspace exists or after cleanup has already moved it to trash.
func (w *Worker) Render() string {
	w.mu.Lock()
	stdoutPath, stderrPath := w.stdoutPath, w.stderrPath
	w.mu.Unlock()

	if stdoutPath == "" || stderrPath == "" || w.finished.Load() {
		return ""
	}
	stderr, err := os.ReadFile(stderrPath)
	if err != nil {
		return ""
	}
	stdout, err := os.ReadFile(stdoutPath)
	if err != nil {
		return ""
	}
	return "[Standard Error]\n" + string(stderr) + "\n\n[Standard Out]\n" + string(stdout)
}

// Kill asks the active backend to stop; resume controls whether the
// manager requeues the job (Queue) or fails it (Fail) once it exits.
func (w *Worker) Kill(resume bool) {
	w.shouldResume.Store(resume)
	w.mu.Lock()
	b := w.backend
	w.mu.Unlock()
	if b != nil {
		_ = b.Kill()
	}
}

// Result returns nil on success, or the assembled diagnostic text on
// failure. Only meaningful after Run has returned (signaled via finishCh).
func (w *Worker) Result() *string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result
}

func (w *Worker) ShouldResume() bool { return w.shouldResume.Load() }

// Run executes the job synchronously; callers spawn it in its own
// goroutine and wait on finishCh for the job ID to know it's done.
func (w *Worker) Run(ctx context.Context) {
	job := w.Job()

	workspaceDir := filepath.Join(w.tempDirRoot, uuid.NewString())
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		w.finishWith(ctx, fmt.Sprintf("[other error message]\ncreate workspace: %v", err))
		return
	}

	stdoutPath := filepath.Join(workspaceDir, "stdout.txt")
	stderrPath := filepath.Join(workspaceDir, "stderr.txt")
	w.mu.Lock()
	w.stdoutPath, w.stderrPath = stdoutPath, stderrPath
	w.mu.Unlock()

	stdout, err := os.Create(stdoutPath)
	if err != nil {
		w.finishWith(ctx, fmt.Sprintf("[other error message]\ncreate stdout: %v", err))
		return
	}
	defer stdout.Close()
	stderr, err := os.Create(stderrPath)
	if err != nil {
		w.finishWith(ctx, fmt.Sprintf("[other error message]\ncreate stderr: %v", err))
		return
	}
	defer stderr.Close()

	var executeErr, otherErr error

	runID := filepath.Base(workspaceDir)
	if updated, err := w.jobRepo.Update(ctx, job.ID, domain.JobUpdate{RunID: &runID}); err != nil {
		otherErr = fmt.Errorf("record run_id: %w", err)
	} else {
		w.SetJob(updated)
	}

	if otherErr == nil {
		backend, err := w.registry.New(job.Executor)
		if err != nil {
			otherErr = err
		} else {
			w.mu.Lock()
			w.backend = backend
			w.mu.Unlock()

			srcDir := filepath.Join(workspaceDir, "src")
			if err := w.cloner.Clone(job.RepoURL, job.CommitHash, srcDir, "working"); err != nil {
				otherErr = fmt.Errorf("clone repository: %w", err)
			} else if err := backend.Prepare(ctx, job, workspaceDir, stdout, stderr); err != nil {
				otherErr = fmt.Errorf("prepare: %w", err)
			} else {
				executeErr = backend.Execute(ctx, job, workspaceDir, stdout, stderr)
				if cleanupErr := backend.Cleanup(ctx, job, workspaceDir); cleanupErr != nil {
					w.logger.Warn("cleanup failed", "error", cleanupErr)
				}
			}
		}
	}

	var diagnostic *string
	if executeErr != nil || otherErr != nil {
		text := "[stderr]\n"
		if b, readErr := os.ReadFile(stderrPath); readErr == nil {
			text += string(b)
		}
		if executeErr != nil {
			text += "\n\n[execute error message]\n" + executeErr.Error()
		}
		if otherErr != nil {
			text += "\n\n[other error message]\n" + otherErr.Error()
		}
		diagnostic = &text
	}

	w.mu.Lock()
	w.result = diagnostic
	w.mu.Unlock()
	w.finished.Store(true)

	if err := os.MkdirAll(w.trashRoot, 0o755); err != nil {
		w.logger.Warn("create trash dir failed", "error", err)
	} else if err := moveToTrash(workspaceDir, w.trashRoot); err != nil {
		w.logger.Warn("move workspace to trash failed", "error", err)
	}

	w.finishCh <- job.ID
}

func (w *Worker) finishWith(ctx context.Context, diagnostic string) {
	w.mu.Lock()
	w.result = &diagnostic
	w.mu.Unlock()
	w.finished.Store(true)
	w.finishCh <- w.Job().ID
}

func moveToTrash(workspaceDir, trashRoot string) error {
	dest := filepath.Join(trashRoot, filepath.Base(workspaceDir))
	return os.Rename(workspaceDir, dest)
}
