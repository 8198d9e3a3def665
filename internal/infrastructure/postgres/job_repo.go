package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/distgpu/runner/internal/domain"
	"github.com/distgpu/runner/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobColumns = `id, repo_url, commit_hash, status, command, message, priority,
	       num_gpu, required_labels, executor, gpu_ids, host, run_id,
	       schedule_id, created_at, updated_at`

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) Create(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	query := `
		INSERT INTO jobs (
			repo_url, commit_hash, status, command, message, priority,
			num_gpu, required_labels, executor, gpu_ids, host, run_id, schedule_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING ` + jobColumns

	row := r.pool.QueryRow(ctx, query,
		job.RepoURL, job.CommitHash, job.Status, job.Command, job.Message, job.Priority,
		job.NumGPU, job.RequiredLabels, job.Executor, job.GPUIDs, job.Host, job.RunID, job.ScheduleID,
	)
	return scanJob(row)
}

func (r *JobRepository) Get(ctx context.Context, id int64) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (r *JobRepository) Update(ctx context.Context, id int64, upd domain.JobUpdate) (*domain.Job, error) {
	sets := []string{"updated_at = NOW()"}
	args := []any{}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.Message != nil {
		add("message", *upd.Message)
	}
	if upd.GPUIDs != nil {
		add("gpu_ids", *upd.GPUIDs)
	}
	if upd.Host != nil {
		add("host", *upd.Host)
	}
	if upd.RunID != nil {
		add("run_id", *upd.RunID)
	}
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE jobs SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), jobColumns)
	row := r.pool.QueryRow(ctx, query, args...)
	return scanJob(row)
}

func (r *JobRepository) UpdateTimestamp(ctx context.Context, id int64) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE jobs SET updated_at = NOW() WHERE id = $1 RETURNING `+jobColumns, id)
	return scanJob(row)
}

// PopNextJob mirrors original_source/db.py's pop_next_job: an unlocked peek
// followed by a locked, ordered scan so the label-subset filter can pick the
// first qualifying row without SKIP LOCKED hiding candidates from it.
func (r *JobRepository) PopNextJob(ctx context.Context, maxGPUAvailable int, labels map[string]struct{}) (*domain.Job, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	peekRow := tx.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = $1
		ORDER BY priority DESC, num_gpu DESC
		LIMIT 1`, domain.StatusQueue)
	peek, err := scanJob(peekRow)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return nil, tx.Commit(ctx)
		}
		return nil, err
	}
	if peek.NumGPU > maxGPUAvailable {
		return nil, tx.Commit(ctx)
	}

	rows, err := tx.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = $1 AND num_gpu <= $2
		ORDER BY priority DESC, created_at ASC
		FOR UPDATE`, domain.StatusQueue, maxGPUAvailable)
	if err != nil {
		return nil, fmt.Errorf("scan queue: %w", err)
	}
	var candidates []*domain.Job
	for rows.Next() {
		j, scanErr := scanJob(rows)
		if scanErr != nil {
			rows.Close()
			return nil, scanErr
		}
		candidates = append(candidates, j)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue: %w", err)
	}

	var chosen *domain.Job
	for _, j := range candidates {
		if domain.LabelsSubsetOf(j.RequiredLabelSet(), labels) {
			chosen = j
			break
		}
	}
	if chosen == nil {
		return nil, tx.Commit(ctx)
	}

	running := domain.StatusRunning
	row := tx.QueryRow(ctx,
		`UPDATE jobs SET status = $2, updated_at = NOW() WHERE id = $1 RETURNING `+jobColumns,
		chosen.ID, running)
	updated, err := scanJob(row)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return updated, nil
}

func (r *JobRepository) FailedJobsSince(ctx context.Context, since time.Time) ([]*domain.Job, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = $1 AND updated_at > $2`,
		domain.StatusFail, since)
	if err != nil {
		return nil, fmt.Errorf("failed jobs since: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (r *JobRepository) List(ctx context.Context, input repository.ListJobsInput) ([]*domain.Job, error) {
	args := []any{}
	where := []string{"1=1"}

	if input.Status != "" {
		args = append(args, input.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if input.CursorTime != nil {
		args = append(args, *input.CursorTime, input.CursorID)
		where = append(where, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	args = append(args, input.Limit)

	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d`,
		jobColumns, strings.Join(where, " AND "), len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (r *JobRepository) ListByScheduleID(ctx context.Context, scheduleID int64, limit int, cursorTime *time.Time, cursorID int64) ([]*domain.Job, error) {
	args := []any{scheduleID}
	where := []string{"schedule_id = $1"}
	if cursorTime != nil {
		args = append(args, *cursorTime, cursorID)
		where = append(where, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d`,
		jobColumns, strings.Join(where, " AND "), len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs by schedule: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// pgx.Row and pgx.Rows both implement this.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var j domain.Job
	err := row.Scan(
		&j.ID, &j.RepoURL, &j.CommitHash, &j.Status, &j.Command, &j.Message, &j.Priority,
		&j.NumGPU, &j.RequiredLabels, &j.Executor, &j.GPUIDs, &j.Host, &j.RunID,
		&j.ScheduleID, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &j, nil
}

func scanJobs(rows pgx.Rows) ([]*domain.Job, error) {
	var jobs []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
