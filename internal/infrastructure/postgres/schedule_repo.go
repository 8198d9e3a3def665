package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/distgpu/runner/internal/domain"
	"github.com/distgpu/runner/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const scheduleColumns = `id, name, cron_expr, repo_url, commit_hash, command, priority,
	       num_gpu, required_labels, executor, paused, next_run_at, last_run_at,
	       created_at, updated_at`

type ScheduleRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewScheduleRepository(pool *pgxpool.Pool, logger *slog.Logger) *ScheduleRepository {
	return &ScheduleRepository{pool: pool, logger: logger.With("component", "schedule_repo")}
}

func (r *ScheduleRepository) Create(ctx context.Context, s *domain.Schedule) (*domain.Schedule, error) {
	query := `
		INSERT INTO schedules (
			name, cron_expr, repo_url, commit_hash, command, priority,
			num_gpu, required_labels, executor, paused, next_run_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + scheduleColumns

	row := r.pool.QueryRow(ctx, query,
		s.Name, s.CronExpr, s.RepoURL, s.CommitHash, s.Command, s.Priority,
		s.NumGPU, s.RequiredLabels, s.Executor, s.Paused, s.NextRunAt,
	)

	created, err := scanSchedule(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.ErrScheduleNameConflict
		}
		return nil, err
	}
	return created, nil
}

func (r *ScheduleRepository) GetByID(ctx context.Context, id int64) (*domain.Schedule, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id)
	return scanSchedule(row)
}

func (r *ScheduleRepository) List(ctx context.Context, input repository.ListSchedulesInput) ([]*domain.Schedule, error) {
	args := []any{}
	where := []string{"1=1"}

	if input.CursorTime != nil {
		args = append(args, *input.CursorTime, input.CursorID)
		where = append(where, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	args = append(args, input.Limit)

	query := fmt.Sprintf(`
		SELECT %s FROM schedules WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d`, scheduleColumns, strings.Join(where, " AND "), len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*domain.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

func (r *ScheduleRepository) SetPaused(ctx context.Context, id int64, paused bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE schedules SET paused = $2, updated_at = NOW()
		 WHERE id = $1 AND paused = $3`,
		id, paused, !paused)
	if err != nil {
		return fmt.Errorf("set paused: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		if paused {
			return domain.ErrScheduleAlreadyPaused
		}
		return domain.ErrScheduleNotPaused
	}
	return nil
}

func (r *ScheduleRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrScheduleNotFound
	}
	return nil
}

// ClaimAndFire atomically claims due schedules, inserts a Queue job for each,
// and advances next_run_at. Firing is order-independent, and a schedule
// skipped because another transaction holds its row is fired by that
// transaction, so unlike PopNextJob this is free to use FOR UPDATE SKIP LOCKED.
func (r *ScheduleRepository) ClaimAndFire(ctx context.Context, limit int, computeNext func(*domain.Schedule) time.Time) ([]*domain.Job, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE next_run_at <= NOW() AND NOT paused
		ORDER BY next_run_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim schedules: %w", err)
	}

	var schedules []*domain.Schedule
	for rows.Next() {
		s, scanErr := scanSchedule(rows)
		if scanErr != nil {
			rows.Close()
			return nil, scanErr
		}
		schedules = append(schedules, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedules: %w", err)
	}

	var firedJobs []*domain.Job

	for _, s := range schedules {
		next := computeNext(s)
		scheduleID := s.ID

		var j domain.Job
		scanErr := tx.QueryRow(ctx, `
			INSERT INTO jobs (
				repo_url, commit_hash, status, command, priority,
				num_gpu, required_labels, executor, schedule_id
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING `+jobColumns,
			s.RepoURL, s.CommitHash, domain.StatusQueue, s.Command, s.Priority,
			s.NumGPU, s.RequiredLabels, s.Executor, scheduleID,
		).Scan(
			&j.ID, &j.RepoURL, &j.CommitHash, &j.Status, &j.Command, &j.Message, &j.Priority,
			&j.NumGPU, &j.RequiredLabels, &j.Executor, &j.GPUIDs, &j.Host, &j.RunID,
			&j.ScheduleID, &j.CreatedAt, &j.UpdatedAt,
		)
		if scanErr != nil {
			return nil, fmt.Errorf("insert job for schedule %d: %w", s.ID, scanErr)
		}
		firedJobs = append(firedJobs, &j)

		if _, updateErr := tx.Exec(ctx,
			`UPDATE schedules SET next_run_at = $2, last_run_at = NOW(), updated_at = NOW() WHERE id = $1`,
			s.ID, next,
		); updateErr != nil {
			return nil, fmt.Errorf("advance schedule %d: %w", s.ID, updateErr)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return firedJobs, nil
}

func scanSchedule(row rowScanner) (*domain.Schedule, error) {
	var s domain.Schedule
	err := row.Scan(
		&s.ID, &s.Name, &s.CronExpr, &s.RepoURL, &s.CommitHash, &s.Command, &s.Priority,
		&s.NumGPU, &s.RequiredLabels, &s.Executor, &s.Paused, &s.NextRunAt, &s.LastRunAt,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("scan schedule: %w", err)
	}
	return &s, nil
}
