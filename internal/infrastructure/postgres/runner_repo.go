package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/distgpu/runner/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const runnerColumns = `id, name, gpu_ids, labels, status, created_at, updated_at`

var ErrRunnerNotFound = errors.New("runner not found")
var ErrRunnerNameConflict = errors.New("runner with this name already exists")

type RunnerRepository struct {
	pool *pgxpool.Pool
}

func NewRunnerRepository(pool *pgxpool.Pool) *RunnerRepository {
	return &RunnerRepository{pool: pool}
}

func (r *RunnerRepository) Create(ctx context.Context, ru *domain.Runner) (*domain.Runner, error) {
	query := `
		INSERT INTO runners (name, gpu_ids, labels, status)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + runnerColumns

	row := r.pool.QueryRow(ctx, query, ru.Name, ru.GPUIDs, ru.Labels, ru.Status)
	created, err := scanRunner(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrRunnerNameConflict
		}
		return nil, err
	}
	return created, nil
}

func (r *RunnerRepository) Get(ctx context.Context, id int64) (*domain.Runner, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+runnerColumns+` FROM runners WHERE id = $1`, id)
	return scanRunner(row)
}

func (r *RunnerRepository) GetByName(ctx context.Context, name string) (*domain.Runner, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+runnerColumns+` FROM runners WHERE name = $1`, name)
	return scanRunner(row)
}

func (r *RunnerRepository) Update(ctx context.Context, id int64, status domain.RunnerStatus, gpuIDs, labels string) (*domain.Runner, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE runners
		SET status = $2, gpu_ids = $3, labels = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING `+runnerColumns, id, status, gpuIDs, labels)
	return scanRunner(row)
}

func (r *RunnerRepository) UpdateTimestamp(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE runners SET updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update timestamp: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunnerNotFound
	}
	return nil
}

func (r *RunnerRepository) List(ctx context.Context) ([]*domain.Runner, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+runnerColumns+` FROM runners ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list runners: %w", err)
	}
	defer rows.Close()

	var runners []*domain.Runner
	for rows.Next() {
		ru, err := scanRunner(rows)
		if err != nil {
			return nil, err
		}
		runners = append(runners, ru)
	}
	return runners, rows.Err()
}

func (r *RunnerRepository) Remove(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM runners WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("remove runner: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunnerNotFound
	}
	return nil
}

func scanRunner(row rowScanner) (*domain.Runner, error) {
	var ru domain.Runner
	err := row.Scan(&ru.ID, &ru.Name, &ru.GPUIDs, &ru.Labels, &ru.Status, &ru.CreatedAt, &ru.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunnerNotFound
		}
		return nil, fmt.Errorf("scan runner: %w", err)
	}
	return &ru, nil
}
