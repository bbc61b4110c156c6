package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Conveyor/internal/domain"
)

// uniqueViolation — код ошибки PostgreSQL при нарушении уникальности.
const uniqueViolation = "23505"

// RunRepo — репозиторий для работы с runs.
//
// Состояния задач хранятся вместе с run в колонке tasks (JSONB).
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

const runColumns = `id, pipeline_id, pipeline_name, version, status, params, tasks,
		       reason, failed_task, error, cancel_requested, trigger,
		       idempotency_key, started_at, finished_at, created_at`

// Create создаёт новый run.
func (r *RunRepo) Create(ctx context.Context, run *domain.Run) error {
	paramsJSON, tasksJSON, err := marshalRun(run)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO runs (id, pipeline_id, pipeline_name, version, status, params, tasks,
		                  trigger, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.pool.Exec(ctx, query,
		run.ID,
		run.PipelineID,
		run.PipelineName,
		run.Version,
		run.Status,
		paramsJSON,
		tasksJSON,
		run.Trigger,
		nullString(run.IdempotencyKey),
		run.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetByID возвращает run по ID.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`
	return scanRun(r.pool.QueryRow(ctx, query, id))
}

// GetByIdempotencyKey возвращает run по ключу идемпотентности.
func (r *RunRepo) GetByIdempotencyKey(ctx context.Context, pipeline, key string) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE pipeline_name = $1 AND idempotency_key = $2`
	return scanRun(r.pool.QueryRow(ctx, query, pipeline, key))
}

// List возвращает список runs с фильтрацией.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE ($1::text IS NULL OR pipeline_name = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	return r.queryRuns(ctx, query,
		nullString(filter.Pipeline),
		nullString(string(filter.Status)),
		limit,
		filter.Offset,
	)
}

// Update обновляет статус, задачи и итог run.
func (r *RunRepo) Update(ctx context.Context, run *domain.Run) error {
	_, tasksJSON, err := marshalRun(run)
	if err != nil {
		return err
	}

	query := `
		UPDATE runs
		SET status = $2, tasks = $3, reason = $4, failed_task = $5, error = $6,
		    started_at = $7, finished_at = $8
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Status,
		tasksJSON,
		nullString(string(run.Reason)),
		nullString(run.FailedTask),
		nullString(run.Error),
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByStatus возвращает runs в статусе, старые первыми.
func (r *RunRepo) ListByStatus(ctx context.Context, status domain.RunStatus, limit int) ([]domain.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	return r.queryRuns(ctx, query, status, limit)
}

// Claim берёт PENDING run в работу.
func (r *RunRepo) Claim(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `
		UPDATE runs
		SET status = 'RUNNING', started_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
		RETURNING ` + runColumns

	run, err := scanRun(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, ErrNotFound) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrInvalidState
	}
	return run, err
}

// RequestCancel запрашивает отмену run.
func (r *RunRepo) RequestCancel(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	// PENDING ещё не взят оркестратором — отменяем сразу.
	query := `
		UPDATE runs
		SET cancel_requested = TRUE,
		    status = CASE WHEN status = 'PENDING' THEN 'CANCELLED' ELSE status END,
		    reason = CASE WHEN status = 'PENDING' THEN 'Cancelled' ELSE reason END,
		    finished_at = CASE WHEN status = 'PENDING' THEN NOW() ELSE finished_at END
		WHERE id = $1 AND status IN ('PENDING', 'RUNNING')
		RETURNING ` + runColumns

	run, err := scanRun(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, ErrNotFound) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrInvalidState
	}
	return run, err
}

// ListCancelRequested возвращает RUNNING runs с запрошенной отменой.
func (r *RunRepo) ListCancelRequested(ctx context.Context, limit int) ([]domain.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE status = 'RUNNING' AND cancel_requested
		ORDER BY created_at ASC
		LIMIT $1
	`
	return r.queryRuns(ctx, query, limit)
}

// --- Helpers ---

func (r *RunRepo) queryRuns(ctx context.Context, query string, args ...any) ([]domain.Run, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func marshalRun(run *domain.Run) (params, tasks []byte, err error) {
	p := run.Params
	if p == nil {
		p = map[string]string{}
	}
	params, err = json.Marshal(p)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal params: %w", err)
	}

	t := run.Tasks
	if t == nil {
		t = map[string]*domain.TaskState{}
	}
	tasks, err = json.Marshal(t)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal tasks: %w", err)
	}
	return params, tasks, nil
}

// scanRun сканирует одну строку в Run.
func scanRun(row pgx.Row) (*domain.Run, error) {
	var run domain.Run
	var paramsJSON, tasksJSON []byte
	var reason, failedTask, runError, idempotencyKey *string

	err := row.Scan(
		&run.ID,
		&run.PipelineID,
		&run.PipelineName,
		&run.Version,
		&run.Status,
		&paramsJSON,
		&tasksJSON,
		&reason,
		&failedTask,
		&runError,
		&run.CancelRequested,
		&run.Trigger,
		&idempotencyKey,
		&run.StartedAt,
		&run.FinishedAt,
		&run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if paramsJSON != nil {
		if err := json.Unmarshal(paramsJSON, &run.Params); err != nil {
			return nil, fmt.Errorf("unmarshal params: %w", err)
		}
	}
	if tasksJSON != nil {
		if err := json.Unmarshal(tasksJSON, &run.Tasks); err != nil {
			return nil, fmt.Errorf("unmarshal tasks: %w", err)
		}
	}

	run.Reason = domain.Reason(deref(reason))
	run.FailedTask = deref(failedTask)
	run.Error = deref(runError)
	run.IdempotencyKey = deref(idempotencyKey)

	return &run, nil
}
