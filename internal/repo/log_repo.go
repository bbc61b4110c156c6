package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Conveyor/internal/logstore"
)

// LogRepo — logstore.Store в PostgreSQL (таблица task_logs).
type LogRepo struct {
	pool *pgxpool.Pool
}

// NewLogRepo создаёт новый LogRepo.
func NewLogRepo(pool *pgxpool.Pool) *LogRepo {
	return &LogRepo{pool: pool}
}

var _ logstore.Store = (*LogRepo)(nil)

// Put сохраняет вывод задачи, перезаписывая предыдущий.
func (r *LogRepo) Put(ctx context.Context, runID uuid.UUID, task string, data []byte) (string, error) {
	if data == nil {
		data = []byte{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO task_logs (run_id, task, content, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (run_id, task) DO UPDATE
		SET content = EXCLUDED.content, updated_at = EXCLUDED.updated_at
	`, runID, task, data)
	if err != nil {
		return "", fmt.Errorf("insert task log: %w", err)
	}
	return logstore.Ref(runID, task), nil
}

// Get возвращает вывод по ссылке.
func (r *LogRepo) Get(ctx context.Context, ref string) ([]byte, error) {
	runID, task, err := logstore.ParseRef(ref)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = r.pool.QueryRow(ctx,
		`SELECT content FROM task_logs WHERE run_id = $1 AND task = $2`,
		runID, task,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, logstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task log: %w", err)
	}
	return data, nil
}
