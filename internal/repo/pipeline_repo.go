package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Conveyor/internal/domain"
)

// PipelineRepo — репозиторий pipelines и pipeline_versions.
type PipelineRepo struct {
	pool *pgxpool.Pool
}

// NewPipelineRepo создаёт новый PipelineRepo.
func NewPipelineRepo(pool *pgxpool.Pool) *PipelineRepo {
	return &PipelineRepo{pool: pool}
}

// pipelineSpec — содержимое версии, хранится в pipeline_versions.spec.
type pipelineSpec struct {
	Description string               `json:"description,omitempty"`
	Params      map[string]string    `json:"params,omitempty"`
	Defaults    *domain.TaskDefaults `json:"defaults,omitempty"`
	Tasks       []domain.TaskDef     `json:"tasks"`
}

const pipelineColumns = `p.id, p.name, v.version, v.spec, v.created_at`

// Register сохраняет новую версию pipeline.
// Версия автоматически инкрементируется.
func (r *PipelineRepo) Register(ctx context.Context, p *domain.Pipeline) error {
	specJSON, err := json.Marshal(pipelineSpec{
		Description: p.Description,
		Params:      p.Params,
		Defaults:    p.Defaults,
		Tasks:       p.Tasks,
	})
	if err != nil {
		return fmt.Errorf("marshal spec: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Upsert блокирует строку pipeline до конца транзакции.
	var id uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO pipelines (id, name)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, uuid.New(), p.Name).Scan(&id)
	if err != nil {
		return fmt.Errorf("upsert pipeline: %w", err)
	}

	var nextVersion int
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1
		FROM pipeline_versions
		WHERE pipeline_id = $1
	`, id).Scan(&nextVersion)
	if err != nil {
		return fmt.Errorf("get next version: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO pipeline_versions (pipeline_id, version, spec, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING created_at
	`, id, nextVersion, specJSON).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert pipeline version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	p.ID = id
	p.Version = nextVersion
	return nil
}

// GetLatest возвращает последнюю версию pipeline.
func (r *PipelineRepo) GetLatest(ctx context.Context, name string) (*domain.Pipeline, error) {
	query := `
		SELECT ` + pipelineColumns + `
		FROM pipelines p
		JOIN pipeline_versions v ON v.pipeline_id = p.id
		WHERE p.name = $1
		ORDER BY v.version DESC
		LIMIT 1
	`
	return scanPipeline(r.pool.QueryRow(ctx, query, name))
}

// GetVersion возвращает конкретную версию pipeline.
func (r *PipelineRepo) GetVersion(ctx context.Context, name string, version int) (*domain.Pipeline, error) {
	query := `
		SELECT ` + pipelineColumns + `
		FROM pipelines p
		JOIN pipeline_versions v ON v.pipeline_id = p.id
		WHERE p.name = $1 AND v.version = $2
	`
	return scanPipeline(r.pool.QueryRow(ctx, query, name, version))
}

// List возвращает последние версии всех pipeline.
func (r *PipelineRepo) List(ctx context.Context) ([]domain.Pipeline, error) {
	query := `
		SELECT DISTINCT ON (p.name) ` + pipelineColumns + `
		FROM pipelines p
		JOIN pipeline_versions v ON v.pipeline_id = p.id
		ORDER BY p.name, v.version DESC
	`
	return r.queryPipelines(ctx, query)
}

// ListVersions возвращает все версии pipeline, новые первыми.
func (r *PipelineRepo) ListVersions(ctx context.Context, name string) ([]domain.Pipeline, error) {
	query := `
		SELECT ` + pipelineColumns + `
		FROM pipelines p
		JOIN pipeline_versions v ON v.pipeline_id = p.id
		WHERE p.name = $1
		ORDER BY v.version DESC
	`
	pipelines, err := r.queryPipelines(ctx, query, name)
	if err != nil {
		return nil, err
	}
	if len(pipelines) == 0 {
		return nil, ErrNotFound
	}
	return pipelines, nil
}

// Delete удаляет pipeline (каскадно удалит versions и runs).
func (r *PipelineRepo) Delete(ctx context.Context, name string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM pipelines WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete pipeline: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PipelineRepo) queryPipelines(ctx context.Context, query string, args ...any) ([]domain.Pipeline, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	var pipelines []domain.Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, err
		}
		pipelines = append(pipelines, *p)
	}
	return pipelines, rows.Err()
}

// scanPipeline сканирует строку pipeline + версии (pgx.Row или pgx.Rows).
func scanPipeline(row pgx.Row) (*domain.Pipeline, error) {
	var p domain.Pipeline
	var specJSON []byte

	err := row.Scan(&p.ID, &p.Name, &p.Version, &specJSON, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan pipeline: %w", err)
	}

	var spec pipelineSpec
	if err := json.Unmarshal(specJSON, &spec); err != nil {
		return nil, fmt.Errorf("unmarshal spec: %w", err)
	}
	p.Description = spec.Description
	p.Params = spec.Params
	p.Defaults = spec.Defaults
	p.Tasks = spec.Tasks

	return &p, nil
}
