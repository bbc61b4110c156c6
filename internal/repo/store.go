package repo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
)

// PipelineStore — хранилище pipeline и их версий.
//
// Реализации: PipelineRepo (PostgreSQL) и memory.Pipelines.
type PipelineStore interface {
	// Register сохраняет новую версию pipeline. Первая регистрация имени
	// создаёт pipeline, каждая следующая — версию N+1.
	// Заполняет ID, Version и CreatedAt.
	Register(ctx context.Context, p *domain.Pipeline) error

	// GetLatest возвращает последнюю версию pipeline.
	GetLatest(ctx context.Context, name string) (*domain.Pipeline, error)

	// GetVersion возвращает конкретную версию pipeline.
	GetVersion(ctx context.Context, name string, version int) (*domain.Pipeline, error)

	// List возвращает последние версии всех pipeline.
	List(ctx context.Context) ([]domain.Pipeline, error)

	// ListVersions возвращает все версии pipeline, новые первыми.
	ListVersions(ctx context.Context, name string) ([]domain.Pipeline, error)

	// Delete удаляет pipeline со всеми версиями и runs.
	Delete(ctx context.Context, name string) error
}

// RunStore — хранилище runs.
//
// Реализации: RunRepo (PostgreSQL) и memory.Runs.
type RunStore interface {
	// Create сохраняет новый run. При конфликте ключа идемпотентности
	// возвращает ErrAlreadyExists.
	Create(ctx context.Context, run *domain.Run) error

	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	GetByIdempotencyKey(ctx context.Context, pipeline, key string) (*domain.Run, error)

	// Update сохраняет статус, состояния задач и итог run.
	// Флаг отмены не перезаписывается.
	Update(ctx context.Context, run *domain.Run) error

	List(ctx context.Context, filter RunFilter) ([]domain.Run, error)

	// ListByStatus возвращает runs в статусе, старые первыми.
	ListByStatus(ctx context.Context, status domain.RunStatus, limit int) ([]domain.Run, error)

	// Claim атомарно переводит PENDING run в RUNNING и возвращает его.
	// Если run уже не PENDING (взят другим обработчиком или отменён) —
	// ErrInvalidState.
	Claim(ctx context.Context, id uuid.UUID) (*domain.Run, error)

	// RequestCancel запрашивает отмену. PENDING run отменяется сразу,
	// RUNNING получает флаг CancelRequested. Для завершённого run — ErrInvalidState.
	RequestCancel(ctx context.Context, id uuid.UUID) (*domain.Run, error)

	// ListCancelRequested возвращает RUNNING runs с запрошенной отменой.
	ListCancelRequested(ctx context.Context, limit int) ([]domain.Run, error)
}

// ScheduleStore — хранилище расписаний.
//
// Реализации: ScheduleRepo (PostgreSQL) и memory.Schedules.
type ScheduleStore interface {
	Create(ctx context.Context, schedule *domain.Schedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Schedule, error)
	List(ctx context.Context, filter ScheduleFilter) ([]domain.Schedule, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Schedule, error)
	Update(ctx context.Context, schedule *domain.Schedule) error
	Delete(ctx context.Context, id uuid.UUID) error
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
}

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	Pipeline string
	Status   domain.RunStatus
	Limit    int
	Offset   int
}

// ScheduleFilter — параметры фильтрации schedules.
type ScheduleFilter struct {
	Pipeline string
	Enabled  *bool
	Limit    int
	Offset   int
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullInt возвращает nil для нуля.
func nullInt(i int) *int {
	if i == 0 {
		return nil
	}
	return &i
}

// deref возвращает значение или пустую строку.
func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
