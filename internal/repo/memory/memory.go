// Package memory — хранилища repo в памяти процесса.
//
// Используются CLI-командой exec и тестами вместо PostgreSQL.
// Все методы возвращают копии, изменения вне Update не видны хранилищу.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
)

var (
	_ repo.PipelineStore = (*Pipelines)(nil)
	_ repo.RunStore      = (*Runs)(nil)
	_ repo.ScheduleStore = (*Schedules)(nil)
)

// --- Pipelines ---

// Pipelines — repo.PipelineStore в памяти.
type Pipelines struct {
	mu       sync.RWMutex
	ids      map[string]uuid.UUID
	versions map[string][]*domain.Pipeline
}

// NewPipelines создаёт пустое хранилище pipeline.
func NewPipelines() *Pipelines {
	return &Pipelines{
		ids:      make(map[string]uuid.UUID),
		versions: make(map[string][]*domain.Pipeline),
	}
}

func (s *Pipelines) Register(_ context.Context, p *domain.Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.ids[p.Name]
	if !ok {
		id = uuid.New()
		s.ids[p.Name] = id
	}
	p.ID = id
	p.Version = len(s.versions[p.Name]) + 1
	p.CreatedAt = time.Now()

	s.versions[p.Name] = append(s.versions[p.Name], clonePipeline(p))
	return nil
}

func (s *Pipelines) GetLatest(_ context.Context, name string) (*domain.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.versions[name]
	if len(versions) == 0 {
		return nil, repo.ErrNotFound
	}
	return clonePipeline(versions[len(versions)-1]), nil
}

func (s *Pipelines) GetVersion(_ context.Context, name string, version int) (*domain.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.versions[name]
	if version < 1 || version > len(versions) {
		return nil, repo.ErrNotFound
	}
	return clonePipeline(versions[version-1]), nil
}

func (s *Pipelines) List(_ context.Context) ([]domain.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Pipeline, 0, len(s.versions))
	for _, versions := range s.versions {
		out = append(out, *clonePipeline(versions[len(versions)-1]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Pipelines) ListVersions(_ context.Context, name string) ([]domain.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.versions[name]
	if len(versions) == 0 {
		return nil, repo.ErrNotFound
	}
	out := make([]domain.Pipeline, 0, len(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		out = append(out, *clonePipeline(versions[i]))
	}
	return out, nil
}

func (s *Pipelines) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.versions[name]; !ok {
		return repo.ErrNotFound
	}
	delete(s.versions, name)
	delete(s.ids, name)
	return nil
}

func clonePipeline(p *domain.Pipeline) *domain.Pipeline {
	c := *p
	c.Tasks = append([]domain.TaskDef(nil), p.Tasks...)
	return &c
}

// --- Runs ---

// Runs — repo.RunStore в памяти.
type Runs struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*domain.Run
}

// NewRuns создаёт пустое хранилище runs.
func NewRuns() *Runs {
	return &Runs{runs: make(map[uuid.UUID]*domain.Run)}
}

func (s *Runs) Create(_ context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; ok {
		return repo.ErrAlreadyExists
	}
	if run.IdempotencyKey != "" {
		for _, r := range s.runs {
			if r.PipelineName == run.PipelineName && r.IdempotencyKey == run.IdempotencyKey {
				return repo.ErrAlreadyExists
			}
		}
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

func (s *Runs) GetByID(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return r.Clone(), nil
}

func (s *Runs) GetByIdempotencyKey(_ context.Context, pipeline, key string) (*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.runs {
		if r.PipelineName == pipeline && r.IdempotencyKey == key {
			return r.Clone(), nil
		}
	}
	return nil, repo.ErrNotFound
}

func (s *Runs) Update(_ context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.runs[run.ID]
	if !ok {
		return repo.ErrNotFound
	}
	c := run.Clone()
	c.CancelRequested = stored.CancelRequested
	s.runs[run.ID] = c
	return nil
}

func (s *Runs) List(_ context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Run
	for _, r := range s.runs {
		if filter.Pipeline != "" && r.PipelineName != filter.Pipeline {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, *r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, filter.Offset, filter.Limit), nil
}

func (s *Runs) ListByStatus(_ context.Context, status domain.RunStatus, limit int) ([]domain.Run, error) {
	return s.listOldest(func(r *domain.Run) bool { return r.Status == status }, limit), nil
}

func (s *Runs) Claim(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	if r.Status != domain.RunStatusPending {
		return nil, repo.ErrInvalidState
	}
	r.MarkRunning()
	return r.Clone(), nil
}

func (s *Runs) RequestCancel(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	switch r.Status {
	case domain.RunStatusPending:
		r.CancelRequested = true
		r.MarkCancelled()
	case domain.RunStatusRunning:
		r.CancelRequested = true
	default:
		return nil, repo.ErrInvalidState
	}
	return r.Clone(), nil
}

func (s *Runs) ListCancelRequested(_ context.Context, limit int) ([]domain.Run, error) {
	return s.listOldest(func(r *domain.Run) bool {
		return r.Status == domain.RunStatusRunning && r.CancelRequested
	}, limit), nil
}

func (s *Runs) listOldest(match func(*domain.Run) bool, limit int) []domain.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Run
	for _, r := range s.runs {
		if match(r) {
			out = append(out, *r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, 0, limit)
}

// --- Schedules ---

// Schedules — repo.ScheduleStore в памяти.
type Schedules struct {
	mu        sync.RWMutex
	schedules map[uuid.UUID]*domain.Schedule
}

// NewSchedules создаёт пустое хранилище расписаний.
func NewSchedules() *Schedules {
	return &Schedules{schedules: make(map[uuid.UUID]*domain.Schedule)}
}

func (s *Schedules) Create(_ context.Context, schedule *domain.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[schedule.ID]; ok {
		return repo.ErrAlreadyExists
	}
	c := *schedule
	s.schedules[schedule.ID] = &c
	return nil
}

func (s *Schedules) GetByID(_ context.Context, id uuid.UUID) (*domain.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sched, ok := s.schedules[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	c := *sched
	return &c, nil
}

func (s *Schedules) List(_ context.Context, filter repo.ScheduleFilter) ([]domain.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Schedule
	for _, sched := range s.schedules {
		if filter.Pipeline != "" && sched.PipelineName != filter.Pipeline {
			continue
		}
		if filter.Enabled != nil && sched.Enabled != *filter.Enabled {
			continue
		}
		out = append(out, *sched)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, filter.Offset, filter.Limit), nil
}

func (s *Schedules) ListDue(_ context.Context, now time.Time, limit int) ([]domain.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Schedule
	for _, sched := range s.schedules {
		if sched.IsDue(now) {
			out = append(out, *sched)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextDueAt.Before(*out[j].NextDueAt) })
	return page(out, 0, limit), nil
}

func (s *Schedules) Update(_ context.Context, schedule *domain.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[schedule.ID]; !ok {
		return repo.ErrNotFound
	}
	c := *schedule
	s.schedules[schedule.ID] = &c
	return nil
}

func (s *Schedules) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[id]; !ok {
		return repo.ErrNotFound
	}
	delete(s.schedules, id)
	return nil
}

func (s *Schedules) SetEnabled(_ context.Context, id uuid.UUID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, ok := s.schedules[id]
	if !ok {
		return repo.ErrNotFound
	}
	sched.Enabled = enabled
	sched.UpdatedAt = time.Now()
	return nil
}

// page применяет offset и limit. limit <= 0 — без ограничения.
func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
