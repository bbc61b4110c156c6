package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// RunPublisher уведомляет orchestrator о новом run.
type RunPublisher interface {
	PublishRunPending(ctx context.Context, runID uuid.UUID) error
}

// Leader — блокировка лидера. Tick выполняет только процесс, взявший её.
type Leader interface {
	// Acquire пытается стать лидером (или подтверждает лидерство).
	Acquire(ctx context.Context) (bool, error)
	// Release отказывается от лидерства.
	Release(ctx context.Context) error
}

// Scheduler — планировщик, обрабатывающий due schedules.
type Scheduler struct {
	schedules repo.ScheduleStore
	runs      repo.RunStore
	pipelines repo.PipelineStore
	publisher RunPublisher
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	batchSize int
	now       func() time.Time
}

// Config — конфигурация Scheduler.
type Config struct {
	Schedules repo.ScheduleStore
	Runs      repo.RunStore
	Pipelines repo.PipelineStore
	Publisher RunPublisher // опционально
	Metrics   *telemetry.Metrics
	Logger    *slog.Logger
	BatchSize int // количество schedules за один тик (default: 100)

	// Now — источник времени. По умолчанию time.Now.
	Now func() time.Time
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Scheduler{
		schedules: cfg.Schedules,
		runs:      cfg.Runs,
		pipelines: cfg.Pipelines,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		logger:    logger,
		batchSize: batchSize,
		now:       now,
	}
}

// Run вызывает Tick раз в interval, пока процесс остаётся лидером.
// Возвращается при отмене ctx, отпуская лидерство.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration, leader Leader) {
	tk := time.NewTicker(interval)
	defer tk.Stop()

	var leading bool
	defer func() {
		if leading {
			if err := leader.Release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("failed to release scheduler lock", "error", err)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-tk.C:
			ok, err := leader.Acquire(ctx)
			if err != nil {
				s.logger.Warn("scheduler lock error", "error", err)
				continue
			}
			if ok != leading {
				s.logger.Info("scheduler leadership changed", "leader", ok)
			}
			leading = ok
			if !leading {
				continue
			}

			if err := s.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("scheduler tick failed", "error", err)
			}
		}
	}
}

// Tick выполняет один тик планировщика.
//
// 1. Находит due schedules (enabled=true, next_due_at <= now)
// 2. Для каждого schedule создаёт run последней версии pipeline
// 3. Обновляет next_due_at
// 4. Публикует run.pending в RabbitMQ
//
// Ошибки одного schedule не блокируют обработку остальных.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.now()

	schedules, err := s.schedules.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("list due schedules: %w", err)
	}

	if len(schedules) == 0 {
		return nil
	}

	s.logger.Debug("found due schedules", "count", len(schedules))

	var processed, created int
	for i := range schedules {
		sched := &schedules[i]

		runCreated, err := s.processSchedule(ctx, sched, now)
		if err != nil {
			s.metrics.ScheduleFired(sched.PipelineName, false)
			s.logger.Error("failed to process schedule",
				"schedule_id", sched.ID,
				"schedule_name", sched.Name,
				"error", err,
			)
			continue
		}

		processed++
		if runCreated {
			created++
			s.metrics.ScheduleFired(sched.PipelineName, true)
		}
	}

	s.logger.Info("scheduler tick completed",
		"due", len(schedules),
		"processed", processed,
		"runs_created", created,
	)

	return nil
}

// processSchedule обрабатывает один schedule.
// Возвращает true, если run был создан (не был дубликатом).
func (s *Scheduler) processSchedule(ctx context.Context, sched *domain.Schedule, now time.Time) (bool, error) {
	p, err := s.pipelines.GetLatest(ctx, sched.PipelineName)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.logger.Warn("pipeline not found for schedule, skipping",
				"schedule_id", sched.ID,
				"pipeline", sched.PipelineName,
			)
			return false, nil
		}
		return false, fmt.Errorf("get latest pipeline: %w", err)
	}

	// Один run на schedule и конкретное время срабатывания.
	idempKey := IdempotencyKey(sched)

	existing, err := s.runs.GetByIdempotencyKey(ctx, sched.PipelineName, idempKey)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return false, fmt.Errorf("check idempotency: %w", err)
	}

	var runCreated bool
	var runID uuid.UUID

	if existing != nil {
		s.logger.Debug("run already exists (idempotency)",
			"schedule_id", sched.ID,
			"run_id", existing.ID,
			"idempotency_key", idempKey,
		)
		runID = existing.ID
	} else {
		run := domain.NewRun(p, copyParams(sched.Params), domain.TriggerSchedule)
		run.IdempotencyKey = idempKey
		run.CreatedAt = now

		if err := s.runs.Create(ctx, run); err != nil {
			if !errors.Is(err, repo.ErrAlreadyExists) {
				return false, fmt.Errorf("create run: %w", err)
			}
			// Параллельный тик успел раньше.
			existing, err := s.runs.GetByIdempotencyKey(ctx, sched.PipelineName, idempKey)
			if err != nil {
				return false, fmt.Errorf("get concurrent run: %w", err)
			}
			runID = existing.ID
		} else {
			s.logger.Info("created run from schedule",
				"run_id", run.ID,
				"schedule_id", sched.ID,
				"schedule_name", sched.Name,
				"pipeline", p.Name,
				"version", p.Version,
			)
			runID = run.ID
			runCreated = true
		}
	}

	nextDue, err := CalculateNextDue(sched, now)
	if err != nil {
		s.logger.Error("failed to calculate next due",
			"schedule_id", sched.ID,
			"error", err,
		)
		return runCreated, nil
	}

	sched.RecordFiring(runID, nextDue, now)
	if err := s.schedules.Update(ctx, sched); err != nil {
		return runCreated, fmt.Errorf("update schedule: %w", err)
	}

	if s.publisher != nil && runCreated {
		if err := s.publisher.PublishRunPending(ctx, runID); err != nil {
			// Orchestrator заберёт run через polling.
			s.logger.Warn("failed to publish run.pending",
				"run_id", runID,
				"error", err,
			)
		}
	}

	return runCreated, nil
}

// IdempotencyKey возвращает ключ run для текущего срабатывания:
// "{schedule_id}_{next_due_at_unix}".
func IdempotencyKey(sched *domain.Schedule) string {
	var due int64
	if sched.NextDueAt != nil {
		due = sched.NextDueAt.Unix()
	}
	return fmt.Sprintf("%s_%d", sched.ID, due)
}

func copyParams(params map[string]string) map[string]string {
	if params == nil {
		return nil
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
