package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/gate"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// Default configuration values.
const (
	defaultPollInterval  = 10 * time.Second
	defaultBatchSize     = 100
	defaultMaxActiveRuns = 4
)

// Orchestrator принимает runs и выполняет их через Coordinator.
//
// Orchestrator:
//   - Получает новые runs и запросы отмены из RabbitMQ (event-driven)
//   - Периодически проверяет pending runs и отмены в БД (polling fallback)
//   - Выполняет каждый run в отдельной горутине, не более MaxActiveRuns одновременно
//   - При старте завершает runs, брошенные предыдущим процессом
type Orchestrator struct {
	// Repositories
	pipelines repo.PipelineStore
	runs      repo.RunStore
	gates     gate.Store

	coordinator *Coordinator

	// MQ
	conn *mq.Connection

	// Active runs — runs в процессе выполнения (runID → state)
	activeRuns map[uuid.UUID]*RunState
	mu         sync.RWMutex
	slots      *semaphore.Weighted

	// Configuration
	pollInterval  time.Duration
	batchSize     int
	maxActiveRuns int

	// Lifecycle
	metrics    *telemetry.Metrics
	logger     *slog.Logger
	runCtx     context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	runsWG     sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Repositories
	Pipelines repo.PipelineStore
	Runs      repo.RunStore
	Gates     gate.Store

	// Runner выполняет command и deploy задачи.
	Runner TaskRunner

	// Conn — соединение с RabbitMQ. nil — только polling.
	Conn *mq.Connection

	// Limits
	MaxActiveRuns    int // runs одновременно (default: 4)
	MaxParallelTasks int // задач одного tier одновременно (0 — без ограничения)

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // количество runs за один poll (default: 100)

	// Timing
	TimeUnit         time.Duration // единица timeout_sec (default: 1s)
	GatePollInterval time.Duration // период опроса gate (default: 15 * TimeUnit)

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	maxActive := cfg.MaxActiveRuns
	if maxActive <= 0 {
		maxActive = defaultMaxActiveRuns
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		pipelines: cfg.Pipelines,
		runs:      cfg.Runs,
		gates:     cfg.Gates,
		coordinator: NewCoordinator(CoordinatorConfig{
			Runs:             cfg.Runs,
			Gates:            cfg.Gates,
			Runner:           cfg.Runner,
			MaxParallelTasks: cfg.MaxParallelTasks,
			TimeUnit:         cfg.TimeUnit,
			GatePollInterval: cfg.GatePollInterval,
			Metrics:          cfg.Metrics,
			Logger:           logger,
		}),
		conn:          cfg.Conn,
		activeRuns:    make(map[uuid.UUID]*RunState),
		slots:         semaphore.NewWeighted(int64(maxActive)),
		pollInterval:  pollInterval,
		batchSize:     batchSize,
		maxActiveRuns: maxActive,
		metrics:       cfg.Metrics,
		logger:        logger,
	}
}

// Start запускает Orchestrator.
//
// Запускает:
//   - Восстановление брошенных runs
//   - Consumer для runs.pending и runs.cancel (если есть соединение с RabbitMQ)
//   - Polling горутину для fallback
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.runCtx = ctx
	o.cancelFunc = cancel

	o.logger.Info("starting orchestrator",
		"poll_interval", o.pollInterval,
		"batch_size", o.batchSize,
		"max_active_runs", o.maxActiveRuns,
	)

	if err := o.recoverInterrupted(ctx); err != nil {
		o.logger.Error("failed to recover interrupted runs", "error", err)
	}

	if o.conn != nil {
		o.startConsumer(ctx, mq.ConsumerConfig{
			Queue:    mq.QueueRunsPending,
			Handler:  o.handleRunPending,
			Prefetch: 10,
		})
		o.startConsumer(ctx, mq.ConsumerConfig{
			Queue:    mq.QueueRunsCancel,
			Handler:  o.handleRunCancel,
			Prefetch: 10,
		})
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.pollLoop(ctx)
	}()

	o.logger.Info("orchestrator started")
	return nil
}

func (o *Orchestrator) startConsumer(ctx context.Context, cfg mq.ConsumerConfig) {
	consumer := mq.NewConsumer(o.conn, o.logger, cfg)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Error("consumer error", "queue", cfg.Queue, "error", err)
		}
	}()
}

// Stop останавливает Orchestrator.
//
// Активные runs отменяются: запущенные задачи дорабатывают,
// runs завершаются в статусе CANCELLED.
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...", "active_runs", o.ActiveRunsCount())

	if o.cancelFunc != nil {
		o.cancelFunc()
	}

	// Ждём завершения горутин
	o.wg.Wait()
	o.runsWG.Wait()

	o.logger.Info("orchestrator stopped")
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// pollLoop — цикл polling для fallback.
func (o *Orchestrator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем runs созданные пока были выключены)
	o.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling.
func (o *Orchestrator) poll(ctx context.Context) {
	o.pollCancelRequests(ctx)

	runs, err := o.runs.ListByStatus(ctx, domain.RunStatusPending, o.batchSize)
	if err != nil {
		o.logger.Error("failed to list pending runs", "error", err)
		return
	}

	if len(runs) == 0 {
		return
	}

	o.logger.Debug("poll found pending runs", "count", len(runs))

	for i := range runs {
		run := &runs[i]

		// Проверяем, не обрабатывается ли уже
		if o.isRunActive(run.ID) {
			continue
		}

		if err := o.processRun(ctx, run.ID); err != nil {
			if errors.Is(err, errNoSlot) {
				o.logger.Debug("no free slots, remaining runs wait for next poll")
				return
			}
			if errors.Is(err, ErrRunNotPending) {
				o.logger.Debug("run claimed elsewhere", "run_id", run.ID)
				continue
			}
			o.logger.Error("failed to process run from poll",
				"run_id", run.ID,
				"error", err,
			)
		}
	}
}

// pollCancelRequests отменяет активные runs, для которых отмену запросили через БД.
func (o *Orchestrator) pollCancelRequests(ctx context.Context) {
	runs, err := o.runs.ListCancelRequested(ctx, o.batchSize)
	if err != nil {
		o.logger.Error("failed to list cancel requests", "error", err)
		return
	}
	for i := range runs {
		if err := o.Cancel(runs[i].ID); err == nil {
			o.logger.Info("run cancel picked up by poll", "run_id", runs[i].ID)
		}
	}
}

// isRunActive проверяет, находится ли run в обработке.
func (o *Orchestrator) isRunActive(runID uuid.UUID) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, exists := o.activeRuns[runID]
	return exists
}

// addActiveRun добавляет run в активные.
func (o *Orchestrator) addActiveRun(state *RunState) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.activeRuns[state.RunID]; exists {
		return ErrRunAlreadyActive
	}

	o.activeRuns[state.RunID] = state
	return nil
}

// removeActiveRun удаляет run из активных.
func (o *Orchestrator) removeActiveRun(runID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.activeRuns, runID)
}

// ActiveRunsCount возвращает количество активных runs.
func (o *Orchestrator) ActiveRunsCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.activeRuns)
}

// ActiveRuns возвращает сведения об активных runs.
func (o *Orchestrator) ActiveRuns() []RunInfo {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]RunInfo, 0, len(o.activeRuns))
	for _, state := range o.activeRuns {
		out = append(out, state.Info())
	}
	return out
}

// Cancel отменяет активный run.
func (o *Orchestrator) Cancel(runID uuid.UUID) error {
	o.mu.RLock()
	state, ok := o.activeRuns[runID]
	o.mu.RUnlock()

	if !ok {
		return ErrRunNotActive
	}
	state.Cancel()
	return nil
}
