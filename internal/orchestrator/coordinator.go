package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/gate"
	"github.com/shaiso/Conveyor/internal/runner"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// RunUpdater сохраняет состояние run.
type RunUpdater interface {
	Update(ctx context.Context, run *domain.Run) error
}

// TaskRunner выполняет command и deploy задачи.
type TaskRunner interface {
	Run(ctx context.Context, req runner.Request) *runner.Result
}

// CoordinatorConfig — зависимости Coordinator.
type CoordinatorConfig struct {
	Runs   RunUpdater
	Gates  gate.Store
	Runner TaskRunner

	// MaxParallelTasks — сколько задач одного tier выполняются одновременно.
	// 0 — без ограничения.
	MaxParallelTasks int

	// TimeUnit — длительность одной единицы timeout_sec. По умолчанию 1s.
	TimeUnit time.Duration

	// GatePollInterval — период опроса gate. По умолчанию 15 * TimeUnit.
	GatePollInterval time.Duration

	// OnGateOpen вызывается, когда run начинает ждать решения.
	OnGateOpen func(*domain.Gate)

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// Coordinator ведёт один run через tiers его графа задач.
//
// Задачи tier запускаются параллельно, следующий tier начинается только
// после завершения всех задач текущего. Ошибка задачи обрабатывается
// на границе tier: зависимые задачи пропускаются, run завершается FAILED.
type Coordinator struct {
	runs             RunUpdater
	gates            gate.Store
	runner           TaskRunner
	maxParallel      int
	timeUnit         time.Duration
	gatePollInterval time.Duration
	onGateOpen       func(*domain.Gate)
	metrics          *telemetry.Metrics
	logger           *slog.Logger
}

// NewCoordinator создаёт Coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	timeUnit := cfg.TimeUnit
	if timeUnit <= 0 {
		timeUnit = time.Second
	}
	pollInterval := cfg.GatePollInterval
	if pollInterval <= 0 {
		pollInterval = 15 * timeUnit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		runs:             cfg.Runs,
		gates:            cfg.Gates,
		runner:           cfg.Runner,
		maxParallel:      cfg.MaxParallelTasks,
		timeUnit:         timeUnit,
		gatePollInterval: pollInterval,
		onGateOpen:       cfg.OnGateOpen,
		metrics:          cfg.Metrics,
		logger:           logger,
	}
}

// Execute выполняет run до терминального статуса.
//
// Ошибки задач не возвращаются: они записываются в run. Ошибка означает,
// что run не удалось начать (невалидный pipeline, не сохранилось начальное
// состояние). Отмена ctx переводит run в CANCELLED на ближайшей границе
// tier или во время ожидания gate; уже запущенные задачи дорабатывают.
// Если в завершившемся tier есть упавшая задача, run завершается FAILED.
func (c *Coordinator) Execute(ctx context.Context, run *domain.Run, p *domain.Pipeline) error {
	dag, err := engine.BuildDAG(p.Tasks)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPipeline, err)
	}

	ex := &execution{
		c:          c,
		run:        run,
		p:          p,
		dag:        dag,
		persistCtx: context.WithoutCancel(ctx),
		logger:     telemetry.WithPipeline(telemetry.WithRunID(c.logger, run.ID.String()), run.PipelineName),
	}

	run.InitTasks(p.TaskNames())
	if run.Status != domain.RunStatusRunning {
		run.MarkRunning()
	}
	if err := c.runs.Update(ctx, run.Clone()); err != nil {
		return fmt.Errorf("persist run start: %w", err)
	}

	ex.logger.Info("run started", "version", run.Version, "tiers", len(dag.Tiers()))

	defer func() {
		if err := gate.CloseRun(ex.persistCtx, c.gates, run.ID); err != nil {
			ex.logger.Warn("failed to close gates", "error", err)
		}
	}()

	for i, tier := range dag.Tiers() {
		if ctx.Err() != nil {
			ex.cancel()
			break
		}

		ex.logger.Debug("tier started", "tier", i, "tasks", tier)
		ex.runTier(ctx, tier)

		// Упавшая задача важнее отмены: run с FAILED задачей всегда FAILED.
		if failed := ex.firstFailure(); failed != nil {
			ex.abort(failed)
			break
		}
		if ex.cancelled || ctx.Err() != nil {
			ex.cancel()
			break
		}
	}

	ex.mu.Lock()
	if !run.IsFinished() {
		run.MarkSucceeded()
	}
	ex.persistLocked()
	ex.mu.Unlock()

	c.metrics.RunFinished(run.PipelineName, string(run.Status), string(run.Reason))
	ex.logger.Info("run finished",
		"status", run.Status,
		"reason", run.Reason,
		"failed_task", run.FailedTask,
		"duration", run.Duration(),
	)
	return nil
}

// execution — состояние одного вызова Execute.
type execution struct {
	c      *Coordinator
	run    *domain.Run
	p      *domain.Pipeline
	dag    *engine.DAG
	logger *slog.Logger

	// persistCtx не отменяется вместе с run: состояние пишется и после отмены.
	persistCtx context.Context

	// cancelled — отмена пришла во время ожидания gate.
	// Меняется только в горутине Execute.
	cancelled bool

	// mu защищает run: задачи tier обновляют его параллельно.
	mu sync.Mutex
}

// update применяет fn к run под мьютексом и сохраняет копию.
func (ex *execution) update(fn func() error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	if err := fn(); err != nil {
		ex.logger.Error("invalid task transition", "error", err)
		return
	}
	ex.persistLocked()
}

func (ex *execution) persistLocked() {
	if err := ex.c.runs.Update(ex.persistCtx, ex.run.Clone()); err != nil {
		ex.logger.Warn("failed to persist run", "error", err)
	}
}

// runTier выполняет один tier: сначала обычные задачи параллельно,
// затем approval-задачи по одной.
func (ex *execution) runTier(ctx context.Context, tier []string) {
	var regular, approvals []string
	for _, name := range tier {
		def, _ := ex.p.Task(name)
		if def.IsApproval() {
			approvals = append(approvals, name)
		} else {
			regular = append(regular, name)
		}
	}

	ex.update(func() error {
		for _, name := range tier {
			if err := ex.run.Task(name).MarkReady(); err != nil {
				return err
			}
		}
		return nil
	})

	// Запущенные задачи не прерываются отменой run.
	taskCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	if ex.c.maxParallel > 0 {
		g.SetLimit(ex.c.maxParallel)
	}
	for _, name := range regular {
		g.Go(func() error {
			ex.runTask(taskCtx, name)
			return nil
		})
	}
	_ = g.Wait()

	for _, name := range approvals {
		if ctx.Err() != nil || ex.firstFailure() != nil {
			return
		}
		ex.awaitGate(ctx, name)
		if ex.cancelled {
			return
		}
	}
}

// runTask выполняет command или deploy задачу через Runner.
func (ex *execution) runTask(ctx context.Context, name string) {
	def, _ := ex.p.Task(name)
	state := ex.run.Task(name)
	logger := telemetry.WithTask(ex.logger, name)

	ex.update(state.MarkRunning)
	logger.Info("task started", "kind", def.EffectiveKind())

	res := ex.c.runner.Run(ctx, runner.Request{
		RunID:    ex.run.ID,
		Pipeline: ex.run.PipelineName,
		Version:  ex.run.Version,
		Task:     def,
		Params:   engine.MergeParams(ex.p.Params, def.Params, ex.run.Params),
		Timeout:  time.Duration(ex.p.TimeoutSec(def)) * ex.c.timeUnit,
		Retries:  ex.p.Retries(def),
	})

	ex.update(func() error {
		state.Attempts = res.Attempts
		if res.Succeeded() {
			return state.MarkSucceeded(res.ExitCode, res.LogRef)
		}
		return state.MarkFailed(res.Reason, res.ExitCode, res.LogRef, res.Error)
	})

	ex.c.metrics.TaskFinished(string(def.EffectiveKind()), string(state.Status), string(state.Reason), res.Duration)
	if def.EffectiveKind() == domain.TaskKindDeploy && (res.Succeeded() || res.Reason == domain.ReasonNotifyError) {
		ex.c.metrics.Promotion(def.Environment, res.Succeeded())
	}

	if res.Succeeded() {
		logger.Info("task succeeded", "duration", res.Duration, "attempts", res.Attempts)
	} else {
		logger.Warn("task failed", "reason", res.Reason, "error", res.Error, "attempts", res.Attempts)
	}
}

// awaitGate приостанавливает run до решения по gate.
func (ex *execution) awaitGate(ctx context.Context, name string) {
	def, _ := ex.p.Task(name)
	state := ex.run.Task(name)
	logger := telemetry.WithTask(ex.logger, name)

	ex.update(state.MarkRunning)

	start := time.Now()
	outcome, err := gate.Await(ctx, ex.c.gates, domain.GateKey{RunID: ex.run.ID, Name: name}, gate.WaitOptions{
		Timeout:  time.Duration(ex.p.TimeoutSec(def)) * ex.c.timeUnit,
		Interval: ex.c.gatePollInterval,
		Logger:   logger,
		OnReset:  ex.c.onGateOpen,
	})

	switch {
	case err != nil && ctx.Err() != nil:
		logger.Info("run cancelled while waiting for approval")
		ex.cancelled = true
		return

	case err != nil:
		ex.update(func() error {
			return state.MarkFailed(domain.ReasonExecutionFailed, nil, "", err.Error())
		})

	case outcome == gate.OutcomeApproved:
		ex.update(func() error { return state.MarkSucceeded(nil, "") })

	case outcome == gate.OutcomeRejected:
		ex.update(func() error {
			return state.MarkFailed(domain.ReasonGateRejected, nil, "", ErrGateRejected.Error())
		})

	case outcome == gate.OutcomeTimedOut:
		ex.update(func() error {
			return state.MarkFailed(domain.ReasonGateTimedOut, nil, "", ErrGateTimedOut.Error())
		})
	}

	ex.c.metrics.GateResolved(string(outcome), time.Since(start))
	ex.c.metrics.TaskFinished(string(domain.TaskKindApproval), string(state.Status), string(state.Reason), time.Since(start))
}

// firstFailure возвращает упавшую задачу с наименьшим именем.
func (ex *execution) firstFailure() *domain.TaskState {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	for _, name := range ex.run.TaskNames() {
		if t := ex.run.Task(name); t.Status == domain.TaskStatusFailed {
			return t
		}
	}
	return nil
}

// abort завершает run с ошибкой: зависимые от упавших задач получают
// UpstreamFailed, остальные незапущенные — RunAborted.
func (ex *execution) abort(first *domain.TaskState) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	for _, name := range ex.run.TaskNames() {
		failed := ex.run.Task(name)
		if failed.Status != domain.TaskStatusFailed {
			continue
		}
		for _, dep := range ex.dag.Downstream(name) {
			t := ex.run.Task(dep)
			if t.Status.IsTerminal() {
				continue
			}
			if err := t.MarkSkipped(domain.ReasonUpstreamFailed, name); err != nil {
				ex.logger.Error("invalid task transition", "error", err)
			}
		}
	}

	for _, name := range ex.run.TaskNames() {
		t := ex.run.Task(name)
		if t.Status.IsTerminal() {
			continue
		}
		if err := t.MarkSkipped(domain.ReasonRunAborted, ""); err != nil {
			ex.logger.Error("invalid task transition", "error", err)
		}
	}

	ex.run.MarkFailed(first.Reason, first.Name, first.Error)
	ex.persistLocked()
}

// cancel пропускает все незавершённые задачи и переводит run в CANCELLED.
func (ex *execution) cancel() {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	for _, name := range ex.run.TaskNames() {
		t := ex.run.Task(name)
		if t.Status.IsTerminal() {
			continue
		}
		if err := t.MarkSkipped(domain.ReasonCancelled, ""); err != nil {
			ex.logger.Error("invalid task transition", "error", err)
		}
	}

	ex.run.MarkCancelled()
	ex.persistLocked()
	ex.logger.Info("run cancelled")
}
