package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/gate"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
)

// errNoSlot — все слоты заняты, run остаётся PENDING до следующего poll.
var errNoSlot = errors.New("no free run slot")

// handleRunPending обрабатывает событие о новом pending run.
func (o *Orchestrator) handleRunPending(ctx context.Context, msg *mq.Message) error {
	payload, err := mq.ParsePayload[mq.RunPayload](msg)
	if err != nil {
		o.logger.Error("failed to parse run.pending payload", "error", err)
		return err
	}

	o.logger.Debug("received run.pending event", "run_id", payload.RunID)

	if o.isRunActive(payload.RunID) {
		o.logger.Debug("run already active, skipping", "run_id", payload.RunID)
		return nil
	}

	if err := o.processRun(ctx, payload.RunID); err != nil {
		switch {
		case errors.Is(err, ErrRunNotPending), errors.Is(err, ErrRunAlreadyActive):
			o.logger.Debug("run not processed", "run_id", payload.RunID, "reason", err)
			return nil
		case errors.Is(err, errNoSlot):
			// Подхватит polling.
			o.logger.Debug("no free slots, run left for poll", "run_id", payload.RunID)
			return nil
		}
		o.logger.Error("failed to process run", "run_id", payload.RunID, "error", err)
		return err
	}

	return nil
}

// handleRunCancel обрабатывает запрос отмены run.
func (o *Orchestrator) handleRunCancel(_ context.Context, msg *mq.Message) error {
	payload, err := mq.ParsePayload[mq.RunPayload](msg)
	if err != nil {
		o.logger.Error("failed to parse run.cancel payload", "error", err)
		return err
	}

	if err := o.Cancel(payload.RunID); err != nil {
		// Run выполняет другой процесс или он уже завершён.
		o.logger.Debug("cancel ignored", "run_id", payload.RunID, "reason", err)
		return nil
	}

	o.logger.Info("run cancel requested", "run_id", payload.RunID)
	return nil
}

// processRun забирает PENDING run через Claim и запускает его.
//
// Возвращает управление сразу после запуска: сам run выполняется
// в отдельной горутине.
func (o *Orchestrator) processRun(ctx context.Context, runID uuid.UUID) error {
	if o.IsStopped() {
		return ErrOrchestratorStopped
	}

	if !o.slots.TryAcquire(1) {
		return errNoSlot
	}

	// Claim — единственный переход PENDING → RUNNING для MQ и poll.
	run, err := o.runs.Claim(ctx, runID)
	if err != nil {
		o.slots.Release(1)
		if errors.Is(err, repo.ErrInvalidState) {
			return ErrRunNotPending
		}
		return fmt.Errorf("claim run: %w", err)
	}

	p, err := o.pipelines.GetVersion(ctx, run.PipelineName, run.Version)
	if err != nil {
		o.slots.Release(1)
		if errors.Is(err, repo.ErrNotFound) {
			err = fmt.Errorf("%w: %s v%d", ErrPipelineNotFound, run.PipelineName, run.Version)
		} else {
			err = fmt.Errorf("get pipeline version: %w", err)
		}
		// Run уже RUNNING и без исполнителя: завершаем его сразу.
		return o.failRun(context.WithoutCancel(ctx), run, err.Error())
	}

	runCtx, cancel := context.WithCancel(o.runCtx)
	state := NewRunState(run.ID, run.PipelineName, run.Version, cancel)
	if err := o.addActiveRun(state); err != nil {
		cancel()
		o.slots.Release(1)
		return err
	}

	o.runsWG.Add(1)
	go func() {
		defer o.runsWG.Done()
		defer o.slots.Release(1)
		defer o.removeActiveRun(run.ID)
		defer cancel()

		o.metrics.RunStarted()
		defer o.metrics.RunDone()

		if err := o.coordinator.Execute(runCtx, run, p); err != nil {
			o.logger.Error("run could not start", "run_id", run.ID, "error", err)
			_ = o.failRun(context.WithoutCancel(runCtx), run, err.Error())
		}
	}()

	return nil
}

// failRun переводит run в статус FAILED до начала выполнения.
func (o *Orchestrator) failRun(ctx context.Context, run *domain.Run, errMsg string) error {
	run.MarkFailed(domain.ReasonExecutionFailed, "", errMsg)

	if err := o.runs.Update(ctx, run); err != nil {
		return fmt.Errorf("update run to failed: %w", err)
	}

	o.metrics.RunFinished(run.PipelineName, string(run.Status), string(run.Reason))
	o.logger.Warn("run failed early",
		"run_id", run.ID,
		"error", errMsg,
	)

	return fmt.Errorf("run failed: %s", errMsg)
}

// recoverInterrupted завершает runs, оставшиеся в RUNNING после
// остановки предыдущего процесса. Выполнявшиеся задачи получают
// FAILED(Interrupted), остальные незавершённые — SKIPPED(RunAborted).
func (o *Orchestrator) recoverInterrupted(ctx context.Context) error {
	runs, err := o.runs.ListByStatus(ctx, domain.RunStatusRunning, o.batchSize)
	if err != nil {
		return fmt.Errorf("list running runs: %w", err)
	}

	for i := range runs {
		run := &runs[i]
		if o.isRunActive(run.ID) {
			continue
		}

		var interrupted string
		for _, name := range run.TaskNames() {
			t := run.Task(name)
			switch {
			case t.Status == domain.TaskStatusRunning:
				if err := t.MarkFailed(domain.ReasonInterrupted, nil, "", "orchestrator restarted"); err != nil {
					return err
				}
				if interrupted == "" {
					interrupted = name
				}
			case !t.Status.IsTerminal():
				if err := t.MarkSkipped(domain.ReasonRunAborted, ""); err != nil {
					return err
				}
			}
		}
		run.MarkFailed(domain.ReasonInterrupted, interrupted, "orchestrator restarted while run was executing")

		if err := o.runs.Update(ctx, run); err != nil {
			o.logger.Error("failed to recover run", "run_id", run.ID, "error", err)
			continue
		}
		if o.gates != nil {
			if err := gate.CloseRun(ctx, o.gates, run.ID); err != nil {
				o.logger.Warn("failed to close gates of interrupted run", "run_id", run.ID, "error", err)
			}
		}

		o.metrics.RunFinished(run.PipelineName, string(run.Status), string(run.Reason))
		o.logger.Warn("interrupted run marked failed", "run_id", run.ID, "task", interrupted)
	}

	return nil
}
