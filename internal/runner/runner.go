package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/logstore"
)

// Backoff — политика задержки между попытками.
type Backoff struct {
	// Initial — задержка перед второй попыткой. По умолчанию 1s.
	Initial time.Duration

	// Max — верхняя граница задержки. По умолчанию 30s.
	Max time.Duration

	// Exponential — удваивать задержку с каждой попыткой.
	Exponential bool
}

// Request — запрос на выполнение одной задачи.
type Request struct {
	RunID    uuid.UUID
	Pipeline string
	Version  int
	Task     domain.TaskDef

	// Params — итоговые параметры (pipeline < задача < run).
	Params map[string]string

	// Timeout — лимит на одну попытку. 0 — без лимита.
	Timeout time.Duration

	// Retries — число дополнительных попыток.
	Retries int
}

// Result — итог выполнения задачи.
type Result struct {
	// ExitCode — код выхода последней попытки (nil, если процесс не запускался).
	ExitCode *int

	// LogRef — ссылка на сохранённый вывод.
	LogRef string

	// Reason — причина неуспеха, ReasonNone при успехе.
	Reason domain.Reason

	// Error — текст ошибки последней попытки.
	Error string

	Attempts int
	Duration time.Duration
}

// Succeeded сообщает, завершилась ли задача успешно.
func (r *Result) Succeeded() bool {
	return r.Reason == domain.ReasonNone
}

// Config — зависимости Runner.
type Config struct {
	Registry *Registry
	Logs     logstore.Store
	Backoff  Backoff
	Logger   *slog.Logger
}

// Runner выполняет command и deploy задачи.
//
// Runner не хранит состояния между вызовами и не возвращает ошибок:
// любой исход описывается Result.
type Runner struct {
	registry *Registry
	logs     logstore.Store
	backoff  Backoff
	logger   *slog.Logger
}

// New создаёт Runner.
func New(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logs := cfg.Logs
	if logs == nil {
		logs = logstore.NewMemoryStore()
	}
	return &Runner{
		registry: cfg.Registry,
		logs:     logs,
		backoff:  cfg.Backoff,
		logger:   logger,
	}
}

// Run выполняет задачу с повторами и сохраняет её вывод.
func (r *Runner) Run(ctx context.Context, req Request) *Result {
	start := time.Now()
	logger := r.logger.With("run_id", req.RunID, "task", req.Task.Name)

	var out bytes.Buffer
	res := r.execute(ctx, req, &out, logger)
	res.Duration = time.Since(start)

	ref, err := r.logs.Put(ctx, req.RunID, req.Task.Name, out.Bytes())
	if err != nil {
		logger.Warn("failed to store task log", "error", err)
	} else {
		res.LogRef = ref
	}

	return res
}

func (r *Runner) execute(ctx context.Context, req Request, out *bytes.Buffer, logger *slog.Logger) *Result {
	res := &Result{}

	executor, err := r.registry.Get(req.Task.EffectiveKind())
	if err != nil {
		return failResult(res, out, domain.ReasonExecutionFailed, err)
	}

	command := req.Task.Command
	if command != "" {
		tctx := engine.NewContext(req.Params)
		tctx.Run = engine.RunContext{ID: req.RunID.String(), Pipeline: req.Pipeline, Version: req.Version}
		tctx.Task = req.Task.Name
		command, err = engine.Render(command, tctx)
		if err != nil {
			return failResult(res, out, domain.ReasonExecutionFailed, err)
		}
	}

	maxAttempts := req.Retries + 1
	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		fmt.Fprintf(out, "=== attempt %d/%d\n", attempt, maxAttempts)
		if command != "" {
			fmt.Fprintf(out, "$ %s\n", command)
		}

		exec, reason, execErr := r.attempt(ctx, executor, req, command, out)
		res.ExitCode = nil
		if exec != nil {
			code := exec.ExitCode
			res.ExitCode = &code
		}
		res.Reason = reason
		res.Error = ""
		if execErr != nil {
			res.Error = execErr.Error()
			fmt.Fprintf(out, "--- error: %v\n", execErr)
		}

		if reason == domain.ReasonNone {
			return res
		}
		if attempt >= maxAttempts || ctx.Err() != nil {
			return res
		}

		delay := calculateBackoff(attempt, r.backoff)
		logger.Debug("retrying task", "attempt", attempt, "reason", reason, "delay", delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return res
		}
	}
}

// attempt выполняет одну попытку и классифицирует её исход.
func (r *Runner) attempt(ctx context.Context, executor Executor, req Request, command string, out *bytes.Buffer) (*Execution, domain.Reason, error) {
	attemptCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	exec, err := executor.Execute(attemptCtx, &Invocation{
		RunID:    req.RunID,
		Pipeline: req.Pipeline,
		Task:     req.Task,
		Command:  command,
		Params:   req.Params,
		Output:   out,
	})

	switch {
	case errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return exec, domain.ReasonTimeout, fmt.Errorf("timed out after %s", req.Timeout)
	case errors.Is(err, ErrNotify):
		return exec, domain.ReasonNotifyError, err
	case err != nil:
		return exec, domain.ReasonExecutionFailed, err
	case exec != nil && exec.ExitCode != 0:
		return exec, domain.ReasonExecutionFailed, fmt.Errorf("exit code %d", exec.ExitCode)
	}
	return exec, domain.ReasonNone, nil
}

func failResult(res *Result, out *bytes.Buffer, reason domain.Reason, err error) *Result {
	fmt.Fprintf(out, "--- error: %v\n", err)
	res.Reason = reason
	res.Error = err.Error()
	return res
}

// calculateBackoff вычисляет задержку перед следующей попыткой.
func calculateBackoff(attempt int, policy Backoff) time.Duration {
	initial := policy.Initial
	if initial <= 0 {
		initial = time.Second
	}
	maxDelay := policy.Max
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	delay := initial
	if policy.Exponential {
		// initial * 2^(attempt-1)
		for i := 1; i < attempt; i++ {
			delay *= 2
			if delay > maxDelay {
				break
			}
		}
	}

	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}
