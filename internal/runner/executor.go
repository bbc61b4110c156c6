package runner

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/notify"
)

// Ошибки исполнения.
var (
	// ErrUnknownKind — нет executor'а для вида задачи.
	ErrUnknownKind = errors.New("no executor for task kind")

	// ErrNotify — не удалось доставить promotion.
	ErrNotify = errors.New("promotion notify failed")

	// ErrEmptyCommand — нечего выполнять.
	ErrEmptyCommand = errors.New("empty command")
)

// Invocation — одна попытка выполнения задачи.
type Invocation struct {
	RunID    uuid.UUID
	Pipeline string
	Task     domain.TaskDef

	// Command — отрендеренная команда.
	Command string

	// Params — итоговые параметры задачи.
	Params map[string]string

	// Output — куда писать stdout и stderr.
	Output io.Writer
}

// Execution — результат попытки.
type Execution struct {
	// ExitCode — код завершения процесса, -1 если процесс убит.
	ExitCode int
}

// Executor — исполнитель задач одного вида.
//
// Ненулевой код выхода — не ошибка: Execute возвращает Execution
// с этим кодом. Ошибка означает, что задача не смогла выполниться
// (таймаут, процесс не стартовал, promotion не доставлена); Execution
// при этом может быть не nil.
type Executor interface {
	Execute(ctx context.Context, inv *Invocation) (*Execution, error)
}

// Registry — реестр executor'ов по виду задачи.
type Registry struct {
	executors map[domain.TaskKind]Executor
}

// NewRegistry создаёт реестр с executor'ами command и deploy.
//
// approval обрабатывается координатором, runner его не выполняет.
func NewRegistry(commands *CommandExecutor, notifier notify.Notifier) *Registry {
	r := &Registry{executors: make(map[domain.TaskKind]Executor)}
	r.Register(domain.TaskKindCommand, commands)
	r.Register(domain.TaskKindDeploy, &DeployExecutor{Commands: commands, Notifier: notifier})
	return r
}

// Register добавляет executor для вида задачи.
func (r *Registry) Register(kind domain.TaskKind, executor Executor) {
	r.executors[kind] = executor
}

// Get возвращает executor для вида задачи.
func (r *Registry) Get(kind domain.TaskKind) (Executor, error) {
	executor, ok := r.executors[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return executor, nil
}

// DeployExecutor — executor для deploy-задач.
//
// Выполняет опциональную команду (например, проверку манифестов),
// затем отправляет promotion {environment, version} через Notifier.
// Версия берётся из параметра "version".
type DeployExecutor struct {
	Commands *CommandExecutor
	Notifier notify.Notifier
}

// Execute реализует Executor.
func (e *DeployExecutor) Execute(ctx context.Context, inv *Invocation) (*Execution, error) {
	if inv.Command != "" {
		exec, err := e.Commands.Execute(ctx, inv)
		if err != nil || exec.ExitCode != 0 {
			return exec, err
		}
	}

	version := inv.Params[domain.VersionParam]
	if version == "" {
		return nil, fmt.Errorf("%w: %v", ErrNotify, notify.ErrMissingVersion)
	}
	if e.Notifier == nil {
		return nil, fmt.Errorf("%w: no notifier configured", ErrNotify)
	}

	promo := domain.NewPromotion(inv.RunID, inv.Pipeline, inv.Task.Name, inv.Task.Environment, version)
	fmt.Fprintf(inv.Output, "promotion %s: %s -> %s\n", promo.ID, promo.Environment, promo.Version)

	if err := e.Notifier.Notify(ctx, promo); err != nil {
		fmt.Fprintf(inv.Output, "promotion failed: %v\n", err)
		return nil, fmt.Errorf("%w: %v", ErrNotify, err)
	}

	fmt.Fprintln(inv.Output, "promotion acknowledged")
	return &Execution{ExitCode: 0}, nil
}
