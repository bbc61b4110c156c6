package domain

import (
	"fmt"
	"time"
)

// TaskDef — определение задачи внутри pipeline.
//
// Неизменяемо после регистрации pipeline.
type TaskDef struct {
	// Name — уникальное имя задачи в pipeline (например, "build", "deploy-prod").
	Name string `json:"name"`

	// Kind — вид задачи: "command", "approval", "deploy".
	// Пустое значение трактуется как "command".
	Kind TaskKind `json:"kind,omitempty"`

	// DependsOn — имена задач, которые должны успешно завершиться до запуска.
	DependsOn []string `json:"depends_on,omitempty"`

	// Command — shell-команда. Поддерживает шаблоны: {{ .Params.version }}.
	// Обязательна для command, опциональна для deploy, запрещена для approval.
	Command string `json:"command,omitempty"`

	// Params — параметры задачи по умолчанию.
	Params map[string]string `json:"params,omitempty"`

	// TimeoutSec — лимит времени выполнения (для approval — время ожидания решения).
	// 0 означает значение по умолчанию.
	TimeoutSec int `json:"timeout_sec,omitempty"`

	// Retries — количество повторных попыток после неудачи.
	Retries int `json:"retries,omitempty"`

	// Environment — окружение, в которое продвигается версия (только deploy).
	Environment string `json:"environment,omitempty"`
}

// EffectiveKind возвращает вид задачи с учётом значения по умолчанию.
func (d TaskDef) EffectiveKind() TaskKind {
	if d.Kind == "" {
		return TaskKindCommand
	}
	return d.Kind
}

// IsApproval возвращает true для задач ручного подтверждения.
func (d TaskDef) IsApproval() bool {
	return d.EffectiveKind() == TaskKindApproval
}

// TaskState — состояние задачи в конкретном run.
type TaskState struct {
	// Name — имя задачи (TaskDef.Name).
	Name string `json:"name"`

	// Status — текущий статус.
	Status TaskStatus `json:"status"`

	// StartedAt — время перехода в RUNNING.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// EndedAt — время перехода в финальный статус.
	EndedAt *time.Time `json:"ended_at,omitempty"`

	// ExitCode — код завершения процесса. Nil, если процесс не запускался.
	ExitCode *int `json:"exit_code,omitempty"`

	// LogRef — ссылка на сохранённый вывод задачи.
	LogRef string `json:"log_ref,omitempty"`

	// Reason — причина FAILED или SKIPPED.
	Reason Reason `json:"reason,omitempty"`

	// SkippedBy — имя задачи, из-за которой эта была пропущена.
	SkippedBy string `json:"skipped_by,omitempty"`

	// Attempts — количество выполненных попыток.
	Attempts int `json:"attempts,omitempty"`

	// Error — текст ошибки.
	Error string `json:"error,omitempty"`
}

// NewTaskState создаёт состояние задачи в статусе WAITING.
func NewTaskState(name string) *TaskState {
	return &TaskState{Name: name, Status: TaskStatusWaiting}
}

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusWaiting: {TaskStatusReady, TaskStatusSkipped},
	TaskStatusReady:   {TaskStatusRunning, TaskStatusSkipped},
	TaskStatusRunning: {TaskStatusSucceeded, TaskStatusFailed, TaskStatusSkipped},
}

// CanTransition проверяет допустимость перехода в статус to.
func (t *TaskState) CanTransition(to TaskStatus) bool {
	for _, s := range taskTransitions[t.Status] {
		if s == to {
			return true
		}
	}
	return false
}

func (t *TaskState) transition(to TaskStatus) error {
	if !t.CanTransition(to) {
		return fmt.Errorf("%w: task %s %s -> %s", ErrInvalidTransition, t.Name, t.Status, to)
	}
	t.Status = to
	return nil
}

// MarkReady переводит задачу в READY.
func (t *TaskState) MarkReady() error {
	return t.transition(TaskStatusReady)
}

// MarkRunning переводит задачу в RUNNING.
func (t *TaskState) MarkRunning() error {
	if err := t.transition(TaskStatusRunning); err != nil {
		return err
	}
	now := time.Now()
	t.StartedAt = &now
	return nil
}

// MarkSucceeded переводит задачу в SUCCEEDED.
func (t *TaskState) MarkSucceeded(exitCode *int, logRef string) error {
	if err := t.transition(TaskStatusSucceeded); err != nil {
		return err
	}
	t.finish(exitCode, logRef)
	return nil
}

// MarkFailed переводит задачу в FAILED с причиной.
func (t *TaskState) MarkFailed(reason Reason, exitCode *int, logRef, errMsg string) error {
	if err := t.transition(TaskStatusFailed); err != nil {
		return err
	}
	t.finish(exitCode, logRef)
	t.Reason = reason
	t.Error = errMsg
	return nil
}

// MarkSkipped переводит задачу в SKIPPED.
//
// Из RUNNING пропуск разрешён только при отмене (ReasonCancelled).
func (t *TaskState) MarkSkipped(reason Reason, by string) error {
	if t.Status == TaskStatusRunning && reason != ReasonCancelled {
		return fmt.Errorf("%w: task %s running -> skipped (%s)", ErrInvalidTransition, t.Name, reason)
	}
	if err := t.transition(TaskStatusSkipped); err != nil {
		return err
	}
	now := time.Now()
	t.EndedAt = &now
	t.Reason = reason
	t.SkippedBy = by
	return nil
}

func (t *TaskState) finish(exitCode *int, logRef string) {
	now := time.Now()
	t.EndedAt = &now
	t.ExitCode = exitCode
	t.LogRef = logRef
}

// Duration возвращает продолжительность выполнения.
func (t *TaskState) Duration() time.Duration {
	if t.StartedAt == nil || t.EndedAt == nil {
		return 0
	}
	return t.EndedAt.Sub(*t.StartedAt)
}

// Clone возвращает независимую копию состояния.
func (t *TaskState) Clone() *TaskState {
	c := *t
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.EndedAt != nil {
		v := *t.EndedAt
		c.EndedAt = &v
	}
	if t.ExitCode != nil {
		v := *t.ExitCode
		c.ExitCode = &v
	}
	return &c
}
