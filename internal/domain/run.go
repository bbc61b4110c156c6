package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Run — экземпляр выполнения pipeline (PipelineRun).
//
// Run создаётся когда:
// - Пользователь запускает pipeline через API/CLI
// - Scheduler создаёт run по расписанию
//
// Каждый run выполняет конкретную версию pipeline и хранит состояние
// каждой её задачи. Завершённые runs сохраняются для истории.
type Run struct {
	// ID — уникальный идентификатор run. Никогда не переиспользуется.
	ID uuid.UUID `json:"id"`

	// PipelineID — ссылка на выполняемую версию pipeline.
	PipelineID uuid.UUID `json:"pipeline_id"`

	// PipelineName — имя pipeline.
	PipelineName string `json:"pipeline_name"`

	// Version — версия pipeline.
	Version int `json:"version"`

	// Params — параметры запуска (например, version=v1.0.0).
	// Перекрывают параметры pipeline и задач.
	Params map[string]string `json:"params,omitempty"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// Tasks — состояние задач по имени.
	Tasks map[string]*TaskState `json:"tasks,omitempty"`

	// Reason — причина FAILED/CANCELLED.
	Reason Reason `json:"reason,omitempty"`

	// FailedTask — задача, из-за которой run завершился неуспешно.
	FailedTask string `json:"failed_task,omitempty"`

	// Error — текст ошибки.
	Error string `json:"error,omitempty"`

	// CancelRequested — оператор запросил отмену.
	CancelRequested bool `json:"cancel_requested,omitempty"`

	// Trigger — источник запуска.
	Trigger Trigger `json:"trigger,omitempty"`

	// IdempotencyKey — ключ идемпотентности для предотвращения дубликатов.
	// Для scheduled runs: "{schedule_id}_{next_due_at}"
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// StartedAt — время перехода в RUNNING.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`
}

// NewRun создаёт PENDING run для указанной версии pipeline.
func NewRun(p *Pipeline, params map[string]string, trigger Trigger) *Run {
	return &Run{
		ID:           uuid.New(),
		PipelineID:   p.ID,
		PipelineName: p.Name,
		Version:      p.Version,
		Params:       params,
		Status:       RunStatusPending,
		Trigger:      trigger,
		CreatedAt:    time.Now(),
	}
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// InitTasks создаёт состояние WAITING для каждой задачи.
func (r *Run) InitTasks(names []string) {
	r.Tasks = make(map[string]*TaskState, len(names))
	for _, n := range names {
		r.Tasks[n] = NewTaskState(n)
	}
}

// Task возвращает состояние задачи или nil.
func (r *Run) Task(name string) *TaskState {
	return r.Tasks[name]
}

// TaskNames возвращает имена задач в алфавитном порядке.
func (r *Run) TaskNames() []string {
	names := make([]string, 0, len(r.Tasks))
	for n := range r.Tasks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Counts возвращает количество задач в каждом статусе.
func (r *Run) Counts() map[TaskStatus]int {
	out := make(map[TaskStatus]int)
	for _, t := range r.Tasks {
		out[t.Status]++
	}
	return out
}

// MarkRunning переводит run в статус RUNNING.
func (r *Run) MarkRunning() {
	now := time.Now()
	r.Status = RunStatusRunning
	r.StartedAt = &now
}

// MarkSucceeded переводит run в статус SUCCEEDED.
func (r *Run) MarkSucceeded() {
	now := time.Now()
	r.Status = RunStatusSucceeded
	r.FinishedAt = &now
}

// MarkFailed переводит run в статус FAILED.
func (r *Run) MarkFailed(reason Reason, failedTask, err string) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.FinishedAt = &now
	r.Reason = reason
	r.FailedTask = failedTask
	r.Error = err
}

// MarkCancelled переводит run в статус CANCELLED.
func (r *Run) MarkCancelled() {
	now := time.Now()
	r.Status = RunStatusCancelled
	r.FinishedAt = &now
	r.Reason = ReasonCancelled
}

// Clone возвращает глубокую копию run.
func (r *Run) Clone() *Run {
	c := *r
	if r.Params != nil {
		c.Params = make(map[string]string, len(r.Params))
		for k, v := range r.Params {
			c.Params[k] = v
		}
	}
	if r.Tasks != nil {
		c.Tasks = make(map[string]*TaskState, len(r.Tasks))
		for k, v := range r.Tasks {
			c.Tasks[k] = v.Clone()
		}
	}
	if r.StartedAt != nil {
		v := *r.StartedAt
		c.StartedAt = &v
	}
	if r.FinishedAt != nil {
		v := *r.FinishedAt
		c.FinishedAt = &v
	}
	return &c
}
