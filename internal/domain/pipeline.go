package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultTaskTimeoutSec — лимит выполнения задачи по умолчанию.
	DefaultTaskTimeoutSec = 600

	// DefaultApprovalTimeoutSec — время ожидания решения по умолчанию.
	DefaultApprovalTimeoutSec = 3600

	// VersionParam — параметр с тегом продвигаемого образа.
	VersionParam = "version"
)

// Pipeline — зарегистрированная версия pipeline.
//
// Повторная регистрация того же имени создаёт новую версию,
// существующие версии никогда не изменяются. Каждый Run
// выполняет конкретную версию.
type Pipeline struct {
	// ID — уникальный идентификатор версии.
	ID uuid.UUID `json:"id"`

	// Name — имя pipeline (например, "release").
	Name string `json:"name"`

	// Version — номер версии (1, 2, 3, ...).
	// Автоинкремент при регистрации.
	Version int `json:"version"`

	// Description — описание назначения pipeline.
	Description string `json:"description,omitempty"`

	// Params — параметры по умолчанию для всех задач.
	Params map[string]string `json:"params,omitempty"`

	// Defaults — настройки по умолчанию для задач.
	Defaults *TaskDefaults `json:"defaults,omitempty"`

	// Tasks — задачи pipeline.
	Tasks []TaskDef `json:"tasks"`

	// CreatedAt — время регистрации версии.
	CreatedAt time.Time `json:"created_at"`
}

// TaskDefaults — значения по умолчанию для задач.
type TaskDefaults struct {
	TimeoutSec int `json:"timeout_sec,omitempty"`
	Retries    int `json:"retries,omitempty"`
}

// Task возвращает определение задачи по имени.
func (p *Pipeline) Task(name string) (TaskDef, bool) {
	for _, t := range p.Tasks {
		if t.Name == name {
			return t, true
		}
	}
	return TaskDef{}, false
}

// TaskNames возвращает имена задач в порядке объявления.
func (p *Pipeline) TaskNames() []string {
	names := make([]string, len(p.Tasks))
	for i, t := range p.Tasks {
		names[i] = t.Name
	}
	return names
}

// TimeoutSec возвращает эффективный таймаут задачи.
func (p *Pipeline) TimeoutSec(def TaskDef) int {
	if def.TimeoutSec > 0 {
		return def.TimeoutSec
	}
	if def.IsApproval() {
		return DefaultApprovalTimeoutSec
	}
	if p.Defaults != nil && p.Defaults.TimeoutSec > 0 {
		return p.Defaults.TimeoutSec
	}
	return DefaultTaskTimeoutSec
}

// Retries возвращает эффективное количество повторов задачи.
func (p *Pipeline) Retries(def TaskDef) int {
	if def.Retries > 0 {
		return def.Retries
	}
	if p.Defaults != nil {
		return p.Defaults.Retries
	}
	return 0
}
