package engine

import (
	"errors"
	"strings"
)

// Ошибки регистрации pipeline.
var (
	// ErrEmptyTasks — pipeline не содержит задач.
	ErrEmptyTasks = errors.New("pipeline has no tasks")

	// ErrEmptyName — pipeline или задача без имени.
	ErrEmptyName = errors.New("empty name")

	// ErrDuplicateTaskName — несколько задач с одинаковым именем.
	ErrDuplicateTaskName = errors.New("duplicate task name")

	// ErrUnknownTaskKind — неизвестный вид задачи.
	ErrUnknownTaskKind = errors.New("unknown task kind")

	// ErrUnknownDependency — задача зависит от несуществующей задачи.
	ErrUnknownDependency = errors.New("task depends on unknown task")

	// ErrCycleDetected — обнаружен цикл в зависимостях.
	ErrCycleDetected = errors.New("dependency cycle detected")

	// ErrSelfDependency — задача зависит от самой себя.
	ErrSelfDependency = errors.New("task depends on itself")

	// ErrInvalidTimeout — отрицательный таймаут или количество повторов.
	ErrInvalidTimeout = errors.New("invalid timeout")

	// ErrMissingCommand — command-задача без команды.
	ErrMissingCommand = errors.New("command is required")

	// ErrUnexpectedCommand — approval-задача с командой.
	ErrUnexpectedCommand = errors.New("approval task cannot have a command")

	// ErrMissingEnvironment — deploy-задача без окружения.
	ErrMissingEnvironment = errors.New("deploy task requires environment")
)

// Ошибки рендеринга шаблонов.
var (
	// ErrTemplateRender — ошибка рендеринга шаблона.
	ErrTemplateRender = errors.New("template render failed")

	// ErrTemplateParse — ошибка парсинга шаблона.
	ErrTemplateParse = errors.New("template parse failed")
)

// ErrManifest — ошибка чтения манифеста pipeline.
var ErrManifest = errors.New("invalid pipeline manifest")

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	Task    string // имя задачи, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.Task != "" {
		return "task " + e.Task + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(task, field, message string, err error) *ValidationError {
	return &ValidationError{
		Task:    task,
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// CycleError — цикл в графе зависимостей.
//
// Cycle содержит задачи цикла в порядке обхода, первая задача
// повторяется в конце: [a b c a].
type CycleError struct {
	Cycle []string
}

// Error реализует интерфейс error.
func (e *CycleError) Error() string {
	return ErrCycleDetected.Error() + ": " + strings.Join(e.Cycle, " -> ")
}

// Unwrap возвращает ErrCycleDetected.
func (e *CycleError) Unwrap() error {
	return ErrCycleDetected
}
