package engine

import (
	"fmt"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Validate выполняет полную валидацию pipeline перед регистрацией.
//
// Проверяет:
// - Имя pipeline и наличие задач
// - Уникальность имён задач и корректность видов
// - Команды, окружения и таймауты
// - Зависимости и отсутствие циклов (делегируется DAG)
//
// Регистрация атомарна: pipeline с любой ошибкой не сохраняется.
func Validate(p *domain.Pipeline) error {
	if p == nil || len(p.Tasks) == 0 {
		return ErrEmptyTasks
	}
	if p.Name == "" {
		return NewValidationError("", "name", "pipeline has empty name", ErrEmptyName)
	}
	if p.Defaults != nil && (p.Defaults.TimeoutSec < 0 || p.Defaults.Retries < 0) {
		return NewValidationError("", "defaults",
			"defaults must not be negative", ErrInvalidTimeout)
	}

	names := make(map[string]bool, len(p.Tasks))
	for i := range p.Tasks {
		if err := ValidateTask(&p.Tasks[i], names); err != nil {
			return err
		}
	}

	if err := validateDependencies(p.Tasks, names); err != nil {
		return err
	}

	if _, err := BuildDAG(p.Tasks); err != nil {
		return err
	}

	return nil
}

// ValidateTask валидирует одну задачу.
// names — уже встреченные имена задач (для проверки уникальности).
func ValidateTask(task *domain.TaskDef, names map[string]bool) error {
	if task.Name == "" {
		return NewValidationError("", "name", "task has empty name", ErrEmptyName)
	}

	if names[task.Name] {
		return NewValidationError(task.Name, "name",
			fmt.Sprintf("duplicate task name: %s", task.Name), ErrDuplicateTaskName)
	}
	names[task.Name] = true

	kind := task.EffectiveKind()
	if !kind.IsValid() {
		return NewValidationError(task.Name, "kind",
			fmt.Sprintf("unknown task kind: %s", task.Kind), ErrUnknownTaskKind)
	}

	if task.TimeoutSec < 0 {
		return NewValidationError(task.Name, "timeout_sec",
			"timeout must be positive", ErrInvalidTimeout)
	}
	if task.Retries < 0 {
		return NewValidationError(task.Name, "retries",
			"retries must not be negative", ErrInvalidTimeout)
	}

	switch kind {
	case domain.TaskKindCommand:
		if task.Command == "" {
			return NewValidationError(task.Name, "command",
				"command task has empty command", ErrMissingCommand)
		}
	case domain.TaskKindApproval:
		if task.Command != "" {
			return NewValidationError(task.Name, "command",
				"approval task cannot run a command", ErrUnexpectedCommand)
		}
	case domain.TaskKindDeploy:
		if task.Environment == "" {
			return NewValidationError(task.Name, "environment",
				"deploy task has no environment", ErrMissingEnvironment)
		}
	}

	for _, dep := range task.DependsOn {
		if dep == task.Name {
			return NewValidationError(task.Name, "depends_on",
				"task depends on itself", ErrSelfDependency)
		}
	}

	return nil
}

// validateDependencies проверяет, что все depends_on ссылаются на существующие задачи.
func validateDependencies(tasks []domain.TaskDef, names map[string]bool) error {
	for i := range tasks {
		task := &tasks[i]
		for _, dep := range task.DependsOn {
			if !names[dep] {
				return NewValidationError(task.Name, "depends_on",
					fmt.Sprintf("depends on unknown task: %s", dep), ErrUnknownDependency)
			}
		}
	}
	return nil
}
