package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/Conveyor/internal/domain"
)

func TestValidate_ReleasePipeline(t *testing.T) {
	p := &domain.Pipeline{Name: "release", Tasks: releaseTasks()}
	if err := Validate(p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_EmptyTasks(t *testing.T) {
	tests := []struct {
		name string
		p    *domain.Pipeline
	}{
		{name: "nil pipeline", p: nil},
		{name: "no tasks", p: &domain.Pipeline{Name: "empty"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Validate(tt.p); !errors.Is(err, ErrEmptyTasks) {
				t.Errorf("expected ErrEmptyTasks, got %v", err)
			}
		})
	}
}

func TestValidate_TaskErrors(t *testing.T) {
	tests := []struct {
		name  string
		tasks []domain.TaskDef
		want  error
	}{
		{
			name:  "empty name",
			tasks: []domain.TaskDef{{Command: "true"}},
			want:  ErrEmptyName,
		},
		{
			name: "duplicate name",
			tasks: []domain.TaskDef{
				{Name: "build", Command: "true"},
				{Name: "build", Command: "true"},
			},
			want: ErrDuplicateTaskName,
		},
		{
			name:  "unknown kind",
			tasks: []domain.TaskDef{{Name: "x", Kind: "script", Command: "true"}},
			want:  ErrUnknownTaskKind,
		},
		{
			name:  "command task without command",
			tasks: []domain.TaskDef{{Name: "build"}},
			want:  ErrMissingCommand,
		},
		{
			name:  "approval with command",
			tasks: []domain.TaskDef{{Name: "approve", Kind: domain.TaskKindApproval, Command: "true"}},
			want:  ErrUnexpectedCommand,
		},
		{
			name:  "deploy without environment",
			tasks: []domain.TaskDef{{Name: "deploy", Kind: domain.TaskKindDeploy}},
			want:  ErrMissingEnvironment,
		},
		{
			name:  "negative timeout",
			tasks: []domain.TaskDef{{Name: "build", Command: "true", TimeoutSec: -1}},
			want:  ErrInvalidTimeout,
		},
		{
			name:  "self dependency",
			tasks: []domain.TaskDef{{Name: "build", Command: "true", DependsOn: []string{"build"}}},
			want:  ErrSelfDependency,
		},
		{
			name:  "unknown dependency",
			tasks: []domain.TaskDef{{Name: "deploy", Command: "true", DependsOn: []string{"build"}}},
			want:  ErrUnknownDependency,
		},
		{
			name: "cycle",
			tasks: []domain.TaskDef{
				{Name: "a", Command: "true", DependsOn: []string{"b"}},
				{Name: "b", Command: "true", DependsOn: []string{"a"}},
			},
			want: ErrCycleDetected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&domain.Pipeline{Name: "p", Tasks: tt.tasks})
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestValidate_ValidationErrorContext(t *testing.T) {
	err := Validate(&domain.Pipeline{
		Name:  "p",
		Tasks: []domain.TaskDef{{Name: "deploy", Command: "true", DependsOn: []string{"ghost"}}},
	})

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if vErr.Task != "deploy" || vErr.Field != "depends_on" {
		t.Errorf("unexpected context: task=%q field=%q", vErr.Task, vErr.Field)
	}
}

func TestValidate_MissingPipelineName(t *testing.T) {
	err := Validate(&domain.Pipeline{Tasks: []domain.TaskDef{{Name: "a", Command: "true"}}})
	if !errors.Is(err, ErrEmptyName) {
		t.Errorf("expected ErrEmptyName, got %v", err)
	}
}
