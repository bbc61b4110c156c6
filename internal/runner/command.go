package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"
	"unicode"
)

// ParamEnvPrefix — префикс переменных окружения с параметрами задачи.
const ParamEnvPrefix = "PARAM_"

// CommandExecutor выполняет команду через "sh -c".
//
// Параметры задачи экспортируются как PARAM_<NAME> (version → PARAM_VERSION).
// По таймауту или отмене убивается вся группа процессов.
type CommandExecutor struct {
	// Shell — интерпретатор. По умолчанию "sh".
	Shell string

	// WorkDir — рабочий каталог команд.
	WorkDir string

	// InheritEnv — передавать ли окружение процесса Conveyor.
	InheritEnv bool

	// WaitDelay — сколько ждать закрытия вывода после убийства процесса.
	WaitDelay time.Duration
}

// NewCommandExecutor создаёт CommandExecutor, наследующий окружение.
func NewCommandExecutor(workDir string) *CommandExecutor {
	return &CommandExecutor{Shell: "sh", WorkDir: workDir, InheritEnv: true, WaitDelay: 5 * time.Second}
}

// Execute реализует Executor.
func (e *CommandExecutor) Execute(ctx context.Context, inv *Invocation) (*Execution, error) {
	if strings.TrimSpace(inv.Command) == "" {
		return nil, ErrEmptyCommand
	}

	shell := e.Shell
	if shell == "" {
		shell = "sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", inv.Command)
	cmd.Dir = e.WorkDir
	cmd.Env = e.environ(inv)
	cmd.Stdout = inv.Output
	cmd.Stderr = inv.Output
	cmd.WaitDelay = e.WaitDelay
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &Execution{ExitCode: -1}, fmt.Errorf("command interrupted: %w", ctxErr)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &Execution{ExitCode: exitErr.ExitCode()}, nil
		}
		return nil, fmt.Errorf("start command: %w", err)
	}

	return &Execution{ExitCode: 0}, nil
}

// environ собирает окружение команды.
func (e *CommandExecutor) environ(inv *Invocation) []string {
	var env []string
	if e.InheritEnv {
		env = os.Environ()
	}

	env = append(env,
		"CONVEYOR_RUN_ID="+inv.RunID.String(),
		"CONVEYOR_PIPELINE="+inv.Pipeline,
		"CONVEYOR_TASK="+inv.Task.Name,
	)

	keys := make([]string, 0, len(inv.Params))
	for k := range inv.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, ParamEnvName(k)+"="+inv.Params[k])
	}
	return env
}

// ParamEnvName возвращает имя переменной окружения для параметра:
// "image-tag" → "PARAM_IMAGE_TAG".
func ParamEnvName(param string) string {
	var b strings.Builder
	b.WriteString(ParamEnvPrefix)
	for _, r := range param {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(unicode.ToUpper(r))
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
