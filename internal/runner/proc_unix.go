//go:build unix

package runner

import (
	"os/exec"
	"syscall"
)

// setProcessGroup запускает команду в собственной группе процессов,
// чтобы при таймауте убить и её потомков.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	// Отрицательный PID — вся группа.
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
