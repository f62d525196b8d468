//go:build !windows

package exec

import (
	"os/exec"
	"syscall"
)

func configureProcessGroup(cmd *exec.Cmd) {
	// Own process group so sshpass and the ssh child die together.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	// Negative PID targets the process group.
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
