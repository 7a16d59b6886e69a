//go:build !linux && !windows

package process

import (
	"os/exec"
	"syscall"
)

func Setup(cmd *exec.Cmd) Cleanup {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	cmd.Cancel = func() error {
		return KillGroup(cmd.Process)
	}
	return func() {
		_ = KillGroup(cmd.Process)
	}
}
