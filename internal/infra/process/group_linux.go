//go:build linux

package process

import (
	"os/exec"
	"syscall"
)

// Setup places cmd in its own process group and makes context cancellation
// SIGKILL the whole group.
func Setup(cmd *exec.Cmd) Cleanup {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	cmd.Cancel = func() error {
		return KillGroup(cmd.Process)
	}
	return func() {
		_ = KillGroup(cmd.Process)
	}
}
