//go:build !windows

package process

import (
	"os"
	"syscall"
)

// KillGroup sends SIGKILL to the process group led by proc.
func KillGroup(proc *os.Process) error {
	if proc == nil {
		return nil
	}
	if err := syscall.Kill(-proc.Pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return err
	}
	return nil
}
