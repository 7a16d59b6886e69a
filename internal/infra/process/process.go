// Package process locates tool executables and controls the processes
// spawned from them: process groups, detached children and probes.
package process

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Cleanup force-kills whatever a Setup call attached to.
type Cleanup func()

// ExitCode extracts a process exit code from a Wait error. ok is false when
// the error did not come from a process exit.
func ExitCode(err error) (code int, ok bool) {
	if err == nil {
		return 0, true
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), true
	}
	return 0, false
}

// FailureDetail summarizes why a command failed: its stderr, else its
// stdout, else the exit code or error text.
func FailureDetail(stdout, stderr []byte, err error) string {
	if detail := strings.TrimSpace(string(stderr)); detail != "" {
		return detail
	}
	if detail := strings.TrimSpace(string(stdout)); detail != "" {
		return detail
	}
	if err == nil {
		return ""
	}
	if code, ok := ExitCode(err); ok {
		return fmt.Sprintf("exit code %d", code)
	}
	return err.Error()
}
