package envutil

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"
)

const (
	skipLoginShellEnv = "CLIPROXY_SKIP_PATH_PATCH"
	loginShellTimeout = 2 * time.Second
	pathMarker        = "__CLIPROXY_PATH__"
)

var loginShells sync.Map // shell path -> func() string

// darwinLoginPATH asks the user's login shell for PATH when the gateway was
// started outside a terminal on macOS. Results are cached per shell.
func darwinLoginPATH(env []string) string {
	if runtime.GOOS != "darwin" {
		return ""
	}
	if strings.TrimSpace(lookup(env, skipLoginShellEnv, runtime.GOOS)) != "" {
		return ""
	}
	if strings.TrimSpace(lookup(env, "TERM", runtime.GOOS)) != "" {
		return ""
	}
	shell := strings.TrimSpace(lookup(env, "SHELL", runtime.GOOS))
	if shell == "" {
		shell = "/bin/zsh"
	}
	once, _ := loginShells.LoadOrStore(shell, sync.OnceValue(func() string {
		return queryLoginShell(shell)
	}))
	return once.(func() string)()
}

// queryLoginShell brackets PATH with markers so profile output printed by
// the shell's rc files does not leak into the value.
func queryLoginShell(shell string) string {
	ctx, cancel := context.WithTimeout(context.Background(), loginShellTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, shell, "-lc", `printf '%s%s%s' "`+pathMarker+`" "$PATH" "`+pathMarker+`"`)
	cmd.Env = append(os.Environ(), "LANG=C", "LC_ALL=C")
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return extractMarked(out)
}

func extractMarked(out []byte) string {
	marker := []byte(pathMarker)
	start := bytes.Index(out, marker)
	if start < 0 {
		return ""
	}
	rest := out[start+len(marker):]
	end := bytes.Index(rest, marker)
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(string(rest[:end]))
}
