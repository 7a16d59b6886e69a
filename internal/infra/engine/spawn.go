package engine

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"cliproxy/internal/domain"
	"cliproxy/internal/infra/process"
)

const stderrLimit = 64 << 10

// spawnRun is one started tool process holding one slot.
type spawnRun struct {
	ctx     context.Context
	runCtx  context.Context
	cancel  context.CancelFunc
	release func()
	cmd     *exec.Cmd
	tool    domain.SpawnTool
	call    *call
	stdout  *chunkWriter
	stderr  *limitedBuffer
	path    string
}

// prepareSpawn acquires a slot, resolves the executable and starts the
// process. On any error the slot is already released.
func (e *Engine) prepareSpawn(ctx context.Context, tool domain.SpawnTool, call *call, emit func(context.Context, string)) (*spawnRun, error) {
	release, ok := e.slots.TryAcquire()
	if !ok {
		return nil, domain.Errorf(domain.CodeConcurrencyExceeded, "engine.spawn",
			"Too many concurrent requests (max %d). Please try again later.", e.slots.Max())
	}
	started := false
	defer func() {
		if !started {
			release()
		}
	}()

	if e.resolver == nil {
		return nil, domain.E(domain.CodeInternal, "engine.spawn", "no command resolver configured", nil)
	}
	inv := tool.BuildInvocation(call.req.Prompt, call.model)
	path, err := e.resolver.Resolve(ctx, inv.Command)
	if err != nil {
		return nil, domain.E(domain.CodeToolUnavailable, "engine.spawn",
			fmt.Sprintf("Failed to locate %s executable. Ensure it is installed and available in PATH.", inv.Command), err)
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.E(domain.CodeAborted, "engine.spawn", "Request aborted by client", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, call.timeout)
	cmd := process.Command(runCtx, path, inv.Args...)
	process.Setup(cmd)
	cmd.Dir = e.workDir
	cmd.Env = append(e.env(), inv.Env...)
	cmd.WaitDelay = e.waitDelay

	var chunkEmit func(string)
	if emit != nil {
		chunkEmit = func(chunk string) { emit(runCtx, chunk) }
	}
	run := &spawnRun{
		ctx:     ctx,
		runCtx:  runCtx,
		cancel:  cancel,
		release: release,
		cmd:     cmd,
		tool:    tool,
		call:    call,
		stdout:  newChunkWriter(runCtx, chunkEmit),
		stderr:  &limitedBuffer{max: stderrLimit},
		path:    path,
	}
	cmd.Stdout = run.stdout
	cmd.Stderr = run.stderr

	call.logger.Debug("spawning tool",
		zap.String("path", path),
		zap.Strings("args", redactPrompt(inv.Args, call.req.Prompt)),
	)
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, domain.E(domain.CodeProcessFailure, "engine.spawn",
			fmt.Sprintf("Failed to start %s: %v", path, err), err)
	}
	started = true
	return run, nil
}

// wait blocks until the process is gone, releases the slot and settles the
// outcome exactly once.
func (r *spawnRun) wait() (string, error) {
	defer r.release()
	defer r.cancel()

	waitErr := r.cmd.Wait()
	return r.settle(waitErr)
}

// settle classifies how the process ended. A clean exit wins over a
// cancellation that raced with it; otherwise caller abort is distinguished
// from the timeout by which context ended.
func (r *spawnRun) settle(waitErr error) (string, error) {
	state := r.cmd.ProcessState
	if waitErr == nil || (state != nil && state.Success()) {
		r.stdout.flush()
		return r.tool.ParseOutput(r.stdout.String()), nil
	}
	if r.ctx.Err() != nil {
		return "", domain.E(domain.CodeAborted, "engine.spawn", "Request aborted by client", waitErr)
	}
	if errors.Is(r.runCtx.Err(), context.DeadlineExceeded) {
		return "", timeoutError("engine.spawn", r.call.timeout, waitErr)
	}
	code := -1
	if state != nil {
		code = state.ExitCode()
	}
	msg := strings.TrimSpace(r.stderr.String())
	if msg == "" {
		msg = fmt.Sprintf("Process exited with code %d", code)
	}
	return "", domain.E(domain.CodeProcessFailure, "engine.spawn", msg, waitErr).
		WithMeta("exit_code", fmt.Sprint(code))
}

func redactPrompt(args []string, prompt string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		if arg == prompt {
			out[i] = fmt.Sprintf("%q", promptPreview(prompt))
			continue
		}
		out[i] = arg
	}
	return out
}
