package process

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"cliproxy/internal/domain"
)

// Prober checks that a tool executable resolves and answers a version
// query.
type Prober struct {
	resolver *Resolver
	timeout  time.Duration
}

func NewProber(resolver *Resolver, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = domain.DefaultProbeTimeout
	}
	return &Prober{resolver: resolver, timeout: timeout}
}

// Probe resolves command and runs it with args (default --version).
func (p *Prober) Probe(ctx context.Context, command string, args ...string) domain.Availability {
	path, err := p.resolver.Resolve(ctx, command)
	if err != nil {
		return domain.Availability{Available: false, Error: domain.MessageFrom(err)}
	}
	if len(args) == 0 {
		args = []string{"--version"}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := Command(ctx, path, args...)
	Setup(cmd)
	cmd.Env = append(os.Environ(), "NO_COLOR=1")
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return domain.Availability{Path: path, Error: fmt.Sprintf("%s check failed: %v", command, err)}
	}
	err = cmd.Wait()
	if ctx.Err() != nil {
		return domain.Availability{Path: path, Error: fmt.Sprintf("%s check failed: timed out after %s", command, p.timeout)}
	}
	if err != nil {
		detail := FailureDetail(stdout.Bytes(), stderr.Bytes(), err)
		return domain.Availability{Path: path, Error: fmt.Sprintf("%s is installed but check command failed: %s", command, detail)}
	}
	return domain.Availability{
		Available: true,
		Path:      path,
		Detail:    firstLine(stdout.String()),
	}
}

func firstLine(value string) string {
	value = strings.TrimSpace(value)
	if idx := strings.IndexAny(value, "\r\n"); idx >= 0 {
		return strings.TrimSpace(value[:idx])
	}
	return value
}
