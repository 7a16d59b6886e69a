package update

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"cliproxy/internal/domain"
	"cliproxy/internal/infra/process"
	"cliproxy/internal/infra/telemetry"
)

const (
	cleanupTarget = "proxy"

	StrategyShell   = "sh-rmrf-delayed"
	StrategyWindows = "cmd-rmdir-delayed"

	cleanupNote = "Cleanup scheduled. Server will exit shortly."

	// The response must reach the caller before the process exits.
	scheduleDelay = 100 * time.Millisecond
	exitDelay     = 250 * time.Millisecond
)

// ShutdownGate is closed once the gateway starts shutting down.
type ShutdownGate interface {
	Close() bool
	Closed() bool
}

type CleanerOptions struct {
	Logger          *zap.Logger
	Gate            ShutdownGate
	Dir             string
	ExpectedDirName string
	ConfirmToken    string
	RemovalDelay    time.Duration
	GOOS            string
	Spawn           SpawnFunc
	Exit            func(code int)
}

// Cleaner removes the gateway's deployment directory with an out-of-process
// command and exits.
type Cleaner struct {
	logger       *zap.Logger
	gate         ShutdownGate
	dir          string
	expected     string
	confirm      string
	removalDelay time.Duration
	goos         string
	spawn        SpawnFunc
	exit         func(int)
}

func NewCleaner(opts CleanerOptions) *Cleaner {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := opts.Dir
	if dir == "" {
		dir = DefaultInstallDir()
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	expected := opts.ExpectedDirName
	if expected == "" {
		expected = domain.DefaultCleanupDirName
	}
	confirm := opts.ConfirmToken
	if confirm == "" {
		confirm = domain.DefaultCleanupConfirmToken
	}
	delay := opts.RemovalDelay
	if delay <= 0 {
		delay = domain.DefaultCleanupRemovalDelay
	}
	goos := opts.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	spawn := opts.Spawn
	if spawn == nil {
		spawn = process.StartDetached
	}
	exit := opts.Exit
	if exit == nil {
		exit = os.Exit
	}
	return &Cleaner{
		logger:       logger.Named("cleanup"),
		gate:         opts.Gate,
		dir:          dir,
		expected:     expected,
		confirm:      confirm,
		removalDelay: delay,
		goos:         goos,
		spawn:        spawn,
		exit:         exit,
	}
}

// Cleanup validates req and, unless it is a dry run, marks the gateway as
// shutting down and schedules removal of its directory followed by exit.
func (c *Cleaner) Cleanup(ctx context.Context, req domain.CleanupRequest) (domain.CleanupResult, error) {
	if c.gate != nil && c.gate.Closed() {
		return domain.CleanupResult{}, domain.E(domain.CodeConflict, "update.cleanup", "Server is shutting down", nil)
	}
	if req.Target != cleanupTarget {
		return domain.CleanupResult{}, domain.E(domain.CodeInvalidArgument, "update.cleanup",
			"Missing/invalid target (expected: proxy)", nil)
	}
	if req.Confirm != c.confirm {
		return domain.CleanupResult{}, domain.E(domain.CodeInvalidArgument, "update.cleanup",
			"Missing confirmation token", nil)
	}
	if !isSafeInstallDir(c.dir, c.expected) {
		return domain.CleanupResult{}, domain.Errorf(domain.CodeInternal, "update.cleanup",
			"Unsafe proxy dir: %s", c.dir)
	}

	result := domain.CleanupResult{
		Success:  true,
		Target:   cleanupTarget,
		ProxyDir: c.dir,
		Strategy: c.strategy(),
	}
	if req.DryRun {
		result.DryRun = true
		return result, nil
	}
	if c.gate != nil && !c.gate.Close() {
		return domain.CleanupResult{}, domain.E(domain.CodeConflict, "update.cleanup", "Server is shutting down", nil)
	}

	logger := telemetry.LoggerWithRequest(ctx, c.logger)
	logger.Warn("removal of gateway directory scheduled",
		telemetry.EventField(telemetry.EventCleanup),
		zap.String("dir", c.dir),
		zap.String("strategy", result.Strategy),
	)
	time.AfterFunc(scheduleDelay, func() {
		if err := c.scheduleRemoval(); err != nil {
			logger.Error("failed to schedule directory removal", zap.Error(err))
		}
		time.AfterFunc(exitDelay, func() { c.exit(0) })
	})
	result.Note = cleanupNote
	return result, nil
}

func (c *Cleaner) strategy() string {
	if c.goos == "windows" {
		return StrategyWindows
	}
	return StrategyShell
}

func (c *Cleaner) scheduleRemoval() error {
	name, args := removalCommand(c.goos, c.dir, c.removalDelay)
	return c.spawn(name, args, filepath.Dir(c.dir), os.Environ())
}

// removalCommand builds a shell command that waits for delay and then
// deletes dir recursively.
func removalCommand(goos, dir string, delay time.Duration) (string, []string) {
	seconds := int(delay.Round(time.Second) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	if goos == "windows" {
		escaped := strings.ReplaceAll(dir, `"`, `""`)
		command := fmt.Sprintf(`ping 127.0.0.1 -n %d > nul && rmdir /s /q "%s"`, seconds+2, escaped)
		return "cmd.exe", []string{"/d", "/s", "/c", command}
	}
	escaped := strings.ReplaceAll(dir, `'`, `'\''`)
	return "/bin/sh", []string{"-c", fmt.Sprintf("sleep %d; rm -rf '%s'", seconds, escaped)}
}
