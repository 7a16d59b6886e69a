package update

import (
	"bytes"
	"context"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"cliproxy/internal/domain"
	"cliproxy/internal/infra/credstore"
	"cliproxy/internal/infra/process"
	"cliproxy/internal/infra/telemetry"
)

const (
	maxArtifactSize         = 256 << 20
	defaultReinstallTimeout = 3 * time.Minute
	proxyLabel              = "proxy"
)

// CommandResolver finds an executable on the augmented PATH.
type CommandResolver interface {
	Resolve(ctx context.Context, command string) (string, error)
}

// CommandRunner runs a resolved command in dir and returns its output.
type CommandRunner func(ctx context.Context, dir, path string, args ...string) (stdout, stderr []byte, err error)

// SpawnFunc starts a process that outlives the gateway.
type SpawnFunc func(name string, args []string, dir string, env []string) error

type ApplierOptions struct {
	Logger     *zap.Logger
	HTTPClient *http.Client
	RawBaseURL string
	AddonDir   string
	// BinaryRemote is the repository path of this platform's gateway build.
	BinaryRemote string
	// Platform keys the published digest; it defaults to the running build.
	Platform         string
	ReinstallCommand []string
	ReinstallTimeout time.Duration
	Resolver         CommandResolver
	Run              CommandRunner
	Checker          *Checker
	DownloadTimeout  time.Duration
	RestartDelay     time.Duration
	Spawn            SpawnFunc
	Exit             func(code int)
	// Executable is replaced by the proxy target and relaunched with Args.
	// They default to the current executable and arguments.
	Executable string
	Args       []string
}

// Applier downloads allow-listed artifacts. The proxy target replaces the
// gateway executable and restarts it.
type Applier struct {
	logger           *zap.Logger
	httpClient       *http.Client
	rawBase          string
	addonDir         string
	binaryRemote     string
	platform         string
	reinstall        []string
	reinstallTimeout time.Duration
	resolver         CommandResolver
	run              CommandRunner
	checker          *Checker
	restartDelay     time.Duration
	spawn            SpawnFunc
	exit             func(int)
	executable       string
	args             []string

	mu sync.Mutex
}

func NewApplier(opts ApplierOptions) *Applier {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	downloadTimeout := opts.DownloadTimeout
	if downloadTimeout <= 0 {
		downloadTimeout = domain.DefaultDownloadTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: downloadTimeout}
	}
	rawBase := strings.TrimRight(opts.RawBaseURL, "/")
	if rawBase == "" {
		rawBase = domain.DefaultRawBaseURL
	}
	binaryRemote := strings.Trim(opts.BinaryRemote, "/")
	if binaryRemote == "" {
		binaryRemote = DefaultBinaryRemote()
	}
	platform := opts.Platform
	if platform == "" {
		platform = Platform()
	}
	reinstallTimeout := opts.ReinstallTimeout
	if reinstallTimeout <= 0 {
		reinstallTimeout = defaultReinstallTimeout
	}
	run := opts.Run
	if run == nil {
		run = runCommand
	}
	restartDelay := opts.RestartDelay
	if restartDelay < 0 {
		restartDelay = 0
	}
	spawn := opts.Spawn
	if spawn == nil {
		spawn = process.StartDetached
	}
	exit := opts.Exit
	if exit == nil {
		exit = os.Exit
	}
	executable := opts.Executable
	args := opts.Args
	if executable == "" {
		executable = currentExecutable()
		if args == nil && len(os.Args) > 1 {
			args = append([]string(nil), os.Args[1:]...)
		}
	}
	return &Applier{
		logger:           logger.Named("update"),
		httpClient:       client,
		rawBase:          rawBase,
		addonDir:         opts.AddonDir,
		binaryRemote:     binaryRemote,
		platform:         platform,
		reinstall:        opts.ReinstallCommand,
		reinstallTimeout: reinstallTimeout,
		resolver:         opts.Resolver,
		run:              run,
		checker:          opts.Checker,
		restartDelay:     restartDelay,
		spawn:            spawn,
		exit:             exit,
		executable:       executable,
		args:             args,
	}
}

// ValidateTarget rejects targets outside the allow-list before any
// filesystem or network work.
func ValidateTarget(target string) error {
	if target == "" {
		return domain.E(domain.CodeInvalidArgument, "update.target",
			"Missing target (addons, proxy, all, or filename)", nil)
	}
	switch target {
	case domain.UpdateTargetAddons, domain.UpdateTargetProxy, domain.UpdateTargetAll:
		return nil
	}
	if isAddonFile(target) {
		return nil
	}
	return domain.Errorf(domain.CodeInvalidArgument, "update.target", "Invalid target: %s", target)
}

// Apply refreshes the artifacts named by target. When the gateway executable
// changes a restart is scheduled after the outcome is returned.
func (a *Applier) Apply(ctx context.Context, target string) (domain.UpdateOutcome, error) {
	if err := ValidateTarget(target); err != nil {
		return domain.UpdateOutcome{}, err
	}
	if !a.mu.TryLock() {
		return domain.UpdateOutcome{}, domain.E(domain.CodeConflict, "update.apply", "Update already in progress", nil)
	}
	defer a.mu.Unlock()

	logger := telemetry.LoggerWithRequest(ctx, a.logger).With(
		telemetry.EventField(telemetry.EventUpdateApply),
		zap.String("target", target),
	)
	var results []domain.UpdateFileResult

	if target == domain.UpdateTargetAddons || target == domain.UpdateTargetAll {
		for _, name := range domain.AddonFiles {
			local, err := safeJoin(a.addonDir, name, name)
			if err != nil {
				return domain.UpdateOutcome{}, err
			}
			if _, err := os.Stat(local); err != nil {
				continue
			}
			result, err := a.download(ctx, name, local, name)
			if err != nil {
				return domain.UpdateOutcome{}, err
			}
			results = append(results, result)
		}
	}

	restart := false
	if target == domain.UpdateTargetProxy || target == domain.UpdateTargetAll {
		proxyResults, err := a.applyProxy(ctx, logger)
		if err != nil {
			return domain.UpdateOutcome{}, err
		}
		results = append(results, proxyResults...)
		restart = true
	}

	if isAddonFile(target) {
		local, err := safeJoin(a.addonDir, target, target)
		if err != nil {
			return domain.UpdateOutcome{}, err
		}
		result, err := a.download(ctx, target, local, target)
		if err != nil {
			return domain.UpdateOutcome{}, err
		}
		results = append(results, result)
	}

	if len(results) == 0 {
		return domain.UpdateOutcome{}, domain.Errorf(domain.CodeInvalidArgument, "update.apply", "Unknown target: %s", target)
	}
	if a.checker != nil {
		a.checker.Invalidate()
	}
	logger.Info("update applied", zap.Int("files", len(results)), zap.Bool("restart", restart))
	if restart {
		a.scheduleRestart(logger)
	}
	return domain.UpdateOutcome{Success: true, Results: results, RestartRequired: restart}, nil
}

// applyProxy swaps the running executable for the published build of this
// platform once its blake3 digest matches the manifest.
func (a *Applier) applyProxy(ctx context.Context, logger *zap.Logger) ([]domain.UpdateFileResult, error) {
	if a.executable == "" {
		return nil, domain.E(domain.CodeUpdateError, "update.proxy", "Cannot locate the running executable", nil)
	}
	expected, err := a.publishedDigest(ctx)
	if err != nil {
		return nil, err
	}
	label := path.Base(a.binaryRemote)
	data, err := a.fetch(ctx, a.binaryRemote, label)
	if err != nil {
		return nil, err
	}
	sum := digestOf(data)
	if !strings.EqualFold(sum, expected) {
		logger.Warn("gateway build digest mismatch", zap.String("file", label), zap.String("want", expected), zap.String("got", sum))
		return nil, domain.Errorf(domain.CodeUpdateError, "update.verify", "Digest mismatch for %s", label)
	}

	name := filepath.Base(a.executable)
	target, err := safeJoin(filepath.Dir(a.executable), name, name)
	if err != nil {
		return nil, err
	}
	if err := credstore.WriteFileAtomic(target, data, 0o755); err != nil {
		return nil, domain.Errorf(domain.CodeUpdateError, "update.write", "Failed to replace %s: %v", name, err)
	}
	logger.Info("gateway executable replaced", zap.String("path", target), zap.Int("bytes", len(data)))
	results := []domain.UpdateFileResult{{File: name, Status: domain.UpdateFileUpdated, Digest: sum}}

	if len(a.reinstall) > 0 {
		result, err := a.runReinstall(ctx, logger)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	results = append(results, domain.UpdateFileResult{
		File:   proxyLabel,
		Status: domain.UpdateFileUpdated,
		Note:   "Server will restart automatically",
	})
	return results, nil
}

func (a *Applier) publishedDigest(ctx context.Context) (string, error) {
	if a.checker == nil {
		return "", domain.E(domain.CodeUpdateError, "update.verify", "No manifest to verify the gateway build against", nil)
	}
	manifest, err := a.checker.Manifest(ctx)
	if err != nil {
		return "", domain.Errorf(domain.CodeUpdateError, "update.verify", "Failed to fetch manifest: %v", err)
	}
	if manifest.Gateway == nil {
		return "", domain.E(domain.CodeUpdateError, "update.verify", "Manifest does not publish a gateway build", nil)
	}
	digest := strings.TrimSpace(manifest.Gateway.Blake3[a.platform])
	if digest == "" {
		return "", domain.Errorf(domain.CodeUpdateError, "update.verify", "No published gateway build for %s", a.platform)
	}
	return digest, nil
}

func (a *Applier) runReinstall(ctx context.Context, logger *zap.Logger) (domain.UpdateFileResult, error) {
	label := strings.Join(a.reinstall, " ")
	var resolved string
	if a.resolver != nil {
		resolved, _ = a.resolver.Resolve(ctx, a.reinstall[0])
	}
	if resolved == "" {
		logger.Warn("installer not found; skipping dependency install", zap.String("command", a.reinstall[0]))
		return domain.UpdateFileResult{
			File:   label,
			Status: domain.UpdateFileSkipped,
			Note:   a.reinstall[0] + " not found in PATH; restart may fail if new dependencies are required",
		}, nil
	}

	logger.Info("running dependency install", zap.String("command", resolved))
	runCtx, cancel := context.WithTimeout(ctx, a.reinstallTimeout)
	defer cancel()
	stdout, stderr, err := a.run(runCtx, filepath.Dir(a.executable), resolved, a.reinstall[1:]...)
	if err != nil {
		return domain.UpdateFileResult{}, domain.Errorf(domain.CodeUpdateError, "update.reinstall",
			"%s failed after proxy update: %s", label, process.FailureDetail(stdout, stderr, err))
	}
	return domain.UpdateFileResult{File: label, Status: "ok"}, nil
}

func (a *Applier) download(ctx context.Context, remotePath, localPath, label string) (domain.UpdateFileResult, error) {
	data, err := a.fetch(ctx, remotePath, label)
	if err != nil {
		return domain.UpdateFileResult{}, err
	}
	if err := credstore.WriteFileAtomic(localPath, data, 0o644); err != nil {
		return domain.UpdateFileResult{}, domain.Errorf(domain.CodeUpdateError, "update.write",
			"Failed to write %s: %v", label, err)
	}
	a.logger.Info("artifact updated", zap.String("file", label), zap.Int("bytes", len(data)))
	return domain.UpdateFileResult{
		File:   label,
		Status: domain.UpdateFileUpdated,
		Digest: digestOf(data),
	}, nil
}

func (a *Applier) fetch(ctx context.Context, remotePath, label string) ([]byte, error) {
	target := a.rawBase + "/" + (&url.URL{Path: remotePath}).EscapedPath()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, domain.E(domain.CodeUpdateError, "update.download", "Failed to download "+label, err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, domain.Errorf(domain.CodeUpdateError, "update.download", "Failed to download %s: %v", label, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, domain.Errorf(domain.CodeUpdateError, "update.download", "Failed to download %s: HTTP %d", label, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactSize+1))
	if err != nil {
		return nil, domain.Errorf(domain.CodeUpdateError, "update.download", "Failed to download %s: %v", label, err)
	}
	if len(data) > maxArtifactSize {
		return nil, domain.Errorf(domain.CodeUpdateError, "update.download", "Failed to download %s: artifact too large", label)
	}
	return data, nil
}

func digestOf(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (a *Applier) scheduleRestart(logger *zap.Logger) {
	logger.Info("gateway updated; restarting", zap.Duration("delay", a.restartDelay))
	time.AfterFunc(a.restartDelay, func() {
		if a.executable == "" {
			logger.Error("restart skipped: executable path unknown")
			return
		}
		if err := a.spawn(a.executable, a.args, filepath.Dir(a.executable), os.Environ()); err != nil {
			logger.Error("restart failed; keeping current process", zap.Error(err))
			return
		}
		a.exit(0)
	})
}

func runCommand(ctx context.Context, dir, path string, args ...string) ([]byte, []byte, error) {
	cmd := process.Command(ctx, path, args...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cleanup := process.Setup(cmd)
	defer cleanup()
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
