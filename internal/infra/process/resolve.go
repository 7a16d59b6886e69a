package process

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"cliproxy/internal/domain"
)

const lookupTimeout = 5 * time.Second

// Resolver finds the absolute path of a tool executable. Lookup order is:
// absolute path, the OS lookup command, then PATH entries followed by npm
// global bin directories.
type Resolver struct {
	logger  *zap.Logger
	goos    string
	getenv  func(string) string
	runner  LineRunner
	isExec  func(string) bool
	npmOnce sync.Once
	npmDirs []string
}

// LineRunner runs a command and returns its non-empty stdout lines.
type LineRunner func(ctx context.Context, name string, args ...string) []string

type ResolverOptions struct {
	Logger *zap.Logger
	GOOS   string
	Getenv func(string) string
	Runner LineRunner
	// IsExecutable overrides the runnable-file check; tests only.
	IsExecutable func(string) bool
}

func NewResolver(opts ResolverOptions) *Resolver {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	goos := opts.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	runner := opts.Runner
	if runner == nil {
		runner = runLines
	}
	isExec := opts.IsExecutable
	if isExec == nil {
		isExec = func(path string) bool { return isRunnableFile(path, goos) }
	}
	return &Resolver{
		logger: logger.Named("resolver"),
		goos:   goos,
		getenv: getenv,
		runner: runner,
		isExec: isExec,
	}
}

// Resolve returns the first runnable candidate for command.
func (r *Resolver) Resolve(ctx context.Context, command string) (string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return "", domain.E(domain.CodeInvalidArgument, "process.resolve", "command is required", nil)
	}
	for _, candidate := range r.Candidates(ctx, command) {
		if r.isExec(candidate) {
			return candidate, nil
		}
	}
	return "", domain.Errorf(domain.CodeToolUnavailable, "process.resolve",
		"%s executable not found. Ensure it is installed and available in PATH, then restart the host application/terminal.", command)
}

// Candidates lists every path Resolve would try, in order.
func (r *Resolver) Candidates(ctx context.Context, command string) []string {
	var out []string
	seen := map[string]struct{}{}
	add := func(value string) {
		candidate := trimQuotes(value)
		if candidate == "" {
			return
		}
		// npm creates extensionless POSIX shims next to runnable wrappers.
		if r.windows() && filepath.Ext(candidate) == "" {
			for _, ext := range windowsWrapperExts {
				wrapper := candidate + ext
				if _, ok := seen[wrapper]; !ok {
					seen[wrapper] = struct{}{}
					out = append(out, wrapper)
				}
			}
		}
		if _, ok := seen[candidate]; ok {
			return
		}
		seen[candidate] = struct{}{}
		out = append(out, candidate)
	}

	if filepath.IsAbs(command) {
		add(command)
	}

	token := filepath.Base(command)
	if token != "" && token != "." {
		if r.windows() {
			for _, line := range r.runner(ctx, "where", token) {
				add(line)
			}
		} else {
			for _, line := range r.runner(ctx, "sh", "-c", `command -v "$1"`, "sh", token) {
				add(line)
			}
			for _, line := range r.runner(ctx, "which", token) {
				add(line)
			}
		}
	}

	names := r.commandNames(command)
	for _, dir := range r.searchDirs(ctx) {
		for _, name := range names {
			add(r.join(dir, name))
		}
	}
	return out
}

var windowsWrapperExts = []string{".cmd", ".exe", ".bat"}

func (r *Resolver) windows() bool {
	return r.goos == "windows"
}

func (r *Resolver) join(dir, name string) string {
	if r.windows() {
		return strings.TrimRight(dir, `\/`) + `\` + name
	}
	return filepath.Join(dir, name)
}

func (r *Resolver) commandNames(command string) []string {
	base := strings.TrimSpace(command)
	if base == "" {
		return nil
	}
	if !r.windows() {
		return []string{base}
	}
	lower := strings.ToLower(base)
	names := make([]string, 0, 4)
	for _, ext := range windowsWrapperExts {
		if !strings.HasSuffix(lower, ext) {
			names = append(names, base+ext)
		}
	}
	return append(names, base)
}

func (r *Resolver) searchDirs(ctx context.Context) []string {
	sep := string(os.PathListSeparator)
	if r.windows() {
		sep = ";"
	}
	var dirs []string
	seen := map[string]struct{}{}
	add := func(dir string) {
		dir = trimQuotes(dir)
		if dir == "" {
			return
		}
		if _, ok := seen[dir]; ok {
			return
		}
		seen[dir] = struct{}{}
		dirs = append(dirs, dir)
	}
	for _, dir := range strings.Split(r.getenv("PATH"), sep) {
		add(dir)
	}
	for _, dir := range r.npmGlobalBinDirs(ctx) {
		add(dir)
	}
	return dirs
}

// npmGlobalBinDirs is computed once per resolver.
func (r *Resolver) npmGlobalBinDirs(ctx context.Context) []string {
	r.npmOnce.Do(func() {
		var dirs []string
		add := func(dir string) {
			dir = trimQuotes(dir)
			if dir == "" {
				return
			}
			for _, existing := range dirs {
				if existing == dir {
					return
				}
			}
			if info, err := os.Stat(dir); err != nil || !info.IsDir() {
				return
			}
			dirs = append(dirs, dir)
		}
		for _, line := range r.runner(ctx, "npm", "bin", "-g") {
			add(line)
		}
		for _, prefix := range r.runner(ctx, "npm", "config", "get", "prefix") {
			prefix = trimQuotes(prefix)
			if prefix == "" || prefix == "undefined" || prefix == "null" {
				continue
			}
			if r.windows() {
				add(prefix)
			}
			add(filepath.Join(prefix, "bin"))
		}
		r.npmDirs = dirs
		if len(dirs) > 0 {
			r.logger.Debug("npm global bin directories", zap.Strings("dirs", dirs))
		}
	})
	return r.npmDirs
}

func runLines(ctx context.Context, name string, args ...string) []string {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	Setup(cmd)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil
	}
	var lines []string
	scanner := bufio.NewScanner(&stdout)
	for scanner.Scan() {
		if line := trimQuotes(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func trimQuotes(value string) string {
	value = strings.TrimSpace(value)
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if (first == '"' || first == '\'') && first == last {
			value = strings.TrimSpace(value[1 : len(value)-1])
		}
	}
	return value
}

func isRunnableFile(path, goos string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if goos == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}

// NeedsShell reports whether a resolved executable must be run through the
// platform command interpreter.
func NeedsShell(path, goos string) bool {
	if goos != "windows" {
		return false
	}
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".cmd") || strings.HasSuffix(lower, ".bat")
}

// Command builds an exec.Cmd for path, wrapping batch scripts with cmd.exe.
func Command(ctx context.Context, path string, args ...string) *exec.Cmd {
	if NeedsShell(path, runtime.GOOS) {
		shellArgs := append([]string{"/d", "/s", "/c", path}, args...)
		return exec.CommandContext(ctx, "cmd.exe", shellArgs...)
	}
	return exec.CommandContext(ctx, path, args...)
}
