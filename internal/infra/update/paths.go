package update

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"cliproxy/internal/domain"
)

const (
	addonAppDir = "ivLyrics"
	binaryName  = "cliproxy"
)

// Platform is the manifest key of the running build.
func Platform() string {
	return runtime.GOOS + "-" + runtime.GOARCH
}

// BinaryAssetName is the published file name of the gateway build for
// goos/goarch.
func BinaryAssetName(goos, goarch string) string {
	name := binaryName + "-" + goos + "-" + goarch
	if goos == "windows" {
		name += ".exe"
	}
	return name
}

// DefaultBinaryRemote is the repository path of the running platform's build.
func DefaultBinaryRemote() string {
	return "releases/" + BinaryAssetName(runtime.GOOS, runtime.GOARCH)
}

// DefaultAddonDir locates the host application's addon directory for the
// current user.
func DefaultAddonDir(home string) string {
	return addonDirFor(runtime.GOOS, home, os.Getenv, dirExists)
}

func addonDirFor(goos, home string, getenv func(string) string, exists func(string) bool) string {
	return filepath.Join(spicetifyConfigDir(goos, home, getenv, exists), "CustomApps", addonAppDir)
}

func spicetifyConfigDir(goos, home string, getenv func(string) string, exists func(string) bool) string {
	if goos != "windows" {
		return filepath.Join(home, ".config", "spicetify")
	}
	var candidates []string
	if local := getenv("LOCALAPPDATA"); local != "" {
		candidates = append(candidates, filepath.Join(local, "spicetify"))
	}
	if roaming := getenv("APPDATA"); roaming != "" {
		candidates = append(candidates, filepath.Join(roaming, "spicetify"))
	}
	candidates = append(candidates,
		filepath.Join(home, ".config", "spicetify"),
		filepath.Join(home, ".spicetify"),
	)
	for _, dir := range candidates {
		if exists(filepath.Join(dir, "CustomApps", addonAppDir)) {
			return dir
		}
	}
	for _, dir := range candidates {
		if exists(dir) {
			return dir
		}
	}
	return candidates[0]
}

// DefaultInstallDir is the directory holding the running executable.
func DefaultInstallDir() string {
	exe := currentExecutable()
	if exe == "" {
		wd, _ := os.Getwd()
		return wd
	}
	return filepath.Dir(exe)
}

// currentExecutable is the running binary with symlinks resolved, so an
// update replaces the real file rather than the link.
func currentExecutable() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return exe
}

// safeJoin joins name onto dir and rejects results that leave dir.
func safeJoin(dir, name, label string) (string, error) {
	resolvedDir, err := filepath.Abs(dir)
	if err != nil {
		return "", domain.E(domain.CodeUpdateError, "update.path", "Invalid path detected: "+label, err)
	}
	full := filepath.Join(resolvedDir, name)
	if full != filepath.Join(resolvedDir, filepath.Base(full)) || filepath.Base(full) != name {
		return "", domain.E(domain.CodeUpdateError, "update.path", "Invalid path detected: "+label, nil)
	}
	return full, nil
}

func isAddonFile(name string) bool {
	for _, candidate := range domain.AddonFiles {
		if candidate == name {
			return true
		}
	}
	return false
}

// isSafeInstallDir reports whether dir's base name matches expected,
// ignoring case.
func isSafeInstallDir(dir, expected string) bool {
	return strings.EqualFold(filepath.Base(filepath.Clean(dir)), expected)
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
