// Package localstate reads the per-user state files that tool CLIs keep in
// the home directory. Every reader is defensive: a missing or malformed
// file yields an empty result, never an error.
package localstate

import (
	"os"
	"path/filepath"
	"strings"
)

// Dirs locates tool state directories under a home directory.
type Dirs struct {
	Home string
}

// DefaultDirs uses the current user's home directory.
func DefaultDirs() Dirs {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return Dirs{Home: home}
}

func (d Dirs) CodexDir() string  { return filepath.Join(d.Home, ".codex") }
func (d Dirs) ClaudeDir() string { return filepath.Join(d.Home, ".claude") }
func (d Dirs) GeminiDir() string { return filepath.Join(d.Home, ".gemini") }

// WatchDirs lists the directories whose changes invalidate model discovery.
func (d Dirs) WatchDirs() map[string]string {
	return map[string]string{
		"codex":  d.CodexDir(),
		"claude": d.ClaudeDir(),
		"gemini": filepath.Join(d.GeminiDir(), "tmp"),
	}
}

func normalizeID(value string) string {
	return strings.TrimSpace(value)
}
