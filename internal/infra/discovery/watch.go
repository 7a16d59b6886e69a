package discovery

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"cliproxy/internal/infra/tools"
)

const defaultWatchDebounce = 200 * time.Millisecond

// watchTargets maps a state directory family to the tools it feeds.
var watchTargets = map[string][]string{
	"codex":  {tools.CodexID},
	"claude": {tools.ClaudeID},
	"gemini": {tools.GeminiID, tools.GeminiAPIID},
}

// Watch invalidates cached catalogs when tool state directories change.
// It blocks until ctx is done. Missing directories are skipped.
func (s *Service) Watch(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("model watcher failed", zap.Error(err))
		return
	}
	defer watcher.Close()

	roots := make(map[string][]string)
	for family, dir := range s.dirs.WatchDirs() {
		ids := watchTargets[family]
		for _, path := range watchPaths(dir) {
			if err := watcher.Add(path); err != nil {
				s.logger.Debug("model watcher add failed", zap.String("path", path), zap.Error(err))
				continue
			}
		}
		roots[filepath.Clean(dir)] = ids
	}
	if len(watcher.WatchList()) == 0 {
		s.logger.Debug("no tool state directories to watch")
		return
	}

	pending := make(map[string]struct{})
	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				s.logger.Warn("model watcher error", zap.Error(err))
			}
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			ids := toolsForPath(roots, event.Name)
			if len(ids) == 0 {
				continue
			}
			for _, id := range ids {
				pending[id] = struct{}{}
			}
			// New session directories appear under gemini/tmp.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}
			if timer == nil {
				timer = time.NewTimer(defaultWatchDebounce)
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(defaultWatchDebounce)
		case <-timerChan(timer):
			timer = nil
			ids := make([]string, 0, len(pending))
			for id := range pending {
				ids = append(ids, id)
			}
			clear(pending)
			s.Invalidate(ids...)
			s.logger.Debug("model cache invalidated", zap.Strings("tools", ids))
		}
	}
}

// watchPaths returns dir and its immediate subdirectories.
func watchPaths(dir string) []string {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil
	}
	paths := []string{dir}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return paths
	}
	for _, entry := range entries {
		if entry.IsDir() {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	return paths
}

func toolsForPath(roots map[string][]string, path string) []string {
	path = filepath.Clean(path)
	for root, ids := range roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return ids
		}
	}
	return nil
}

func timerChan(timer *time.Timer) <-chan time.Time {
	if timer == nil {
		return nil
	}
	return timer.C
}
