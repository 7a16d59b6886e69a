package localstate

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultGeminiHistoryLimit bounds how many session files are scanned.
const DefaultGeminiHistoryLimit = 600

var errScanLimit = errors.New("scan limit reached")

var geminiModelField = regexp.MustCompile(`"model"\s*:\s*"([^"]+)"`)

// GeminiHistoryModels scans JSON session files under ~/.gemini/tmp for
// "model" fields. Returned ids are raw; callers canonicalize them.
func (d Dirs) GeminiHistoryModels(limit int) []string {
	if limit <= 0 {
		limit = DefaultGeminiHistoryLimit
	}
	root := filepath.Join(d.GeminiDir(), "tmp")
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil
	}
	fsys := os.DirFS(root)

	var files []string
	err := doublestar.GlobWalk(fsys, "**/*.json", func(path string, entry fs.DirEntry) error {
		if entry.IsDir() {
			return nil
		}
		files = append(files, path)
		if len(files) >= limit {
			return errScanLimit
		}
		return nil
	})
	if err != nil && !errors.Is(err, errScanLimit) && len(files) == 0 {
		return nil
	}

	seen := map[string]struct{}{}
	for _, name := range files {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			continue
		}
		for _, match := range geminiModelField.FindAllSubmatch(data, -1) {
			if id := normalizeID(string(match[1])); id != "" {
				seen[id] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
