package localstate

import (
	"encoding/json"
	"path/filepath"
	"sort"
	"strings"

	"cliproxy/internal/infra/credstore"
)

type claudeStats struct {
	ModelUsage   map[string]json.RawMessage `json:"modelUsage"`
	MonthlyUsage map[string]json.RawMessage `json:"monthlyUsage"`
}

// ClaudeUsageModels returns claude-* model ids seen in
// ~/.claude/stats-cache.json, sorted.
func (d Dirs) ClaudeUsageModels() []string {
	stats := credstore.ReadJSONFileOr(filepath.Join(d.ClaudeDir(), "stats-cache.json"), claudeStats{})
	seen := map[string]struct{}{}
	add := func(id string) {
		id = normalizeID(id)
		if strings.HasPrefix(id, "claude-") {
			seen[id] = struct{}{}
		}
	}
	for id := range stats.ModelUsage {
		add(id)
	}
	for _, month := range stats.MonthlyUsage {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(month, &nested); err != nil {
			continue
		}
		for id := range nested {
			add(id)
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
