package localstate

import (
	"os"
	"path/filepath"
	"regexp"

	"github.com/pelletier/go-toml/v2"

	"cliproxy/internal/infra/credstore"
)

// CodexModel is one entry of the Codex CLI model cache.
type CodexModel struct {
	ID               string
	DisplayName      string
	Visibility       string
	ReasoningEfforts []string
}

type codexModelsCache struct {
	Models []codexCacheEntry `json:"models"`
}

type codexCacheEntry struct {
	Slug                     string                `json:"slug"`
	ID                       string                `json:"id"`
	Model                    string                `json:"model"`
	DisplayName              string                `json:"display_name"`
	Visibility               string                `json:"visibility"`
	SupportedReasoningLevels []codexReasoningLevel `json:"supported_reasoning_levels"`
}

type codexReasoningLevel struct {
	Effort string `json:"effort"`
}

type codexConfig struct {
	Model string `toml:"model"`
}

var codexModelLine = regexp.MustCompile(`(?m)^model\s*=\s*"([^"]+)"`)

// CodexConfiguredModel returns the model set in ~/.codex/config.toml.
func (d Dirs) CodexConfiguredModel() string {
	data, err := os.ReadFile(filepath.Join(d.CodexDir(), "config.toml"))
	if err != nil {
		return ""
	}
	var cfg codexConfig
	if err := toml.Unmarshal(data, &cfg); err == nil {
		return normalizeID(cfg.Model)
	}
	// Tolerate configs go-toml rejects but that still carry a top-level key.
	if match := codexModelLine.FindSubmatch(data); match != nil {
		return normalizeID(string(match[1]))
	}
	return ""
}

// CodexModels returns every entry of ~/.codex/models_cache.json.
func (d Dirs) CodexModels() []CodexModel {
	cache := credstore.ReadJSONFileOr(filepath.Join(d.CodexDir(), "models_cache.json"), codexModelsCache{})
	out := make([]CodexModel, 0, len(cache.Models))
	for _, entry := range cache.Models {
		id := firstNonEmpty(entry.Slug, entry.ID, entry.Model)
		if id == "" {
			continue
		}
		efforts := make([]string, 0, len(entry.SupportedReasoningLevels))
		for _, level := range entry.SupportedReasoningLevels {
			if effort := normalizeID(level.Effort); effort != "" {
				efforts = append(efforts, effort)
			}
		}
		out = append(out, CodexModel{
			ID:               id,
			DisplayName:      normalizeID(entry.DisplayName),
			Visibility:       normalizeID(entry.Visibility),
			ReasoningEfforts: efforts,
		})
	}
	return out
}

var reasoningEffortOrder = []string{"low", "medium", "high", "xhigh"}

const defaultReasoningEffort = "medium"

// LowestReasoningEffort picks the cheapest supported effort. Unknown effort
// names are used only when none of the known levels is supported.
func LowestReasoningEffort(supported []string) string {
	set := make(map[string]struct{}, len(supported))
	var first string
	for _, effort := range supported {
		effort = normalizeID(effort)
		if effort == "" {
			continue
		}
		if first == "" {
			first = effort
		}
		set[effort] = struct{}{}
	}
	for _, effort := range reasoningEffortOrder {
		if _, ok := set[effort]; ok {
			return effort
		}
	}
	return first
}

// CodexReasoningEffort returns the effort forced for model, falling back to
// the configured model and then to "medium".
func (d Dirs) CodexReasoningEffort(model string) string {
	selected := normalizeID(model)
	if selected == "" {
		selected = d.CodexConfiguredModel()
	}
	if selected == "" {
		return defaultReasoningEffort
	}
	for _, entry := range d.CodexModels() {
		if entry.ID == selected {
			if effort := LowestReasoningEffort(entry.ReasoningEfforts); effort != "" {
				return effort
			}
			break
		}
	}
	return defaultReasoningEffort
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value = normalizeID(value); value != "" {
			return value
		}
	}
	return ""
}
