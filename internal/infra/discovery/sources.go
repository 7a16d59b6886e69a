package discovery

import (
	"sort"

	"cliproxy/internal/domain"
	"cliproxy/internal/infra/localstate"
	"cliproxy/internal/infra/tools"
)

// discovered is what one local source knows about a tool's models.
type discovered struct {
	defaultModel string
	models       []domain.ModelInfo
	source       domain.Provenance
}

// modelSet keeps the first provenance seen for each canonical id the tool
// allows.
type modelSet struct {
	tool domain.Tool
	byID map[string]domain.ModelInfo
}

func newModelSet(tool domain.Tool) *modelSet {
	return &modelSet{tool: tool, byID: make(map[string]domain.ModelInfo)}
}

func (s *modelSet) add(id string, source domain.Provenance, name string) {
	id = s.tool.CanonicalModel(id)
	if id == "" || !s.tool.ModelAllowed(id) {
		return
	}
	if _, ok := s.byID[id]; ok {
		return
	}
	if name == "" {
		name = id
	}
	s.byID[id] = domain.ModelInfo{ID: id, Name: name, Source: source}
}

func (s *modelSet) len() int {
	return len(s.byID)
}

func (s *modelSet) sorted() []domain.ModelInfo {
	out := make([]domain.ModelInfo, 0, len(s.byID))
	for _, info := range s.byID {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// geminiFallbackModels is offered when no gemini history exists yet.
var geminiFallbackModels = []string{"gemini-2.5-pro", "gemini-2.5-flash", "gemini-2.5-flash-lite"}

func discoverCodex(dirs localstate.Dirs, tool domain.Tool) discovered {
	set := newModelSet(tool)
	cached := dirs.CodexModels()
	for _, model := range cached {
		if model.Visibility != "" && model.Visibility != "list" {
			continue
		}
		set.add(model.ID, domain.ProvenanceCodexCache, model.DisplayName)
	}
	configured := dirs.CodexConfiguredModel()
	set.add(configured, domain.ProvenanceCodexConfig, "")

	source := domain.ProvenanceFallback
	switch {
	case len(cached) > 0:
		source = domain.ProvenanceCodexCache
	case configured != "":
		source = domain.ProvenanceCodexConfig
	}
	return discovered{defaultModel: configured, models: set.sorted(), source: source}
}

func discoverClaude(dirs localstate.Dirs, tool domain.Tool) discovered {
	set := newModelSet(tool)
	for _, id := range dirs.ClaudeUsageModels() {
		set.add(id, domain.ProvenanceClaudeStats, "")
	}
	source := domain.ProvenanceFallback
	if set.len() > 0 {
		source = domain.ProvenanceClaudeStats
	}
	set.add("opus", domain.ProvenanceClaudeAlias, "")
	set.add("sonnet", domain.ProvenanceClaudeAlias, "")
	set.add(tools.ClaudeDefaultModel, domain.ProvenanceProxyDefault, "")
	return discovered{defaultModel: tools.ClaudeDefaultModel, models: set.sorted(), source: source}
}

func discoverGemini(dirs localstate.Dirs, tool domain.Tool, limit int) discovered {
	set := newModelSet(tool)
	for _, id := range dirs.GeminiHistoryModels(limit) {
		set.add(id, domain.ProvenanceGeminiHistory, "")
	}
	set.add(tools.GeminiDefaultModel, domain.ProvenanceProxyDefault, "")
	if set.len() > 1 {
		return discovered{defaultModel: tools.GeminiDefaultModel, models: set.sorted(), source: domain.ProvenanceGeminiHistory}
	}
	for _, id := range geminiFallbackModels {
		set.add(id, domain.ProvenanceFallback, "")
	}
	return discovered{defaultModel: tools.GeminiDefaultModel, models: set.sorted(), source: domain.ProvenanceFallback}
}
