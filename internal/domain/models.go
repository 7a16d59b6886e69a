package domain

import "time"

// Provenance tags which local signal produced a model id.
type Provenance string

const (
	ProvenanceCodexCache    Provenance = "codex-cache"
	ProvenanceCodexConfig   Provenance = "codex-config"
	ProvenanceClaudeStats   Provenance = "claude-stats"
	ProvenanceClaudeAlias   Provenance = "claude-alias"
	ProvenanceGeminiHistory Provenance = "gemini-history"
	ProvenanceProxyDefault  Provenance = "proxy-default"
	ProvenanceFallback      Provenance = "fallback"
)

// ModelInfo is one candidate model.
type ModelInfo struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Source Provenance `json:"source"`
}

// ModelCatalog is a per-tool discovery result.
type ModelCatalog struct {
	Tool         string      `json:"tool"`
	Available    bool        `json:"available"`
	Error        *string     `json:"error"`
	DefaultModel string      `json:"defaultModel"`
	Models       []ModelInfo `json:"models"`
	Source       Provenance  `json:"source"`
	FetchedAt    time.Time   `json:"fetched_at"`
}
