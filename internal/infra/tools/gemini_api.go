package tools

import (
	"context"
	"strings"

	"cliproxy/internal/domain"
)

// Generator is the authenticated client behind an API-mode tool.
type Generator interface {
	Generate(ctx context.Context, prompt, model string) (string, error)
	// CheckCredentials reports whether usable credentials are present.
	CheckCredentials(ctx context.Context) error
}

// GeminiAPITool calls the Gemini Code Assist API directly with the Gemini
// CLI's OAuth credentials.
type GeminiAPITool struct {
	desc   domain.ToolDescriptor
	client Generator
}

func NewGeminiAPITool(client Generator) *GeminiAPITool {
	return &GeminiAPITool{
		desc: domain.ToolDescriptor{
			ID:           GeminiAPIID,
			Name:         "Gemini API (OAuth)",
			Mode:         domain.ToolModeAPI,
			DefaultModel: GeminiDefaultModel,
		},
		client: client,
	}
}

func (t *GeminiAPITool) Descriptor() domain.ToolDescriptor {
	return t.desc
}

func (t *GeminiAPITool) CanonicalModel(model string) string {
	return CanonicalGeminiModel(model)
}

func (t *GeminiAPITool) ModelAllowed(model string) bool {
	return strings.HasPrefix(CanonicalGeminiModel(model), "gemini-")
}

func (t *GeminiAPITool) ResolveModel(model string) string {
	return resolveGeminiModel(model)
}

func (t *GeminiAPITool) Probe(ctx context.Context) domain.Availability {
	if err := t.client.CheckCredentials(ctx); err != nil {
		return domain.Availability{Error: domain.MessageFrom(err)}
	}
	return domain.Availability{Available: true}
}

func (t *GeminiAPITool) Generate(ctx context.Context, prompt, model string) (string, error) {
	out, err := t.client.Generate(ctx, prompt, t.ResolveModel(model))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
