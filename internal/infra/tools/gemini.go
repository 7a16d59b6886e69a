package tools

import (
	"regexp"
	"strings"

	"cliproxy/internal/domain"
	"cliproxy/internal/infra/process"
)

const GeminiDefaultModel = "gemini-2.5-flash"

var geminiAliases = map[string]string{
	"3.0-flash":                "gemini-3-flash-preview",
	"3-flash":                  "gemini-3-flash-preview",
	"3-flash-preview":          "gemini-3-flash-preview",
	"gemini-3.0-flash":         "gemini-3-flash-preview",
	"gemini-3-flash":           "gemini-3-flash-preview",
	"gemini-3.0-flash-preview": "gemini-3-flash-preview",
}

var (
	geminiBareVersion = regexp.MustCompile(`^\d+(\.\d+)?-(flash|pro)(-.+)?$`)
	whitespaceRun     = regexp.MustCompile(`\s+`)
)

// CanonicalGeminiModel folds case, strips the "models/" prefix, normalizes
// separators, applies the alias table and promotes bare "2.5-pro" style ids
// to "gemini-2.5-pro".
func CanonicalGeminiModel(model string) string {
	id := strings.ToLower(strings.TrimSpace(model))
	id = strings.TrimPrefix(id, "models/")
	id = strings.ReplaceAll(id, "_", "-")
	id = whitespaceRun.ReplaceAllString(id, "-")
	if id == "" {
		return ""
	}
	if alias, ok := geminiAliases[id]; ok {
		return alias
	}
	if strings.HasPrefix(id, "gemini-") {
		return id
	}
	if geminiBareVersion.MatchString(id) {
		prefixed := "gemini-" + id
		if alias, ok := geminiAliases[prefixed]; ok {
			return alias
		}
		return prefixed
	}
	return id
}

func resolveGeminiModel(model string) string {
	if id := CanonicalGeminiModel(model); id != "" {
		return id
	}
	return GeminiDefaultModel
}

// GeminiCLITool runs the Gemini CLI in non-interactive text mode.
type GeminiCLITool struct {
	cliTool
}

func NewGeminiCLITool(prober *process.Prober) *GeminiCLITool {
	return &GeminiCLITool{
		cliTool: cliTool{
			desc: domain.ToolDescriptor{
				ID:           GeminiID,
				Name:         "Gemini CLI",
				Mode:         domain.ToolModeSpawn,
				DefaultModel: GeminiDefaultModel,
				Command:      "gemini",
			},
			prober: prober,
		},
	}
}

func (t *GeminiCLITool) CanonicalModel(model string) string {
	return CanonicalGeminiModel(model)
}

func (t *GeminiCLITool) ModelAllowed(model string) bool {
	return strings.HasPrefix(CanonicalGeminiModel(model), "gemini-")
}

func (t *GeminiCLITool) ResolveModel(model string) string {
	return resolveGeminiModel(model)
}

func (t *GeminiCLITool) BuildInvocation(prompt, model string) domain.Invocation {
	return t.invocation(
		"--model", t.ResolveModel(model),
		"--prompt", prompt,
		"--output-format", "text",
	)
}
