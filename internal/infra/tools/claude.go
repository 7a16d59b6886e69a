package tools

import (
	"strings"

	"go.uber.org/zap"

	"cliproxy/internal/domain"
	"cliproxy/internal/infra/process"
)

const (
	ClaudeDefaultModel = "claude-sonnet-4-5"

	claudeReasoningOffPrompt = "Reasoning mode is disabled. Do not use extended thinking. " +
		"Return concise final answers without chain-of-thought or step-by-step deliberation."
)

// ClaudeTool runs the Claude Code CLI in print mode.
type ClaudeTool struct {
	cliTool
	logger *zap.Logger
}

func NewClaudeTool(prober *process.Prober, logger *zap.Logger) *ClaudeTool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClaudeTool{
		cliTool: cliTool{
			desc: domain.ToolDescriptor{
				ID:           ClaudeID,
				Name:         "Claude Code",
				Mode:         domain.ToolModeSpawn,
				DefaultModel: ClaudeDefaultModel,
				Command:      "claude",
			},
			prober: prober,
		},
		logger: logger.Named("claude"),
	}
}

// IsBlockedClaudeModel reports whether model belongs to the haiku tier,
// which is never used.
func IsBlockedClaudeModel(model string) bool {
	return strings.Contains(strings.ToLower(strings.TrimSpace(model)), "haiku")
}

func (t *ClaudeTool) CanonicalModel(model string) string {
	return strings.TrimSpace(model)
}

func (t *ClaudeTool) ModelAllowed(model string) bool {
	return strings.TrimSpace(model) != "" && !IsBlockedClaudeModel(model)
}

func (t *ClaudeTool) ResolveModel(model string) string {
	requested := strings.TrimSpace(model)
	if requested == "" {
		return ClaudeDefaultModel
	}
	if IsBlockedClaudeModel(requested) {
		t.logger.Warn("blocked model requested; using default",
			zap.String("requested", requested),
			zap.String("model", ClaudeDefaultModel),
		)
		return ClaudeDefaultModel
	}
	return requested
}

func (t *ClaudeTool) BuildInvocation(prompt, model string) domain.Invocation {
	args := []string{
		"--model", t.ResolveModel(model),
		"--print",
		"--dangerously-skip-permissions",
		"--append-system-prompt", claudeReasoningOffPrompt,
		prompt,
	}
	return t.invocation(args...)
}
