package tools

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"cliproxy/internal/domain"
	"cliproxy/internal/infra/localstate"
	"cliproxy/internal/infra/process"
)

// CodexTool runs the Codex CLI exec subcommand. Reasoning is pinned to the
// lowest effort the selected model supports.
type CodexTool struct {
	cliTool
	dirs   localstate.Dirs
	logger *zap.Logger
}

func NewCodexTool(prober *process.Prober, dirs localstate.Dirs, logger *zap.Logger) *CodexTool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CodexTool{
		cliTool: cliTool{
			desc: domain.ToolDescriptor{
				ID:      CodexID,
				Name:    "Codex CLI",
				Mode:    domain.ToolModeSpawn,
				Command: "codex",
			},
			prober: prober,
		},
		dirs:   dirs,
		logger: logger.Named("codex"),
	}
}

func (t *CodexTool) CanonicalModel(model string) string {
	return strings.TrimSpace(model)
}

func (t *CodexTool) ModelAllowed(model string) bool {
	return strings.TrimSpace(model) != ""
}

// ResolveModel leaves an empty model empty so the CLI uses its own
// configured default.
func (t *CodexTool) ResolveModel(model string) string {
	return strings.TrimSpace(model)
}

func (t *CodexTool) BuildInvocation(prompt, model string) domain.Invocation {
	model = t.ResolveModel(model)
	var args []string
	if model != "" {
		args = append(args, "--config", fmt.Sprintf("model=%q", model))
	}
	effort := t.dirs.CodexReasoningEffort(model)
	if effort != "" {
		args = append(args, "--config", fmt.Sprintf("model_reasoning_effort=%q", effort))
		t.logger.Debug("forcing reasoning effort", zap.String("effort", effort), zap.String("model", model))
	}
	args = append(args, "exec", "--skip-git-repo-check", prompt)
	return t.invocation(args...)
}
