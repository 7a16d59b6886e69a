package tools

import (
	"strings"

	"go.uber.org/zap"

	"cliproxy/internal/domain"
	"cliproxy/internal/infra/localstate"
	"cliproxy/internal/infra/process"
)

const (
	ClaudeID    = "claude"
	GeminiID    = "gemini"
	CodexID     = "codex"
	GeminiAPIID = "gemini-api"
)

// Registry is the fixed table of tools known to the gateway. It is built
// once at startup and never mutated.
type Registry struct {
	tools map[string]domain.Tool
	order []string
}

// NewRegistry keeps tools in the order given.
func NewRegistry(list ...domain.Tool) *Registry {
	r := &Registry{tools: make(map[string]domain.Tool, len(list))}
	for _, tool := range list {
		if tool == nil {
			continue
		}
		id := tool.Descriptor().ID
		if _, exists := r.tools[id]; exists {
			continue
		}
		r.tools[id] = tool
		r.order = append(r.order, id)
	}
	return r
}

type RegistryOptions struct {
	Logger *zap.Logger
	Prober *process.Prober
	Dirs   localstate.Dirs
	// GeminiAPI enables the API-backed gemini tool when set.
	GeminiAPI Generator
}

// NewDefaultRegistry registers the built-in tools.
func NewDefaultRegistry(opts RegistryOptions) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	list := []domain.Tool{
		NewClaudeTool(opts.Prober, logger),
		NewGeminiCLITool(opts.Prober),
		NewCodexTool(opts.Prober, opts.Dirs, logger),
	}
	if opts.GeminiAPI != nil {
		list = append(list, NewGeminiAPITool(opts.GeminiAPI))
	}
	return NewRegistry(list...)
}

func (r *Registry) Get(id string) (domain.Tool, error) {
	id = strings.TrimSpace(id)
	tool, ok := r.tools[id]
	if !ok {
		return nil, domain.Errorf(domain.CodeUnknownTool, "tools.get", "Unknown tool: %s", id)
	}
	return tool, nil
}

func (r *Registry) List() []domain.Tool {
	out := make([]domain.Tool, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.tools[id])
	}
	return out
}

func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

func (r *Registry) Descriptors() []domain.ToolDescriptor {
	out := make([]domain.ToolDescriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.tools[id].Descriptor())
	}
	return out
}

// CanonicalModel normalizes model for tool. Unknown tools get the trimmed
// input back so validation can still run on it.
func (r *Registry) CanonicalModel(toolID, model string) string {
	tool, ok := r.tools[strings.TrimSpace(toolID)]
	if !ok {
		return strings.TrimSpace(model)
	}
	return tool.CanonicalModel(model)
}
