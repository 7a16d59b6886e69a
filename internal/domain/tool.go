package domain

import "context"

// ToolMode selects how a tool is invoked.
type ToolMode string

const (
	// ToolModeSpawn runs a local executable and reads its stdout.
	ToolModeSpawn ToolMode = "spawn"
	// ToolModeAPI calls an authenticated remote service.
	ToolModeAPI ToolMode = "api"
)

// ToolDescriptor is the static, immutable description of a tool.
type ToolDescriptor struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Mode         ToolMode `json:"mode"`
	DefaultModel string   `json:"defaultModel"`
	Command      string   `json:"command,omitempty"`
}

// Availability is the result of probing a tool.
type Availability struct {
	Available bool   `json:"available"`
	Detail    string `json:"detail,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Tool is the capability shared by every tool variant.
type Tool interface {
	Descriptor() ToolDescriptor
	// CanonicalModel normalizes a caller-supplied model id without applying
	// denylist fallbacks.
	CanonicalModel(model string) string
	// ResolveModel canonicalizes model, applies the denylist and fills in
	// the default model.
	ResolveModel(model string) string
	// ModelAllowed reports whether a discovered model id may be offered.
	ModelAllowed(model string) bool
	Probe(ctx context.Context) Availability
}

// Invocation is a fully built process launch for a spawn-mode tool.
type Invocation struct {
	Command string
	Args    []string
	Env     []string
}

// SpawnTool is a tool backed by an external executable.
type SpawnTool interface {
	Tool
	BuildInvocation(prompt, model string) Invocation
	ParseOutput(stdout string) string
}

// APITool is a tool backed by an authenticated remote API.
type APITool interface {
	Tool
	Generate(ctx context.Context, prompt, model string) (string, error)
}

// ToolRegistry resolves tool ids to tools.
type ToolRegistry interface {
	Get(id string) (Tool, error)
	List() []Tool
}
