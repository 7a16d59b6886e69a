package tools

import (
	"context"
	"strings"

	"cliproxy/internal/domain"
	"cliproxy/internal/infra/process"
)

// cliTool holds what every spawn-mode tool shares.
type cliTool struct {
	desc   domain.ToolDescriptor
	prober *process.Prober
}

func (t cliTool) Descriptor() domain.ToolDescriptor {
	return t.desc
}

func (t cliTool) Probe(ctx context.Context) domain.Availability {
	if t.prober == nil {
		return domain.Availability{Error: t.desc.Command + " availability check failed: no prober configured"}
	}
	return t.prober.Probe(ctx, t.desc.Command)
}

func (t cliTool) ParseOutput(stdout string) string {
	return strings.TrimSpace(stdout)
}

func (t cliTool) invocation(args ...string) domain.Invocation {
	return domain.Invocation{
		Command: t.desc.Command,
		Args:    args,
		Env:     []string{"NO_COLOR=1"},
	}
}
