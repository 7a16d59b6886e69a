package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"cliproxy/internal/domain"
	"cliproxy/internal/infra/localstate"
)

func TestCanonicalGeminiModel(t *testing.T) {
	cases := map[string]string{
		"":                         "",
		"gemini-2.5-flash":         "gemini-2.5-flash",
		"Models/Gemini_2.5_Pro":    "gemini-2.5-pro",
		"2.5-pro":                  "gemini-2.5-pro",
		"2.5 flash lite":           "gemini-2.5-flash-lite",
		"flash":                    "flash",
		"2-flash-exp":              "gemini-2-flash-exp",
		"3.0-flash":                "gemini-3-flash-preview",
		"gemini-3.0-flash-preview": "gemini-3-flash-preview",
		"3-flash":                  "gemini-3-flash-preview",
		"custom-model":             "custom-model",
	}
	for input, want := range cases {
		require.Equal(t, want, CanonicalGeminiModel(input), "input %q", input)
	}
}

func TestClaudeInvocationReplacesBlockedModel(t *testing.T) {
	tool := NewClaudeTool(nil, nil)

	inv := tool.BuildInvocation("hello", "claude-3-5-haiku-latest")
	want := []string{
		"--model", ClaudeDefaultModel,
		"--print",
		"--dangerously-skip-permissions",
		"--append-system-prompt", claudeReasoningOffPrompt,
		"hello",
	}
	if diff := cmp.Diff(want, inv.Args); diff != "" {
		t.Fatalf("args mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, "claude", inv.Command)
	require.Contains(t, inv.Env, "NO_COLOR=1")

	require.Equal(t, "opus", tool.ResolveModel("opus"))
	require.False(t, tool.ModelAllowed("claude-haiku-4"))
	require.True(t, tool.ModelAllowed("claude-opus-4-1"))
}

func TestGeminiInvocation(t *testing.T) {
	tool := NewGeminiCLITool(nil)

	inv := tool.BuildInvocation("hi", "")
	require.Equal(t, []string{"--model", GeminiDefaultModel, "--prompt", "hi", "--output-format", "text"}, inv.Args)

	inv = tool.BuildInvocation("hi", "2.5-pro")
	require.Equal(t, "gemini-2.5-pro", inv.Args[1])
}

func TestCodexInvocationForcesLowestEffort(t *testing.T) {
	home := t.TempDir()
	dirs := localstate.Dirs{Home: home}
	require.NoError(t, os.MkdirAll(dirs.CodexDir(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dirs.CodexDir(), "models_cache.json"),
		[]byte(`{"models":[{"slug":"gpt-5","supported_reasoning_levels":[{"effort":"high"},{"effort":"low"}]}]}`), 0o644))

	tool := NewCodexTool(nil, dirs, nil)

	inv := tool.BuildInvocation("do it", "gpt-5")
	want := []string{
		"--config", `model="gpt-5"`,
		"--config", `model_reasoning_effort="low"`,
		"exec", "--skip-git-repo-check", "do it",
	}
	if diff := cmp.Diff(want, inv.Args); diff != "" {
		t.Fatalf("args mismatch (-want +got):\n%s", diff)
	}

	inv = tool.BuildInvocation("do it", "")
	want = []string{
		"--config", `model_reasoning_effort="medium"`,
		"exec", "--skip-git-repo-check", "do it",
	}
	if diff := cmp.Diff(want, inv.Args); diff != "" {
		t.Fatalf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestParseOutputTrims(t *testing.T) {
	tool := NewGeminiCLITool(nil)
	require.Equal(t, "answer", tool.ParseOutput("\n answer \n\n"))
}

type stubGenerator struct {
	credErr error
	model   string
}

func (s *stubGenerator) Generate(_ context.Context, _ string, model string) (string, error) {
	s.model = model
	return "  reply \n", nil
}

func (s *stubGenerator) CheckCredentials(context.Context) error {
	return s.credErr
}

func TestRegistryLookup(t *testing.T) {
	gen := &stubGenerator{}
	registry := NewDefaultRegistry(RegistryOptions{GeminiAPI: gen})

	require.Equal(t, []string{ClaudeID, GeminiID, CodexID, GeminiAPIID}, registry.IDs())

	_, err := registry.Get("nope")
	require.ErrorIs(t, err, domain.ErrUnknownTool)
	require.Equal(t, "Unknown tool: nope", domain.MessageFrom(err))

	tool, err := registry.Get(GeminiAPIID)
	require.NoError(t, err)
	api, ok := tool.(domain.APITool)
	require.True(t, ok)
	out, err := api.Generate(context.Background(), "p", "Models/2.5-pro")
	require.NoError(t, err)
	require.Equal(t, "reply", out)
	require.Equal(t, "gemini-2.5-pro", gen.model)

	require.Equal(t, "gemini-2.5-flash", registry.CanonicalModel(GeminiID, "MODELS/gemini_2.5_flash"))
	require.Equal(t, "x y", registry.CanonicalModel("unknown", " x y "))
}

func TestGeminiAPIProbe(t *testing.T) {
	tool := NewGeminiAPITool(&stubGenerator{credErr: errors.New("credentials not found")})
	got := tool.Probe(context.Background())
	require.False(t, got.Available)
	require.Equal(t, "credentials not found", got.Error)
}

type countingTool struct {
	cliTool
	calls atomic.Int32
}

func (c *countingTool) Probe(context.Context) domain.Availability {
	c.calls.Add(1)
	return domain.Availability{Available: true}
}

func (c *countingTool) CanonicalModel(m string) string { return m }
func (c *countingTool) ResolveModel(m string) string   { return m }
func (c *countingTool) ModelAllowed(string) bool       { return true }

func TestAvailabilityCacheTTL(t *testing.T) {
	now := time.Unix(0, 0)
	cache := NewAvailabilityCache(30*time.Second, func() time.Time { return now })
	tool := &countingTool{cliTool: cliTool{desc: domain.ToolDescriptor{ID: "x"}}}
	ctx := context.Background()

	require.True(t, cache.Check(ctx, tool, false).Available)
	cache.Check(ctx, tool, false)
	require.EqualValues(t, 1, tool.calls.Load())

	now = now.Add(31 * time.Second)
	cache.Check(ctx, tool, false)
	require.EqualValues(t, 2, tool.calls.Load())

	cache.Check(ctx, tool, true)
	require.EqualValues(t, 3, tool.calls.Load())

	cache.Invalidate("x")
	cache.Check(ctx, tool, false)
	require.EqualValues(t, 4, tool.calls.Load())
}
