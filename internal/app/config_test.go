package app

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cliproxy/internal/domain"
	"cliproxy/internal/infra/update"
)

func isolateConfigEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	t.Setenv("PORT", "")
	t.Setenv("CLIPROXY_SERVER_PORT", "")
	t.Setenv("CLIPROXY_SERVER_HOST", "")
	t.Setenv("CLIPROXY_EXECUTION_MAXCONCURRENT", "")
	return home
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cliproxy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	home := isolateConfigEnv(t)

	cfg, err := LoadConfig(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, domain.DefaultServerHost, cfg.Server.Host)
	assert.Equal(t, domain.DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1:19284", cfg.Server.Addr())

	wantExec := ExecutionConfig{
		MaxConcurrent:      5,
		DefaultTimeout:     120 * time.Second,
		MinTimeout:         5 * time.Second,
		MaxTimeout:         600 * time.Second,
		ProbeTimeout:       10 * time.Second,
		HealthProbeTimeout: 12 * time.Second,
		AvailabilityTTL:    30 * time.Second,
	}
	if diff := cmp.Diff(wantExec, cfg.Execution); diff != "" {
		t.Fatalf("execution mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, AdmissionConfig{RateLimit: 120, RateWindow: time.Minute, MaxModelIDLength: 200}, cfg.Admission)
	assert.Equal(t, ShutdownConfig{PollInterval: 300 * time.Millisecond, Deadline: 30 * time.Second}, cfg.Shutdown)
	assert.True(t, cfg.Discovery.Watch)

	assert.True(t, cfg.GeminiAPI.Enabled)
	assert.Equal(t, filepath.Join(home, ".gemini", "oauth_creds.json"), cfg.GeminiAPI.CredentialsPath)
	assert.Equal(t, domain.DefaultGeminiAPIEndpoint, cfg.GeminiAPI.Endpoint)

	assert.Empty(t, cfg.Update.ReinstallCommand)
	assert.Equal(t, update.DefaultBinaryRemote(), cfg.Update.BinaryRemote)
	assert.Equal(t, "releases/"+update.BinaryAssetName(runtime.GOOS, runtime.GOARCH), cfg.Update.BinaryRemote)
	if runtime.GOOS != "windows" {
		assert.Equal(t, filepath.Join(home, ".config", "spicetify", "CustomApps", "ivLyrics"), cfg.Update.AddonDir)
	}
	assert.NotEmpty(t, cfg.Update.InstallDir)
	assert.Equal(t, domain.DefaultCleanupConfirmToken, cfg.Cleanup.ConfirmToken)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfigFileOverrides(t *testing.T) {
	home := isolateConfigEnv(t)
	path := writeConfig(t, `
server:
  port: 20001
execution:
  maxConcurrent: 2
  defaultTimeout: 90s
geminiApi:
  enabled: false
  credentialsPath: ~/creds/oauth.json
update:
  installDir: /opt/cli-proxy
  reinstallCommand: ["pnpm", "install", "--prod"]
  binaryRemote: /dist/cliproxy-linux-arm64/
log:
  level: DEBUG
  development: true
`)

	cfg, err := LoadConfig(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 20001, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Execution.MaxConcurrent)
	assert.Equal(t, 90*time.Second, cfg.Execution.DefaultTimeout)
	assert.Equal(t, 5*time.Second, cfg.Execution.MinTimeout)
	assert.False(t, cfg.GeminiAPI.Enabled)
	assert.Equal(t, filepath.Join(home, "creds", "oauth.json"), cfg.GeminiAPI.CredentialsPath)
	assert.Equal(t, "/opt/cli-proxy", cfg.Update.InstallDir)
	assert.Equal(t, []string{"pnpm", "install", "--prod"}, cfg.Update.ReinstallCommand)
	assert.Equal(t, "dist/cliproxy-linux-arm64", cfg.Update.BinaryRemote)
	assert.Equal(t, LogConfig{Level: "debug", Development: true}, cfg.Log)
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("PORT", "21000")
	t.Setenv("CLIPROXY_EXECUTION_MAXCONCURRENT", "3")

	cfg, err := LoadConfig(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 21000, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Execution.MaxConcurrent)

	t.Setenv("CLIPROXY_SERVER_PORT", "21001")
	cfg, err = LoadConfig(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 21001, cfg.Server.Port)
}

func TestLoadConfigValidation(t *testing.T) {
	isolateConfigEnv(t)
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "non-loopback host",
			content: "server:\n  host: 0.0.0.0\n",
			want:    "server.host must be a loopback address",
		},
		{
			name:    "zero concurrency",
			content: "execution:\n  maxConcurrent: 0\n",
			want:    "execution.maxConcurrent must be >= 1",
		},
		{
			name:    "negative timeout",
			content: "execution:\n  defaultTimeout: -1s\n",
			want:    "execution.defaultTimeout must be positive",
		},
		{
			name:    "inverted bounds",
			content: "execution:\n  minTimeout: 11m\n",
			want:    "execution.minTimeout must not exceed execution.maxTimeout",
		},
		{
			name:    "blank binary remote",
			content: "update:\n  binaryRemote: \" / \"\n",
			want:    "update.binaryRemote is required",
		},
		{
			name:    "unknown level",
			content: "log:\n  level: loud\n",
			want:    "log.level must be one of",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(context.Background(), writeConfig(t, tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadConfigAcceptsLoopbackHosts(t *testing.T) {
	isolateConfigEnv(t)
	for _, host := range []string{"localhost", "127.0.0.1", "::1"} {
		_, err := LoadConfig(context.Background(), writeConfig(t, "server:\n  host: \""+host+"\"\n"))
		require.NoError(t, err, host)
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	isolateConfigEnv(t)
	_, err := LoadConfig(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestResolveConfigPath(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(existing, []byte("{}"), 0o600))
	missing := filepath.Join(dir, "missing.yaml")

	assert.Equal(t, existing, ResolveConfigPath(existing, false))
	assert.Equal(t, "", ResolveConfigPath(missing, false))
	assert.Equal(t, missing, ResolveConfigPath(missing, true))
}

func TestExpandHome(t *testing.T) {
	assert.Equal(t, "/home/u", expandHome("~", "/home/u"))
	assert.Equal(t, filepath.Join("/home/u", "a", "b"), expandHome("~/a/b", "/home/u"))
	assert.Equal(t, "/abs", expandHome("/abs", "/home/u"))
	assert.Equal(t, "~/x", expandHome("~/x", ""))
}

func TestSettingsRendersDurationsAndRedactsSecret(t *testing.T) {
	isolateConfigEnv(t)
	cfg, err := LoadConfig(context.Background(), writeConfig(t, "geminiApi:\n  clientSecret: shh\n"))
	require.NoError(t, err)

	settings := cfg.Settings()
	execution := settings["execution"].(map[string]any)
	assert.Equal(t, "2m0s", execution["defaultTimeout"])
	gemini := settings["geminiApi"].(map[string]any)
	assert.Equal(t, "<redacted>", gemini["clientSecret"])
}
