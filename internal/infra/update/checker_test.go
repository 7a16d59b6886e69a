package update

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"cliproxy/internal/domain"
)

const testManifest = `{
  "gateway": {"version": "2.3.0", "blake3": {"linux-amd64": "00"}},
  "addons": {
    "Addon_AI_CLI_Provider.js": {"version": "1.2.0", "id": "provider"},
    "Addon_AI_CLI_CodexCLI.js": {"version": "1.0.0"},
    "Addon_AI_CLI_GeminiCLI.js": {"version": "9.9.9"}
  }
}`

type manifestServer struct {
	*httptest.Server
	hits   atomic.Int32
	status atomic.Int32
}

func newManifestServer(t *testing.T, body string) *manifestServer {
	t.Helper()
	srv := &manifestServer{}
	srv.status.Store(http.StatusOK)
	srv.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srv.hits.Add(1)
		status := int(srv.status.Load())
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeAddon(t *testing.T, dir, name, version string) {
	t.Helper()
	content := "const ADDON = {\n  name: 'x',\n  version: '" + version + "',\n};\n"
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestCheckerReportsNewerArtifacts(t *testing.T) {
	srv := newManifestServer(t, testManifest)
	addonDir := t.TempDir()
	writeAddon(t, addonDir, "Addon_AI_CLI_Provider.js", "1.1.0")
	writeAddon(t, addonDir, "Addon_AI_CLI_CodexCLI.js", "1.0.0")

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	checker := NewChecker(CheckerOptions{
		ManifestURL:  srv.URL,
		LocalVersion: "2.2.5",
		AddonDir:     addonDir,
		Now:          func() time.Time { return now },
	})

	got := checker.Check(context.Background(), false)
	want := domain.UpdateStatus{
		Proxy: &domain.ArtifactStatus{Current: "2.2.5", Latest: "2.3.0", UpdateAvailable: true},
		Addons: map[string]domain.ArtifactStatus{
			"Addon_AI_CLI_Provider.js": {Current: "1.1.0", Latest: "1.2.0", ID: "provider", UpdateAvailable: true},
		},
		HasUpdates: true,
		CheckedAt:  now,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("status mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckerCachesUntilExpiryOrForce(t *testing.T) {
	srv := newManifestServer(t, `{"gateway":{"version":"2.2.5"}}`)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	checker := NewChecker(CheckerOptions{
		ManifestURL:  srv.URL,
		LocalVersion: "2.2.5",
		TTL:          time.Hour,
		Now:          func() time.Time { return now },
	})
	ctx := context.Background()

	first := checker.Check(ctx, false)
	require.False(t, first.HasUpdates)
	require.Nil(t, first.Proxy)
	checker.Check(ctx, false)
	require.Equal(t, int32(1), srv.hits.Load())

	checker.Check(ctx, true)
	require.Equal(t, int32(2), srv.hits.Load())

	now = now.Add(time.Hour)
	checker.Check(ctx, false)
	require.Equal(t, int32(3), srv.hits.Load())

	checker.Invalidate()
	_, ok := checker.Cached()
	require.False(t, ok)
	checker.Check(ctx, false)
	require.Equal(t, int32(4), srv.hits.Load())
}

func TestCheckerComparesGatewayVersionOnly(t *testing.T) {
	srv := newManifestServer(t, `{"proxy":{"version":"9.0.0"},"gateway":{"version":"2.2.5"}}`)
	checker := NewChecker(CheckerOptions{ManifestURL: srv.URL, LocalVersion: "2.2.5"})

	status := checker.Check(context.Background(), false)
	require.Empty(t, status.Error)
	assert.False(t, status.HasUpdates)
	assert.Nil(t, status.Proxy)
}

func TestCheckerSkipsCachingOversizedResult(t *testing.T) {
	srv := newManifestServer(t, testManifest)
	addonDir := t.TempDir()
	writeAddon(t, addonDir, "Addon_AI_CLI_Provider.js", "1.0.0")
	core, logs := observer.New(zap.WarnLevel)
	checker := NewChecker(CheckerOptions{
		Logger:       zap.New(core),
		ManifestURL:  srv.URL,
		LocalVersion: "2.2.5",
		AddonDir:     addonDir,
	})
	checker.cacheLimit = 64

	status := checker.Check(context.Background(), false)
	require.True(t, status.HasUpdates)
	_, ok := checker.Cached()
	require.False(t, ok)

	entries := logs.FilterMessage("update check result too large to cache").All()
	require.Len(t, entries, 1)
	assert.Greater(t, entries[0].ContextMap()["bytes"], int64(64))
}

func TestCheckerFailureIsReportedAndNotCached(t *testing.T) {
	srv := newManifestServer(t, testManifest)
	srv.status.Store(http.StatusBadGateway)
	checker := NewChecker(CheckerOptions{ManifestURL: srv.URL, LocalVersion: "2.2.5"})

	status := checker.Check(context.Background(), false)
	assert.False(t, status.HasUpdates)
	assert.Equal(t, "HTTP 502", status.Error)
	assert.False(t, status.CheckedAt.IsZero())

	_, ok := checker.Cached()
	require.False(t, ok)
	checker.Check(context.Background(), false)
	require.Equal(t, int32(2), srv.hits.Load())
}

func TestIsUpdateAvailable(t *testing.T) {
	cases := []struct {
		current string
		latest  string
		want    bool
	}{
		{"2.2.5", "2.3.0", true},
		{"2.2.5", "2.2.5", false},
		{"2.10.0", "2.9.9", false},
		{"v1.0", "1.0.1", true},
		{"", "1.0.0", false},
		{"1.0.0", "not-a-version", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, isUpdateAvailable(tc.current, tc.latest), "%s -> %s", tc.current, tc.latest)
	}
}

func TestReadAddonVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.js")
	require.NoError(t, os.WriteFile(path, []byte(`const x = { version:"3.1.4" };`), 0o644))
	require.Equal(t, "3.1.4", readAddonVersion(path))
	require.Equal(t, "", readAddonVersion(filepath.Join(dir, "missing.js")))
}

func TestAddonDirForWindowsPrefersExistingAddon(t *testing.T) {
	env := map[string]string{
		"LOCALAPPDATA": `C:\Users\me\AppData\Local`,
		"APPDATA":      `C:\Users\me\AppData\Roaming`,
	}
	roaming := filepath.Join(env["APPDATA"], "spicetify")
	exists := func(path string) bool {
		return path == filepath.Join(roaming, "CustomApps", addonAppDir)
	}
	got := addonDirFor("windows", `C:\Users\me`, func(k string) string { return env[k] }, exists)
	require.Equal(t, filepath.Join(roaming, "CustomApps", addonAppDir), got)

	none := addonDirFor("windows", `C:\Users\me`, func(k string) string { return env[k] }, func(string) bool { return false })
	require.Equal(t, filepath.Join(env["LOCALAPPDATA"], "spicetify", "CustomApps", addonAppDir), none)

	unix := addonDirFor("linux", "/home/me", func(string) string { return "" }, func(string) bool { return false })
	require.Equal(t, filepath.Join("/home/me", ".config", "spicetify", "CustomApps", addonAppDir), unix)
}
