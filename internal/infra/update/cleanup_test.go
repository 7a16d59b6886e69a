package update

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cliproxy/internal/domain"
	"cliproxy/internal/infra/admission"
)

type spawnRecorder struct {
	mu    sync.Mutex
	calls [][]string
}

func (s *spawnRecorder) spawn(name string, args []string, _ string, _ []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, append([]string{name}, args...))
	return nil
}

func (s *spawnRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newProxyDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "cli-proxy")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "server.js"), []byte("x"), 0o644))
	return dir
}

func TestCleanupRejectsWithoutConfirmation(t *testing.T) {
	dir := newProxyDir(t)
	gate := &admission.Gate{}
	spawns := &spawnRecorder{}
	cleaner := NewCleaner(CleanerOptions{Gate: gate, Dir: dir, Spawn: spawns.spawn, Exit: func(int) {}})

	cases := []struct {
		req  domain.CleanupRequest
		want string
	}{
		{domain.CleanupRequest{Target: "proxy"}, "Missing confirmation token"},
		{domain.CleanupRequest{Target: "proxy", Confirm: "remove_proxy"}, "Missing confirmation token"},
		{domain.CleanupRequest{Target: "addons", Confirm: "REMOVE_PROXY"}, "Missing/invalid target (expected: proxy)"},
		{domain.CleanupRequest{Confirm: "REMOVE_PROXY"}, "Missing/invalid target (expected: proxy)"},
	}
	for _, tc := range cases {
		_, err := cleaner.Cleanup(context.Background(), tc.req)
		require.Error(t, err)
		code, _ := domain.CodeFrom(err)
		assert.Equal(t, domain.CodeInvalidArgument, code)
		assert.Equal(t, tc.want, domain.MessageFrom(err))
	}

	require.False(t, gate.Closed())
	require.Zero(t, spawns.count())
	_, err := os.Stat(filepath.Join(dir, "server.js"))
	require.NoError(t, err)
}

func TestCleanupRejectsUnexpectedDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "home")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	cleaner := NewCleaner(CleanerOptions{Dir: dir, Exit: func(int) {}})

	_, err := cleaner.Cleanup(context.Background(), domain.CleanupRequest{Target: "proxy", Confirm: "REMOVE_PROXY"})
	require.Error(t, err)
	require.Equal(t, "Unsafe proxy dir: "+dir, domain.MessageFrom(err))
}

func TestCleanupDryRunReturnsPlan(t *testing.T) {
	dir := newProxyDir(t)
	gate := &admission.Gate{}
	spawns := &spawnRecorder{}
	cleaner := NewCleaner(CleanerOptions{Gate: gate, Dir: dir, GOOS: "linux", Spawn: spawns.spawn, Exit: func(int) {}})

	got, err := cleaner.Cleanup(context.Background(), domain.CleanupRequest{Target: "proxy", Confirm: "REMOVE_PROXY", DryRun: true})
	require.NoError(t, err)
	want := domain.CleanupResult{Success: true, DryRun: true, Target: "proxy", ProxyDir: dir, Strategy: StrategyShell}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("plan mismatch (-want +got):\n%s", diff)
	}
	require.False(t, gate.Closed())
	time.Sleep(2 * scheduleDelay)
	require.Zero(t, spawns.count())
}

func TestCleanupSchedulesRemovalAndExit(t *testing.T) {
	dir := newProxyDir(t)
	gate := &admission.Gate{}
	spawns := &spawnRecorder{}
	exited := make(chan int, 1)
	cleaner := NewCleaner(CleanerOptions{
		Gate:  gate,
		Dir:   dir,
		GOOS:  "linux",
		Spawn: spawns.spawn,
		Exit:  func(code int) { exited <- code },
	})

	got, err := cleaner.Cleanup(context.Background(), domain.CleanupRequest{Target: "proxy", Confirm: "REMOVE_PROXY"})
	require.NoError(t, err)
	require.True(t, got.Success)
	require.False(t, got.DryRun)
	require.Equal(t, "Cleanup scheduled. Server will exit shortly.", got.Note)
	require.True(t, gate.Closed())

	select {
	case code := <-exited:
		require.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("exit was not scheduled")
	}
	spawns.mu.Lock()
	defer spawns.mu.Unlock()
	require.Len(t, spawns.calls, 1)
	require.Equal(t, []string{"/bin/sh", "-c", "sleep 2; rm -rf '" + dir + "'"}, spawns.calls[0])
}

func TestCleanupConflictsWhileShuttingDown(t *testing.T) {
	gate := &admission.Gate{}
	gate.Close()
	cleaner := NewCleaner(CleanerOptions{Gate: gate, Dir: newProxyDir(t), Exit: func(int) {}})

	_, err := cleaner.Cleanup(context.Background(), domain.CleanupRequest{Target: "proxy", Confirm: "REMOVE_PROXY"})
	code, _ := domain.CodeFrom(err)
	require.Equal(t, domain.CodeConflict, code)
	require.Equal(t, "Server is shutting down", domain.MessageFrom(err))
}

func TestRemovalCommand(t *testing.T) {
	name, args := removalCommand("linux", "/tmp/it's/cli-proxy", 2*time.Second)
	require.Equal(t, "/bin/sh", name)
	require.Equal(t, []string{"-c", `sleep 2; rm -rf '/tmp/it'\''s/cli-proxy'`}, args)

	name, args = removalCommand("windows", `C:\Users\a"b\cli-proxy`, 2*time.Second)
	require.Equal(t, "cmd.exe", name)
	require.Equal(t, []string{"/d", "/s", "/c", `ping 127.0.0.1 -n 4 > nul && rmdir /s /q "C:\Users\a""b\cli-proxy"`}, args)
}

func TestCleanupRemovesDirectory(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	dir := newProxyDir(t)
	exited := make(chan int, 1)
	cleaner := NewCleaner(CleanerOptions{
		Dir:          dir,
		RemovalDelay: time.Second,
		Exit:         func(code int) { exited <- code },
	})

	_, err := cleaner.Cleanup(context.Background(), domain.CleanupRequest{Target: "proxy", Confirm: "REMOVE_PROXY"})
	require.NoError(t, err)
	<-exited
	_, err = os.Stat(dir)
	require.NoError(t, err, "directory must survive until the delay elapses")

	require.Eventually(t, func() bool {
		_, err := os.Stat(dir)
		return os.IsNotExist(err)
	}, 10*time.Second, 100*time.Millisecond)
}
