// Package update checks the published manifest, refreshes allow-listed
// artifacts and removes the gateway's own deployment on request.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/mod/semver"
	"golang.org/x/sync/singleflight"

	"cliproxy/internal/domain"
	"cliproxy/internal/infra/telemetry"
)

const (
	maxManifestSize  = 1 << 20
	maxCachedResult  = 1 << 20
	maxAddonReadSize = 4 << 20
)

var addonVersionPattern = regexp.MustCompile(`version:\s*['"]([^'"]+)['"]`)

type CheckerOptions struct {
	Logger       *zap.Logger
	HTTPClient   *http.Client
	ManifestURL  string
	LocalVersion string
	AddonDir     string
	TTL          time.Duration
	Timeout      time.Duration
	Now          func() time.Time
}

// Checker compares the remote manifest with local versions and caches the
// result for TTL.
type Checker struct {
	logger       *zap.Logger
	httpClient   *http.Client
	manifestURL  string
	localVersion string
	addonDir     string
	ttl          time.Duration
	now          func() time.Time
	group        singleflight.Group
	cacheLimit   int

	mu       sync.Mutex
	cached   *domain.UpdateStatus
	cachedAt time.Time
}

func NewChecker(opts CheckerOptions) *Checker {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = domain.DefaultUpdateTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	manifestURL := opts.ManifestURL
	if manifestURL == "" {
		manifestURL = domain.DefaultManifestURL
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = domain.DefaultUpdateCheckTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Checker{
		logger:       logger.Named("update-checker"),
		httpClient:   client,
		manifestURL:  manifestURL,
		localVersion: opts.LocalVersion,
		addonDir:     opts.AddonDir,
		ttl:          ttl,
		now:          now,
		cacheLimit:   maxCachedResult,
	}
}

// Check returns the cached status unless it expired or force is set. Fetch
// failures are reported in the status rather than as an error.
func (c *Checker) Check(ctx context.Context, force bool) domain.UpdateStatus {
	if !force {
		if status, ok := c.fresh(); ok {
			return status
		}
	}
	key := "check"
	if force {
		key = "check#force"
	}
	value, _, _ := c.group.Do(key, func() (any, error) {
		return c.checkOnce(ctx), nil
	})
	return value.(domain.UpdateStatus)
}

// Cached returns the last stored status regardless of its age.
func (c *Checker) Cached() (domain.UpdateStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached == nil {
		return domain.UpdateStatus{}, false
	}
	return *c.cached, true
}

func (c *Checker) Invalidate() {
	c.mu.Lock()
	c.cached = nil
	c.cachedAt = time.Time{}
	c.mu.Unlock()
}

func (c *Checker) LocalVersion() string {
	return c.localVersion
}

func (c *Checker) fresh() (domain.UpdateStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached == nil || c.now().Sub(c.cachedAt) >= c.ttl {
		return domain.UpdateStatus{}, false
	}
	return *c.cached, true
}

func (c *Checker) checkOnce(ctx context.Context) domain.UpdateStatus {
	startedAt := c.now()
	manifest, err := c.fetchManifest(ctx)
	if err != nil {
		c.logger.Warn("failed to check for updates", telemetry.EventField(telemetry.EventUpdateCheck), zap.Error(err))
		return domain.UpdateStatus{HasUpdates: false, Error: err.Error(), CheckedAt: startedAt.UTC()}
	}

	status := domain.UpdateStatus{Addons: map[string]domain.ArtifactStatus{}}
	if manifest.Gateway != nil && isUpdateAvailable(c.localVersion, manifest.Gateway.Version) {
		status.Proxy = &domain.ArtifactStatus{
			Current:         c.localVersion,
			Latest:          manifest.Gateway.Version,
			UpdateAvailable: true,
		}
	}
	for name, remote := range manifest.Addons {
		local := c.addonVersion(name)
		if remote.Version == "" || local == "" || !isUpdateAvailable(local, remote.Version) {
			continue
		}
		status.Addons[name] = domain.ArtifactStatus{
			Current:         local,
			Latest:          remote.Version,
			ID:              remote.ID,
			UpdateAvailable: true,
		}
	}
	status.HasUpdates = status.Proxy != nil || len(status.Addons) > 0
	status.CheckedAt = c.now().UTC()

	encoded, err := json.Marshal(status)
	switch {
	case err != nil:
		c.logger.Warn("update check result not cached", zap.Error(err))
	case len(encoded) >= c.cacheLimit:
		c.logger.Warn("update check result too large to cache", zap.Int("bytes", len(encoded)))
	default:
		c.mu.Lock()
		c.cached = &status
		c.cachedAt = startedAt
		c.mu.Unlock()
	}
	c.logger.Info("update check completed",
		telemetry.EventField(telemetry.EventUpdateCheck),
		zap.Bool("has_updates", status.HasUpdates),
	)
	return status
}

// Manifest fetches the published manifest, bypassing the status cache.
func (c *Checker) Manifest(ctx context.Context) (domain.RemoteManifest, error) {
	return c.fetchManifest(ctx)
}

func (c *Checker) fetchManifest(ctx context.Context) (domain.RemoteManifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.manifestURL, nil)
	if err != nil {
		return domain.RemoteManifest{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.RemoteManifest{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.RemoteManifest{}, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	var manifest domain.RemoteManifest
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxManifestSize)).Decode(&manifest); err != nil {
		return domain.RemoteManifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return manifest, nil
}

// addonVersion reads the version literal embedded in a local addon file.
func (c *Checker) addonVersion(name string) string {
	if c.addonDir == "" || filepath.Base(name) != name {
		return ""
	}
	return readAddonVersion(filepath.Join(c.addonDir, name))
}

func readAddonVersion(path string) string {
	file, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxAddonReadSize))
	if err != nil {
		return ""
	}
	match := addonVersionPattern.FindSubmatch(data)
	if match == nil {
		return ""
	}
	return strings.TrimSpace(string(match[1]))
}

func isUpdateAvailable(current, latest string) bool {
	currentSemver := normalizeSemver(current)
	latestSemver := normalizeSemver(latest)
	if currentSemver == "" || latestSemver == "" {
		return false
	}
	return semver.Compare(latestSemver, currentSemver) > 0
}

func normalizeSemver(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if !strings.HasPrefix(trimmed, "v") {
		trimmed = "v" + trimmed
	}
	return semver.Canonical(trimmed)
}
