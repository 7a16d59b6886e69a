// Package discovery lists the models each tool can run, derived from the
// state files the tool CLIs keep locally.
package discovery

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"cliproxy/internal/domain"
	"cliproxy/internal/infra/localstate"
	"cliproxy/internal/infra/telemetry"
	"cliproxy/internal/infra/tools"
)

// AvailabilityChecker reports whether a tool can run.
type AvailabilityChecker interface {
	Check(ctx context.Context, tool domain.Tool, force bool) domain.Availability
}

type Options struct {
	Logger       *zap.Logger
	Registry     domain.ToolRegistry
	Availability AvailabilityChecker
	Dirs         localstate.Dirs
	TTL          time.Duration
	HistoryLimit int
	Metrics      domain.Metrics
	Now          func() time.Time
}

// Service caches per-tool model catalogs for a short TTL.
type Service struct {
	logger       *zap.Logger
	registry     domain.ToolRegistry
	availability AvailabilityChecker
	dirs         localstate.Dirs
	ttl          time.Duration
	historyLimit int
	metrics      domain.Metrics
	now          func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
	group   singleflight.Group
}

type cacheEntry struct {
	catalog  domain.ModelCatalog
	storedAt time.Time
}

func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = domain.DefaultModelCacheTTL
	}
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = localstate.DefaultGeminiHistoryLimit
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = domain.NoopMetrics{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		logger:       logger.Named("discovery"),
		registry:     opts.Registry,
		availability: opts.Availability,
		dirs:         opts.Dirs,
		ttl:          ttl,
		historyLimit: limit,
		metrics:      metrics,
		now:          now,
		entries:      make(map[string]cacheEntry),
	}
}

// List returns the model catalog for toolID. force bypasses the cache.
func (s *Service) List(ctx context.Context, toolID string, force bool) (domain.ModelCatalog, error) {
	tool, err := s.registry.Get(toolID)
	if err != nil {
		return domain.ModelCatalog{}, err
	}
	if !force {
		if catalog, ok := s.cached(toolID); ok {
			s.metrics.RecordModelDiscovery(toolID, true)
			return catalog, nil
		}
	}
	key := toolID
	if force {
		key += "#force"
	}
	result, err, _ := s.group.Do(key, func() (any, error) {
		return s.build(ctx, tool, force), nil
	})
	if err != nil {
		return domain.ModelCatalog{}, err
	}
	s.metrics.RecordModelDiscovery(toolID, false)
	return result.(domain.ModelCatalog), nil
}

// ListAll returns catalogs for every registered tool, keyed by id.
func (s *Service) ListAll(ctx context.Context, force bool) (map[string]domain.ModelCatalog, error) {
	list := s.registry.List()
	catalogs := make([]domain.ModelCatalog, len(list))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, tool := range list {
		group.Go(func() error {
			catalog, err := s.List(groupCtx, tool.Descriptor().ID, force)
			if err != nil {
				return err
			}
			catalogs[i] = catalog
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	out := make(map[string]domain.ModelCatalog, len(catalogs))
	for _, catalog := range catalogs {
		out[catalog.Tool] = catalog
	}
	return out, nil
}

// Invalidate drops the cached catalog of each named tool, or of every tool
// when none is named.
func (s *Service) Invalidate(toolIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(toolIDs) == 0 {
		clear(s.entries)
		return
	}
	for _, id := range toolIDs {
		delete(s.entries, id)
	}
}

func (s *Service) cached(toolID string) (domain.ModelCatalog, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[toolID]
	if !ok || s.now().Sub(entry.storedAt) >= s.ttl {
		return domain.ModelCatalog{}, false
	}
	return entry.catalog, true
}

func (s *Service) build(ctx context.Context, tool domain.Tool, force bool) domain.ModelCatalog {
	desc := tool.Descriptor()
	found := s.discover(tool)

	catalog := domain.ModelCatalog{
		Tool:         desc.ID,
		DefaultModel: found.defaultModel,
		Models:       found.models,
		Source:       found.source,
		FetchedAt:    s.now().UTC(),
	}
	if catalog.Models == nil {
		catalog.Models = []domain.ModelInfo{}
	}
	if s.availability != nil {
		status := s.availability.Check(ctx, tool, force)
		catalog.Available = status.Available
		if status.Error != "" {
			msg := status.Error
			catalog.Error = &msg
		}
	}

	s.mu.Lock()
	s.entries[desc.ID] = cacheEntry{catalog: catalog, storedAt: s.now()}
	s.mu.Unlock()

	s.logger.Debug("models discovered",
		telemetry.EventField(telemetry.EventModelsRefresh),
		telemetry.ToolField(desc.ID),
		zap.String("source", string(catalog.Source)),
		zap.Int("count", len(catalog.Models)),
	)
	return catalog
}

func (s *Service) discover(tool domain.Tool) discovered {
	desc := tool.Descriptor()
	switch desc.ID {
	case tools.CodexID:
		return discoverCodex(s.dirs, tool)
	case tools.ClaudeID:
		return discoverClaude(s.dirs, tool)
	case tools.GeminiID, tools.GeminiAPIID:
		return discoverGemini(s.dirs, tool, s.historyLimit)
	}
	set := newModelSet(tool)
	set.add(desc.DefaultModel, domain.ProvenanceProxyDefault, "")
	return discovered{defaultModel: desc.DefaultModel, models: set.sorted(), source: domain.ProvenanceFallback}
}
