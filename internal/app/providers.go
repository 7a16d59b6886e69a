package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"cliproxy/internal/buildinfo"
	"cliproxy/internal/domain"
	"cliproxy/internal/infra/admission"
	"cliproxy/internal/infra/credstore"
	"cliproxy/internal/infra/discovery"
	"cliproxy/internal/infra/engine"
	"cliproxy/internal/infra/geminiapi"
	"cliproxy/internal/infra/httpapi"
	"cliproxy/internal/infra/localstate"
	"cliproxy/internal/infra/process"
	"cliproxy/internal/infra/telemetry"
	"cliproxy/internal/infra/tools"
	"cliproxy/internal/infra/update"
)

func NewMetricsRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())
	return registry
}

func NewMetrics(registry *prometheus.Registry) domain.Metrics {
	return telemetry.NewPrometheusMetrics(registry)
}

func NewStateDirs() localstate.Dirs {
	return localstate.DefaultDirs()
}

func NewResolver(logger *zap.Logger) *process.Resolver {
	return process.NewResolver(process.ResolverOptions{Logger: logger})
}

func NewProber(cfg Config, resolver *process.Resolver) *process.Prober {
	return process.NewProber(resolver, cfg.Execution.ProbeTimeout)
}

// NewGeminiAPIClient returns nil when the API-backed tool is disabled. The
// cleanup stops the client's request queue.
func NewGeminiAPIClient(cfg Config, logger *zap.Logger, resolver *process.Resolver, metrics domain.Metrics) (*geminiapi.Client, func()) {
	api := cfg.GeminiAPI
	if !api.Enabled {
		return nil, func() {}
	}
	client := geminiapi.New(geminiapi.Options{
		Logger:         logger,
		Endpoint:       api.Endpoint,
		TokenURL:       api.TokenURL,
		Store:          credstore.NewStore(api.CredentialsPath),
		Client:         geminiapi.OAuthClient{ID: api.ClientID, Secret: api.ClientSecret},
		DiscoverClient: api.DiscoverClient,
		Resolver:       resolver,
		ProjectTTL:     api.ProjectTTL,
		MaxRetries:     api.MaxRetries,
		BackoffBase:    api.BackoffBase,
		BackoffCap:     api.BackoffCap,
		Metrics:        metrics,
	})
	return client, client.Close
}

func NewToolRegistry(logger *zap.Logger, prober *process.Prober, dirs localstate.Dirs, client *geminiapi.Client) *tools.Registry {
	opts := tools.RegistryOptions{
		Logger: logger,
		Prober: prober,
		Dirs:   dirs,
	}
	if client != nil {
		opts.GeminiAPI = client
	}
	return tools.NewDefaultRegistry(opts)
}

func NewAvailabilityCache(cfg Config) *tools.AvailabilityCache {
	return tools.NewAvailabilityCache(cfg.Execution.AvailabilityTTL, nil)
}

func NewSlots(cfg Config, metrics domain.Metrics) *engine.Slots {
	return engine.NewSlots(cfg.Execution.MaxConcurrent, metrics)
}

func NewEngine(cfg Config, logger *zap.Logger, registry *tools.Registry, resolver *process.Resolver, slots *engine.Slots, metrics domain.Metrics) *engine.Engine {
	return engine.New(engine.Options{
		Logger:         logger,
		Registry:       registry,
		Resolver:       resolver,
		Slots:          slots,
		Metrics:        metrics,
		DefaultTimeout: cfg.Execution.DefaultTimeout,
		MinTimeout:     cfg.Execution.MinTimeout,
		MaxTimeout:     cfg.Execution.MaxTimeout,
	})
}

func NewShutdownGate() *admission.Gate {
	return &admission.Gate{}
}

func NewAdmission(cfg Config, gate *admission.Gate, registry *tools.Registry, metrics domain.Metrics) *admission.Controller {
	return admission.NewController(admission.Options{
		Gate:       gate,
		Window:     admission.NewRateWindow(cfg.Admission.RateLimit, cfg.Admission.RateWindow, nil),
		Normalizer: registry,
		MaxModelID: cfg.Admission.MaxModelIDLength,
		Metrics:    metrics,
	})
}

func NewDiscovery(cfg Config, logger *zap.Logger, registry *tools.Registry, availability *tools.AvailabilityCache, dirs localstate.Dirs, metrics domain.Metrics) *discovery.Service {
	return discovery.New(discovery.Options{
		Logger:       logger,
		Registry:     registry,
		Availability: availability,
		Dirs:         dirs,
		TTL:          cfg.Discovery.CacheTTL,
		Metrics:      metrics,
	})
}

func NewUpdateChecker(cfg Config, logger *zap.Logger) *update.Checker {
	return update.NewChecker(update.CheckerOptions{
		Logger:       logger,
		ManifestURL:  cfg.Update.ManifestURL,
		LocalVersion: buildinfo.Version,
		AddonDir:     cfg.Update.AddonDir,
		TTL:          cfg.Update.CheckTTL,
		Timeout:      cfg.Update.CheckTimeout,
	})
}

func NewUpdateApplier(cfg Config, logger *zap.Logger, resolver *process.Resolver, checker *update.Checker) *update.Applier {
	return update.NewApplier(update.ApplierOptions{
		Logger:           logger,
		RawBaseURL:       cfg.Update.RawBaseURL,
		AddonDir:         cfg.Update.AddonDir,
		BinaryRemote:     cfg.Update.BinaryRemote,
		ReinstallCommand: cfg.Update.ReinstallCommand,
		ReinstallTimeout: cfg.Update.ReinstallTimeout,
		Resolver:         resolver,
		Checker:          checker,
		DownloadTimeout:  cfg.Update.DownloadTimeout,
		RestartDelay:     cfg.Update.RestartDelay,
	})
}

func NewCleaner(cfg Config, logger *zap.Logger, gate *admission.Gate) *update.Cleaner {
	return update.NewCleaner(update.CleanerOptions{
		Logger:          logger,
		Gate:            gate,
		Dir:             cfg.Update.InstallDir,
		ExpectedDirName: cfg.Cleanup.ExpectedDirName,
		ConfirmToken:    cfg.Cleanup.ConfirmToken,
		RemovalDelay:    cfg.Cleanup.RemovalDelay,
	})
}

func NewHTTPServer(
	cfg Config,
	logger *zap.Logger,
	registry *tools.Registry,
	availability *tools.AvailabilityCache,
	controller *admission.Controller,
	executor *engine.Engine,
	models *discovery.Service,
	checker *update.Checker,
	applier *update.Applier,
	cleaner *update.Cleaner,
	metricsRegistry *prometheus.Registry,
) *httpapi.Server {
	return httpapi.New(httpapi.Options{
		Logger:             logger,
		Version:            buildinfo.Version,
		Registry:           registry,
		Availability:       availability,
		Admission:          controller,
		Executor:           executor,
		Models:             models,
		Updates:            checker,
		Applier:            applier,
		Cleaner:            cleaner,
		Gatherer:           metricsRegistry,
		HealthProbeTimeout: cfg.Execution.HealthProbeTimeout,
	})
}
