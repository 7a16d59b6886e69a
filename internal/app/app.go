package app

import (
	"context"

	"go.uber.org/zap"

	"cliproxy/internal/domain"
)

// App is the command-level entry point.
type App struct {
	logger *zap.Logger
}

type ServeConfig struct {
	ConfigPath string
	// Explicit reports whether ConfigPath came from --config.
	Explicit bool
}

type ValidateConfig struct {
	ConfigPath string
	Explicit   bool
}

func New(logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		logger: logger.Named("app"),
	}
}

// Serve loads configuration, builds the runtime and blocks until ctx is done.
func (a *App) Serve(ctx context.Context, cfg ServeConfig) error {
	path := ResolveConfigPath(cfg.ConfigPath, cfg.Explicit)
	config, err := LoadConfig(ctx, path)
	if err != nil {
		return err
	}

	application, cleanup, err := InitializeApplication(ctx, config, LoggingConfig{Config: config.Log})
	if err != nil {
		return err
	}
	defer cleanup()
	application.logger.Info("configuration loaded", zap.String("config", displayPath(path)))
	defer func() {
		_ = application.logger.Sync()
	}()
	return application.Run()
}

// ValidateConfig validates the configuration at the provided path.
func (a *App) ValidateConfig(ctx context.Context, cfg ValidateConfig) error {
	path := ResolveConfigPath(cfg.ConfigPath, cfg.Explicit)
	config, err := LoadConfig(ctx, path)
	if err != nil {
		return err
	}
	a.logger.Info("configuration validated",
		zap.String("config", displayPath(path)),
		zap.String("addr", config.Server.Addr()),
	)
	return nil
}

// EffectiveConfig loads the configuration without starting anything.
func (a *App) EffectiveConfig(ctx context.Context, cfg ValidateConfig) (Config, error) {
	return LoadConfig(ctx, ResolveConfigPath(cfg.ConfigPath, cfg.Explicit))
}

func displayPath(path string) string {
	if path == "" {
		return "(defaults)"
	}
	return path
}

// ToolDescriptors lists the tools a gateway with this configuration would
// register, without probing them.
func (a *App) ToolDescriptors(ctx context.Context, cfg ValidateConfig) ([]domain.ToolDescriptor, error) {
	config, err := a.EffectiveConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger := zap.NewNop()
	resolver := NewResolver(logger)
	prober := NewProber(config, resolver)
	client, cleanup := NewGeminiAPIClient(config, logger, resolver, domain.NoopMetrics{})
	defer cleanup()
	return NewToolRegistry(logger, prober, NewStateDirs(), client).Descriptors(), nil
}
