package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"cliproxy/internal/buildinfo"
	"cliproxy/internal/domain"
	"cliproxy/internal/infra/admission"
	"cliproxy/internal/infra/discovery"
	"cliproxy/internal/infra/engine"
	"cliproxy/internal/infra/envutil"
	"cliproxy/internal/infra/httpapi"
	"cliproxy/internal/infra/telemetry"
	"cliproxy/internal/infra/tools"
	"cliproxy/internal/infra/update"
)

const (
	readHeaderTimeout = 10 * time.Second
	closeTimeout      = 5 * time.Second
)

// Application wires the gateway runtime and dependencies.
type Application struct {
	ctx    context.Context
	cfg    Config
	logger *zap.Logger

	registry     *tools.Registry
	availability *tools.AvailabilityCache
	gate         *admission.Gate
	slots        *engine.Slots
	discovery    *discovery.Service
	updates      *update.Checker
	server       *httpapi.Server
}

// ApplicationOptions captures dependencies and settings for Application.
type ApplicationOptions struct {
	Context      context.Context
	Config       Config
	Logger       *zap.Logger
	Registry     *tools.Registry
	Availability *tools.AvailabilityCache
	Gate         *admission.Gate
	Slots        *engine.Slots
	Discovery    *discovery.Service
	Updates      *update.Checker
	Server       *httpapi.Server
}

// NewApplication constructs the gateway runtime.
func NewApplication(opts ApplicationOptions) *Application {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Application{
		ctx:          ctx,
		cfg:          opts.Config,
		logger:       logger,
		registry:     opts.Registry,
		availability: opts.Availability,
		gate:         opts.Gate,
		slots:        opts.Slots,
		discovery:    opts.Discovery,
		updates:      opts.Updates,
		server:       opts.Server,
	}
}

// Run serves until the context is canceled, then drains in-flight processes
// and stops the listener.
func (a *Application) Run() error {
	path := envutil.PreparePATH(userHome())
	a.logger.Debug("tool search path prepared", zap.String("path", path))

	addr := a.cfg.Server.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	httpServer := &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          zap.NewStdLog(a.logger.Named("http")),
	}

	a.logger.Info("gateway listening",
		telemetry.EventField(telemetry.EventStartup),
		zap.String("addr", listener.Addr().String()),
		zap.String("version", buildinfo.Version),
		zap.Strings("tools", a.registry.IDs()),
		zap.Int("maxConcurrent", a.slots.Max()),
	)

	go a.logStartupProbes(a.ctx)
	go a.checkUpdatesOnce(a.ctx)
	if a.cfg.Discovery.Watch && a.discovery != nil {
		go a.discovery.Watch(a.ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-a.ctx.Done():
	}

	a.logger.Info("shutdown requested", telemetry.EventField(telemetry.EventShutdownBegin), zap.Int("active", a.slots.Active()))
	drained := drainSlots(a.gate, a.slots, a.cfg.Shutdown.PollInterval, a.cfg.Shutdown.Deadline, a.logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if !drained {
		_ = httpServer.Close()
		return nil
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown incomplete", zap.Error(err))
		_ = httpServer.Close()
	}
	a.logger.Info("gateway stopped")
	return nil
}

func (a *Application) logStartupProbes(ctx context.Context) {
	for _, tool := range a.registry.List() {
		id := tool.Descriptor().ID
		status := a.availability.Check(ctx, tool, false)
		if status.Available {
			a.logger.Info("tool available", telemetry.EventField(telemetry.EventProbe), telemetry.ToolField(id), zap.String("detail", status.Detail))
			continue
		}
		a.logger.Warn("tool unavailable", telemetry.EventField(telemetry.EventProbe), telemetry.ToolField(id), zap.String("error", status.Error))
	}
}

func (a *Application) checkUpdatesOnce(ctx context.Context) {
	status := a.updates.Check(ctx, false)
	switch {
	case status.Error != "":
		a.logger.Debug("update check failed", zap.String("error", status.Error))
	case status.Proxy != nil:
		a.logger.Info("update available", zap.String("current", status.Proxy.Current), zap.String("latest", status.Proxy.Latest))
	case status.HasUpdates:
		a.logger.Info("addon updates available", zap.Int("count", len(status.Addons)))
	}
}

type activeCounter interface {
	Active() int
}

// drainSlots closes admission and waits until no spawned process remains or
// the deadline passes. It reports whether every process finished.
func drainSlots(gate *admission.Gate, slots activeCounter, poll, deadline time.Duration, logger *zap.Logger) bool {
	gate.Close()
	if poll <= 0 {
		poll = domain.DefaultShutdownPollInterval
	}
	if deadline <= 0 {
		deadline = domain.DefaultShutdownDeadline
	}
	if slots.Active() == 0 {
		return true
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	for {
		select {
		case <-ticker.C:
			if slots.Active() == 0 {
				logger.Info("all processes finished", telemetry.EventField(telemetry.EventShutdownDrained))
				return true
			}
		case <-timer.C:
			logger.Warn("shutdown deadline reached, forcing exit",
				telemetry.EventField(telemetry.EventShutdownForced),
				zap.Int("active", slots.Active()),
			)
			return false
		}
	}
}
