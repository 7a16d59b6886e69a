// Package httpapi exposes the gateway over loopback HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"cliproxy/internal/domain"
	"cliproxy/internal/infra/admission"
	"cliproxy/internal/infra/telemetry"
)

const maxBodyBytes = 10 << 20

// Executor runs generations.
type Executor interface {
	Execute(ctx context.Context, req domain.ExecutionRequest) (domain.ExecutionResult, error)
	Stream(ctx context.Context, req domain.ExecutionRequest) (<-chan domain.StreamEvent, error)
}

// Admitter runs admission checks and returns the canonical model id.
type Admitter interface {
	Admit(req admission.Request) (string, error)
}

type AvailabilityChecker interface {
	Check(ctx context.Context, tool domain.Tool, force bool) domain.Availability
}

type ModelLister interface {
	List(ctx context.Context, toolID string, force bool) (domain.ModelCatalog, error)
	ListAll(ctx context.Context, force bool) (map[string]domain.ModelCatalog, error)
}

type UpdateChecker interface {
	Check(ctx context.Context, force bool) domain.UpdateStatus
	Cached() (domain.UpdateStatus, bool)
}

type UpdateApplier interface {
	Apply(ctx context.Context, target string) (domain.UpdateOutcome, error)
}

type Cleaner interface {
	Cleanup(ctx context.Context, req domain.CleanupRequest) (domain.CleanupResult, error)
}

type Options struct {
	Logger       *zap.Logger
	Version      string
	Registry     domain.ToolRegistry
	Availability AvailabilityChecker
	Admission    Admitter
	Executor     Executor
	Models       ModelLister
	Updates      UpdateChecker
	Applier      UpdateApplier
	Cleaner      Cleaner
	Gatherer     prometheus.Gatherer
	// HealthProbeTimeout bounds each tool probe made by /health.
	HealthProbeTimeout time.Duration
	Now                func() time.Time
}

// Server holds the handlers for every route.
type Server struct {
	logger       *zap.Logger
	version      string
	registry     domain.ToolRegistry
	availability AvailabilityChecker
	admission    Admitter
	executor     Executor
	models       ModelLister
	updates      UpdateChecker
	applier      UpdateApplier
	cleaner      Cleaner
	gatherer     prometheus.Gatherer
	probeTimeout time.Duration
	now          func() time.Time
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	probeTimeout := opts.HealthProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = domain.DefaultHealthProbeTimeout
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Server{
		logger:       logger.Named("http"),
		version:      opts.Version,
		registry:     opts.Registry,
		availability: opts.Availability,
		admission:    opts.Admission,
		executor:     opts.Executor,
		models:       opts.Models,
		updates:      opts.Updates,
		applier:      opts.Applier,
		cleaner:      opts.Cleaner,
		gatherer:     gatherer,
		probeTimeout: probeTimeout,
		now:          now,
	}
}

// Handler builds the router. The listener is loopback-only, so every origin
// is allowed.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(telemetry.RequestIDMiddleware)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", telemetry.RequestIDHeader},
		ExposedHeaders: []string{telemetry.RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/tools", s.handleTools)
	r.Get("/models", s.handleModels)
	r.Post("/generate", s.handleGenerate)
	r.Get("/updates", s.handleUpdates)
	r.Post("/update", s.handleUpdate)
	r.Post("/cleanup", s.handleCleanup)
	r.Post("/v1/chat/completions", s.handleChatCompletions)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := s.now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		logger := telemetry.LoggerWithRequest(r.Context(), s.logger)
		fields := []zap.Field{
			telemetry.RouteField(r.Method + " " + r.URL.Path),
			telemetry.StatusField(status),
			telemetry.DurationField(s.now().Sub(started)),
		}
		switch {
		case r.URL.Path == "/health" || r.URL.Path == "/metrics":
			logger.Debug("request served", fields...)
		case status >= http.StatusInternalServerError:
			logger.Warn("request failed", fields...)
		default:
			logger.Info("request served", fields...)
		}
	})
}
