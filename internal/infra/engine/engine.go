package engine

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"cliproxy/internal/domain"
	"cliproxy/internal/infra/telemetry"
)

// CommandResolver turns a tool command name into an executable path.
type CommandResolver interface {
	Resolve(ctx context.Context, command string) (string, error)
}

// Engine runs tools under the concurrency cap, a hard timeout and the
// caller's cancellation.
type Engine struct {
	logger         *zap.Logger
	registry       domain.ToolRegistry
	resolver       CommandResolver
	slots          *Slots
	metrics        domain.Metrics
	workDir        string
	env            func() []string
	defaultTimeout time.Duration
	minTimeout     time.Duration
	maxTimeout     time.Duration
	waitDelay      time.Duration
	now            func() time.Time
}

type Options struct {
	Logger         *zap.Logger
	Registry       domain.ToolRegistry
	Resolver       CommandResolver
	Slots          *Slots
	Metrics        domain.Metrics
	WorkDir        string
	Env            func() []string
	DefaultTimeout time.Duration
	MinTimeout     time.Duration
	MaxTimeout     time.Duration
	// WaitDelay bounds how long output pipes may stay open after the
	// process group was killed.
	WaitDelay time.Duration
}

func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = domain.NoopMetrics{}
	}
	slots := opts.Slots
	if slots == nil {
		slots = NewSlots(domain.DefaultMaxConcurrent, metrics)
	}
	workDir := opts.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	env := opts.Env
	if env == nil {
		env = os.Environ
	}
	e := &Engine{
		logger:         logger.Named("engine"),
		registry:       opts.Registry,
		resolver:       opts.Resolver,
		slots:          slots,
		metrics:        metrics,
		workDir:        workDir,
		env:            env,
		defaultTimeout: opts.DefaultTimeout,
		minTimeout:     opts.MinTimeout,
		maxTimeout:     opts.MaxTimeout,
		waitDelay:      opts.WaitDelay,
		now:            time.Now,
	}
	if e.defaultTimeout <= 0 {
		e.defaultTimeout = domain.DefaultExecutionTimeout
	}
	if e.minTimeout <= 0 {
		e.minTimeout = domain.MinExecutionTimeout
	}
	if e.maxTimeout <= 0 {
		e.maxTimeout = domain.MaxExecutionTimeout
	}
	if e.waitDelay <= 0 {
		e.waitDelay = 2 * time.Second
	}
	return e
}

// Slots exposes the process slot counter for drain polling.
func (e *Engine) Slots() *Slots {
	return e.slots
}

// Timeout clamps a requested timeout to the configured bounds.
func (e *Engine) Timeout(requested time.Duration) time.Duration {
	return domain.ClampTimeout(requested, e.defaultTimeout, e.minTimeout, e.maxTimeout)
}

// Execute runs req to completion.
func (e *Engine) Execute(ctx context.Context, req domain.ExecutionRequest) (domain.ExecutionResult, error) {
	started := e.now()
	tool, err := e.registry.Get(req.Tool)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	call := e.newCall(ctx, tool, req)

	var output string
	switch t := tool.(type) {
	case domain.SpawnTool:
		var run *spawnRun
		run, err = e.prepareSpawn(ctx, t, call, nil)
		if err == nil {
			output, err = run.wait()
		}
	case domain.APITool:
		output, err = e.runAPI(ctx, t, call)
	default:
		err = domain.Errorf(domain.CodeInternal, "engine.execute", "tool %s has no invocation mode", req.Tool)
	}

	elapsed := e.now().Sub(started)
	e.observe(call, false, elapsed, err)
	if err != nil {
		call.logger.Warn("generation failed", telemetry.DurationField(elapsed), zap.Error(err))
		return domain.ExecutionResult{}, err
	}
	call.logger.Info("generation completed", telemetry.DurationField(elapsed), zap.Int("length", len(output)))
	return domain.ExecutionResult{
		ID:      call.id,
		Tool:    req.Tool,
		Mode:    tool.Descriptor().Mode,
		Model:   call.displayModel(tool),
		Output:  output,
		Elapsed: elapsed,
	}, nil
}

// Stream starts req and returns its events. Rejections that happen before
// any work starts (unknown tool, saturated slots, unresolvable executable)
// are returned directly. The channel is closed after the terminal event, or
// without one when ctx ends first.
func (e *Engine) Stream(ctx context.Context, req domain.ExecutionRequest) (<-chan domain.StreamEvent, error) {
	started := e.now()
	tool, err := e.registry.Get(req.Tool)
	if err != nil {
		return nil, err
	}
	call := e.newCall(ctx, tool, req)
	events := make(chan domain.StreamEvent, 16)
	send := func(runCtx context.Context, event domain.StreamEvent) {
		select {
		case events <- event:
		case <-runCtx.Done():
		}
	}

	switch t := tool.(type) {
	case domain.SpawnTool:
		run, err := e.prepareSpawn(ctx, t, call, func(runCtx context.Context, chunk string) {
			send(runCtx, domain.StreamEvent{Kind: domain.StreamEventChunk, Data: chunk})
		})
		if err != nil {
			e.observe(call, true, e.now().Sub(started), err)
			return nil, err
		}
		go func() {
			defer close(events)
			_, err := run.wait()
			e.observe(call, true, e.now().Sub(started), err)
			e.finishStream(ctx, call, err, send)
		}()
	case domain.APITool:
		// The upstream has no incremental delivery: one chunk, then done.
		go func() {
			defer close(events)
			output, err := e.runAPI(ctx, t, call)
			e.observe(call, true, e.now().Sub(started), err)
			if err == nil && ctx.Err() == nil {
				send(ctx, domain.StreamEvent{Kind: domain.StreamEventChunk, Data: output})
			}
			e.finishStream(ctx, call, err, send)
		}()
	default:
		return nil, domain.Errorf(domain.CodeInternal, "engine.stream", "tool %s has no invocation mode", req.Tool)
	}
	return events, nil
}

func (e *Engine) finishStream(ctx context.Context, call *call, err error, send func(context.Context, domain.StreamEvent)) {
	if ctx.Err() != nil {
		call.logger.Info("stream abandoned by caller")
		return
	}
	if err != nil {
		call.logger.Warn("stream failed", zap.Error(err))
		send(ctx, domain.StreamEvent{Kind: domain.StreamEventError, Data: domain.MessageFrom(err), Err: err})
		return
	}
	call.logger.Info("stream completed")
	send(ctx, domain.StreamEvent{Kind: domain.StreamEventDone})
}

// call carries per-execution values shared by the spawn and API paths.
type call struct {
	id      string
	req     domain.ExecutionRequest
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

func (e *Engine) newCall(ctx context.Context, tool domain.Tool, req domain.ExecutionRequest) *call {
	id := ulid.Make().String()
	model := tool.ResolveModel(req.Model)
	timeout := e.Timeout(req.Timeout)
	logger := telemetry.LoggerWithRequest(ctx, e.logger).With(
		telemetry.ExecutionIDField(id),
		telemetry.ToolField(req.Tool),
		telemetry.ModelField(model),
	)
	logger.Info("generation request",
		zap.String("mode", string(tool.Descriptor().Mode)),
		zap.Bool("stream", req.Stream),
		zap.Int("prompt_length", len(req.Prompt)),
		zap.String("prompt_preview", promptPreview(req.Prompt)),
		zap.Duration("timeout", timeout),
	)
	return &call{id: id, req: req, model: model, timeout: timeout, logger: logger}
}

func (c *call) displayModel(tool domain.Tool) string {
	if c.model != "" {
		return c.model
	}
	if def := tool.Descriptor().DefaultModel; def != "" {
		return def
	}
	return "default"
}

func (e *Engine) runAPI(ctx context.Context, tool domain.APITool, call *call) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, call.timeout)
	defer cancel()

	output, err := tool.Generate(runCtx, call.req.Prompt, call.model)
	if err == nil {
		return output, nil
	}
	if ctx.Err() != nil {
		return "", domain.E(domain.CodeAborted, "engine.api", "Request aborted by client", err)
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return "", timeoutError("engine.api", call.timeout, err)
	}
	return "", domain.Wrap(domain.CodeUpstreamAPIError, "engine.api", err)
}

func (e *Engine) observe(call *call, streamed bool, elapsed time.Duration, err error) {
	metric := domain.GenerateMetric{
		Tool:     call.req.Tool,
		Streamed: streamed,
		Status:   domain.OutcomeSuccess,
		Duration: elapsed,
	}
	if tool, lookupErr := e.registry.Get(call.req.Tool); lookupErr == nil {
		metric.Mode = tool.Descriptor().Mode
	}
	if err != nil {
		metric.Status = domain.OutcomeError
		metric.Code, _ = domain.CodeFrom(err)
	}
	e.metrics.ObserveGenerate(metric)
}

func timeoutError(op string, timeout time.Duration, cause error) error {
	err := domain.Errorf(domain.CodeTimeout, op, "Timeout after %dms", timeout.Milliseconds())
	err.Cause = cause
	return err
}

func promptPreview(prompt string) string {
	const limit = 50
	runes := []rune(prompt)
	if len(runes) <= limit {
		return strings.ReplaceAll(prompt, "\n", " ")
	}
	return strings.ReplaceAll(string(runes[:limit]), "\n", " ") + "..."
}
