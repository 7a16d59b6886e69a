package admission

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"cliproxy/internal/domain"
)

var modelIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// ValidateModelID rejects ids longer than maxLen or containing characters
// outside [A-Za-z0-9_.-]. An empty id is valid and means "tool default".
func ValidateModelID(model string, maxLen int) error {
	if model == "" {
		return nil
	}
	if maxLen <= 0 {
		maxLen = domain.DefaultMaxModelIDLength
	}
	if len(model) > maxLen {
		return domain.Errorf(domain.CodeInvalidModelID, "admission.model", "Model ID too long (max %d chars)", maxLen)
	}
	if !modelIDPattern.MatchString(model) {
		return domain.E(domain.CodeInvalidModelID, "admission.model",
			"Invalid model ID: only alphanumeric, hyphens, underscores, and dots allowed", nil)
	}
	return nil
}

// ModelNormalizer canonicalizes a caller-supplied model id for a tool.
type ModelNormalizer interface {
	CanonicalModel(tool, model string) string
}

// Request is the part of a generation request admission looks at.
type Request struct {
	Tool   string
	Prompt string
	Model  string
}

// Controller applies every admission check in a fixed order: shutdown gate,
// required fields, model id, rate window.
type Controller struct {
	gate       *Gate
	window     *RateWindow
	normalizer ModelNormalizer
	maxModelID int
	metrics    domain.Metrics
}

type Options struct {
	Gate       *Gate
	Window     *RateWindow
	Normalizer ModelNormalizer
	MaxModelID int
	Metrics    domain.Metrics
}

func NewController(opts Options) *Controller {
	gate := opts.Gate
	if gate == nil {
		gate = &Gate{}
	}
	window := opts.Window
	if window == nil {
		window = NewRateWindow(domain.DefaultRateLimit, domain.DefaultRateWindow, nil)
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = domain.NoopMetrics{}
	}
	return &Controller{
		gate:       gate,
		window:     window,
		normalizer: opts.Normalizer,
		maxModelID: opts.MaxModelID,
		metrics:    metrics,
	}
}

func (c *Controller) Gate() *Gate {
	return c.gate
}

// Admit returns the canonical model id when req may proceed.
func (c *Controller) Admit(req Request) (string, error) {
	if c.gate.Closed() {
		return "", domain.E(domain.CodeShuttingDown, "admission", "Server is shutting down. Please retry.", nil)
	}
	if strings.TrimSpace(req.Tool) == "" || req.Prompt == "" {
		return "", domain.E(domain.CodeInvalidArgument, "admission", "Missing tool or prompt", nil)
	}
	model := strings.TrimSpace(req.Model)
	if c.normalizer != nil {
		model = c.normalizer.CanonicalModel(req.Tool, model)
	}
	if err := ValidateModelID(model, c.maxModelID); err != nil {
		return "", err
	}
	if !c.window.Allow() {
		c.metrics.RecordRateLimited()
		return "", domain.E(domain.CodeRateLimited, "admission",
			fmt.Sprintf("Rate limit exceeded. Max %d requests per %s.", c.window.Limit(), describeWindow(c.window.window)), nil)
	}
	return model, nil
}

func describeWindow(window time.Duration) string {
	if window == time.Minute {
		return "minute"
	}
	return window.String()
}
