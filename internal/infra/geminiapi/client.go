// Package geminiapi calls the Gemini Code Assist API with the OAuth
// credentials the Gemini CLI stores on disk.
package geminiapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"cliproxy/internal/domain"
	"cliproxy/internal/infra/credstore"
)

const (
	toolID         = "gemini-api"
	apiVersion     = "v1internal"
	maxErrorBody   = 4 << 10
	maxResponseLen = 16 << 20
)

// optionalFieldRejected matches upstream 400 messages about the thinking
// configuration some models do not accept.
var optionalFieldRejected = regexp.MustCompile(`(?i)thinking`)

type Options struct {
	Logger         *zap.Logger
	HTTPClient     *http.Client
	Endpoint       string
	TokenURL       string
	Store          *credstore.Store
	Client         OAuthClient
	DiscoverClient bool
	Resolver       ExecutableResolver
	// Project skips the loadCodeAssist lookup when set.
	Project     string
	ProjectTTL  time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	Metrics     domain.Metrics
	Now         func() time.Time
}

// Client serializes every upstream call through one FIFO queue.
type Client struct {
	logger     *zap.Logger
	httpClient *http.Client
	endpoint   string
	tokens     *tokenManager
	queue      *queue
	backoff    backoff
	maxRetries int
	projectTTL time.Duration
	fixedProj  string
	metrics    domain.Metrics
	now        func() time.Time

	projMu    sync.Mutex
	project   string
	projectAt time.Time
}

func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("geminiapi")
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: domain.MaxExecutionTimeout}
	}
	endpoint := strings.TrimRight(opts.Endpoint, "/")
	if endpoint == "" {
		endpoint = domain.DefaultGeminiAPIEndpoint
	}
	tokenURL := opts.TokenURL
	if tokenURL == "" {
		tokenURL = domain.DefaultGeminiTokenURL
	}
	projectTTL := opts.ProjectTTL
	if projectTTL <= 0 {
		projectTTL = domain.DefaultGeminiProjectTTL
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = domain.NoopMetrics{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	base, capDelay := opts.BackoffBase, opts.BackoffCap
	if base <= 0 {
		base = domain.DefaultGeminiBackoffBase
	}
	if capDelay <= 0 {
		capDelay = domain.DefaultGeminiBackoffCap
	}

	tokens := &tokenManager{
		logger:     logger,
		store:      opts.Store,
		tokenURL:   tokenURL,
		configured: opts.Client,
		httpClient: httpClient,
		metrics:    metrics,
		now:        now,
		state:      StateUninitialized,
	}
	if opts.DiscoverClient {
		resolver := opts.Resolver
		tokens.discover = func(ctx context.Context) (OAuthClient, bool) {
			return discoverOAuthClient(ctx, resolver, "gemini")
		}
	}
	return &Client{
		logger:     logger,
		httpClient: httpClient,
		endpoint:   endpoint,
		tokens:     tokens,
		queue:      newQueue(),
		backoff:    newBackoff(base, capDelay),
		maxRetries: maxRetries,
		projectTTL: projectTTL,
		fixedProj:  strings.TrimSpace(opts.Project),
		metrics:    metrics,
		now:        now,
	}
}

// Close stops the dispatch queue; queued calls fail.
func (c *Client) Close() {
	c.queue.Close()
}

// State reports the credential lifecycle state.
func (c *Client) State() AuthState {
	return c.tokens.State()
}

// CheckCredentials reports whether credentials and an OAuth client identity
// can be loaded.
func (c *Client) CheckCredentials(ctx context.Context) error {
	return c.tokens.Check(ctx)
}

// Generate sends one prompt and returns the concatenated response text.
func (c *Client) Generate(ctx context.Context, prompt, model string) (string, error) {
	return c.queue.Do(ctx, func(ctx context.Context) (string, error) {
		return c.generate(ctx, prompt, model)
	})
}

func (c *Client) generate(ctx context.Context, prompt, model string) (string, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return "", err
	}
	project, err := c.projectID(ctx, token)
	if err != nil {
		return "", err
	}

	payload := buildGeneratePayload(model, project, prompt, true)
	withThinking := true
	reauthed := false
	for attempt := 0; ; {
		resp, err := c.post(ctx, "generateContent", token, payload)
		if err != nil {
			return "", err
		}
		switch {
		case resp.status >= 200 && resp.status < 300:
			return extractText(resp.body)
		case resp.status == http.StatusTooManyRequests && attempt < c.maxRetries:
			wait := c.backoff.delay(attempt, retryHint(resp.header, resp.body))
			c.metrics.RecordUpstreamRetry(toolID, resp.status)
			c.logger.Info("rate limited by upstream; retrying",
				zap.Int("attempt", attempt+1),
				zap.Duration("wait", wait),
			)
			if err := sleep(ctx, wait); err != nil {
				return "", err
			}
			attempt++
			continue
		case resp.status == http.StatusBadRequest && withThinking && optionalFieldRejected.Match(resp.body):
			c.logger.Info("upstream rejected thinking config; retrying without it", zap.String("model", model))
			c.metrics.RecordUpstreamRetry(toolID, resp.status)
			withThinking = false
			payload = buildGeneratePayload(model, project, prompt, false)
			continue
		case resp.status == http.StatusUnauthorized && !reauthed:
			reauthed = true
			c.tokens.Expire()
			if token, err = c.tokens.AccessToken(ctx); err != nil {
				return "", err
			}
			continue
		}
		return "", upstreamError("geminiapi.generate", resp)
	}
}

// projectID returns the cached Code Assist project, resolving it with
// loadCodeAssist once per TTL.
func (c *Client) projectID(ctx context.Context, token string) (string, error) {
	if c.fixedProj != "" {
		return c.fixedProj, nil
	}
	c.projMu.Lock()
	defer c.projMu.Unlock()
	if c.project != "" && c.now().Sub(c.projectAt) < c.projectTTL {
		return c.project, nil
	}

	body := `{"metadata":{"ideType":"IDE_UNSPECIFIED","platform":"PLATFORM_UNSPECIFIED","pluginType":"GEMINI"}}`
	resp, err := c.post(ctx, "loadCodeAssist", token, []byte(body))
	if err != nil {
		return "", err
	}
	if resp.status < 200 || resp.status >= 300 {
		return "", upstreamError("geminiapi.project", resp)
	}
	project := gjson.GetBytes(resp.body, "cloudaicompanionProject.id").String()
	if project == "" {
		project = gjson.GetBytes(resp.body, "cloudaicompanionProject").String()
	}
	if project == "" {
		return "", domain.E(domain.CodeUpstreamAPIError, "geminiapi.project",
			"Gemini Code Assist returned no project for this account", nil)
	}
	c.project = project
	c.projectAt = c.now()
	c.logger.Debug("code assist project resolved", zap.String("project", project))
	return project, nil
}

type apiResponse struct {
	status int
	header http.Header
	body   []byte
}

func (c *Client) post(ctx context.Context, method, token string, payload []byte) (apiResponse, error) {
	url := fmt.Sprintf("%s/%s:%s", c.endpoint, apiVersion, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return apiResponse{}, domain.E(domain.CodeInternal, "geminiapi.post", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return apiResponse{}, ctx.Err()
		}
		return apiResponse{}, domain.E(domain.CodeUpstreamAPIError, "geminiapi.post",
			fmt.Sprintf("Gemini API request failed: %v", err), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseLen))
	if err != nil {
		if ctx.Err() != nil {
			return apiResponse{}, ctx.Err()
		}
		return apiResponse{}, domain.E(domain.CodeUpstreamAPIError, "geminiapi.post", "read Gemini API response", err)
	}
	return apiResponse{status: resp.StatusCode, header: resp.Header, body: body}, nil
}

func buildGeneratePayload(model, project, prompt string, withThinking bool) []byte {
	payload := []byte(`{}`)
	payload, _ = sjson.SetBytes(payload, "model", model)
	payload, _ = sjson.SetBytes(payload, "project", project)
	payload, _ = sjson.SetBytes(payload, "request.contents.0.role", "user")
	payload, _ = sjson.SetBytes(payload, "request.contents.0.parts.0.text", prompt)
	if withThinking {
		payload, _ = sjson.SetBytes(payload, "request.generationConfig.thinkingConfig.thinkingBudget", 0)
	}
	return payload
}

func extractText(body []byte) (string, error) {
	root := gjson.GetBytes(body, "response")
	if !root.Exists() {
		root = gjson.ParseBytes(body)
	}
	var out strings.Builder
	root.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		if part.Get("thought").Bool() {
			return true
		}
		out.WriteString(part.Get("text").String())
		return true
	})
	if out.Len() == 0 {
		reason := root.Get("candidates.0.finishReason").String()
		if reason == "" {
			reason = root.Get("promptFeedback.blockReason").String()
		}
		if reason != "" {
			return "", domain.Errorf(domain.CodeUpstreamAPIError, "geminiapi.generate", "Gemini API returned no text (%s)", reason)
		}
		return "", domain.E(domain.CodeUpstreamAPIError, "geminiapi.generate", "Gemini API returned no text", nil)
	}
	return out.String(), nil
}

func upstreamError(op string, resp apiResponse) error {
	message := gjson.GetBytes(resp.body, "error.message").String()
	if message == "" {
		message = strings.TrimSpace(string(resp.body))
		if len(message) > maxErrorBody {
			message = message[:maxErrorBody]
		}
	}
	if message == "" {
		message = http.StatusText(resp.status)
	}
	code := domain.CodeUpstreamAPIError
	if resp.status == http.StatusUnauthorized || resp.status == http.StatusForbidden {
		code = domain.CodeAuthError
	}
	err := domain.Errorf(code, op, "Gemini API error %d: %s", resp.status, message).
		WithMeta("status", strconv.Itoa(resp.status))
	err.Retryable = resp.status == http.StatusTooManyRequests || resp.status >= 500
	return err
}
