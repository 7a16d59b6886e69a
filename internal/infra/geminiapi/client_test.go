package geminiapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"cliproxy/internal/domain"
	"cliproxy/internal/infra/credstore"
)

type fakeUpstream struct {
	t *testing.T

	mu        sync.Mutex
	prompts   []string
	bearers   []string
	inFlight  atomic.Int32
	maxFlight atomic.Int32

	tokenCalls   atomic.Int32
	tokenStatus  int
	tokenBody    string
	projectCalls atomic.Int32
	generate     func(w http.ResponseWriter, body []byte, call int) bool
	generateCall atomic.Int32
	delay        time.Duration
}

func (f *fakeUpstream) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		require.NoError(f.t, r.ParseForm())
		require.Equal(f.t, "refresh_token", r.PostForm.Get("grant_type"))
		require.Equal(f.t, "client-id", r.PostForm.Get("client_id"))
		w.Header().Set("Content-Type", "application/json")
		if f.tokenStatus != 0 {
			w.WriteHeader(f.tokenStatus)
			_, _ = io.WriteString(w, f.tokenBody)
			return
		}
		_, _ = io.WriteString(w, `{"access_token":"fresh-token","expires_in":3600,"token_type":"Bearer"}`)
	})
	mux.HandleFunc("/v1internal:loadCodeAssist", func(w http.ResponseWriter, r *http.Request) {
		f.projectCalls.Add(1)
		_, _ = io.WriteString(w, `{"cloudaicompanionProject":"proj-1"}`)
	})
	mux.HandleFunc("/v1internal:generateContent", func(w http.ResponseWriter, r *http.Request) {
		n := f.inFlight.Add(1)
		defer f.inFlight.Add(-1)
		for {
			cur := f.maxFlight.Load()
			if n <= cur || f.maxFlight.CompareAndSwap(cur, n) {
				break
			}
		}
		body, _ := io.ReadAll(r.Body)
		require.Equal(f.t, "proj-1", gjson.GetBytes(body, "project").String())
		f.mu.Lock()
		f.prompts = append(f.prompts, gjson.GetBytes(body, "request.contents.0.parts.0.text").String())
		f.bearers = append(f.bearers, strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		f.mu.Unlock()
		if f.delay > 0 {
			time.Sleep(f.delay)
		}
		call := int(f.generateCall.Add(1))
		if f.generate != nil && f.generate(w, body, call) {
			return
		}
		_, _ = io.WriteString(w, `{"response":{"candidates":[{"content":{"parts":[{"text":"hello "},{"text":"world"}]}}]}}`)
	})
	return mux
}

func writeCreds(t *testing.T, creds map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "oauth_creds.json")
	data, err := json.Marshal(creds)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func newTestClient(t *testing.T, upstream *fakeUpstream, credsPath string, mutate func(*Options)) *Client {
	t.Helper()
	server := httptest.NewServer(upstream.handler())
	t.Cleanup(server.Close)
	opts := Options{
		HTTPClient:  server.Client(),
		Endpoint:    server.URL,
		TokenURL:    server.URL + "/token",
		Store:       credstore.NewStore(credsPath),
		Client:      OAuthClient{ID: "client-id", Secret: "client-secret"},
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
		BackoffCap:  5 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	client := New(opts)
	t.Cleanup(client.Close)
	return client
}

func expiredCreds() map[string]any {
	return map[string]any{
		"access_token":  "stale",
		"refresh_token": "refresh-1",
		"expiry_date":   time.Now().Add(-time.Hour).UnixMilli(),
		"custom_field":  "keep-me",
	}
}

func TestGenerateRefreshesAndPersists(t *testing.T) {
	upstream := &fakeUpstream{t: t}
	path := writeCreds(t, expiredCreds())
	client := newTestClient(t, upstream, path, nil)

	out, err := client.Generate(context.Background(), "hi", "gemini-2.5-flash")
	require.NoError(t, err)
	require.Equal(t, "hello world", out)
	require.Equal(t, int32(1), upstream.tokenCalls.Load())
	require.Equal(t, StateAuthenticated, client.State())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "fresh-token", gjson.GetBytes(data, "access_token").String())
	require.Equal(t, "refresh-1", gjson.GetBytes(data, "refresh_token").String())
	require.Equal(t, "keep-me", gjson.GetBytes(data, "custom_field").String())

	_, err = client.Generate(context.Background(), "again", "gemini-2.5-flash")
	require.NoError(t, err)
	require.Equal(t, int32(1), upstream.tokenCalls.Load())
	require.Equal(t, int32(1), upstream.projectCalls.Load())
}

func TestGenerateSerializesCalls(t *testing.T) {
	upstream := &fakeUpstream{t: t, delay: 20 * time.Millisecond}
	path := writeCreds(t, map[string]any{"access_token": "valid", "refresh_token": "r", "expiry_date": time.Now().Add(time.Hour).UnixMilli()})
	client := newTestClient(t, upstream, path, nil)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Generate(context.Background(), "p", "gemini-2.5-flash")
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), upstream.maxFlight.Load())
	require.Len(t, upstream.prompts, 6)
}

func TestQueuePreservesSubmissionOrder(t *testing.T) {
	q := newQueue()
	defer q.Close()

	release := make(chan struct{})
	var order []int
	var mu sync.Mutex
	first := make(chan struct{})
	go func() {
		_, _ = q.Do(context.Background(), func(context.Context) (string, error) {
			close(first)
			<-release
			return "", nil
		})
	}()
	<-first

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = q.Do(context.Background(), func(context.Context) (string, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return "", nil
			})
		}()
		require.Eventually(t, func() bool { return q.Len() == i+1 }, time.Second, time.Millisecond)
	}
	close(release)
	wg.Wait()
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestQueueSkipsCanceledCalls(t *testing.T) {
	q := newQueue()
	defer q.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = q.Do(context.Background(), func(context.Context) (string, error) {
			close(started)
			<-block
			return "", nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Do(ctx, func(context.Context) (string, error) {
			ran.Store(true)
			return "", nil
		})
		errCh <- err
	}()
	require.Eventually(t, func() bool { return q.Len() == 1 }, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
	close(block)

	out, err := q.Do(context.Background(), func(context.Context) (string, error) { return "after", nil })
	require.NoError(t, err)
	require.Equal(t, "after", out)
	require.False(t, ran.Load())
}

func TestGenerateRetriesRateLimit(t *testing.T) {
	upstream := &fakeUpstream{t: t}
	upstream.generate = func(w http.ResponseWriter, _ []byte, call int) bool {
		if call <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"error":{"message":"quota","details":[{"retryDelay":"0.001s"}]}}`)
			return true
		}
		return false
	}
	path := writeCreds(t, map[string]any{"access_token": "valid", "refresh_token": "r"})
	client := newTestClient(t, upstream, path, nil)

	out, err := client.Generate(context.Background(), "p", "gemini-2.5-flash")
	require.NoError(t, err)
	require.Equal(t, "hello world", out)
	require.Equal(t, int32(3), upstream.generateCall.Load())
}

func TestGenerateRateLimitBudgetExhausted(t *testing.T) {
	upstream := &fakeUpstream{t: t}
	upstream.generate = func(w http.ResponseWriter, _ []byte, _ int) bool {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"quota exhausted"}}`)
		return true
	}
	path := writeCreds(t, map[string]any{"access_token": "valid", "refresh_token": "r"})
	client := newTestClient(t, upstream, path, func(o *Options) { o.MaxRetries = 2 })

	_, err := client.Generate(context.Background(), "p", "gemini-2.5-flash")
	require.ErrorIs(t, err, domain.ErrUpstreamAPI)
	require.Contains(t, domain.MessageFrom(err), "quota exhausted")
	require.Equal(t, int32(3), upstream.generateCall.Load())
}

func TestGenerateDropsRejectedThinkingConfig(t *testing.T) {
	upstream := &fakeUpstream{t: t}
	var sawWithout atomic.Bool
	upstream.generate = func(w http.ResponseWriter, body []byte, _ int) bool {
		if gjson.GetBytes(body, "request.generationConfig.thinkingConfig").Exists() {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":{"message":"Budget 0 is invalid. This model only works in Thinking mode."}}`)
			return true
		}
		sawWithout.Store(true)
		return false
	}
	path := writeCreds(t, map[string]any{"access_token": "valid", "refresh_token": "r"})
	client := newTestClient(t, upstream, path, nil)

	out, err := client.Generate(context.Background(), "p", "gemini-2.5-pro")
	require.NoError(t, err)
	require.Equal(t, "hello world", out)
	require.True(t, sawWithout.Load())
	require.Equal(t, int32(2), upstream.generateCall.Load())
}

func TestGenerateOtherBadRequestFails(t *testing.T) {
	upstream := &fakeUpstream{t: t}
	upstream.generate = func(w http.ResponseWriter, _ []byte, _ int) bool {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad model"}}`)
		return true
	}
	path := writeCreds(t, map[string]any{"access_token": "valid", "refresh_token": "r"})
	client := newTestClient(t, upstream, path, nil)

	_, err := client.Generate(context.Background(), "p", "nope")
	require.ErrorIs(t, err, domain.ErrUpstreamAPI)
	require.Equal(t, "Gemini API error 400: bad model", domain.MessageFrom(err))
	require.Equal(t, int32(1), upstream.generateCall.Load())
}

func TestRefreshInvalidGrantResetsState(t *testing.T) {
	upstream := &fakeUpstream{t: t, tokenStatus: http.StatusBadRequest, tokenBody: `{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`}
	path := writeCreds(t, expiredCreds())
	client := newTestClient(t, upstream, path, nil)

	_, err := client.Generate(context.Background(), "p", "gemini-2.5-flash")
	require.ErrorIs(t, err, domain.ErrAuth)
	require.Contains(t, domain.MessageFrom(err), "invalid_grant")
	require.Equal(t, StateUninitialized, client.State())
}

func TestInvalidGrantRereadsCredentialsOnNextCall(t *testing.T) {
	upstream := &fakeUpstream{t: t, tokenStatus: http.StatusBadRequest, tokenBody: `{"error":"invalid_grant"}`}
	path := writeCreds(t, expiredCreds())
	client := newTestClient(t, upstream, path, nil)

	_, err := client.Generate(context.Background(), "p", "gemini-2.5-flash")
	require.ErrorIs(t, err, domain.ErrAuth)
	require.Equal(t, StateUninitialized, client.State())

	// The user signs in again with the CLI, which rewrites the file.
	data, err := json.Marshal(map[string]any{
		"access_token":  "relogin-token",
		"refresh_token": "refresh-2",
		"expiry_date":   time.Now().Add(time.Hour).UnixMilli(),
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	out, err := client.Generate(context.Background(), "again", "gemini-2.5-flash")
	require.NoError(t, err)
	require.Equal(t, "hello world", out)
	require.Equal(t, StateAuthenticated, client.State())
	require.Equal(t, int32(1), upstream.tokenCalls.Load())

	upstream.mu.Lock()
	defer upstream.mu.Unlock()
	require.Equal(t, []string{"relogin-token"}, upstream.bearers)
}

func TestRefreshTransientFailureKeepsState(t *testing.T) {
	upstream := &fakeUpstream{t: t, tokenStatus: http.StatusInternalServerError, tokenBody: `{"error":"backend_error"}`}
	path := writeCreds(t, expiredCreds())
	client := newTestClient(t, upstream, path, nil)

	_, err := client.Generate(context.Background(), "p", "gemini-2.5-flash")
	require.ErrorIs(t, err, domain.ErrAuth)
	require.Equal(t, StateAuthenticated, client.State())
}

func TestRefreshPersistFailureDoesNotFailCall(t *testing.T) {
	upstream := &fakeUpstream{t: t}
	dir := t.TempDir()
	path := filepath.Join(dir, "creds.json")
	data, err := json.Marshal(expiredCreds())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	client := newTestClient(t, upstream, path, nil)
	require.NoError(t, client.CheckCredentials(context.Background()))

	// Replace the file with a directory so the atomic rename fails.
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.Mkdir(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "block"), nil, 0o644))

	out, err := client.Generate(context.Background(), "p", "gemini-2.5-flash")
	require.NoError(t, err)
	require.Equal(t, "hello world", out)
}

func TestCheckCredentials(t *testing.T) {
	upstream := &fakeUpstream{t: t}
	client := newTestClient(t, upstream, filepath.Join(t.TempDir(), "missing.json"), nil)
	err := client.CheckCredentials(context.Background())
	require.ErrorIs(t, err, domain.ErrToolUnavailable)
	require.Contains(t, domain.MessageFrom(err), "credentials not found")

	path := writeCreds(t, map[string]any{"refresh_token": "r"})
	noClient := newTestClient(t, upstream, path, func(o *Options) { o.Client = OAuthClient{} })
	err = noClient.CheckCredentials(context.Background())
	require.ErrorIs(t, err, domain.ErrAuth)

	withFileClient := writeCreds(t, map[string]any{"refresh_token": "r", "client_id": "a", "client_secret": "b"})
	fileClient := newTestClient(t, upstream, withFileClient, func(o *Options) { o.Client = OAuthClient{} })
	require.NoError(t, fileClient.CheckCredentials(context.Background()))
}

type pathResolver struct {
	path string
}

func (r pathResolver) Resolve(context.Context, string) (string, error) {
	return r.path, nil
}

func TestDiscoverOAuthClient(t *testing.T) {
	root := t.TempDir()
	bin := filepath.Join(root, "bin", "gemini")
	require.NoError(t, os.MkdirAll(filepath.Dir(bin), 0o755))
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))
	module := filepath.Join(root, "lib", "node_modules", "@google", "gemini-cli", "node_modules", "@google", "gemini-cli-core", "dist", "src", "code_assist", "oauth2.js")
	require.NoError(t, os.MkdirAll(filepath.Dir(module), 0o755))
	source := strings.Join([]string{
		"const OAUTH_CLIENT_ID = '123-abc.apps.googleusercontent.com';",
		`const OAUTH_CLIENT_SECRET = "shh";`,
	}, "\n")
	require.NoError(t, os.WriteFile(module, []byte(source), 0o644))

	client, ok := discoverOAuthClient(context.Background(), pathResolver{path: bin}, "gemini")
	require.True(t, ok)
	require.Equal(t, OAuthClient{ID: "123-abc.apps.googleusercontent.com", Secret: "shh"}, client)

	_, ok = discoverOAuthClient(context.Background(), pathResolver{path: filepath.Join(t.TempDir(), "gemini")}, "gemini")
	require.False(t, ok)
}

func TestBackoffDelay(t *testing.T) {
	b := newBackoff(time.Second, 5*time.Second)
	require.Equal(t, time.Second, b.delay(0, 0))
	require.Equal(t, 3*time.Second, b.delay(2, 0))
	require.Equal(t, 4*time.Second, b.delay(0, 4*time.Second))
	require.Equal(t, 5*time.Second, b.delay(9, 0))
	require.Equal(t, 5*time.Second, b.delay(0, time.Minute))
}

func TestRetryHint(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", "7")
	require.Equal(t, 7*time.Second, retryHint(header, nil))

	body := []byte(`{"error":{"details":[{"@type":"x"},{"retryDelay":"1.5s"}]}}`)
	require.Equal(t, 1500*time.Millisecond, retryHint(http.Header{}, body))
	require.Zero(t, retryHint(http.Header{}, []byte(`{}`)))
}

func TestExtractTextSkipsThoughts(t *testing.T) {
	out, err := extractText([]byte(`{"candidates":[{"content":{"parts":[{"text":"plan","thought":true},{"text":"answer"}]}}]}`))
	require.NoError(t, err)
	require.Equal(t, "answer", out)

	_, err = extractText([]byte(`{"response":{"candidates":[{"finishReason":"SAFETY"}]}}`))
	require.ErrorIs(t, err, domain.ErrUpstreamAPI)
	require.Contains(t, domain.MessageFrom(err), "SAFETY")
}
