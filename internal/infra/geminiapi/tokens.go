package geminiapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"cliproxy/internal/domain"
	"cliproxy/internal/infra/credstore"
	"cliproxy/internal/infra/telemetry"
)

// AuthState is the token manager lifecycle state.
type AuthState string

const (
	StateUninitialized    AuthState = "uninitialized"
	StateAuthenticated    AuthState = "authenticated"
	StateReauthenticating AuthState = "reauthenticating"
)

// expirySkew refreshes tokens slightly before they expire.
const expirySkew = time.Minute

// unrecoverableGrantErrors force credentials and client identity to be
// re-derived from disk on the next call.
var unrecoverableGrantErrors = map[string]struct{}{
	"invalid_grant":       {},
	"invalid_client":      {},
	"unauthorized_client": {},
}

type tokenManager struct {
	logger     *zap.Logger
	store      *credstore.Store
	tokenURL   string
	configured OAuthClient
	discover   func(context.Context) (OAuthClient, bool)
	httpClient *http.Client
	metrics    domain.Metrics
	now        func() time.Time

	mu     sync.Mutex
	state  AuthState
	creds  credstore.Credentials
	client OAuthClient
}

// State reports the current lifecycle state.
func (m *tokenManager) State() AuthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reset drops loaded credentials; the next call reloads them from disk.
func (m *tokenManager) Reset() {
	m.mu.Lock()
	m.state = StateUninitialized
	m.creds = credstore.Credentials{}
	m.client = OAuthClient{}
	m.mu.Unlock()
}

// Expire marks the cached access token stale so the next call refreshes.
func (m *tokenManager) Expire() {
	m.mu.Lock()
	if m.state == StateAuthenticated {
		m.creds.ExpiryDate = 1
	}
	m.mu.Unlock()
}

// Check loads credentials without refreshing them.
func (m *tokenManager) Check(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initLocked(ctx)
}

// AccessToken returns a valid access token, refreshing it when needed.
func (m *tokenManager) AccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.initLocked(ctx); err != nil {
		return "", err
	}
	if m.validLocked() {
		return m.creds.AccessToken, nil
	}
	return m.refreshLocked(ctx)
}

func (m *tokenManager) initLocked(ctx context.Context) error {
	if m.state != StateUninitialized {
		return nil
	}
	creds, err := m.store.Load()
	if err != nil {
		if credstore.IsNotExist(err) {
			return domain.Errorf(domain.CodeToolUnavailable, "geminiapi.init",
				"Gemini OAuth credentials not found at %s. Run `gemini` once to sign in.", m.store.Path())
		}
		return domain.E(domain.CodeAuthError, "geminiapi.init", "Failed to read Gemini OAuth credentials", err)
	}
	client := m.resolveClient(ctx, creds)
	if !client.complete() {
		return domain.E(domain.CodeAuthError, "geminiapi.init",
			"Gemini OAuth client id/secret not found. Set geminiApi.clientId and geminiApi.clientSecret.", nil)
	}
	m.creds = creds
	m.client = client
	m.state = StateAuthenticated
	m.logger.Debug("credentials loaded", zap.String("path", m.store.Path()))
	return nil
}

// resolveClient prefers the credential file, then explicit configuration,
// then the installed CLI's embedded constants.
func (m *tokenManager) resolveClient(ctx context.Context, creds credstore.Credentials) OAuthClient {
	client := OAuthClient{ID: strings.TrimSpace(creds.ClientID), Secret: strings.TrimSpace(creds.ClientSecret)}
	if client.complete() {
		return client
	}
	if m.configured.complete() {
		return m.configured
	}
	if m.discover != nil {
		if found, ok := m.discover(ctx); ok {
			m.logger.Debug("oauth client discovered from installed gemini cli")
			return found
		}
	}
	return OAuthClient{}
}

func (m *tokenManager) validLocked() bool {
	if m.creds.AccessToken == "" {
		return false
	}
	expiry := m.creds.Expiry()
	return expiry.IsZero() || m.now().Add(expirySkew).Before(expiry)
}

func (m *tokenManager) refreshLocked(ctx context.Context) (string, error) {
	if m.creds.RefreshToken == "" {
		m.state = StateUninitialized
		return "", domain.E(domain.CodeAuthError, "geminiapi.refresh", "Gemini OAuth refresh token missing. Sign in with `gemini` again.", nil)
	}
	m.state = StateReauthenticating

	cfg := oauth2.Config{
		ClientID:     m.client.ID,
		ClientSecret: m.client.Secret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  m.tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	if m.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	}
	token, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: m.creds.RefreshToken}).Token()
	if err != nil {
		m.metrics.RecordTokenRefresh(toolID, false)
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			if _, fatal := unrecoverableGrantErrors[retrieveErr.ErrorCode]; fatal {
				m.state = StateUninitialized
				m.creds = credstore.Credentials{}
				m.client = OAuthClient{}
				m.logger.Warn("token refresh rejected; credentials will be reloaded",
					telemetry.EventField(telemetry.EventTokenRefresh),
					zap.String("error_code", retrieveErr.ErrorCode))
				return "", domain.E(domain.CodeAuthError, "geminiapi.refresh",
					"Gemini OAuth refresh failed ("+retrieveErr.ErrorCode+"). Sign in with `gemini` again.", err)
			}
		}
		m.state = StateAuthenticated
		authErr := domain.E(domain.CodeAuthError, "geminiapi.refresh", "Gemini OAuth token refresh failed", err)
		authErr.Retryable = true
		return "", authErr
	}
	m.metrics.RecordTokenRefresh(toolID, true)

	m.creds.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		m.creds.RefreshToken = token.RefreshToken
	}
	if token.TokenType != "" {
		m.creds.TokenType = token.TokenType
	}
	if idToken, ok := token.Extra("id_token").(string); ok && idToken != "" {
		m.creds.IDToken = idToken
	}
	if scope, ok := token.Extra("scope").(string); ok && scope != "" {
		m.creds.Scope = scope
	}
	m.creds.SetExpiry(token.Expiry)
	m.state = StateAuthenticated

	if err := m.store.Save(m.creds); err != nil {
		m.logger.Warn("persist refreshed token failed", zap.Error(err))
	} else {
		m.logger.Debug("refreshed token persisted",
			telemetry.EventField(telemetry.EventTokenRefresh),
			zap.Time("expiry", token.Expiry))
	}
	return m.creds.AccessToken, nil
}
