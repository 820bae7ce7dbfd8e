// Package lwa exchanges a long-lived refresh token for short-lived access tokens.
package lwa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rpattn/marketsync/internal/domain"
)

const (
	DefaultTokenURL     = "https://api.amazon.com/auth/o2/token"
	DefaultLifetime     = 60 * time.Minute
	DefaultSafetyBuffer = 5 * time.Minute
)

// Credentials identify the application and the seller authorization.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

type accessToken struct {
	value     string
	expiresAt time.Time
}

// TokenManager caches one access token and refreshes it when it expires.
// The mutex is held across the exchange so concurrent callers share a single refresh.
type TokenManager struct {
	creds    Credentials
	client   *http.Client
	tokenURL string
	lifetime time.Duration
	buffer   time.Duration
	logger   *slog.Logger
	nowFunc  func() time.Time

	mu     sync.Mutex
	cached *accessToken
}

// Option customises a TokenManager.
type Option func(*TokenManager)

func WithHTTPClient(client *http.Client) Option {
	return func(m *TokenManager) {
		if client != nil {
			m.client = client
		}
	}
}

func WithTokenURL(tokenURL string) Option {
	return func(m *TokenManager) {
		if strings.TrimSpace(tokenURL) != "" {
			m.tokenURL = tokenURL
		}
	}
}

// WithLifetime overrides the assumed token lifetime and the early-refresh buffer.
func WithLifetime(lifetime, buffer time.Duration) Option {
	return func(m *TokenManager) {
		if lifetime > 0 {
			m.lifetime = lifetime
		}
		if buffer >= 0 {
			m.buffer = buffer
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *TokenManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *TokenManager) {
		if now != nil {
			m.nowFunc = now
		}
	}
}

// NewTokenManager returns a manager for the given credentials.
func NewTokenManager(creds Credentials, opts ...Option) *TokenManager {
	m := &TokenManager{
		creds:    creds,
		client:   &http.Client{Timeout: 30 * time.Second},
		tokenURL: DefaultTokenURL,
		lifetime: DefaultLifetime,
		buffer:   DefaultSafetyBuffer,
		logger:   slog.Default(),
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Token returns a valid access token, refreshing it when the cached one has expired.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFunc()
	if m.cached != nil && now.Before(m.cached.expiresAt) {
		return m.cached.value, nil
	}

	token, err := m.exchange(ctx, now)
	if err != nil {
		return "", err
	}
	m.cached = token
	return token.value, nil
}

// Invalidate drops the cached token so the next call performs a fresh exchange.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	m.cached = nil
	m.mu.Unlock()
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (m *TokenManager) exchange(ctx context.Context, now time.Time) (*accessToken, error) {
	if m.creds.ClientID == "" || m.creds.ClientSecret == "" || m.creds.RefreshToken == "" {
		return nil, &domain.AuthError{Err: errors.New("client id, client secret and refresh token are required")}
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {m.creds.RefreshToken},
		"client_id":     {m.creds.ClientID},
		"client_secret": {m.creds.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &domain.AuthError{Err: fmt.Errorf("failed to build token request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=UTF-8")
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Error("token exchange failed", "url", m.tokenURL, "error", err)
		return nil, &domain.AuthError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &domain.AuthError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read token response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		m.logger.Error("token exchange rejected", "url", m.tokenURL, "status", resp.StatusCode)
		return nil, &domain.AuthError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var payload tokenResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &domain.AuthError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode token response: %w", err)}
	}
	if payload.AccessToken == "" {
		return nil, &domain.AuthError{StatusCode: resp.StatusCode, Err: errors.New("token response has no access_token")}
	}

	lifetime := m.lifetime
	if payload.ExpiresIn > 0 {
		lifetime = time.Duration(payload.ExpiresIn) * time.Second
	}
	expiresAt := now.Add(lifetime - m.buffer)
	m.logger.Debug("access token refreshed", "expires_at", expiresAt)

	return &accessToken{value: payload.AccessToken, expiresAt: expiresAt}, nil
}
