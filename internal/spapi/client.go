// Package spapi talks to the Selling Partner REST API with signed, token-authenticated calls.
package spapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rpattn/marketsync/internal/domain"
	"github.com/rpattn/marketsync/internal/sigv4"
)

const (
	HeaderAccessToken = "x-amz-access-token"
	HeaderUserAgent   = "user-agent"

	DefaultUserAgent = "marketsync/1.0 (Language=Go)"
	maxErrorBody     = 64 << 10
)

// TokenSource hands out bearer access tokens.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type invalidator interface {
	Invalidate()
}

// Operation names used to pick a rate limiter.
const (
	OperationCreateReport         = "createReport"
	OperationGetReport            = "getReport"
	OperationGetReportDocument    = "getReportDocument"
	OperationCreateReportSchedule = "createReportSchedule"
)

// RateLimit is the token bucket of one operation.
type RateLimit struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultRateLimits are the published Reports API quotas.
var DefaultRateLimits = map[string]RateLimit{
	OperationCreateReport:         {RequestsPerSecond: 0.0167, Burst: 15},
	OperationGetReport:            {RequestsPerSecond: 2, Burst: 15},
	OperationGetReportDocument:    {RequestsPerSecond: 0.0167, Burst: 15},
	OperationCreateReportSchedule: {RequestsPerSecond: 0.0222, Burst: 10},
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL overrides https://<endpoint host>, mainly for tests.
	BaseURL   string
	Endpoint  Endpoint
	UserAgent string
	// RequestsPerSecond and Burst limit Send calls that name no operation.
	RequestsPerSecond float64
	Burst             int
	// RateLimits overrides DefaultRateLimits. An empty non-nil map disables them.
	RateLimits map[string]RateLimit
	HTTPClient *http.Client
}

// Client composes one authenticated HTTP call per Send.
type Client struct {
	baseURL   *url.URL
	userAgent string
	http      *http.Client
	tokens    TokenSource
	signer    *sigv4.Signer
	limiter   *rate.Limiter
	limiters  map[string]*rate.Limiter
	logger    *slog.Logger
	nowFunc   func() time.Time
}

// NewClient wires a token source and signer into an API client.
func NewClient(cfg ClientConfig, tokens TokenSource, signer *sigv4.Signer, logger *slog.Logger) (*Client, error) {
	if tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	if signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		if cfg.Endpoint.Host == "" {
			return nil, fmt.Errorf("endpoint host or base url is required")
		}
		raw = "https://" + cfg.Endpoint.Host
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = DefaultUserAgent
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	limits := cfg.RateLimits
	if limits == nil {
		limits = DefaultRateLimits
	}
	limiters := make(map[string]*rate.Limiter, len(limits))
	for op, limit := range limits {
		if l := newLimiter(limit); l != nil {
			limiters[op] = l
		}
	}

	return &Client{
		baseURL:   base,
		userAgent: ua,
		http:      httpClient,
		tokens:    tokens,
		signer:    signer,
		limiter:   limiter,
		logger:    logger,
		nowFunc:   time.Now,
	}, nil
}

func newLimiter(limit RateLimit) *rate.Limiter {
	if limit.RequestsPerSecond <= 0 {
		return nil
	}
	burst := limit.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(limit.RequestsPerSecond), burst)
}

func (c *Client) limiterFor(operation string) *rate.Limiter {
	if l, ok := c.limiters[operation]; ok {
		return l
	}
	return c.limiter
}

// Send performs one signed call and decodes the JSON response into out (when non-nil).
// Non-2xx responses and transport failures are returned as *domain.NetworkError.
func (c *Client) Send(ctx context.Context, method, endpoint string, query url.Values, body any, out any) error {
	return c.send(ctx, "", method, endpoint, query, body, out)
}

func (c *Client) send(ctx context.Context, operation, method, endpoint string, query url.Values, body any, out any) error {
	if limiter := c.limiterFor(operation); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return &domain.NetworkError{Method: method, Endpoint: endpoint, Err: err}
		}
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s %s body: %w", method, endpoint, err)
		}
	}

	target := *c.baseURL
	target.Path = c.baseURL.Path + endpoint
	target.RawQuery = sigv4.EncodeQuery(query)

	signed, err := c.signer.Sign(sigv4.Input{
		Method: method,
		Host:   target.Host,
		Path:   target.Path,
		Query:  query,
		Headers: map[string]string{
			HeaderAccessToken: token,
			HeaderUserAgent:   c.userAgent,
		},
		Body: payload,
		Time: c.nowFunc(),
	})
	if err != nil {
		return err
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to build %s %s request: %w", method, endpoint, err)
	}
	for name, value := range signed.Headers {
		if name == sigv4.HeaderHost {
			continue
		}
		req.Header.Set(name, value)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("selling partner call failed", "method", method, "endpoint", endpoint, "error", err)
		return &domain.NetworkError{Method: method, Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Error("selling partner call rejected",
			"method", method,
			"endpoint", endpoint,
			"status", resp.StatusCode,
			"request_id", resp.Header.Get("x-amzn-RequestId"),
			"duration", time.Since(start),
		)
		if resp.StatusCode == http.StatusForbidden {
			if inv, ok := c.tokens.(invalidator); ok {
				inv.Invalidate()
			}
		}
		return &domain.NetworkError{Method: method, Endpoint: endpoint, StatusCode: resp.StatusCode, Body: string(raw)}
	}

	c.logger.Debug("selling partner call", "method", method, "endpoint", endpoint, "status", resp.StatusCode, "duration", time.Since(start))

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.NetworkError{Method: method, Endpoint: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}
