// Package transport is the certificate-pinned HTTP client for the upstream
// payment API: connectivity gate, per-endpoint rate limiting, bearer auth
// with single-flight refresh, signed security headers, retry with backoff
// and a short-lived GET cache.
package transport

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"walletd/internal/domain"
	"walletd/internal/infra/certpin"
	cryptoinfra "walletd/internal/infra/crypto"
	"walletd/internal/infra/session"

	"gopkg.in/retry.v1"
)

type Request struct {
	Method       string
	Path         string
	Query        url.Values
	Body         any
	RequiresAuth bool
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) Decode(out any) error {
	return json.Unmarshal(r.Body, out)
}

type ClientConfig struct {
	BaseURL          string
	Validator        *certpin.Validator
	Limiter          domain.RateLimiter
	MinInterval      time.Duration
	Tokens           *session.TokenSource
	Codec            *cryptoinfra.Codec
	Connectivity     Connectivity
	MaxRetries       int
	RetryBaseDelay   time.Duration
	RequestTimeout   time.Duration
	ResponseCacheTTL time.Duration
	Recorder         domain.SecurityRecorder
	Clock            func() time.Time

	// HTTPClient overrides the pinned client; tests use httptest clients.
	HTTPClient *http.Client
}

type Client struct {
	base        *url.URL
	http        *http.Client
	limiter     domain.RateLimiter
	minInterval time.Duration
	tokens      *session.TokenSource
	signer      *Signer
	conn        Connectivity
	cache       *responseCache
	recorder    domain.SecurityRecorder
	clock       func() time.Time
	maxRetries  int
	baseDelay   time.Duration
}

func NewClient(cfg ClientConfig) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.ResponseCacheTTL <= 0 {
		cfg.ResponseCacheTTL = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
		if base.Scheme == "https" && cfg.Validator != nil {
			httpClient.Transport = pinnedTransport(cfg.Validator)
		}
	}
	return &Client{
		base:        base,
		http:        httpClient,
		limiter:     cfg.Limiter,
		minInterval: cfg.MinInterval,
		tokens:      cfg.Tokens,
		signer:      NewSigner(cfg.Codec, cfg.Clock),
		conn:        cfg.Connectivity,
		cache:       newResponseCache(cfg.ResponseCacheTTL, cfg.Clock),
		recorder:    cfg.Recorder,
		clock:       cfg.Clock,
		maxRetries:  cfg.MaxRetries,
		baseDelay:   cfg.RetryBaseDelay,
	}, nil
}

// pinnedTransport delegates every TLS handshake to the pinning validator.
func pinnedTransport(validator *certpin.Validator) *http.Transport {
	return &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, portStr, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			port, _ := strconv.Atoi(portStr)
			dialer := tls.Dialer{Config: validator.TLSConfig(host, port)}
			return dialer.DialContext(ctx, network, addr)
		},
	}
}

// Do runs the full pipeline for one logical call. Transient failures
// (transport errors, 5xx) are retried with exponential backoff up to the
// budget; 4xx fail immediately, with 401 additionally clearing the session.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if c.conn != nil && !c.conn.Online(ctx) {
		return nil, domain.ErrConnectivity
	}

	if c.limiter != nil && c.minInterval > 0 {
		decision, err := c.limiter.Allow(ctx, "endpoint:"+req.Path, 1, c.minInterval)
		switch {
		case err != nil:
			// A limiter backend outage fails open; record it so the
			// degradation is visible in the audit trail.
			if c.recorder != nil {
				c.recorder.Record(ctx, domain.SecurityEvent{
					EventType: domain.EventRateLimiterUnavailable,
					Details:   map[string]any{"endpoint": req.Path, "error": err.Error()},
				})
			}
		case !decision.Allowed:
			return nil, fmt.Errorf("endpoint %s: %w", req.Path, domain.ErrRateLimited)
		}
	}

	var bodyBytes []byte
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		bodyBytes = encoded
	}
	key := cacheKey(req.Path, req.Query, hashBody(bodyBytes))

	if req.Method == http.MethodGet {
		// Cache hits skip the auth-freshness step. Only display data
		// (methods, wallets, rates) is cached, and entries expire on the
		// short TTL even if the session is cleared in between.
		if cached, ok := c.cache.get(key); ok {
			return cached, nil
		}
	}

	bearer := ""
	if req.RequiresAuth {
		if c.tokens == nil {
			return nil, fmt.Errorf("endpoint %s requires auth but no token source is configured", req.Path)
		}
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
		bearer = token
	}

	strategy := retry.LimitCount(c.maxRetries+1, retry.Exponential{
		Initial: c.baseDelay,
		Factor:  2,
	})
	start := c.clock()
	attempts := 0
	var lastErr error

	for attempt := retry.StartWithCancel(strategy, nil, ctx.Done()); attempt.Next(); {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attempts++

		resp, err := c.attempt(ctx, req, bodyBytes, bearer)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = apiError(resp)
			continue
		}
		if resp.StatusCode == http.StatusUnauthorized {
			if c.tokens != nil {
				c.tokens.Clear(ctx)
			}
			return nil, apiError(resp)
		}
		if resp.StatusCode >= 400 {
			return nil, apiError(resp)
		}

		switch req.Method {
		case http.MethodGet:
			c.cache.put(key, *resp)
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			c.cache.invalidate(key)
		}
		return resp, nil
	}

	elapsed := c.clock().Sub(start)
	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return nil, fmt.Errorf("%s %s failed after %d attempts in %s: %w",
		req.Method, req.Path, attempts, elapsed.Round(time.Millisecond), lastErr)
}

func (c *Client) attempt(ctx context.Context, req Request, body []byte, bearer string) (*Response, error) {
	target := *c.base
	target.Path = strings.TrimRight(target.Path, "/") + req.Path
	if req.Query != nil {
		target.RawQuery = req.Query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+bearer)
	}
	if err := c.signer.Apply(ctx, httpReq); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       payload,
	}, nil
}

// Refresh implements session.Refresher against POST /auth/refresh. The
// request deliberately skips RequiresAuth: it authenticates with the refresh
// token itself.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (domain.AuthSession, error) {
	resp, err := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "/auth/refresh",
		Body:   map[string]string{"refresh_token": refreshToken},
	})
	if err != nil {
		return domain.AuthSession{}, err
	}
	var out struct {
		Token        string `json:"token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresAt    int64  `json:"expires_at"`
	}
	if err := resp.Decode(&out); err != nil {
		return domain.AuthSession{}, fmt.Errorf("decode refresh response: %w", err)
	}
	sessionOut := domain.AuthSession{
		Token:        out.Token,
		RefreshToken: out.RefreshToken,
		IssuedAt:     c.clock().UTC(),
	}
	if out.ExpiresAt > 0 {
		sessionOut.ExpiresAt = time.Unix(out.ExpiresAt, 0).UTC()
	}
	return sessionOut, nil
}

func apiError(resp *Response) *domain.APIError {
	apiErr := &domain.APIError{StatusCode: resp.StatusCode}
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp.Body, &body); err == nil {
		apiErr.Code = body.Code
		apiErr.Message = body.Message
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

func hashBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
