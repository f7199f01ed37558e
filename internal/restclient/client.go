// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package restclient is the chat service's REST API client: retries with
// classification and backoff, a TLS-hardened transport, and a
// thundering-herd-safe cached user directory.
package restclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/kaelindev/driftline/internal/logging"
)

const (
	// DefaultBaseURL is the chat service's REST API root.
	DefaultBaseURL = "https://api.chat.example.com"

	// DefaultTimeout bounds any single HTTP round trip.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxAttempts is the number of tries (1 initial + retries) for
	// a transient failure before the caller sees an error.
	DefaultMaxAttempts = 3

	retryBaseDelay = time.Second
	retryMaxDelay  = 4 * time.Second

	// maxResponseBytes caps how much of a response body is read, guarding
	// against an unbounded or malicious response.
	maxResponseBytes = 10 << 20

	// defaultRequestsPerSecond paces outbound calls below the chat
	// service's documented per-method rate limit, so the retry
	// combinator's rate-limit branch is rarely exercised in practice.
	defaultRequestsPerSecond = 3
	defaultBurst             = 5
)

// approvedCipherSuites restricts negotiated TLS 1.2 connections to
// AEAD cipher suites, matching the set most hardened HTTP clients in
// this codebase's lineage pin to. TLS 1.3 suite selection is handled by
// the runtime and is not configurable here.
var approvedCipherSuites = []uint16{
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
}

func newHardenedHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion:   tls.VersionTLS12,
			CipherSuites: approvedCipherSuites,
		},
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

// Client is the chat service REST API client bound to one workspace's
// bot token.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	token       string
	maxAttempts int
	log         *logging.Logger
	limiter     *rate.Limiter

	cache *userCache
}

// New constructs a Client authenticated with token.
func New(token string, opts ...Option) *Client {
	c := &Client{
		httpClient:  newHardenedHTTPClient(DefaultTimeout),
		baseURL:     DefaultBaseURL,
		token:       token,
		maxAttempts: DefaultMaxAttempts,
		log:         logging.Default("restclient"),
		limiter:     rate.NewLimiter(rate.Limit(defaultRequestsPerSecond), defaultBurst),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cache = newUserCache(c)
	return c
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API root, mainly for tests against an
// httptest.Server.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient overrides the underlying *http.Client entirely.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger overrides the default logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithRateLimit overrides the client-side pacing limiter. A nil limiter
// disables pacing entirely, mainly for tests that expect an exact call
// count with no induced delay.
func WithRateLimit(limiter *rate.Limiter) Option {
	return func(c *Client) { c.limiter = limiter }
}

// TokenMasked returns a redacted form of the bound token for logging.
func (c *Client) TokenMasked() string {
	return logging.Redacted(c.token)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	req.Header.Set("User-Agent", "driftline/1.0")
}

// doWithRetry classifies each failure and retries transient ones with
// exponential backoff plus jitter. Terminal failures (auth, validation)
// return immediately. Rate limiting waits the server-specified duration
// rather than the computed backoff.
func (c *Client) doWithRetry(ctx context.Context, buildReq func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("restclient: build request: %w", err)
		}
		c.setHeaders(req)

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
			}
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		c.logRequest(req, resp, time.Since(start), err)

		var bodyRateLimited bool
		if err == nil && resp.StatusCode < 500 {
			bodyRateLimited, err = peekRateLimitedBody(resp)
			if err != nil {
				resp.Body.Close()
				return nil, fmt.Errorf("restclient: read response body: %w", err)
			}
		}

		if err == nil && resp.StatusCode < 500 && resp.StatusCode != 429 && !bodyRateLimited {
			return resp, nil
		}

		var classified error
		if bodyRateLimited && resp.StatusCode != 429 {
			classified = &RateLimitedError{RetryAfterSeconds: 1}
		} else {
			classified = classifyResponse(resp, err)
		}
		lastErr = classified

		if !isRetryable(classified) || attempt == c.maxAttempts-1 {
			if resp != nil {
				resp.Body.Close()
			}
			return nil, classified
		}
		if resp != nil {
			resp.Body.Close()
		}

		wait := backoffDelay(attempt)
		if rl, ok := classified.(*RateLimitedError); ok {
			wait = time.Duration(rl.RetryAfterSeconds) * time.Second
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	return nil, lastErr
}

// classifyResponse maps a transport error or HTTP status code onto the
// package's sentinel error taxonomy.
func classifyResponse(resp *http.Response, err error) error {
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	switch {
	case resp.StatusCode == 401 || resp.StatusCode == 403:
		return fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	case resp.StatusCode == 429:
		retryAfter := 1
		if h := resp.Header.Get("Retry-After"); h != "" {
			fmt.Sscanf(h, "%d", &retryAfter)
		}
		return &RateLimitedError{RetryAfterSeconds: retryAfter}
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrServer, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: status %d", ErrValidation, resp.StatusCode)
	default:
		return nil
	}
}

// rateLimitedBodyErrors are the body-level `error` values the chat
// service uses to signal rate limiting on a non-429 response, mirroring
// the substring classification in the crate this retry logic is
// grounded on.
var rateLimitedBodyErrors = map[string]bool{
	"rate_limited": true,
	"ratelimited":  true,
}

// apiEnvelope is the minimal shape shared by every JSON response from
// the chat service's REST API: an ok flag and, on failure, an error
// code.
type apiEnvelope struct {
	OK    *bool  `json:"ok"`
	Error string `json:"error"`
}

// peekRateLimitedBody reads resp's body looking for the service's
// body-level rate-limit signal, then restores the body so the caller's
// own decode still sees the full bytes. A response whose body cannot be
// parsed as an envelope, or that exceeds maxResponseBytes, is treated as
// not rate limited here; readBody's own size check still applies to it
// downstream.
func peekRateLimitedBody(resp *http.Response) (bool, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	resp.Body.Close()
	if err != nil {
		return false, fmt.Errorf("read response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))

	if len(data) > maxResponseBytes {
		return false, nil
	}

	var env apiEnvelope
	if json.Unmarshal(data, &env) != nil {
		return false, nil
	}
	return env.OK != nil && !*env.OK && rateLimitedBodyErrors[env.Error], nil
}

// backoffDelay returns the exponential-backoff wait for attempt (0-based)
// with up to 500ms of jitter, capped at retryMaxDelay.
func backoffDelay(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	jitter := time.Duration(rand.Intn(500)) * time.Millisecond
	return delay + jitter
}

func (c *Client) logRequest(req *http.Request, resp *http.Response, dur time.Duration, err error) {
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if err != nil {
		c.log.Warn("%s %s -> error: %v (%s)", req.Method, req.URL.Path, err, dur)
		return
	}
	c.log.Debug("%s %s -> %d (%s)", req.Method, req.URL.Path, status, dur)
}

// newJSONRequest builds a request with an optional JSON body, without
// setting auth headers (doWithRetry's caller adds those per attempt).
func newJSONRequest(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	return http.NewRequestWithContext(ctx, method, url, reader)
}

// readBody reads resp.Body up to maxResponseBytes, rejecting a body that
// was truncated by the limit.
func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	limited := io.LimitReader(resp.Body, maxResponseBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("restclient: read response body: %w", err)
	}
	if len(data) > maxResponseBytes {
		return nil, fmt.Errorf("restclient: response body exceeded %d bytes", maxResponseBytes)
	}
	return data, nil
}
