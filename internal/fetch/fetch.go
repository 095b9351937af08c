// Package fetch implements Throttled Fetch: the HTTP/2 client used for all
// outbound CodeAssist calls. Every request is preceded by a small
// Gaussian-distributed delay (so traffic doesn't arrive in suspiciously
// regular intervals) and wrapped in a bounded retry loop for transient
// network failures and retriable 5xx responses.
package fetch

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/antigravity-core/antigravity-proxy-go/internal/config"
	proxyerrors "github.com/antigravity-core/antigravity-proxy-go/internal/errors"
	"github.com/antigravity-core/antigravity-proxy-go/internal/utils"
)

// Options controls a single Do call.
type Options struct {
	Method  string
	Headers map[string]string
	Body    []byte

	// MaxRetries bounds retries of transient failures; the total number of
	// attempts is MaxRetries+1. Zero means the package default
	// (config.FetchMaxRetries); negative disables retries entirely.
	MaxRetries int
}

// Response is the raw result of a Do call.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// retriableStatuses are the upstream statuses worth retrying in place. 429
// is deliberately absent: a rate limit is surfaced to the caller so the
// Account Pool can switch accounts instead of hammering the same one.
var retriableStatuses = map[int]bool{
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Client is a shared HTTP/2 client for outbound CodeAssist traffic.
type Client struct {
	httpClient *http.Client

	// throttleEnabled/baseDelayMs parameterize the Gaussian pre-request
	// delay; populated from config at construction.
	throttleEnabled bool
	baseDelayMs     float64

	// backoffMs computes the retry backoff; swapped out in tests.
	backoffMs func(attempt int) int64
}

// New builds a Client with an explicit HTTP/2 transport and a generous
// timeout for long-running generation calls. Throttling behavior follows
// the process configuration.
func New(timeout time.Duration) *Client {
	transport := &http2.Transport{
		TLSClientConfig: &tls.Config{},
		DialTLSContext: func(ctx context.Context, network, addr string, cfg *tls.Config) (net.Conn, error) {
			d := &net.Dialer{Timeout: 10 * time.Second}
			return tls.DialWithDialer(d, network, addr, cfg)
		},
	}
	cfg := config.Get()
	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		throttleEnabled: cfg.RequestThrottlingEnabled,
		baseDelayMs:     float64(cfg.RequestDelayBaseMs),
		backoffMs:       retryBackoffMs,
	}
}

// NewStreaming builds a Client tuned for long-lived SSE responses: no
// overall request timeout, since the caller drives cancellation via
// context.
func NewStreaming() *Client {
	return New(0)
}

// NewWithClient wraps an existing *http.Client with no pre-request
// throttling, for callers (and tests) that bring their own transport.
func NewWithClient(hc *http.Client) *Client {
	return &Client{httpClient: hc, backoffMs: retryBackoffMs}
}

// Do executes one throttled request to url. Transport failures matching the
// network-error vocabulary and retriable 5xx responses are retried with
// exponential backoff and jitter, up to opts.MaxRetries extra attempts.
// Other non-2xx responses (429 included) are returned as a *Response, not an
// error, so the caller can inspect the body and classify the failure.
func (c *Client) Do(ctx context.Context, url string, opts Options) (*Response, error) {
	if c.throttleEnabled && c.baseDelayMs > 0 {
		delay := utils.GaussianJitterMs(c.baseDelayMs, c.baseDelayMs*0.4/4)
		if err := utils.Sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = config.FetchMaxRetries
	} else if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	var lastResp *Response
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.backoffMs
			if backoff == nil {
				backoff = retryBackoffMs
			}
			if err := utils.Sleep(ctx, backoff(attempt-1)); err != nil {
				return nil, err
			}
		}

		var bodyReader io.Reader
		if opts.Body != nil {
			bodyReader = bytes.NewReader(opts.Body)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return nil, proxyerrors.NewInternalError(fmt.Sprintf("build request: %v", err))
		}
		for k, v := range opts.Headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if utils.IsNetworkError(err.Error()) && attempt < maxRetries {
				continue
			}
			return nil, proxyerrors.NewNetworkError(err.Error())
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			if utils.IsNetworkError(readErr.Error()) && attempt < maxRetries {
				continue
			}
			return nil, proxyerrors.NewNetworkError(readErr.Error())
		}

		lastResp = &Response{
			StatusCode: resp.StatusCode,
			Headers:    resp.Header,
			Body:       data,
		}
		if retriableStatuses[resp.StatusCode] && attempt < maxRetries {
			continue
		}
		return lastResp, nil
	}

	// Retries exhausted. A response (the final 5xx) still goes back to the
	// caller for classification; only pure transport failure is an error.
	if lastResp != nil {
		return lastResp, nil
	}
	return nil, proxyerrors.NewNetworkError(lastErr.Error())
}

// retryBackoffMs computes the sleep before retrying after failed attempt
// number attempt (0-based): exponential with Gaussian jitter, floored at
// config.FetchMinRetryBackoffMs.
func retryBackoffMs(attempt int) int64 {
	base := float64(int64(1000) << uint(attempt))
	delay := utils.GaussianJitterMs(base, base*0.5/4)
	if delay < config.FetchMinRetryBackoffMs {
		delay = config.FetchMinRetryBackoffMs
	}
	return delay
}
