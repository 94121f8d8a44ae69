// Package graph issues Microsoft Graph REST calls on behalf of a caller whose
// bearer token is forwarded unchanged, and shapes the responses for MCP tool
// results.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gzhole/graphpower/internal/clock"
)

// DefaultBaseURL is the public Graph endpoint.
const DefaultBaseURL = "https://graph.microsoft.com"

// maxResponseBytes bounds how much of a Graph response is read.
const maxResponseBytes = 16 << 20

// Doer sends an HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Observer receives per-attempt measurements. Implementations must be safe
// for concurrent use.
type Observer interface {
	ObserveGraphRequest(method string, status int, duration time.Duration)
	ObserveGraphRetry(status int)
}

// ClientConfig configures a Client. Zero values take the defaults noted on
// each field.
type ClientConfig struct {
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string
	// HTTP defaults to an *http.Client with a 60s timeout.
	HTTP Doer
	// Clock defaults to clock.Real().
	Clock clock.Clock
	// MaxRetries is the number of retries after a 429. Defaults to 3.
	MaxRetries int
	// DefaultRetryAfter is used when a 429 has no usable Retry-After.
	// Defaults to 5s.
	DefaultRetryAfter time.Duration
	// MaxRetryAfter caps any Retry-After. Defaults to 30s.
	MaxRetryAfter time.Duration
	// PageSize is the $top injected into collection GETs. Defaults to
	// DefaultPageSize; negative disables injection.
	PageSize int
	Logger   *zap.Logger
	Observer Observer
}

// Client executes Graph operations with throttling retries.
type Client struct {
	cfg    ClientConfig
	logger *zap.Logger
}

// NewClient returns a Client with defaults applied to cfg.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTP == nil {
		cfg.HTTP = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.DefaultRetryAfter <= 0 {
		cfg.DefaultRetryAfter = 5 * time.Second
	}
	if cfg.MaxRetryAfter <= 0 {
		cfg.MaxRetryAfter = 30 * time.Second
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Client{cfg: cfg, logger: cfg.Logger.With(zap.String("component", "graph_client"))}
}

// BaseURL returns the configured Graph base URL.
func (c *Client) BaseURL() string { return c.cfg.BaseURL }

// Clock returns the client's clock.
func (c *Client) Clock() clock.Clock { return c.cfg.Clock }

// Result is the outcome of one Graph HTTP exchange. Callers switch on
// StatusCode: 2xx is success, IsAccessStatus codes become an AccessError,
// anything else an UpstreamError.
type Result struct {
	URL        string
	Method     string
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

// OK reports a 2xx status.
func (r *Result) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// Access returns the AccessError for a 401/403/404 result, or nil.
func (r *Result) Access() *AccessError {
	if !IsAccessStatus(r.StatusCode) {
		return nil
	}
	return ClassifyAccess(r.StatusCode, r.Body, r.URL, r.Method)
}

// Upstream returns the structured error for any other non-2xx result, or nil.
func (r *Result) Upstream() *UpstreamError {
	if r.OK() || IsAccessStatus(r.StatusCode) {
		return nil
	}
	return NewUpstreamError(r.StatusCode, r.Body)
}

// RequestURL is the URL Execute would call for op.
func (c *Client) RequestURL(op Operation) string {
	return BuildURL(c.cfg.BaseURL, op, c.cfg.PageSize)
}

// Execute sends op with the caller's Authorization header. A non-nil error
// means no usable HTTP response was obtained (transport failure,
// cancellation, unencodable body); HTTP error statuses are reported in the
// Result.
func (c *Client) Execute(ctx context.Context, op Operation, authorization string) (*Result, error) {
	var body []byte
	if op.Body != nil && op.Method != http.MethodGet && op.Method != http.MethodDelete {
		var err error
		body, err = json.Marshal(op.Body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
	}
	return c.send(ctx, op.Method, c.RequestURL(op), body, authorization)
}

// BatchRequest is one entry of a $batch payload.
type BatchRequest struct {
	ID      string            `json:"id"`
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Body    any               `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// BatchResponse is one entry of a $batch response.
type BatchResponse struct {
	ID      string            `json:"id"`
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// ExecuteBatch posts requests as a single JSON $batch call.
func (c *Client) ExecuteBatch(ctx context.Context, apiVersion string, requests []BatchRequest, authorization string) (*Result, error) {
	payload, err := json.Marshal(map[string]any{"requests": requests})
	if err != nil {
		return nil, fmt.Errorf("encoding batch payload: %w", err)
	}
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + apiVersion + "/$batch"
	return c.send(ctx, http.MethodPost, url, payload, authorization)
}

// DecodeBatch parses a successful $batch response body.
func DecodeBatch(body []byte) ([]BatchResponse, error) {
	var env struct {
		Responses []BatchResponse `json:"responses"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decoding batch response: %w", err)
	}
	return env.Responses, nil
}

// send performs the request, retrying 429 responses up to MaxRetries times.
func (c *Client) send(ctx context.Context, method, url string, body []byte, authorization string) (*Result, error) {
	for attempt := 1; ; attempt++ {
		res, err := c.do(ctx, method, url, body, authorization)
		if err != nil {
			return nil, err
		}
		res.Attempts = attempt

		if res.StatusCode != http.StatusTooManyRequests || attempt > c.cfg.MaxRetries {
			return res, nil
		}

		wait := c.retryAfter(res.Header.Get("Retry-After"))
		if c.cfg.Observer != nil {
			c.cfg.Observer.ObserveGraphRetry(res.StatusCode)
		}
		c.logger.Warn("Graph throttled request, retrying",
			zap.String("method", method),
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("retry_after", wait))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting to retry throttled request: %w", ctx.Err())
		case <-c.cfg.Clock.After(wait):
		}
	}
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, authorization string) (*Result, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("building Graph request: %w", err)
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := c.cfg.Clock.Now()
	resp, err := c.cfg.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling Graph %s %s: %w", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading Graph response: %w", err)
	}

	if c.cfg.Observer != nil {
		c.cfg.Observer.ObserveGraphRequest(method, resp.StatusCode, c.cfg.Clock.Now().Sub(start))
	}
	c.logger.Debug("Graph response",
		zap.String("method", method),
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(data)))

	return &Result{
		URL:        url,
		Method:     method,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// retryAfter converts a Retry-After header (delta-seconds or HTTP-date) to a
// wait, falling back to DefaultRetryAfter and capping at MaxRetryAfter.
func (c *Client) retryAfter(header string) time.Duration {
	wait := c.cfg.DefaultRetryAfter
	header = strings.TrimSpace(header)
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		wait = time.Duration(secs) * time.Second
	} else if t, err := http.ParseTime(header); err == nil {
		wait = t.Sub(c.cfg.Clock.Now())
		if wait < 0 {
			wait = 0
		}
	}
	if wait > c.cfg.MaxRetryAfter {
		wait = c.cfg.MaxRetryAfter
	}
	return wait
}
