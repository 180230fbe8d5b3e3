// Package discovery is the authenticated, retrying HTTP layer for the
// Discovery Engine API.
package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/net/http2"
)

const (
	defaultMaxAttempts    = 3
	defaultBaseDelay      = time.Second
	defaultMaxDelay       = 30 * time.Second
	defaultRequestTimeout = 60 * time.Second
	maxResponseSize       = 32 << 20 // 32MB
	apiVersion            = "v1alpha"
)

// TokenProvider supplies a valid bearer token for every attempt.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// Options configures a Client. Zero values select defaults.
type Options struct {
	ProjectID  string
	Location   string
	Collection string
	EngineID   string

	// BaseURL replaces the URL derived from the fields above.
	BaseURL string

	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	RequestTimeout time.Duration

	HTTPClient *http.Client
	Tracer     trace.Tracer
	Logger     *slog.Logger

	// Sleep waits between attempts; it must return early when ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client issues GET and POST calls against one engine.
type Client struct {
	baseURL        string
	projectID      string
	tokens         TokenProvider
	httpClient     *http.Client
	maxAttempts    int
	baseDelay      time.Duration
	maxDelay       time.Duration
	requestTimeout time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
	tracer         trace.Tracer
	logger         *slog.Logger
	stats          *Stats
	closed         atomic.Bool
}

// EndpointURL returns the engine-scoped API root for the given coordinates.
func EndpointURL(projectID, location, collection, engineID string) string {
	host := "discoveryengine.googleapis.com"
	if location != "" && location != "global" {
		host = location + "-" + host
	}
	return fmt.Sprintf("https://%s/%s/projects/%s/locations/%s/collections/%s/engines/%s",
		host, apiVersion, projectID, location, collection, engineID)
}

// New creates a Client that signs requests with tokens.
func New(tokens TokenProvider, opts Options) (*Client, error) {
	if tokens == nil {
		return nil, fmt.Errorf("discovery: token provider required")
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		if opts.ProjectID == "" || opts.EngineID == "" {
			return nil, fmt.Errorf("discovery: project and engine ids required when no base URL is set")
		}
		if opts.Location == "" {
			opts.Location = "global"
		}
		if opts.Collection == "" {
			opts.Collection = "default_collection"
		}
		baseURL = EndpointURL(opts.ProjectID, opts.Location, opts.Collection, opts.EngineID)
	}

	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		projectID:      opts.ProjectID,
		tokens:         tokens,
		httpClient:     opts.HTTPClient,
		maxAttempts:    opts.MaxAttempts,
		baseDelay:      opts.BaseDelay,
		maxDelay:       opts.MaxDelay,
		requestTimeout: opts.RequestTimeout,
		sleep:          opts.Sleep,
		tracer:         opts.Tracer,
		logger:         opts.Logger,
		stats:          newStats(),
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "discovery")
	if c.httpClient == nil {
		c.httpClient = &http.Client{Transport: newTransport(c.logger)}
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = defaultMaxAttempts
	}
	if c.baseDelay <= 0 {
		c.baseDelay = defaultBaseDelay
	}
	if c.maxDelay <= 0 {
		c.maxDelay = defaultMaxDelay
	}
	if c.requestTimeout <= 0 {
		c.requestTimeout = defaultRequestTimeout
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	if c.tracer == nil {
		c.tracer = noop.NewTracerProvider().Tracer("discovery")
	}
	return c, nil
}

// newTransport returns a pooled transport with HTTP/2 health checks enabled.
func newTransport(logger *slog.Logger) *http.Transport {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	h2, err := http2.ConfigureTransports(tr)
	if err != nil {
		logger.Warn("http2 not configured, using transport defaults", "error", err)
		return tr
	}
	h2.ReadIdleTimeout = 30 * time.Second
	h2.PingTimeout = 15 * time.Second
	return tr
}

// BaseURL returns the API root every path is resolved against.
func (c *Client) BaseURL() string { return c.baseURL }

// Stats returns the live counters owned by this client.
func (c *Client) Stats() *Stats { return c.stats }

// Get fetches the resource at path, relative to the engine root.
func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post sends body as JSON to path, relative to the engine root.
func (c *Client) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// Close releases pooled connections. Calls made afterwards fail with
// ErrClientClosed.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.httpClient.CloseIdleConnections()
	snap := c.stats.Snapshot()
	c.logger.Debug("client closed", "requests", snap.TotalRequests, "failed", snap.FailedRequests)
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	path = strings.TrimLeft(path, "/")
	if path == "" {
		return nil, ErrEmptyPath
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
	}

	reqID := uuid.NewString()
	ctx, span := c.tracer.Start(ctx, "discovery."+method, trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("cosci.path", path),
		attribute.String("cosci.request_id", reqID),
	))
	defer span.End()

	url := c.baseURL + "/" + path
	var lastErr error
	for attempt := range c.maxAttempts {
		if attempt > 0 {
			delay := c.backoff(attempt - 1)
			c.logger.Warn("retrying request",
				"method", method, "path", path, "attempt", attempt+1, "delay", delay, "error", lastErr)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, failSpan(span, err)
			}
			if c.closed.Load() {
				return nil, failSpan(span, ErrClientClosed)
			}
		}

		token, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return nil, failSpan(span, err)
		}

		data, err := c.attempt(ctx, method, url, payload, token, reqID)
		span.SetAttributes(attribute.Int("cosci.attempts", attempt+1))
		if err == nil {
			span.SetStatus(codes.Ok, "")
			return data, nil
		}
		if !retryable(ctx, err) {
			return nil, failSpan(span, err)
		}
		lastErr = err
	}

	return nil, failSpan(span, &NetworkError{Attempts: c.maxAttempts, Err: lastErr})
}

func (c *Client) attempt(ctx context.Context, method, url string, payload []byte, token, reqID string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", reqID)
	if c.projectID != "" {
		req.Header.Set("X-Goog-User-Project", c.projectID)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.stats.record(0, time.Since(start), false)
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	latency := time.Since(start)
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	c.stats.record(resp.StatusCode, latency, ok && readErr == nil)

	c.logger.Debug("response",
		"method", method, "url", url, "status", resp.StatusCode, "latency", latency, "request_id", reqID)

	if readErr != nil {
		return nil, fmt.Errorf("reading response: %w", readErr)
	}
	if !ok {
		return nil, newAPIError(resp.StatusCode, data)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.RawMessage(data), nil
}

// backoff returns the delay before retry n (0-based), doubling from baseDelay
// and capped at maxDelay.
func (c *Client) backoff(n int) time.Duration {
	d := c.baseDelay
	for i := 0; i < n; i++ {
		d *= 2
		if d >= c.maxDelay {
			return c.maxDelay
		}
	}
	return min(d, c.maxDelay)
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	// Anything else reaching here is a transport or read failure.
	return true
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
