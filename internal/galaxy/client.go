package galaxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const maxResponseBodySize = 1 << 20 // 1MB

// apiKeyHeader carries the user's API key on every request.
const apiKeyHeader = "x-api-key"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Options configures a [Client].
//
// Zero values are replaced by the defaults in the struct tags.
type Options struct {
	// BaseURL is the server root, e.g. "https://usegalaxy.org".
	BaseURL string

	// APIKey is sent in the x-api-key header when set.
	APIKey string

	// Timeout bounds each request.
	Timeout time.Duration `default:"30s"`

	// RequestsPerSecond limits the request rate of the client. Zero or less
	// disables limiting.
	RequestsPerSecond float64 `default:"0"`

	// Burst is the rate limiter's bucket size.
	Burst int `default:"1"`

	// connection pooling limits to prevent resource exhaustion when many
	// pollers share a client
	MaxIdleConns        int           `default:"100"`
	MaxIdleConnsPerHost int           `default:"10"`
	MaxConnsPerHost     int           `default:"10"`
	IdleConnTimeout     time.Duration `default:"60s"`

	// TracerProvider and MeterProvider instrument the HTTP transport. The
	// global providers are used when nil.
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Client talks to the workflow server's REST API.
//
// Client uses per-request timeouts via context rather than a global timeout.
// Response bodies are limited to 1MB. All methods are safe for concurrent use.
type Client struct {
	base       *url.URL
	apiKey     string
	timeout    time.Duration
	limiter    *rate.Limiter
	transport  *http.Transport
	httpClient *http.Client
}

// NewClient creates a [Client] for the server at opts.BaseURL.
func NewClient(opts Options) (*Client, error) {
	if err := defaults.Set(&opts); err != nil {
		return nil, fmt.Errorf("failed to apply client defaults: %w", err)
	}

	if opts.BaseURL == "" {
		return nil, errors.New("base url is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url scheme must be http or https, got %q", base.Scheme)
	}

	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}
	if opts.MeterProvider == nil {
		opts.MeterProvider = otel.GetMeterProvider()
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        opts.MaxIdleConns,
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxConnsPerHost:     opts.MaxConnsPerHost,
		IdleConnTimeout:     opts.IdleConnTimeout,
		DisableKeepAlives:   false, // explicitly enable connection reuse
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst)
	}

	return &Client{
		base:      base,
		apiKey:    opts.APIKey,
		timeout:   opts.Timeout,
		limiter:   limiter,
		transport: transport,
		httpClient: &http.Client{
			// no default timeout - we use per-request timeouts via context
			Transport: otelhttp.NewTransport(transport,
				otelhttp.WithTracerProvider(opts.TracerProvider),
				otelhttp.WithMeterProvider(opts.MeterProvider),
			),
		},
	}, nil
}

// BaseURL returns the server root the client talks to.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Close closes all idle connections in the client's connection pool.
//
// Safe to call multiple times. After Close, the client remains usable but new
// connections will be established as needed.
func (c *Client) Close() {
	if c == nil || c.transport == nil {
		return
	}
	c.transport.CloseIdleConnections()
}

// getJSON issues a GET for path with query and decodes the JSON response
// into v.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, v any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// read body with size limit
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newStatusError(req.URL.Path, resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", req.URL.Path, err)
	}
	return nil
}
