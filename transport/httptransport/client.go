// Package httptransport is the net/http implementation of transport.Client.
package httptransport

import (
	"bytes"
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"time"

	syncErrors "github.com/c0deZ3R0/go-telemetry-kit/errors"
	"github.com/c0deZ3R0/go-telemetry-kit/logging"
	"github.com/c0deZ3R0/go-telemetry-kit/transport"
)

// Limits defines size and compression limits for HTTP client
type Limits struct {
	MaxBodyBytes         int64 // Maximum raw response body size
	MaxDecompressedBytes int64 // Maximum decompressed response size
	EnableGzip           bool  // Whether request bodies may be gzipped
	GzipMinBytes         int   // Minimum bytes before applying gzip compression
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxBodyBytes:         8 << 20,
		MaxDecompressedBytes: 32 << 20,
		EnableGzip:           true,
		GzipMinBytes:         1024,
	}
}

// Client executes transport requests over HTTP with optional basic auth.
type Client struct {
	http      *http.Client
	limits    Limits
	authKey   string
	authValue string
	userAgent string
	logger    *logging.Logger
}

var _ transport.Client = (*Client)(nil)

// Option configures a Client using the functional options pattern
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(cl *http.Client) Option {
	return func(c *Client) {
		c.http = cl
	}
}

// WithLimits sets the size and compression limits
func WithLimits(l Limits) Option {
	return func(c *Client) {
		c.limits = l
	}
}

// WithTimeout sets the per-request timeout of the underlying HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithBasicAuth authenticates every request with key and secret.
func WithBasicAuth(key, secret string) Option {
	return func(c *Client) {
		if key == "" {
			return
		}
		c.authKey = "Authorization"
		c.authValue = "Basic " + base64.StdEncoding.EncodeToString([]byte(key+":"+secret))
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates an HTTP transport client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:   &http.Client{Timeout: 60 * time.Second},
		limits: DefaultLimits(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrDefault(c.logger).WithComponent("http-transport")
	return c
}

// Limits returns the current limits configuration
func (c *Client) Limits() Limits {
	return c.limits
}

// Execute sends req and reads the whole response body. Transport failures,
// including timeouts, are returned as retryable TRANSIENT_NETWORK errors.
func (c *Client) Execute(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	body := req.Body
	compressed := false
	if req.Compress && c.limits.EnableGzip && len(body) >= c.limits.GzipMinBytes {
		gz, err := gzipBytes(body)
		if err != nil {
			return nil, syncErrors.NewNetworkError(syncErrors.OpTransport, err)
		}
		body = gz
		compressed = true
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(body))
	if err != nil {
		return nil, syncErrors.NewValidationError(syncErrors.OpTransport, err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if compressed {
		httpReq.Header.Set("Content-Encoding", "gzip")
	}
	// Asking explicitly disables net/http's transparent decompression so the
	// decompressed size limit applies.
	httpReq.Header.Set("Accept-Encoding", "gzip")
	if c.authValue != "" {
		httpReq.Header.Set(c.authKey, c.authValue)
	}
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Debug("request failed",
			slog.String("method", req.Method),
			slog.String("url", req.URL),
			slog.String("error", err.Error()),
		)
		return nil, syncErrors.NewNetworkError(syncErrors.OpTransport, err)
	}
	defer resp.Body.Close()

	data, err := DecodeBody(resp.Body, resp.Header.Get("Content-Encoding"), c.limits.MaxBodyBytes, c.limits.MaxDecompressedBytes)
	if err != nil {
		return nil, syncErrors.NewNetworkError(syncErrors.OpTransport, err)
	}

	c.logger.Debug("request completed",
		slog.String("method", req.Method),
		slog.String("url", req.URL),
		slog.Int("status", resp.StatusCode),
		slog.Int("request_bytes", len(body)),
		slog.Bool("gzip", compressed),
		slog.Duration("duration", time.Since(start)),
	)

	header := resp.Header.Clone()
	header.Del("Content-Encoding")
	return &transport.Response{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       data,
	}, nil
}
