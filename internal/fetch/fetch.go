// Package fetch downloads remote documents with bounded time and size.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Defaults for downloads of spec documents.
const (
	DefaultTimeout  = 30 * time.Second
	DefaultMaxBytes = 10 << 20
)

var (
	// ErrTooLarge is returned when a response body exceeds the size limit.
	ErrTooLarge = errors.New("response body too large")

	// ErrStatus is returned for non-2xx responses.
	ErrStatus = errors.New("unexpected HTTP status")
)

// Client is a bounded HTTP GET client.
type Client struct {
	http      *http.Client
	maxBytes  int64
	userAgent string
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithMaxBytes sets the maximum accepted body size.
func WithMaxBytes(n int64) Option {
	return func(c *Client) { c.maxBytes = n }
}

// WithHTTPClient replaces the underlying HTTP client. Its timeout is kept.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a Client with a 30s timeout and a 10MB body cap.
func New(opts ...Option) *Client {
	c := &Client{
		http:      &http.Client{Timeout: DefaultTimeout},
		maxBytes:  DefaultMaxBytes,
		userAgent: "apiharvest/1.0",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch GETs url and returns its body.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned %d", ErrStatus, url, resp.StatusCode)
	}
	if resp.ContentLength > c.maxBytes {
		return nil, fmt.Errorf("%w: %s declares %d bytes (limit %d)", ErrTooLarge, url, resp.ContentLength, c.maxBytes)
	}

	// Read one byte past the limit to detect oversized bodies without a Content-Length.
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if int64(len(body)) > c.maxBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, url, c.maxBytes)
	}
	return body, nil
}
