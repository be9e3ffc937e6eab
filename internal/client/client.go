// Package client provides an HTTP client for the apiharvest server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/apiharvest/internal/app"
	"github.com/raphaelgruber/apiharvest/internal/metrics"
	"github.com/raphaelgruber/apiharvest/internal/models"
	"github.com/raphaelgruber/apiharvest/internal/server"
	"github.com/raphaelgruber/apiharvest/internal/service"
)

var (
	// ErrNotFound is returned for 404 responses.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when the server already has a run in progress.
	ErrConflict = errors.New("run already in progress")
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error: %d %s", e.Status, e.Message)
}

// Is maps status codes onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrConflict:
		return e.Status == http.StatusConflict
	}
	return false
}

// Client talks to the apiharvest server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client. If baseURL is empty, uses APIHARVEST_SERVER_URL or
// defaults to localhost:8484. APIHARVEST_CLIENT_TIMEOUT overrides the request
// timeout (default 30s).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("APIHARVEST_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8484"
	}

	timeout := 30 * time.Second
	if t := os.Getenv("APIHARVEST_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// do sends a request and decodes the JSON response into result.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// =============================================================================
// Runs
// =============================================================================

// StartRun asks the server to start a run in the background.
func (c *Client) StartRun(ctx context.Context, req app.SourceRequest) (*service.RunSnapshot, error) {
	var snap service.RunSnapshot
	if err := c.do(ctx, "POST", "/api/runs", req, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// GetRun fetches a run by ID.
func (c *Client) GetRun(ctx context.Context, id string) (*service.RunSnapshot, error) {
	var snap service.RunSnapshot
	if err := c.do(ctx, "GET", "/api/runs/"+url.PathEscape(id), nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ListRuns lists recent runs, most recent first.
func (c *Client) ListRuns(ctx context.Context) ([]service.RunSnapshot, error) {
	var runs []service.RunSnapshot
	if err := c.do(ctx, "GET", "/api/runs", nil, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// WatchRun streams progress of a live run. onUpdate is invoked for every
// snapshot; return an error from it to stop watching. WatchRun returns nil
// once the server reports the run finished.
func (c *Client) WatchRun(ctx context.Context, id string, onUpdate func(service.RunSnapshot) error) error {
	wsURL := c.baseURL
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)

	u, err := url.Parse(wsURL + "/api/runs/" + url.PathEscape(id) + "/watch")
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return &APIError{Status: resp.StatusCode, Message: "run not found or no longer live"}
		}
		return fmt.Errorf("websocket connect: %w", err)
	}

	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}
	defer closeConn()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	for {
		var snap service.RunSnapshot
		if err := conn.ReadJSON(&snap); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read update: %w", err)
		}
		if err := onUpdate(snap); err != nil {
			return err
		}
	}
}

// =============================================================================
// Catalog
// =============================================================================

// ListItems lists catalog items matching filter.
func (c *Client) ListItems(ctx context.Context, filter models.ItemFilter) ([]server.Item, error) {
	q := url.Values{}
	if filter.Category != "" {
		q.Set("category", filter.Category)
	}
	if filter.Source != "" {
		q.Set("source", filter.Source)
	}
	if filter.Query != "" {
		q.Set("q", filter.Query)
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := "/api/items"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var items []server.Item
	if err := c.do(ctx, "GET", path, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// GetItem fetches one catalog item.
func (c *Client) GetItem(ctx context.Context, id string) (*server.Item, error) {
	var item server.Item
	if err := c.do(ctx, "GET", "/api/items/"+url.PathEscape(id), nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// ListCategories returns categories with their item counts.
func (c *Client) ListCategories(ctx context.Context) ([]models.CategoryCount, error) {
	var counts []models.CategoryCount
	if err := c.do(ctx, "GET", "/api/categories", nil, &counts); err != nil {
		return nil, err
	}
	return counts, nil
}

// Stats returns the server's operation metrics.
func (c *Client) Stats(ctx context.Context) (*metrics.Snapshot, error) {
	var snap metrics.Snapshot
	if err := c.do(ctx, "GET", "/api/stats", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
