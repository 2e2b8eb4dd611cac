package api

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

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nhle/insync/internal/logging"
	"github.com/nhle/insync/internal/metrics"
)

// TokenFunc returns the current bearer token, or "" when there is none.
type TokenFunc func() string

// Client is a thin HTTP client for the InSync REST API. It attaches the
// bearer token, handles JSON (de)serialization and maps failed responses
// to *RequestError. Requests are never retried.
type Client struct {
	baseURL    string
	token      TokenFunc
	httpClient *http.Client
	metrics    *metrics.Collectors
	log        *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMetrics records request durations and failures on m.
func WithMetrics(m *metrics.Collectors) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = logging.Component(l, "api") }
}

// NewClient creates a new InSync API client. baseURL includes the API
// prefix (e.g. http://localhost:8000/api). token may be nil for
// unauthenticated use.
func NewClient(baseURL string, token TokenFunc, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if token == nil {
		token = func() string { return "" }
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.metrics = metrics.OrDefault(c.metrics)
	return c
}

// Get performs an HTTP GET request and unmarshals the JSON response.
func (c *Client) Get(ctx context.Context, route, path string, result interface{}) error {
	return c.do(ctx, http.MethodGet, route, path, nil, result)
}

// Post performs an HTTP POST request with a JSON body and unmarshals
// the JSON response.
func (c *Client) Post(ctx context.Context, route, path string, body, result interface{}) error {
	return c.do(ctx, http.MethodPost, route, path, body, result)
}

// Patch performs an HTTP PATCH request.
func (c *Client) Patch(ctx context.Context, route, path string, body, result interface{}) error {
	return c.do(ctx, http.MethodPatch, route, path, body, result)
}

// do builds the request, attaches auth, and handles JSON
// (de)serialization. route is the path template used as a metrics label.
func (c *Client) do(
	ctx context.Context,
	method string,
	route string,
	path string,
	body interface{},
	result interface{},
) error {
	url := c.baseURL + path
	started := time.Now()
	defer c.metrics.ObserveRequest(method, route, started)

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RequestErrors.WithLabelValues(method, route, "0").Inc()
		return fmt.Errorf("executing request %s %s: %w", method, path, err)
	}

	respBody, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		return fmt.Errorf("reading response body: %w", readErr)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.metrics.RequestErrors.WithLabelValues(method, route, strconv.Itoa(resp.StatusCode)).Inc()
		reqErr := &RequestError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.StatusCode, respBody),
		}
		c.log.Debug("request failed",
			zap.String("request_id", requestID),
			zap.String("method", method),
			zap.String("route", route),
			zap.Int("status", resp.StatusCode),
			zap.String("message", reqErr.Message),
		)
		return reqErr
	}

	// No content to parse (e.g. 204).
	if result == nil || resp.StatusCode == http.StatusNoContent || len(respBody) == 0 {
		return nil
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf(
			"unmarshaling response from %s %s: %w",
			method, path, err,
		)
	}

	return nil
}
