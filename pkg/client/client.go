// Package client talks to the control API served by `alfred serve`.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const DefaultBaseURL = "http://127.0.0.1:7733/api"

// Client provides HTTP client functionality to communicate with the alfred control API
type Client struct {
	baseURL string
	// client bounds short calls; long carries checks, restarts, proxied
	// queries and the event stream, which are bounded by ctx only.
	client *http.Client
	long   *http.Client
	logger *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration // budget for status, stop and other short calls
	Logger  *slog.Logger
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Timeout: 10 * time.Second,
	}
}

// New creates a new control API client
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
		long:    &http.Client{},
	}
}

// IsReachable checks if the control API is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Control API unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Status returns the current supervision snapshot without side effects.
func (c *Client) Status(ctx context.Context) (Status, error) {
	return c.lifecycle(ctx, c.client, http.MethodGet, "/status")
}

// Check asks the supervisor to make sure the backend is running and ready.
// When the backend could not be made ready the returned error is an
// *ActionError and Status describes the resulting state.
func (c *Client) Check(ctx context.Context) (Status, error) {
	return c.lifecycle(ctx, c.long, http.MethodPost, "/check")
}

// Restart performs a full stop followed by a fresh start.
func (c *Client) Restart(ctx context.Context) (Status, error) {
	return c.lifecycle(ctx, c.long, http.MethodPost, "/restart")
}

// Stop stops supervision. The backend is only terminated when alfred started it.
func (c *Client) Stop(ctx context.Context) (Status, error) {
	return c.lifecycle(ctx, c.long, http.MethodPost, "/stop")
}

func (c *Client) lifecycle(ctx context.Context, hc *http.Client, method, path string) (Status, error) {
	var st Status
	code, err := c.doJSON(ctx, hc, method, c.baseURL+path, nil, &st, http.StatusServiceUnavailable, http.StatusGatewayTimeout)
	if err != nil {
		return st, err
	}
	if code != http.StatusOK {
		return st, &ActionError{StatusCode: code, Message: st.Error}
	}
	return st, nil
}

// Backend proxies one request to the Alfred backend. Application errors
// (status >= 400 from the backend) come back in the response, see
// BackendResponse.Err; only failures to reach the backend are errors here.
func (c *Client) Backend(ctx context.Context, r BackendRequest) (BackendResponse, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return BackendResponse{}, fmt.Errorf("marshal request: %w", err)
	}
	var resp BackendResponse
	if _, err := c.doJSON(ctx, c.long, http.MethodPost, c.baseURL+"/backend", body, &resp); err != nil {
		return BackendResponse{}, err
	}
	return resp, nil
}

// Resources returns the latest resource sample of the backend process.
func (c *Client) Resources(ctx context.Context) (ResourceSample, error) {
	var s ResourceSample
	_, err := c.doJSON(ctx, c.client, http.MethodGet, c.baseURL+"/backend/resources", nil, &s)
	return s, err
}

// History returns up to limit recent supervision events, newest first.
func (c *Client) History(ctx context.Context, limit int) ([]HistoryEvent, error) {
	u := c.baseURL + "/supervision/history"
	if limit > 0 {
		u += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	var out struct {
		Events []HistoryEvent `json:"events"`
	}
	if _, err := c.doJSON(ctx, c.client, http.MethodGet, u, nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// doJSON performs a request and decodes a 200 body, or a body with one of the
// accepted status codes, into out. Other statuses become *APIError.
func (c *Client) doJSON(ctx context.Context, hc *http.Client, method, u string, body []byte, out any, accepted ...int) (int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "url", u)
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	ok := resp.StatusCode == http.StatusOK
	for _, code := range accepted {
		ok = ok || resp.StatusCode == code
	}
	if !ok {
		return resp.StatusCode, c.handleErrorResponse(resp)
	}
	if out == nil {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil || errorResp.Error == "" {
		c.logger.Debug("Failed to decode error response", "status", resp.StatusCode)
		return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return &APIError{StatusCode: resp.StatusCode, Message: errorResp.Error}
}

// IsUnavailable reports whether err means the control API could not be reached.
func IsUnavailable(err error) bool {
	var apiErr *APIError
	var actionErr *ActionError
	return err != nil && !errors.As(err, &apiErr) && !errors.As(err, &actionErr)
}
