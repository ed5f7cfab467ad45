// Package backend is the HTTP client for the local Alfred Python backend.
//
// Every call is normalized to a Response{StatusCode, Data}. Only transport
// failures are returned as errors from Do; HTTP error statuses are left for the
// caller to interpret through Response.Err.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultBaseURL      = "http://127.0.0.1:8000"
	DefaultTimeout      = 5 * time.Minute
	DefaultProbeTimeout = 5 * time.Second

	RequestIDHeader = "X-Request-ID"
)

// Config holds client configuration.
type Config struct {
	BaseURL      string
	Timeout      time.Duration // whole-request budget, queries can take minutes
	ProbeTimeout time.Duration // budget for a single /health probe
	Logger       *slog.Logger
	HTTPClient   *http.Client // optional, mainly for tests
}

// Client performs requests against the backend. It never retries.
type Client struct {
	baseURL      string
	probeTimeout time.Duration
	client       *http.Client
	logger       *slog.Logger
}

// Request describes one backend call. Body may be nil, a string, []byte,
// json.RawMessage or any value that marshals to JSON.
type Request struct {
	Method string            `json:"method"`
	Path   string            `json:"path"`
	Header map[string]string `json:"headers,omitempty"`
	Body   any               `json:"body,omitempty"`
}

// Response is the normalized result of a request. Data holds the decoded JSON
// value when the body parses as JSON, else the raw text.
type Response struct {
	StatusCode int `json:"statusCode"`
	Data       any `json:"data"`
}

// New creates a backend client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		probeTimeout: cfg.ProbeTimeout,
		client:       hc,
		logger:       cfg.Logger,
	}
}

// BaseURL returns the backend root URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Do performs the request. The returned error is always a *TransportError.
func (c *Client) Do(ctx context.Context, r Request) (Response, error) {
	method := strings.ToUpper(strings.TrimSpace(r.Method))
	if method == "" {
		method = http.MethodGet
	}
	path := r.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	url := c.baseURL + path

	body, contentType, err := encodeBody(r.Body)
	if err != nil {
		return Response{}, &TransportError{Method: method, URL: url, Err: fmt.Errorf("encode body: %w", err)}
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return Response{}, &TransportError{Method: method, URL: url, Err: fmt.Errorf("create request: %w", err)}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range r.Header {
		req.Header.Set(k, v)
	}
	if req.Header.Get(RequestIDHeader) == "" {
		req.Header.Set(RequestIDHeader, uuid.NewString())
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("backend request failed", "method", method, "path", path, "error", err)
		return Response{}, &TransportError{Method: method, URL: url, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, &TransportError{Method: method, URL: url, Err: fmt.Errorf("read body: %w", err)}
	}
	c.logger.Debug("backend request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"request_id", req.Header.Get(RequestIDHeader),
		"duration", time.Since(start))

	return Response{StatusCode: resp.StatusCode, Data: decodeData(raw)}, nil
}

func encodeBody(b any) ([]byte, string, error) {
	switch v := b.(type) {
	case nil:
		return nil, "", nil
	case json.RawMessage:
		return v, "application/json", nil
	case []byte:
		return v, "application/octet-stream", nil
	case string:
		return []byte(v), "text/plain; charset=utf-8", nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, "", err
		}
		return data, "application/json", nil
	}
}

func decodeData(raw []byte) any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return string(raw)
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return string(raw)
	}
	return v
}

// OK reports a 2xx status.
func (r Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// Err returns an *ApplicationError for status codes >= 400, else nil.
func (r Response) Err() error {
	if r.StatusCode < 400 {
		return nil
	}
	return &ApplicationError{StatusCode: r.StatusCode, Message: errorMessage(r), Data: r.Data}
}

// Decode re-encodes Data into v.
func (r Response) Decode(v any) error {
	data, err := json.Marshal(r.Data)
	if err != nil {
		return fmt.Errorf("marshal response data: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

// errorMessage picks detail, then message, then error from a JSON object body.
func errorMessage(r Response) string {
	if obj, ok := r.Data.(map[string]any); ok {
		for _, key := range []string{"detail", "message", "error"} {
			v, ok := obj[key]
			if !ok || v == nil {
				continue
			}
			if s, ok := v.(string); ok {
				if s != "" {
					return s
				}
				continue
			}
			// FastAPI validation errors put a list under detail
			if data, err := json.Marshal(v); err == nil {
				return string(data)
			}
		}
	}
	if text := http.StatusText(r.StatusCode); text != "" {
		return text
	}
	return fmt.Sprintf("HTTP %d", r.StatusCode)
}
