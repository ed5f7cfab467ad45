package backend

import (
	"context"
	"net/http"
	"net/url"

	"github.com/loykin/alfred/internal/health"
)

// call performs r and folds an HTTP error status into the returned error.
func (c *Client) call(ctx context.Context, r Request) (Response, error) {
	resp, err := c.Do(ctx, r)
	if err != nil {
		return resp, err
	}
	return resp, resp.Err()
}

// Health probes GET /health. The error is non-nil only on transport failure, in
// which case the status is Unreachable.
func (c *Client) Health(ctx context.Context) (health.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/health"})
	if err != nil {
		return health.UnreachableStatus(), err
	}
	var report health.Report
	if decodeErr := resp.Decode(&report); decodeErr != nil {
		// answered, but not with a health document
		return health.Status{Reachable: true, Overall: health.Unhealthy}, nil
	}
	if resp.StatusCode >= 400 && report.Status == "" {
		report.Status = string(health.Unhealthy)
	}
	return health.Classify(report), nil
}

// Query sends a single question.
func (c *Client) Query(ctx context.Context, q QueryRequest) (Response, error) {
	return c.call(ctx, Request{Method: http.MethodPost, Path: "/query", Body: q})
}

// QueryConversation sends a question within a conversation.
func (c *Client) QueryConversation(ctx context.Context, q QueryRequest) (Response, error) {
	return c.call(ctx, Request{Method: http.MethodPost, Path: "/query/conversation", Body: q})
}

func (c *Client) Stats(ctx context.Context) (Response, error) {
	return c.call(ctx, Request{Method: http.MethodGet, Path: "/stats"})
}

func (c *Client) Model(ctx context.Context) (Response, error) {
	return c.call(ctx, Request{Method: http.MethodGet, Path: "/model"})
}

func (c *Client) SetModel(ctx context.Context, model string) (Response, error) {
	return c.call(ctx, Request{Method: http.MethodPost, Path: "/model", Body: ModelRequest{Model: model}})
}

// StopOllama asks the backend to stop its Ollama runtime.
func (c *Client) StopOllama(ctx context.Context) (Response, error) {
	return c.call(ctx, Request{Method: http.MethodPost, Path: "/ollama/stop"})
}

func (c *Client) History(ctx context.Context) (Response, error) {
	return c.call(ctx, Request{Method: http.MethodGet, Path: "/history"})
}

func (c *Client) AddHistory(ctx context.Context, e HistoryEntry) (Response, error) {
	return c.call(ctx, Request{Method: http.MethodPost, Path: "/history", Body: e})
}

func (c *Client) DeleteHistory(ctx context.Context, id string) (Response, error) {
	return c.call(ctx, Request{Method: http.MethodDelete, Path: "/history/" + url.PathEscape(id)})
}

func (c *Client) ClearHistory(ctx context.Context) (Response, error) {
	return c.call(ctx, Request{Method: http.MethodDelete, Path: "/history"})
}

func (c *Client) Conversations(ctx context.Context) (Response, error) {
	return c.call(ctx, Request{Method: http.MethodGet, Path: "/conversations"})
}

func (c *Client) Conversation(ctx context.Context, id string) (Response, error) {
	return c.call(ctx, Request{Method: http.MethodGet, Path: "/conversations/" + url.PathEscape(id)})
}

func (c *Client) CreateConversation(ctx context.Context, conv Conversation) (Response, error) {
	return c.call(ctx, Request{Method: http.MethodPost, Path: "/conversations", Body: conv})
}

func (c *Client) UpdateConversation(ctx context.Context, conv Conversation) (Response, error) {
	return c.call(ctx, Request{Method: http.MethodPut, Path: "/conversations/" + url.PathEscape(conv.ID), Body: conv})
}

func (c *Client) DeleteConversation(ctx context.Context, id string) (Response, error) {
	return c.call(ctx, Request{Method: http.MethodDelete, Path: "/conversations/" + url.PathEscape(id)})
}

// EncryptionKey fetches the key used for encrypted payloads.
func (c *Client) EncryptionKey(ctx context.Context) (string, error) {
	resp, err := c.call(ctx, Request{Method: http.MethodGet, Path: EncryptionKeyPath})
	if err != nil {
		return "", err
	}
	return ParseEncryptionKey(resp)
}

// EncryptionKeyPath serves the key for encrypted payloads.
const EncryptionKeyPath = "/security/encryption-key"

// ParseEncryptionKey extracts the key from a GET /security/encryption-key
// response, which is either a bare string or an object with a key field.
func ParseEncryptionKey(resp Response) (string, error) {
	if err := resp.Err(); err != nil {
		return "", err
	}
	switch v := resp.Data.(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case map[string]any:
		for _, k := range []string{"key", "encryption_key"} {
			if s, ok := v[k].(string); ok && s != "" {
				return s, nil
			}
		}
	}
	return "", &ApplicationError{StatusCode: resp.StatusCode, Message: "encryption key missing from response", Data: resp.Data}
}
