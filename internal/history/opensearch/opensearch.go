// Package opensearch indexes supervision events as OpenSearch documents.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/alfred/internal/history"
)

// Sink writes each event to baseURL/index/_doc/<id> and reads recent events
// back through _search, newest first.
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
	newID   func() string
}

func New(baseURL, index string) *Sink {
	return &Sink{
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		index:   index,
		newID:   func() string { return uuid.NewString() },
	}
}

// Send stores e under a fresh document id, so a retried request cannot index
// the same event twice.
func (s *Sink) Send(ctx context.Context, e history.Event) error {
	u := fmt.Sprintf("%s/%s/_doc/%s", s.baseURL, url.PathEscape(s.index), s.newID())
	resp, err := s.do(ctx, http.MethodPut, u, e)
	if err != nil {
		return fmt.Errorf("index %s event: %w", e.Type, err)
	}
	_ = resp.Body.Close()
	return nil
}

type searchRequest struct {
	Size int              `json:"size"`
	Sort []map[string]any `json:"sort"`
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source history.Event `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// List returns up to limit events ordered by occurred_at descending. A
// missing index means nothing was recorded yet.
func (s *Sink) List(ctx context.Context, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	body := searchRequest{
		Size: limit,
		Sort: []map[string]any{{"occurred_at": map[string]string{"order": "desc"}}},
	}
	u := fmt.Sprintf("%s/%s/_search", s.baseURL, url.PathEscape(s.index))
	resp, err := s.do(ctx, http.MethodPost, u, body)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("search supervision history: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	out := make([]history.Event, 0, len(sr.Hits.Hits))
	for _, h := range sr.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("opensearch status %d", e.code)
	}
	return fmt.Sprintf("opensearch status %d: %s", e.code, e.body)
}

func (s *Sink) do(ctx context.Context, method, u string, v any) (*http.Response, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(snippet))}
	}
	return resp, nil
}

var _ history.Lister = (*Sink)(nil)
