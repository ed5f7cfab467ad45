package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/loykin/alfred/internal/backend"
	"github.com/loykin/alfred/pkg/client"
)

type eventMsg struct{ ev client.Event }

type streamClosedMsg struct{ err error }

type statusMsg struct {
	action string
	st     client.Status
	err    error
}

type answerMsg struct {
	answer         string
	sources        []string
	conversationID string
}

type queryErrMsg struct{ err error }

type infoMsg struct {
	text string
	err  error
}

// listen waits for the next message from the event stream goroutine.
func listen(ch <-chan tea.Msg) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return msg
	}
}

func (m Model) check() tea.Cmd {
	return m.lifecycle("Check", m.api.Check)
}

func (m Model) restart() tea.Cmd {
	return m.lifecycle("Restart", m.api.Restart)
}

func (m Model) stop() tea.Cmd {
	return m.lifecycle("Stop", m.api.Stop)
}

func (m Model) lifecycle(action string, fn func(context.Context) (client.Status, error)) tea.Cmd {
	ctx, streaming := m.ctx, m.events != nil
	return func() tea.Msg {
		st, err := fn(ctx)
		// a streamed notification already describes a failed check
		var actionErr *client.ActionError
		if streaming && errors.As(err, &actionErr) {
			err = nil
		}
		return statusMsg{action: action, st: st, err: err}
	}
}

func (m Model) query(question string) tea.Cmd {
	ctx, api, dec := m.ctx, m.api, m.decryptor
	q := backend.QueryRequest{
		Question:        question,
		UseHistory:      m.prefs.UseHistory,
		SearchDocuments: m.prefs.SearchDocuments,
		ConversationID:  m.prefs.ConversationID,
	}
	path := "/query"
	if q.ConversationID != "" {
		path = "/query/conversation"
	}
	return func() tea.Msg {
		resp, err := api.Backend(ctx, client.BackendRequest{Method: http.MethodPost, Path: path, Body: q})
		if err != nil {
			return queryErrMsg{err: err}
		}
		if err := resp.Err(); err != nil {
			return queryErrMsg{err: err}
		}
		var ans backend.QueryAnswer
		if err := resp.Decode(&ans); err != nil {
			return queryErrMsg{err: err}
		}
		if ans.Encrypted {
			plain, err := dec.DecryptString(ctx, ans.Answer)
			if err != nil {
				return queryErrMsg{err: fmt.Errorf("decrypt answer: %w", err)}
			}
			ans.Answer = plain
		}
		return answerMsg{answer: ans.Answer, sources: ans.Sources, conversationID: ans.ConversationID}
	}
}

// fetchKey reads the encryption key through the control API proxy.
func (m Model) fetchKey(ctx context.Context) (string, error) {
	resp, err := m.api.Backend(ctx, client.BackendRequest{Method: http.MethodGet, Path: backend.EncryptionKeyPath})
	if err != nil {
		return "", err
	}
	return backend.ParseEncryptionKey(resp)
}

func (m Model) model(name string) tea.Cmd {
	ctx, api := m.ctx, m.api
	req := client.BackendRequest{Method: http.MethodGet, Path: "/model"}
	if name != "" {
		req = client.BackendRequest{Method: http.MethodPost, Path: "/model", Body: backend.ModelRequest{Model: name}}
	}
	return func() tea.Msg {
		resp, err := api.Backend(ctx, req)
		if err == nil {
			err = resp.Err()
		}
		if err != nil {
			return infoMsg{err: err}
		}
		if name != "" {
			return infoMsg{text: "Model switched to " + name}
		}
		return infoMsg{text: "Model: " + summarize(resp.Data)}
	}
}

func (m Model) stats() tea.Cmd {
	ctx, api := m.ctx, m.api
	return func() tea.Msg {
		resp, err := api.Backend(ctx, client.BackendRequest{Method: http.MethodGet, Path: "/stats"})
		if err == nil {
			err = resp.Err()
		}
		if err != nil {
			return infoMsg{err: err}
		}
		return infoMsg{text: "Stats:\n" + summarize(resp.Data)}
	}
}

// summarize renders a decoded JSON value as short readable text.
func summarize(v any) string {
	switch d := v.(type) {
	case nil:
		return "(empty)"
	case string:
		return d
	case map[string]any:
		keys := make([]string, 0, len(d))
		for k := range d {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		lines := make([]string, 0, len(keys))
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("  %s: %s", k, scalar(d[k])))
		}
		return strings.Join(lines, "\n")
	}
	return scalar(v)
}

func scalar(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func errorText(err error) string {
	if appErr, ok := backend.AsApplication(err); ok {
		return appErr.Message
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return "Alfred is not running. Start it with `alfred serve`."
	}
	return err.Error()
}
