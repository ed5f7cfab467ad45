package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tmaxmax/go-sse"

	"github.com/loykin/alfred/internal/relay"
)

// StreamEvents subscribes to the notification and status streams and calls
// handle for each event in delivery order. It returns when ctx is done, the
// server closes the stream, or handle returns an error.
func (c *Client) StreamEvents(ctx context.Context, handle func(Event) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/events", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.long.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return c.handleErrorResponse(resp)
	}
	err = readEvents(resp.Body, handle)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// maxEventSize bounds one event on the wire; status events carry a full
// health payload, which stays far below this.
const maxEventSize = 1 << 20

// readEvents parses a text/event-stream body. Unknown event names, such as
// the server's keep-alive pings, are skipped.
func readEvents(r io.Reader, handle func(Event) error) error {
	for raw, err := range sse.Read(r, &sse.ReadConfig{MaxEventSize: maxEventSize}) {
		if err != nil {
			return fmt.Errorf("read event stream: %w", err)
		}
		ev, ok, err := decodeEvent(raw.Type, raw.Data)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := handle(ev); err != nil {
			return err
		}
	}
	return nil
}

func decodeEvent(name, data string) (Event, bool, error) {
	switch relay.EventType(name) {
	case relay.EventNotification:
		var n Notification
		if err := json.Unmarshal([]byte(data), &n); err != nil {
			return Event{}, false, fmt.Errorf("decode notification: %w", err)
		}
		return Event{Type: relay.EventNotification, Notification: &n}, true, nil
	case relay.EventStatus:
		var s StatusEvent
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			return Event{}, false, fmt.Errorf("decode status: %w", err)
		}
		return Event{Type: relay.EventStatus, Status: &s}, true, nil
	}
	return Event{}, false, nil
}
