package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/loykin/alfred/pkg/client"
)

var errNotServing = errors.New("alfred serve is not running")

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func printStatus(w io.Writer, st client.Status, asJSON bool) error {
	if asJSON {
		return printJSON(w, st)
	}
	_, _ = fmt.Fprintf(w, "state:   %s\n", st.State)
	if st.Message != "" {
		_, _ = fmt.Fprintf(w, "message: %s\n", st.Message)
	}
	if st.Handle != nil {
		owner := "external"
		if st.Handle.Owned {
			owner = "owned"
		}
		_, _ = fmt.Fprintf(w, "backend: pid %d (%s)\n", st.Handle.PID, owner)
	}
	if st.Health.Reachable {
		_, _ = fmt.Fprintf(w, "health:  %s\n", st.Health.Overall)
	}
	if st.MaxRetries > 0 && st.Attempts > 0 {
		_, _ = fmt.Fprintf(w, "retries: %d/%d\n", st.Attempts, st.MaxRetries)
	}
	if st.LastError != "" {
		_, _ = fmt.Fprintf(w, "error:   %s\n", st.LastError)
	}
	return nil
}

// unavailable turns a connection failure into a hint to start the server.
func unavailable(err error) error {
	if client.IsUnavailable(err) {
		return fmt.Errorf("%w: %v", errNotServing, err)
	}
	return err
}
