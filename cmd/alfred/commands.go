package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/alfred/internal/backend"
	"github.com/loykin/alfred/internal/prefs"
	"github.com/loykin/alfred/internal/secure"
	"github.com/loykin/alfred/pkg/client"
)

// OutputFlags selects machine-readable output.
type OutputFlags struct {
	JSON bool
}

// AskFlags holds ask flags.
type AskFlags struct {
	OutputFlags
	NoHistory      bool
	NoSearch       bool
	ConversationID string
}

// HistoryFlags holds history flags.
type HistoryFlags struct {
	OutputFlags
	Limit int
}

func newClient(flags *GlobalFlags) *client.Client {
	return client.New(client.Config{BaseURL: flags.APIUrl, Timeout: flags.APITimeout})
}

func createStatusCommand(globalFlags *GlobalFlags) *cobra.Command {
	out := &OutputFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the supervision state of the backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := newClient(globalFlags).Status(cmd.Context())
			if err != nil {
				return unavailable(err)
			}
			return printStatus(cmd.OutOrStdout(), st, out.JSON)
		},
	}
	cmd.Flags().BoolVar(&out.JSON, "json", false, "print JSON")
	return cmd
}

func createCheckCommand(globalFlags *GlobalFlags) *cobra.Command {
	return lifecycleCommand(globalFlags, "check", "Start the backend if needed and wait until it is ready",
		func(c *client.Client, ctx context.Context) (client.Status, error) { return c.Check(ctx) })
}

func createRestartCommand(globalFlags *GlobalFlags) *cobra.Command {
	return lifecycleCommand(globalFlags, "restart", "Stop the backend, then start it again",
		func(c *client.Client, ctx context.Context) (client.Status, error) { return c.Restart(ctx) })
}

func createStopCommand(globalFlags *GlobalFlags) *cobra.Command {
	return lifecycleCommand(globalFlags, "stop", "Stop the backend if alfred started it",
		func(c *client.Client, ctx context.Context) (client.Status, error) { return c.Stop(ctx) })
}

func lifecycleCommand(globalFlags *GlobalFlags, use, short string, call func(*client.Client, context.Context) (client.Status, error)) *cobra.Command {
	out := &OutputFlags{}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := call(newClient(globalFlags), cmd.Context())
			var actionErr *client.ActionError
			if err != nil && !errors.As(err, &actionErr) {
				return unavailable(err)
			}
			if perr := printStatus(cmd.OutOrStdout(), st, out.JSON); perr != nil {
				return perr
			}
			if actionErr != nil {
				return fmt.Errorf("%s failed: %s", use, actionErr.Message)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&out.JSON, "json", false, "print JSON")
	return cmd
}

func createAskCommand(globalFlags *GlobalFlags) *cobra.Command {
	flags := &AskFlags{}
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask one question and print the answer",
		Long: `Ask waits until the backend is ready, sends the question and prints the
answer. Toggles default to the chat preferences.

Examples:
  alfred ask "summarize my meeting notes"
  alfred ask --no-search "what is 2+2?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), cmd.OutOrStdout(), newClient(globalFlags), flags, strings.Join(args, " "))
		},
	}
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print the raw backend response")
	cmd.Flags().BoolVar(&flags.NoHistory, "no-history", false, "do not use chat history as context")
	cmd.Flags().BoolVar(&flags.NoSearch, "no-search", false, "do not search documents")
	cmd.Flags().StringVar(&flags.ConversationID, "conversation", "", "continue this conversation")
	return cmd
}

func runAsk(ctx context.Context, w io.Writer, c *client.Client, flags *AskFlags, question string) error {
	st, err := c.Check(ctx)
	if err != nil {
		var actionErr *client.ActionError
		if errors.As(err, &actionErr) {
			return fmt.Errorf("backend is not ready (%s): %s", st.State, actionErr.Message)
		}
		return unavailable(err)
	}

	p, _ := prefs.Load(prefs.DefaultPath())
	q := backend.QueryRequest{
		Question:        question,
		UseHistory:      p.UseHistory && !flags.NoHistory,
		SearchDocuments: p.SearchDocuments && !flags.NoSearch,
		ConversationID:  flags.ConversationID,
	}
	path := "/query"
	if q.ConversationID != "" {
		path = "/query/conversation"
	}
	resp, err := c.Backend(ctx, client.BackendRequest{Method: http.MethodPost, Path: path, Body: q})
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		return fmt.Errorf("backend error: %w", err)
	}
	if flags.JSON {
		return printJSON(w, resp.Data)
	}
	var ans backend.QueryAnswer
	if err := resp.Decode(&ans); err != nil {
		return err
	}
	if ans.Encrypted {
		dec := secure.NewDecryptor(func(ctx context.Context) (string, error) {
			kr, err := c.Backend(ctx, client.BackendRequest{Method: http.MethodGet, Path: backend.EncryptionKeyPath})
			if err != nil {
				return "", err
			}
			return backend.ParseEncryptionKey(kr)
		})
		if ans.Answer, err = dec.DecryptString(ctx, ans.Answer); err != nil {
			return fmt.Errorf("decrypt answer: %w", err)
		}
	}
	_, _ = fmt.Fprintln(w, ans.Answer)
	if len(ans.Sources) > 0 {
		_, _ = fmt.Fprintf(w, "\nSources: %s\n", strings.Join(ans.Sources, ", "))
	}
	return nil
}

func createHistoryCommand(globalFlags *GlobalFlags) *cobra.Command {
	flags := &HistoryFlags{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent supervision events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			events, err := newClient(globalFlags).History(cmd.Context(), flags.Limit)
			if err != nil {
				return unavailable(err)
			}
			if flags.JSON {
				return printJSON(cmd.OutOrStdout(), events)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "TIME\tTYPE\tSTATE\tPID\tMESSAGE")
			for _, e := range events {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
					e.OccurredAt.Local().Format(time.DateTime), e.Type, e.State, e.PID, e.Message)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&flags.Limit, "limit", 20, "number of events")
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print JSON")
	return cmd
}

func createResourcesCommand(globalFlags *GlobalFlags) *cobra.Command {
	out := &OutputFlags{}
	cmd := &cobra.Command{
		Use:   "resources",
		Short: "Show CPU and memory use of the backend process",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newClient(globalFlags).Resources(cmd.Context())
			if err != nil {
				return unavailable(err)
			}
			if out.JSON {
				return printJSON(cmd.OutOrStdout(), s)
			}
			if s.PID == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "backend is not running")
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "pid %d  cpu %.1f%%  rss %.1f MB  threads %d\n",
				s.PID, s.CPUPercent, s.MemoryMB(), s.NumThreads)
			return nil
		},
	}
	cmd.Flags().BoolVar(&out.JSON, "json", false, "print JSON")
	return cmd
}
