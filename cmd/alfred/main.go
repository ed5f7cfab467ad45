package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/alfred/pkg/client"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

func buildRoot() *cobra.Command {
	flags := &GlobalFlags{}
	root := createRootCommand(flags)
	root.AddCommand(
		createServeCommand(flags),
		createStatusCommand(flags),
		createCheckCommand(flags),
		createRestartCommand(flags),
		createStopCommand(flags),
		createAskCommand(flags),
		createHistoryCommand(flags),
		createResourcesCommand(flags),
		createChatCommand(flags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "alfred",
		Short: "Local assistant with a supervised Python backend",
		Long: `Alfred runs a local Python backend and keeps it ready for questions.

"alfred serve" supervises the backend and exposes a control API. Every other
command talks to that API.

Examples:
  alfred serve --config=alfred.toml
  alfred status
  alfred ask "what changed in the Q3 report?"
  alfred chat`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", client.DefaultBaseURL, "control API URL of a running alfred serve")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "timeout for short control API calls")
	return root
}
