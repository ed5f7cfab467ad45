package main

import (
	"github.com/spf13/cobra"

	"github.com/loykin/alfred/internal/chat"
	"github.com/loykin/alfred/internal/prefs"
)

// ChatFlags holds chat flags.
type ChatFlags struct {
	PrefsPath string
}

func createChatCommand(globalFlags *GlobalFlags) *cobra.Command {
	flags := &ChatFlags{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the interactive chat",
		Long: `Open the terminal chat. Input stays disabled until the backend is ready;
startup progress and failures appear as notifications. Type /help inside the
chat for commands.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := newClient(globalFlags)
			if !c.IsReachable(cmd.Context()) {
				return errNotServing
			}
			p, _ := prefs.Load(flags.PrefsPath)
			return chat.Run(cmd.Context(), chat.Options{
				API:       c,
				Prefs:     p,
				PrefsPath: flags.PrefsPath,
			})
		},
	}
	cmd.Flags().StringVar(&flags.PrefsPath, "prefs", prefs.DefaultPath(), "chat preferences file")
	return cmd
}
