// Command livewatch tracks the live status of Twitch channels, pushes changes
// to browser dashboards and posts go-live alerts to a Discord webhook.
//
// Usage:
//
//	livewatch serve                 # run the server
//	livewatch state show -o yaml    # print the stored document without secrets
//	livewatch state validate file   # check a state file before deploying it
//	livewatch version               # print build information
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pscheid92/livewatch/internal/platform/version"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "livewatch",
		Short:         "Twitch live status monitor",
		Long:          "livewatch follows Twitch channels through EventSub, shows their status on a live dashboard and announces go-live and offline changes on Discord.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newStateCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
		},
	}
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
