// motorchat is a terminal client for the marketplace realtime layer.
// It connects to the push gateway, opens a conversation with a peer,
// and prints the change stream while relaying typed lines as messages.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "motorchat",
		Short:         "Terminal client for the marketplace realtime gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("log-level", "", "log level override")

	root.AddCommand(newLoginCmd())
	root.AddCommand(newChatCmd())
	root.AddCommand(newNotificationsCmd())
	return root
}
