// Package cmd implements the jcc console command line.
package cmd

import (
	"github.com/spf13/cobra"
)

var version = "dev"

// NewRootCmd creates the root cobra command for jcc. Bare invocation opens
// the chat view on a terminal.
func NewRootCmd(v string) *cobra.Command {
	version = v

	root := &cobra.Command{
		Use:   "jcc",
		Short: "JCC console - chat with Gateway agents from the terminal",
		Long: "jcc talks to a Gateway over its WebSocket RPC protocol: interactive chat, " +
			"one-shot sends, history reads and transcript sync into SQLite or Postgres.",
		RunE:          runDefault,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newChatCmd())
	root.AddCommand(newSendCmd())
	root.AddCommand(newHistoryCmd())
	root.AddCommand(newSyncCmd())
	root.AddCommand(newTranscriptCmd())
	root.AddCommand(newPingCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringP("config", "c", "", "path to config file (default ~/.jcc/config.yaml)")
	root.PersistentFlags().StringP("session", "s", "", "session key (default chat.session_key)")

	return root
}
