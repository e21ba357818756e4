package cmd

import (
	"github.com/spf13/cobra"
)

var version = "dev"

// NewRootCmd creates the root cobra command for jcc-bridge.
// Bare invocation behaves as "run".
func NewRootCmd(v string) *cobra.Command {
	version = v

	root := &cobra.Command{
		Use:   "jcc-bridge",
		Short: "JCC bridge - REST access to the Gateway",
		Long: "jcc-bridge answers plain HTTP requests by opening one short-lived Gateway " +
			"WebSocket connection per request, for callers that cannot hold a socket.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newTokenCmd())
	root.AddCommand(newHashTokenCmd())
	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringP("config", "c", "", "path to config file (YAML or JSON); environment only when empty")

	return root
}
