package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jcc-labs/jcc/console/internal/wizard"
	"github.com/jcc-labs/jcc/pkg/cli"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive setup wizard to generate a config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			if output == "" {
				output = resolveConfigPath(cmd)
			}
			defaults, _ := cmd.Flags().GetBool("defaults")

			w := wizard.New(&cli.Prompter{In: cmd.InOrStdin(), Out: cmd.OutOrStdout()})
			if defaults {
				return w.RunDefaults(output)
			}
			return w.Run(output)
		},
	}
	cmd.Flags().StringP("output", "o", "", "output config file path (default: --config or ~/.jcc/config.yaml)")
	cmd.Flags().Bool("defaults", false, "generate config non-interactively from the environment")
	return cmd
}
