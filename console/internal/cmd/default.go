package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jcc-labs/jcc/console/internal/wizard"
	"github.com/jcc-labs/jcc/pkg/cli"
)

// runDefault implements bare `jcc`:
//   - not a terminal → print help
//   - no config file → run the init wizard, then chat
//   - otherwise → open the chat view
func runDefault(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return cmd.Help()
	}

	configPath := resolveConfigPath(cmd)
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		if err := wizard.New(cli.DefaultPrompter()).Run(configPath); err != nil {
			return err
		}
	}
	return runChat(cmd, args)
}
