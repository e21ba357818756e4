package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jcc-labs/jcc/bridge/internal/auth"
	"github.com/jcc-labs/jcc/bridge/internal/config"
	"github.com/jcc-labs/jcc/pkg/cli"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a caller token for auth mode jwt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(cmd, nil))
			if err != nil {
				return fmt.Errorf("error: %w", err)
			}
			if cfg.Auth.Mode != config.AuthJWT {
				return fmt.Errorf("auth.mode is %q, tokens can only be minted in %q mode", cfg.Auth.Mode, config.AuthJWT)
			}
			subject, _ := cmd.Flags().GetString("subject")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if ttl == 0 {
				ttl = cfg.Auth.JWTExpiry.Duration
			}

			tok, err := auth.IssueToken(cfg.Auth.JWTSecret, cfg.Auth.Issuer, subject, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().String("subject", "", "caller name recorded in the token (required)")
	cmd.Flags().Duration("ttl", 0, "token lifetime (default auth.jwt_expiry)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func newHashTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-token [token]",
		Short: "Print the bcrypt hash to use as auth.token_hash",
		Long:  "Print the bcrypt hash to use as auth.token_hash. Reads the token from a prompt when no argument is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := ""
			if len(args) > 0 {
				token = args[0]
			} else {
				p := &cli.Prompter{In: cmd.InOrStdin(), Out: cmd.ErrOrStderr()}
				token = p.AskSecret("Bridge token", "")
			}
			hash, err := auth.HashToken(strings.TrimSpace(token))
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), hash+"\n")
			return err
		},
	}
}
