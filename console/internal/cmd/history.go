package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jcc-labs/jcc/console/internal/tui"
	"github.com/jcc-labs/jcc/pkg/gateway"
	"github.com/jcc-labs/jcc/pkg/protocol"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recent messages of a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			asJSON, _ := cmd.Flags().GetBool("json")

			ctx, stop := signalContext(cmd)
			defer stop()

			client := gateway.NewClient(gatewayConfig(cfg), newLogger(cmd, cfg.Logging))
			msgs, err := client.History(ctx, sessionKey(cmd, cfg), limit)
			if err != nil {
				return err
			}

			now := time.Now()
			norm := make([]protocol.NormalizedMessage, len(msgs))
			for i, m := range msgs {
				norm[i] = m.Normalize(i, now)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"messages": norm})
			}
			for _, m := range norm {
				if m.Content == "" {
					continue
				}
				label := tui.AgentLabel.Render(m.Role)
				if m.Role == protocol.RoleUser {
					label = tui.UserLabel.Render(m.Role)
				}
				if _, err := fmt.Fprintf(out, "%s %s\n%s\n\n", tui.Dimmed.Render(m.CreatedAt), label, m.Content); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", gateway.DefaultHistoryLimit, "maximum number of messages")
	cmd.Flags().Bool("json", false, "print normalized messages as JSON")
	return cmd
}
