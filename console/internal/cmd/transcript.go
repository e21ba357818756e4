package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jcc-labs/jcc/console/internal/transcript"
	"github.com/jcc-labs/jcc/console/internal/tui"
)

func newTranscriptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcript",
		Short: "Print messages stored by sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			asJSON, _ := cmd.Flags().GetBool("json")

			store, err := transcript.Open(cfg.Storage.Driver, cfg.Storage.DSN)
			if err != nil {
				return fmt.Errorf("open transcript store: %w", err)
			}
			defer store.Close()

			key := sessionKey(cmd, cfg)
			msgs, err := store.ListMessages(cmd.Context(), key, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				type row struct {
					Role      string `json:"role"`
					Content   string `json:"content"`
					CreatedAt string `json:"created_at"`
					Agent     string `json:"agent"`
				}
				rows := make([]row, len(msgs))
				for i, m := range msgs {
					rows[i] = row{Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt, Agent: m.AgentName}
				}
				return json.NewEncoder(out).Encode(rows)
			}

			total, err := store.CountMessages(cmd.Context(), key)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s  %s\n\n", tui.Title.Render(key), tui.Dimmed.Render(fmt.Sprintf("%d stored, showing %d", total, len(msgs))))
			for _, m := range msgs {
				label := tui.AgentLabel.Render(m.AgentName)
				if m.Role == "user" {
					label = tui.UserLabel.Render("you")
				}
				fmt.Fprintf(out, "%s %s\n%s\n\n", tui.Dimmed.Render(m.CreatedAt), label, m.Content)
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 50, "number of most recent messages (0 for all)")
	cmd.Flags().Bool("json", false, "print messages as JSON")
	return cmd
}
