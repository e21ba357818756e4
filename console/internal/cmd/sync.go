package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jcc-labs/jcc/console/internal/syncer"
	"github.com/jcc-labs/jcc/console/internal/transcript"
	"github.com/jcc-labs/jcc/pkg/gateway"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Copy agent chat history into the transcript store",
		Long: "Copy each configured agent's chat history into the transcript store. " +
			"Runs once, or on a cron schedule with --schedule (or sync.schedule).",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			schedule, _ := cmd.Flags().GetString("schedule")
			once, _ := cmd.Flags().GetBool("once")
			if schedule == "" && !once {
				schedule = cfg.Sync.Schedule
			}

			logger := newLogger(cmd, cfg.Logging)
			store, err := transcript.Open(cfg.Storage.Driver, cfg.Storage.DSN)
			if err != nil {
				return fmt.Errorf("open transcript store: %w", err)
			}
			defer store.Close()

			client := gateway.NewClient(gatewayConfig(cfg), logger)
			s := syncer.New(client, store, cfg.Agents, syncer.Options{
				HistoryLimit: cfg.Sync.HistoryLimit,
				Concurrency:  cfg.Sync.Concurrency,
			}, logger)

			ctx, stop := signalContext(cmd)
			defer stop()

			if schedule != "" {
				if err := s.Schedule(ctx, schedule); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			}

			results, err := s.SyncAll(ctx)
			if err != nil {
				return err
			}
			return printResults(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().String("schedule", "", "cron expression; keep running and sync on this schedule")
	cmd.Flags().Bool("once", false, "sync once even when sync.schedule is set")
	return cmd
}

func printResults(w io.Writer, results []syncer.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AGENT\tSESSION\tFETCHED\tNEW\tSTATUS")
	var total int
	for _, r := range results {
		status := "ok"
		if r.Err != nil {
			status = gateway.DisplayText(r.Err)
		}
		total += r.Inserted
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", r.Agent.Name, r.Agent.SessionKey, r.Fetched, r.Inserted, status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d new messages synced.\n", total)
	return err
}
