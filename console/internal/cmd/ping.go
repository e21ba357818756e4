package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jcc-labs/jcc/console/internal/tui"
	"github.com/jcc-labs/jcc/pkg/gateway"
)

func newPingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check that the Gateway answers over WebSocket and HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			skipHTTP, _ := cmd.Flags().GetBool("ws-only")
			logger := newLogger(cmd, cfg.Logging)
			gwCfg := gatewayConfig(cfg)
			out := cmd.OutOrStdout()

			ctx, stop := signalContext(cmd)
			defer stop()

			start := time.Now()
			_, wsErr := gateway.NewClient(gwCfg, logger).History(ctx, sessionKey(cmd, cfg), 1)
			if wsErr != nil {
				fmt.Fprintf(out, "%s websocket  %s\n", tui.StatusDot("disconnected"), gateway.DisplayText(wsErr))
			} else {
				fmt.Fprintf(out, "%s websocket  %s  %s\n", tui.StatusDot("connected"), gateway.WebSocketURL(cfg.Gateway.URL), time.Since(start).Round(time.Millisecond))
			}
			if skipHTTP {
				return wsErr
			}

			res, err := gateway.NewCompletionsClient(gwCfg, logger).Probe(ctx)
			switch {
			case err != nil:
				fmt.Fprintf(out, "%s http       %s\n", tui.StatusDot("disconnected"), err)
			case res.Status >= 200 && res.Status < 300:
				fmt.Fprintf(out, "%s http       %s  %d  %s\n", tui.StatusDot("connected"), res.URL, res.Status, res.Elapsed.Round(time.Millisecond))
			default:
				fmt.Fprintf(out, "%s http       %s  %d  %s\n", tui.StatusDot("reconnecting"), res.URL, res.Status, res.Body)
			}
			if wsErr != nil {
				return wsErr
			}
			return err
		},
	}
	cmd.Flags().Bool("ws-only", false, "skip the HTTP completions probe")
	return cmd
}
