package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jcc-labs/jcc/pkg/gateway"
)

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send [message...]",
		Short: "Send one message and print the reply",
		Long: "Send one message and print the reply. The message is read from stdin when " +
			"no arguments are given. With --stream, text is printed as it arrives and " +
			"there is no History Fallback.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			content := strings.Join(args, " ")
			if content == "" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read message: %w", err)
				}
				content = string(b)
			}
			content = strings.TrimSpace(content)
			if content == "" {
				return fmt.Errorf("message required")
			}

			transport, _ := cmd.Flags().GetString("transport")
			stream, _ := cmd.Flags().GetBool("stream")
			logger := newLogger(cmd, cfg.Logging)
			gwCfg := gatewayConfig(cfg)
			key := sessionKey(cmd, cfg)
			out := cmd.OutOrStdout()

			ctx, stop := signalContext(cmd)
			defer stop()

			var reply string
			switch {
			case transport == "http":
				reply, err = gateway.NewCompletionsClient(gwCfg, logger).SendAndWait(ctx, key, content)
			case transport != "ws":
				return fmt.Errorf("unknown transport %q (want ws or http)", transport)
			case stream:
				var streamed bool
				reply, err = gateway.NewClient(gwCfg, logger).Chat(ctx, key, content, func(d string) {
					streamed = true
					_, _ = io.WriteString(out, d)
				})
				if err == nil && streamed {
					_, err = fmt.Fprintln(out)
					return err
				}
			default:
				reply, err = gateway.NewClient(gwCfg, logger).SendAndWait(ctx, key, content)
			}
			if err != nil {
				return err
			}
			if reply == "" {
				reply = "No response received."
			}
			_, err = fmt.Fprintln(out, reply)
			return err
		},
	}
	cmd.Flags().String("transport", "ws", "chat transport: ws or http")
	cmd.Flags().Bool("stream", false, "print the reply as it streams in")
	return cmd
}
