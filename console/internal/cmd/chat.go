package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jcc-labs/jcc/console/internal/eventbus"
	"github.com/jcc-labs/jcc/console/internal/tui/chat"
	"github.com/jcc-labs/jcc/pkg/gateway"
	"github.com/jcc-labs/jcc/pkg/protocol"
)

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the interactive chat view (default on a terminal)",
		Args:  cobra.NoArgs,
		RunE:  runChat,
	}
	cmd.Flags().String("log-file", "", "also write logs to this file")
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	key := sessionKey(cmd, cfg)
	if err := protocol.ValidateSessionKey(key); err != nil {
		return err
	}

	// The view owns the terminal, so logs go to the bus and optionally a file.
	var sink io.Writer = io.Discard
	if f := cmd.Flag("log-file"); f != nil && f.Value.String() != "" {
		file, err := os.OpenFile(f.Value.String(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer file.Close()
		sink = file
	}
	bus := eventbus.New(256)
	defer bus.Close()
	logger := slog.New(eventbus.NewSlogHandler(newHandler(cfg.Logging, sink), bus, slog.LevelWarn))

	ctx, stop := signalContext(cmd)
	defer stop()

	client := gateway.NewClient(gatewayConfig(cfg), logger)
	sess := client.NewSession(gateway.SessionConfig{ReconnectDelay: cfg.Chat.ReconnectDelay.Duration})
	return chat.Run(ctx, sess, bus, chat.Options{
		SessionKey:   key,
		GatewayURL:   cfg.Gateway.URL,
		HistoryLimit: cfg.Chat.HistoryLimit,
	})
}
