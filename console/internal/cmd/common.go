package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jcc-labs/jcc/console/internal/config"
	"github.com/jcc-labs/jcc/pkg/gateway"
)

// resolveConfigPath returns --config, or the default path.
func resolveConfigPath(cmd *cobra.Command) string {
	if f := cmd.Flag("config"); f != nil && f.Changed {
		return f.Value.String()
	}
	if f := cmd.Root().PersistentFlags().Lookup("config"); f != nil && f.Changed {
		return f.Value.String()
	}
	return config.DefaultPath()
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath(cmd))
	if err != nil {
		return nil, fmt.Errorf("error: %w", err)
	}
	return cfg, nil
}

// sessionKey returns --session or the configured default.
func sessionKey(cmd *cobra.Command, cfg *config.Config) string {
	if f := cmd.Flag("session"); f != nil && f.Changed {
		return f.Value.String()
	}
	return cfg.Chat.SessionKey
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func newHandler(cfg config.LoggingConfig, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// newLogger logs to stderr so command output on stdout stays clean.
func newLogger(cmd *cobra.Command, cfg config.LoggingConfig) *slog.Logger {
	return slog.New(newHandler(cfg, cmd.ErrOrStderr()))
}

func gatewayConfig(cfg *config.Config) gateway.Config {
	return gateway.Config{
		URL:            cfg.Gateway.URL,
		Token:          cfg.Gateway.Token,
		ClientID:       cfg.Gateway.ClientID,
		ClientVersion:  version,
		Mode:           "cli",
		UserAgent:      "jcc/" + version,
		TLSSkipVerify:  cfg.Gateway.TLSSkipVerify,
		ChatTimeout:    cfg.Gateway.ChatTimeout.Duration,
		HistoryTimeout: cfg.Gateway.HistoryTimeout.Duration,
		PollRetries:    cfg.Gateway.PollRetries,
		PollInterval:   cfg.Gateway.PollInterval.Duration,
	}
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
