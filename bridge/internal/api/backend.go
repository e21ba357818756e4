package api

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jcc-labs/jcc/bridge/internal/config"
	"github.com/jcc-labs/jcc/pkg/gateway"
)

// Backend performs the single Gateway operation behind each bridge request.
// gwToken, when non-empty, replaces the configured Gateway token for that
// request only.
type Backend interface {
	Chat(ctx context.Context, sessionKey, content, gwToken string) (string, error)
	// History returns the Gateway's messages undecoded, so fields the
	// bridge does not model survive the trip.
	History(ctx context.Context, sessionKey string, limit int, gwToken string) ([]json.RawMessage, error)
	Transport() string
}

// GatewayBackend opens one Gateway connection per operation.
type GatewayBackend struct {
	client      *gateway.Client
	completions *gateway.CompletionsClient // nil unless transport is "http"
}

// NewGatewayBackend builds the Gateway clients described by cfg.
func NewGatewayBackend(cfg config.GatewayConfig, version string, logger *slog.Logger) *GatewayBackend {
	gcfg := GatewayClientConfig(cfg, version)
	b := &GatewayBackend{client: gateway.NewClient(gcfg, logger)}
	if cfg.Transport == config.TransportHTTP {
		b.completions = gateway.NewCompletionsClient(gcfg, logger)
	}
	return b
}

// GatewayClientConfig maps bridge settings onto the gateway client's.
func GatewayClientConfig(cfg config.GatewayConfig, version string) gateway.Config {
	polls := cfg.FallbackPolls
	if polls == 0 {
		polls = -1
	}
	return gateway.Config{
		URL:            cfg.URL,
		Token:          cfg.Token,
		ClientID:       cfg.ClientID,
		ClientVersion:  version,
		Mode:           "backend",
		UserAgent:      "jcc-bridge/" + version,
		TLSSkipVerify:  cfg.TLSSkipVerify,
		ChatTimeout:    cfg.ChatTimeout.Duration,
		HistoryTimeout: cfg.HistoryTimeout.Duration,
		PollRetries:    polls,
		PollInterval:   cfg.PollInterval.Duration,
	}
}

func (b *GatewayBackend) Chat(ctx context.Context, sessionKey, content, gwToken string) (string, error) {
	var chatter gateway.Chatter = b.client.WithToken(gwToken)
	if b.completions != nil {
		chatter = b.completions.WithToken(gwToken)
	}
	return chatter.SendAndWait(ctx, sessionKey, content)
}

func (b *GatewayBackend) History(ctx context.Context, sessionKey string, limit int, gwToken string) ([]json.RawMessage, error) {
	return b.client.WithToken(gwToken).HistoryRaw(ctx, sessionKey, limit)
}

func (b *GatewayBackend) Transport() string {
	if b.completions != nil {
		return config.TransportHTTP
	}
	return config.TransportWS
}
