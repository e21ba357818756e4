// Package bridge wires the bridge's components together and runs the HTTP
// listener.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jcc-labs/jcc/bridge/internal/api"
	"github.com/jcc-labs/jcc/bridge/internal/auth"
	"github.com/jcc-labs/jcc/bridge/internal/config"
)

const shutdownTimeout = 30 * time.Second

// Bridge is the bridge process.
type Bridge struct {
	cfg    *config.Config
	api    *api.Server
	logger *slog.Logger
}

// New builds a bridge from configuration. ctx bounds background work started
// by the auth validator.
func New(ctx context.Context, cfg *config.Config, version string, logger *slog.Logger) (*Bridge, error) {
	validator, err := auth.New(ctx, cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("init auth: %w", err)
	}

	backend := api.NewGatewayBackend(cfg.Gateway, version, logger)
	b := &Bridge{
		cfg:    cfg,
		api:    api.NewServer(backend, validator, cfg, logger),
		logger: logger.With("component", "bridge"),
	}

	if cfg.Auth.Mode == config.AuthStatic && cfg.Auth.Token == "" && cfg.Auth.TokenHash == "" {
		b.logger.Warn("no bridge token configured, every request will be rejected")
	}
	if cfg.Gateway.URL == "" {
		b.logger.Warn("gateway url not configured, gateway requests will fail")
	}
	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "*" {
			b.logger.Warn("CORS allowed_origins contains wildcard '*', restrict to specific origins in production")
			break
		}
	}
	return b, nil
}

// Handler returns the bridge's HTTP handler.
func (b *Bridge) Handler() http.Handler {
	return b.api.Handler()
}

// Run listens on the configured address and blocks until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", b.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return b.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully. It returns ctx.Err() after a clean shutdown.
func (b *Bridge) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           b.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	b.api.StartBackgroundTasks(ctx)

	errCh := make(chan error, 1)
	go func() {
		b.logger.Info("bridge listening", "addr", ln.Addr().String(), "transport", b.cfg.Gateway.Transport, "auth", b.cfg.Auth.Mode)
		if b.cfg.Server.TLSCert != "" && b.cfg.Server.TLSKey != "" {
			errCh <- srv.ServeTLS(ln, b.cfg.Server.TLSCert, b.cfg.Server.TLSKey)
		} else {
			errCh <- srv.Serve(ln)
		}
	}()

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down bridge gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			b.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = srv.Close()
		} else {
			b.logger.Info("http server stopped gracefully")
		}
		return ctx.Err()

	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
