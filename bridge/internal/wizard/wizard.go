// Package wizard provides the interactive setup for jcc-bridge.
package wizard

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/jcc-labs/jcc/bridge/internal/config"
	"github.com/jcc-labs/jcc/pkg/cli"
)

const (
	DefaultOutput     = "./jcc-bridge.yaml"
	defaultGatewayURL = "ws://127.0.0.1:18789"
)

// Wizard drives the interactive bridge config setup.
type Wizard struct {
	p *cli.Prompter
}

func New(p *cli.Prompter) *Wizard {
	return &Wizard{p: p}
}

// Run asks for every setting and writes the config file.
func (w *Wizard) Run(outputPath string) error {
	w.p.Printf("\n  JCC Bridge - Configuration Wizard\n%s\n", strings.Repeat("─", 38))

	cfg := &config.Config{}

	w.p.Section("Server")
	cfg.Server.Addr = w.p.Ask("  Listen address", ":18790")

	w.p.Section("Gateway")
	cfg.Gateway.URL = w.p.AskURL("  Gateway URL", defaultGatewayURL, "ws", "wss", "http", "https")
	cfg.Gateway.Token = w.p.AskSecret("  Gateway token (blank if callers send gwToken)", "")
	cfg.Gateway.Transport = w.p.Choose("  Chat transport", []string{config.TransportWS, config.TransportHTTP}, 0)
	cfg.Gateway.ChatTimeout.Duration = w.p.AskDuration("  Chat timeout", 50*time.Second)
	cfg.Gateway.FallbackPolls = w.p.AskInt("  History polls after a chat timeout (0 = off)", 0, 0)

	w.p.Section("Caller authentication")
	cfg.Auth.Mode = w.p.Choose("  Mode", []string{config.AuthStatic, config.AuthJWT, config.AuthJWKS}, 0)
	var reveal string
	switch cfg.Auth.Mode {
	case config.AuthStatic:
		tok, err := generateSecret()
		if err != nil {
			return fmt.Errorf("generate bridge token: %w", err)
		}
		cfg.Auth.Token = tok
		reveal = "Bridge token:  " + tok
	case config.AuthJWT:
		secret, err := generateSecret()
		if err != nil {
			return fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.Auth.JWTSecret = secret
		cfg.Auth.Issuer = w.p.Ask("  Issuer", "jcc-bridge")
		reveal = "Mint caller tokens with:  jcc-bridge token --subject <name>"
	case config.AuthJWKS:
		cfg.Auth.JWKSURL = w.p.AskURL("  JWKS URL", "", "https", "http")
		cfg.Auth.Issuer = w.p.Ask("  Issuer (blank to skip the check)", "")
	}

	if outputPath == "" {
		outputPath = w.p.Ask("\nConfig file output path", DefaultOutput)
	}
	if err := config.Save(cfg, outputPath); err != nil {
		return err
	}

	w.p.Printf("\n  Config written to %s\n", outputPath)
	if reveal != "" {
		w.p.Printf("  %s\n", reveal)
	}
	w.p.Printf("\n  Next steps:\n    jcc-bridge run -c %s\n\n", outputPath)
	return nil
}

// RunDefaults writes a config built from the environment, generating a
// bridge token when BRIDGE_TOKEN is unset.
func (w *Wizard) RunDefaults(outputPath string) error {
	if outputPath == "" {
		outputPath = DefaultOutput
	}
	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	if cfg.Gateway.URL == "" {
		cfg.Gateway.URL = defaultGatewayURL
	}
	generated := false
	if cfg.Auth.Token == "" {
		if cfg.Auth.Token, err = generateSecret(); err != nil {
			return fmt.Errorf("generate bridge token: %w", err)
		}
		generated = true
	}
	if err := config.Save(cfg, outputPath); err != nil {
		return err
	}
	w.p.Printf("Config written to %s\n", outputPath)
	if generated {
		w.p.Printf("Bridge token: %s\n", cfg.Auth.Token)
	}
	return nil
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
