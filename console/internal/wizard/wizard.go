// Package wizard provides the interactive setup for the jcc console.
package wizard

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jcc-labs/jcc/console/internal/config"
	"github.com/jcc-labs/jcc/pkg/cli"
	"github.com/jcc-labs/jcc/pkg/protocol"
)

const defaultGatewayURL = "ws://127.0.0.1:18789"

// Wizard drives the interactive console config setup.
type Wizard struct {
	p *cli.Prompter
}

func New(p *cli.Prompter) *Wizard {
	return &Wizard{p: p}
}

// Run asks for every setting and writes the config file to outputPath, or
// to the default location when outputPath is empty.
func (w *Wizard) Run(outputPath string) error {
	if outputPath == "" {
		outputPath = config.DefaultPath()
	}
	w.p.Printf("\n  JCC Console - Configuration Wizard\n%s\n", strings.Repeat("─", 39))

	cfg := &config.Config{}

	w.p.Section("Gateway")
	cfg.Gateway.URL = w.p.AskURL("  Gateway URL", defaultGatewayURL, "ws", "wss", "http", "https")
	cfg.Gateway.Token = w.p.AskSecret("  Gateway token", "")
	cfg.Gateway.ChatTimeout.Duration = w.p.AskDuration("  Chat timeout", 45*time.Second)

	w.p.Section("Chat")
	cfg.Chat.SessionKey = w.askSessionKey("  Default session key", protocol.DefaultSessionKey)

	w.p.Section("Transcript sync")
	ids := w.p.Ask("  Agent ids to sync (comma separated)", "main")
	for _, id := range strings.Split(ids, ",") {
		if id = strings.TrimSpace(id); id != "" {
			cfg.Agents = append(cfg.Agents, config.Agent{ID: id})
		}
	}
	cfg.Storage.Driver = w.p.Choose("  Storage", []string{"sqlite", "postgres"}, 0)
	if cfg.Storage.Driver == "sqlite" {
		cfg.Storage.DSN = w.p.Ask("  Database file", filepath.Join(filepath.Dir(outputPath), "transcripts.db"))
	} else {
		cfg.Storage.DSN = w.p.AskURL("  Postgres URL", "", "postgres", "postgresql")
	}
	cfg.Sync.Schedule = w.askSchedule("  Sync schedule (cron, blank for manual)")

	if err := config.Save(cfg, outputPath); err != nil {
		return err
	}

	w.p.Printf("\n  Config written to %s\n", outputPath)
	w.p.Printf("\n  Next steps:\n    jcc chat -c %s\n    jcc sync -c %s\n\n", outputPath, outputPath)
	return nil
}

// RunDefaults writes a config built from the environment without asking.
func (w *Wizard) RunDefaults(outputPath string) error {
	if outputPath == "" {
		outputPath = config.DefaultPath()
	}
	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	if cfg.Gateway.URL == "" {
		cfg.Gateway.URL = defaultGatewayURL
	}
	if cfg.Storage.Driver == "sqlite" {
		cfg.Storage.DSN = filepath.Join(filepath.Dir(outputPath), "transcripts.db")
	}
	if err := config.Save(cfg, outputPath); err != nil {
		return err
	}
	w.p.Printf("Config written to %s\n", outputPath)
	return nil
}

func (w *Wizard) askSessionKey(question, defaultVal string) string {
	for {
		key := w.p.Ask(question, defaultVal)
		if err := protocol.ValidateSessionKey(key); err == nil {
			return key
		}
		w.p.Printf("  Session keys look like agent:<agentId>:<scope>.\n")
	}
}

func (w *Wizard) askSchedule(question string) string {
	for {
		spec := w.p.Ask(question, "")
		if spec == "" {
			return ""
		}
		_, err := cron.ParseStandard(spec)
		if err == nil {
			return spec
		}
		w.p.Printf("  Invalid schedule: %v\n", err)
	}
}
