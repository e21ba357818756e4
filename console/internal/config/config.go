// Package config loads the operator console configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/jcc-labs/jcc/pkg/protocol"
)

// Config is the console configuration.
type Config struct {
	Gateway GatewayConfig `json:"gateway" yaml:"gateway"`
	Chat    ChatConfig    `json:"chat" yaml:"chat"`
	Agents  []Agent       `json:"agents,omitempty" yaml:"agents,omitempty"`
	Storage StorageConfig `json:"storage" yaml:"storage"`
	Sync    SyncConfig    `json:"sync" yaml:"sync"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

type GatewayConfig struct {
	URL            string   `json:"url" yaml:"url"`
	Token          string   `json:"token,omitempty" yaml:"token,omitempty"`
	ClientID       string   `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	TLSSkipVerify  bool     `json:"tls_skip_verify,omitempty" yaml:"tls_skip_verify,omitempty"`
	ChatTimeout    Duration `json:"chat_timeout,omitempty" yaml:"chat_timeout,omitempty"`
	HistoryTimeout Duration `json:"history_timeout,omitempty" yaml:"history_timeout,omitempty"`
	PollRetries    int      `json:"poll_retries,omitempty" yaml:"poll_retries,omitempty"` // -1 disables History Fallback
	PollInterval   Duration `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`
}

// ChatConfig tunes the interactive chat.
type ChatConfig struct {
	SessionKey     string   `json:"session_key,omitempty" yaml:"session_key,omitempty"`
	ReconnectDelay Duration `json:"reconnect_delay,omitempty" yaml:"reconnect_delay,omitempty"`
	HistoryLimit   int      `json:"history_limit,omitempty" yaml:"history_limit,omitempty"`
}

// Agent is a Gateway agent whose main conversation the console syncs.
type Agent struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name,omitempty" yaml:"name,omitempty"`
	SessionKey string `json:"session_key,omitempty" yaml:"session_key,omitempty"` // default agent:<id>:main
}

// StorageConfig selects the transcript database.
type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `json:"dsn" yaml:"dsn"`
}

type SyncConfig struct {
	Schedule     string `json:"schedule,omitempty" yaml:"schedule,omitempty"` // cron expression
	HistoryLimit int    `json:"history_limit,omitempty" yaml:"history_limit,omitempty"`
	Concurrency  int    `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
}

type LoggingConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// Duration is a time.Duration that reads "30s" or a number of seconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return d.set(v)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var v any
	if err := node.Decode(&v); err != nil {
		return err
	}
	return d.set(v)
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) set(v any) error {
	switch val := v.(type) {
	case string:
		dur, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = dur
	case float64:
		d.Duration = time.Duration(val * float64(time.Second))
	case int:
		d.Duration = time.Duration(val) * time.Second
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
	return nil
}

// DefaultPath returns ~/.jcc/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "jcc.yaml"
	}
	return filepath.Join(home, ".jcc", "config.yaml")
}

// Load reads path (YAML or JSON by extension), applies environment
// overrides, validates and fills defaults. A missing file at the default
// path is not an error; the console then runs from the environment alone.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist) && path == DefaultPath():
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := unmarshal(path, data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides(os.LookupEnv)
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func unmarshal(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return json.Unmarshal(data, cfg)
	default:
		return yaml.Unmarshal(data, cfg)
	}
}

func (c *Config) applyEnvOverrides(lookup func(string) (string, bool)) {
	for _, k := range []string{"OPENCLAW_GATEWAY_URL", "GATEWAY_WS"} {
		if v, ok := lookup(k); ok && v != "" {
			c.Gateway.URL = v
		}
	}
	for _, k := range []string{"GATEWAY_TOKEN", "OPENCLAW_GATEWAY_TOKEN"} {
		if v, ok := lookup(k); ok && v != "" {
			c.Gateway.Token = v
		}
	}
	if v, ok := lookup("JCC_STORAGE_DSN"); ok && v != "" {
		c.Storage.DSN = v
		if strings.HasPrefix(v, "postgres://") || strings.HasPrefix(v, "postgresql://") {
			c.Storage.Driver = "postgres"
		}
	}
}

// applyDefaults runs before validate so agent session keys can be checked.
func (c *Config) applyDefaults() {
	if c.Gateway.ClientID == "" {
		c.Gateway.ClientID = "gateway-client"
	}
	if c.Chat.SessionKey == "" {
		c.Chat.SessionKey = protocol.DefaultSessionKey
	}
	if c.Chat.ReconnectDelay.Duration == 0 {
		c.Chat.ReconnectDelay.Duration = 3 * time.Second
	}
	if c.Chat.HistoryLimit == 0 {
		c.Chat.HistoryLimit = 50
	}
	if len(c.Agents) == 0 {
		c.Agents = []Agent{{ID: "main", Name: "Main"}}
	}
	for i := range c.Agents {
		a := &c.Agents[i]
		if a.SessionKey == "" && a.ID != "" {
			a.SessionKey = protocol.SessionKey{AgentID: a.ID, Scope: "main"}.String()
		}
		if a.Name == "" {
			a.Name = a.ID
		}
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" && c.Storage.Driver == "sqlite" {
		c.Storage.DSN = filepath.Join(filepath.Dir(DefaultPath()), "transcripts.db")
	}
	if c.Sync.HistoryLimit == 0 {
		c.Sync.HistoryLimit = 200
	}
	if c.Sync.Concurrency == 0 {
		c.Sync.Concurrency = 4
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func (c *Config) validate() error {
	if err := protocol.ValidateSessionKey(c.Chat.SessionKey); err != nil {
		return fmt.Errorf("chat.session_key: %w", err)
	}
	seen := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("agents[%d]: id is required", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("agents[%d]: duplicate id %q", i, a.ID)
		}
		seen[a.ID] = true
		if err := protocol.ValidateSessionKey(a.SessionKey); err != nil {
			return fmt.Errorf("agents[%d]: %w", i, err)
		}
	}
	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required for %s", c.Storage.Driver)
	}
	if c.Sync.Schedule != "" {
		if _, err := cron.ParseStandard(c.Sync.Schedule); err != nil {
			return fmt.Errorf("sync.schedule: %w", err)
		}
	}
	if c.Sync.Concurrency < 0 {
		return fmt.Errorf("sync.concurrency must not be negative")
	}
	return nil
}

// Save writes cfg to path as YAML, or JSON for a .json extension.
func Save(cfg *Config, path string) error {
	var (
		data []byte
		err  error
	)
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
