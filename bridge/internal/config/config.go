// Package config handles bridge configuration loading and validation.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level bridge configuration.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Auth      AuthConfig      `json:"auth" yaml:"auth"`
	Gateway   GatewayConfig   `json:"gateway" yaml:"gateway"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	RateLimit RateLimitConfig `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
}

// ServerConfig defines the bridge's listener settings.
type ServerConfig struct {
	Addr           string   `json:"addr" yaml:"addr"` // e.g. ":18790"
	TLSCert        string   `json:"tls_cert,omitempty" yaml:"tls_cert,omitempty"`
	TLSKey         string   `json:"tls_key,omitempty" yaml:"tls_key,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty" yaml:"allowed_origins,omitempty"` // default ["*"]
	MaxBodyBytes   int64    `json:"max_body_bytes,omitempty" yaml:"max_body_bytes,omitempty"`   // default 1MB
}

// Auth modes.
const (
	AuthStatic = "static"
	AuthJWT    = "jwt"
	AuthJWKS   = "jwks"
)

// AuthConfig defines how callers of the bridge authenticate.
type AuthConfig struct {
	Mode      string   `json:"mode,omitempty" yaml:"mode,omitempty"` // "static" (default), "jwt" or "jwks"
	Token     string   `json:"token,omitempty" yaml:"token,omitempty"`
	TokenHash string   `json:"token_hash,omitempty" yaml:"token_hash,omitempty"` // bcrypt hash of the bridge token
	JWTSecret string   `json:"jwt_secret,omitempty" yaml:"jwt_secret,omitempty"`
	JWTExpiry Duration `json:"jwt_expiry,omitempty" yaml:"jwt_expiry,omitempty"` // lifetime of tokens minted by "jcc-bridge token"
	JWKSURL   string   `json:"jwks_url,omitempty" yaml:"jwks_url,omitempty"`
	Issuer    string   `json:"issuer,omitempty" yaml:"issuer,omitempty"`
}

// Gateway transports.
const (
	TransportWS   = "ws"
	TransportHTTP = "http"
)

// GatewayConfig defines how the bridge reaches the Gateway.
type GatewayConfig struct {
	URL            string   `json:"url" yaml:"url"`
	Token          string   `json:"token,omitempty" yaml:"token,omitempty"` // used when a request carries no gwToken
	Transport      string   `json:"transport,omitempty" yaml:"transport,omitempty"`
	ClientID       string   `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	TLSSkipVerify  bool     `json:"tls_skip_verify,omitempty" yaml:"tls_skip_verify,omitempty"` // dev only
	ChatTimeout    Duration `json:"chat_timeout,omitempty" yaml:"chat_timeout,omitempty"`
	HistoryTimeout Duration `json:"history_timeout,omitempty" yaml:"history_timeout,omitempty"`
	FallbackPolls  int      `json:"fallback_polls,omitempty" yaml:"fallback_polls,omitempty"` // 0 disables History Fallback
	PollInterval   Duration `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"` // "json" or "text"
}

// RateLimitConfig defines per-caller rate limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second,omitempty" yaml:"requests_per_second,omitempty"` // default 5
	Burst             int     `json:"burst,omitempty" yaml:"burst,omitempty"`                             // default 10
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

// Load reads a config file, applies environment overrides, validates and
// fills defaults. An empty path configures the bridge from the environment
// alone.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides(os.LookupEnv)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// applyEnvOverrides lets the deployment environment win over the file.
func (c *Config) applyEnvOverrides(lookup func(string) (string, bool)) {
	if port, ok := lookup("BRIDGE_PORT"); ok && port != "" {
		c.Server.Addr = ":" + port
	}
	if tok, ok := lookup("BRIDGE_TOKEN"); ok && tok != "" {
		c.Auth.Token = tok
	}
	if u, ok := lookup("OPENCLAW_GATEWAY_URL"); ok && u != "" {
		c.Gateway.URL = u
	}
	if u, ok := lookup("GATEWAY_WS"); ok && u != "" {
		c.Gateway.URL = u
	}
	if tok, ok := lookup("OPENCLAW_GATEWAY_TOKEN"); ok && tok != "" {
		c.Gateway.Token = tok
	}
}

func (c *Config) validate() error {
	if c.Server.Addr != "" {
		_, port, err := net.SplitHostPort(c.Server.Addr)
		if err != nil {
			return fmt.Errorf("server.addr: %w", err)
		}
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("server.addr has invalid port %q", port)
		}
	}
	switch c.Auth.Mode {
	case "", AuthStatic:
	case AuthJWT:
		if len(c.Auth.JWTSecret) < 32 {
			return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
		}
	case AuthJWKS:
		if c.Auth.JWKSURL == "" {
			return fmt.Errorf("auth.jwks_url is required when mode is jwks")
		}
	default:
		return fmt.Errorf("unknown auth.mode %q", c.Auth.Mode)
	}
	switch c.Gateway.Transport {
	case "", TransportWS, TransportHTTP:
	default:
		return fmt.Errorf("unknown gateway.transport %q", c.Gateway.Transport)
	}
	if c.Gateway.FallbackPolls < 0 {
		return fmt.Errorf("gateway.fallback_polls must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":18790"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1024 * 1024 // 1MB
	}
	if c.Auth.Mode == "" {
		c.Auth.Mode = AuthStatic
	}
	if c.Auth.JWTExpiry.Duration == 0 {
		c.Auth.JWTExpiry.Duration = 24 * time.Hour
	}
	if c.Gateway.Transport == "" {
		c.Gateway.Transport = TransportWS
	}
	if c.Gateway.ClientID == "" {
		c.Gateway.ClientID = "jcc-bridge"
	}
	if c.Gateway.ChatTimeout.Duration == 0 {
		c.Gateway.ChatTimeout.Duration = 50 * time.Second
	}
	if c.Gateway.HistoryTimeout.Duration == 0 {
		c.Gateway.HistoryTimeout.Duration = 15 * time.Second
	}
	if c.Gateway.PollInterval.Duration == 0 {
		c.Gateway.PollInterval.Duration = 3 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 5
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 10
	}
}

// Save writes cfg to path, as YAML or JSON depending on the extension.
func Save(cfg *Config, path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
