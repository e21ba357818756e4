package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"BRIDGE_PORT", "BRIDGE_TOKEN", "GATEWAY_WS", "OPENCLAW_GATEWAY_URL", "OPENCLAW_GATEWAY_TOKEN"} {
		if v, ok := os.LookupEnv(k); ok {
			os.Unsetenv(k)
			t.Cleanup(func() { os.Setenv(k, v) })
		}
	}
}

func TestLoadJSON(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "bridge.json", `{
		"server": {"addr": ":9000", "allowed_origins": ["https://jcc.example.com"]},
		"auth": {"mode": "jwt", "jwt_secret": "a-very-long-secret-of-32-characters!", "jwt_expiry": "2h"},
		"gateway": {"url": "ws://gw:18789", "token": "gw-tok", "chat_timeout": 30, "fallback_polls": 2},
		"logging": {"level": "debug", "format": "text"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("Server.Addr: got %q", cfg.Server.Addr)
	}
	if cfg.Auth.Mode != AuthJWT || cfg.Auth.JWTExpiry.Duration != 2*time.Hour {
		t.Errorf("Auth: got %+v", cfg.Auth)
	}
	if cfg.Gateway.ChatTimeout.Duration != 30*time.Second {
		t.Errorf("Gateway.ChatTimeout: got %v", cfg.Gateway.ChatTimeout)
	}
	if cfg.Gateway.FallbackPolls != 2 || cfg.Gateway.Transport != TransportWS {
		t.Errorf("Gateway: got %+v", cfg.Gateway)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format: got %q", cfg.Logging.Format)
	}
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "bridge.yaml", `
server:
  addr: "127.0.0.1:18790"
auth:
  token: bridge-secret
gateway:
  url: wss://gw.example.com
  transport: http
  history_timeout: 5s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.Token != "bridge-secret" || cfg.Auth.Mode != AuthStatic {
		t.Errorf("Auth: got %+v", cfg.Auth)
	}
	if cfg.Gateway.Transport != TransportHTTP || cfg.Gateway.HistoryTimeout.Duration != 5*time.Second {
		t.Errorf("Gateway: got %+v", cfg.Gateway)
	}
}

func TestLoadEnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv("BRIDGE_PORT", "18800")
	t.Setenv("BRIDGE_TOKEN", "from-env")
	t.Setenv("OPENCLAW_GATEWAY_URL", "http://gw-url:18789")
	t.Setenv("GATEWAY_WS", "ws://gw-ws:18789")
	t.Setenv("OPENCLAW_GATEWAY_TOKEN", "gw-env")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":18800" {
		t.Errorf("Server.Addr: got %q", cfg.Server.Addr)
	}
	if cfg.Auth.Token != "from-env" || cfg.Gateway.Token != "gw-env" {
		t.Errorf("tokens: bridge=%q gateway=%q", cfg.Auth.Token, cfg.Gateway.Token)
	}
	if cfg.Gateway.URL != "ws://gw-ws:18789" {
		t.Errorf("GATEWAY_WS should win, got %q", cfg.Gateway.URL)
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":18790" {
		t.Errorf("Server.Addr: got %q", cfg.Server.Addr)
	}
	if cfg.Gateway.URL != "" {
		t.Errorf("Gateway.URL should stay empty, got %q", cfg.Gateway.URL)
	}
	if cfg.Gateway.ChatTimeout.Duration != 50*time.Second || cfg.Gateway.FallbackPolls != 0 {
		t.Errorf("Gateway: got %+v", cfg.Gateway)
	}
	if cfg.RateLimit.RequestsPerSecond != 5 || cfg.RateLimit.Burst != 10 {
		t.Errorf("RateLimit: got %+v", cfg.RateLimit)
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	tests := map[string]string{
		"short jwt secret":  `{"auth": {"mode": "jwt", "jwt_secret": "short"}}`,
		"jwks without url":  `{"auth": {"mode": "jwks"}}`,
		"unknown mode":      `{"auth": {"mode": "oauth"}}`,
		"unknown transport": `{"gateway": {"transport": "grpc"}}`,
		"bad addr":          `{"server": {"addr": "18790"}}`,
		"negative polls":    `{"gateway": {"fallback_polls": -1}}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeTempConfig(t, "c.json", body)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "out", "bridge.yaml")
	in := &Config{
		Auth:    AuthConfig{Token: "t"},
		Gateway: GatewayConfig{URL: "ws://gw", ChatTimeout: Duration{Duration: 40 * time.Second}},
	}
	if err := Save(in, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	out, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.Gateway.URL != "ws://gw" || out.Gateway.ChatTimeout.Duration != 40*time.Second {
		t.Errorf("round trip: got %+v", out.Gateway)
	}
}
