package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/jcc-labs/jcc/bridge/internal/auth"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd("1.2.3")
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "jcc-bridge 1.2.3" {
		t.Errorf("output = %q", out)
	}
}

func TestHashToken(t *testing.T) {
	out, err := execute(t, "", "hash-token", "s3cret")
	if err != nil {
		t.Fatal(err)
	}
	if bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("s3cret")) != nil {
		t.Errorf("hash does not match: %q", out)
	}

	out, err = execute(t, "from-prompt\n", "hash-token")
	if err != nil {
		t.Fatal(err)
	}
	if bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("from-prompt")) != nil {
		t.Errorf("prompted hash does not match: %q", out)
	}
}

func TestToken(t *testing.T) {
	for _, k := range []string{"BRIDGE_PORT", "BRIDGE_TOKEN", "GATEWAY_WS", "OPENCLAW_GATEWAY_URL", "OPENCLAW_GATEWAY_TOKEN"} {
		t.Setenv(k, "")
	}
	const secret = "test-secret-at-least-32-chars-long"
	path := filepath.Join(t.TempDir(), "bridge.json")
	cfg := `{"auth": {"mode": "jwt", "jwt_secret": "` + secret + `", "issuer": "jcc"}}`
	if err := os.WriteFile(path, []byte(cfg), 0600); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "", "token", "-c", path, "--subject", "dashboard")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	id, err := auth.NewJWTValidator(secret, "jcc").Validate(context.Background(), strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("minted token rejected: %v", err)
	}
	if id.Subject != "dashboard" {
		t.Errorf("subject = %q", id.Subject)
	}

	if _, err := execute(t, "", "token", "--subject", "x"); err == nil {
		t.Error("expected error when auth mode is not jwt")
	}
}

func TestInitDefaults(t *testing.T) {
	for _, k := range []string{"BRIDGE_PORT", "BRIDGE_TOKEN", "GATEWAY_WS", "OPENCLAW_GATEWAY_URL", "OPENCLAW_GATEWAY_TOKEN"} {
		t.Setenv(k, "")
	}
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	out, err := execute(t, "", "init", "--defaults", "-o", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Config written to "+path) {
		t.Errorf("output = %q", out)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config not written: %v", err)
	}
}
