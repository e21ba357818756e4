package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jcc-labs/jcc/pkg/gateway/gatewaytest"
	"github.com/jcc-labs/jcc/pkg/protocol"
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

// setup writes a config pointing at gatewayURL with a sqlite store in a temp
// dir and returns its path.
func setup(t *testing.T, gatewayURL string) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, k := range []string{"GATEWAY_WS", "OPENCLAW_GATEWAY_URL", "GATEWAY_TOKEN", "OPENCLAW_GATEWAY_TOKEN", "JCC_STORAGE_DSN"} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := "gateway:\n  url: " + gatewayURL + "\n  token: tok\n" +
		"agents:\n  - id: main\n    name: Main\n" +
		"storage:\n  driver: sqlite\n  dsn: " + filepath.Join(dir, "t.db") + "\n" +
		"logging:\n  level: error\n"
	if err := os.WriteFile(path, []byte(cfg), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "jcc 1.2.3" {
		t.Errorf("output = %q", out)
	}
}

func TestSend(t *testing.T) {
	gw := gatewaytest.New(t, "tok")
	gw.Handle(protocol.MethodChatSend, gatewaytest.ChatReply("run-1", "", "Hel", "lo"))
	path := setup(t, gw.WSURL())

	out, err := execute(t, "", "send", "-c", path, "hi", "there")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "Hello" {
		t.Errorf("output = %q", out)
	}

	var p protocol.ChatSendParams
	if err := json.Unmarshal(gw.Requests(protocol.MethodChatSend)[0].Params, &p); err != nil {
		t.Fatal(err)
	}
	if p.Message != "hi there" || p.SessionKey != protocol.DefaultSessionKey {
		t.Errorf("params = %+v", p)
	}

	out, err = execute(t, "from stdin\n", "send", "-c", path, "--stream", "-s", "agent:ops:main")
	if err != nil {
		t.Fatal(err)
	}
	if out != "Hello\n" {
		t.Errorf("streamed output = %q", out)
	}
	if err := json.Unmarshal(gw.Requests(protocol.MethodChatSend)[1].Params, &p); err != nil {
		t.Fatal(err)
	}
	if p.Message != "from stdin" || p.SessionKey != "agent:ops:main" {
		t.Errorf("params = %+v", p)
	}
}

func TestSendHTTPTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"via http"}}]}`))
	}))
	defer srv.Close()
	path := setup(t, srv.URL)

	out, err := execute(t, "", "send", "-c", path, "--transport", "http", "hi")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "via http" {
		t.Errorf("output = %q", out)
	}
	if _, err := execute(t, "", "send", "-c", path, "--transport", "grpc", "hi"); err == nil {
		t.Error("unknown transport accepted")
	}
	if _, err := execute(t, "  \n", "send", "-c", path); err == nil {
		t.Error("empty message accepted")
	}
}

func TestHistoryJSON(t *testing.T) {
	gw := gatewaytest.New(t, "tok")
	gw.Handle(protocol.MethodChatHistory, gatewaytest.HistoryReply(
		protocol.Message{Role: "user", Content: protocol.TextContent("q"), Timestamp: protocol.Timestamp{Num: 1767225600, Valid: true}},
		protocol.Message{Role: "assistant", Content: protocol.BlockContent(protocol.ContentBlock{Type: "text", Text: "a"})},
	))
	path := setup(t, gw.WSURL())

	out, err := execute(t, "", "history", "-c", path, "--json", "--limit", "5")
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		Messages []protocol.NormalizedMessage `json:"messages"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("messages = %+v", got.Messages)
	}
	if got.Messages[0].ID != "msg-1767225600" || got.Messages[0].CreatedAt != "2026-01-01T00:00:00.000Z" {
		t.Errorf("first = %+v", got.Messages[0])
	}
	if got.Messages[1].ID != "msg-1" || got.Messages[1].Content != "a" {
		t.Errorf("second = %+v", got.Messages[1])
	}

	var p protocol.ChatHistoryParams
	_ = json.Unmarshal(gw.Requests(protocol.MethodChatHistory)[0].Params, &p)
	if p.Limit != 5 {
		t.Errorf("limit = %d", p.Limit)
	}
}

func TestSyncThenTranscript(t *testing.T) {
	gw := gatewaytest.New(t, "tok")
	gw.Handle(protocol.MethodChatHistory, gatewaytest.HistoryReply(
		protocol.Message{Role: "user", Content: protocol.TextContent("hello"), Timestamp: protocol.Timestamp{Num: 1767225600, Valid: true}},
		protocol.Message{Role: "assistant", Content: protocol.TextContent("HEARTBEAT_OK"), Timestamp: protocol.Timestamp{Num: 1767225601, Valid: true}},
		protocol.Message{Role: "assistant", Content: protocol.TextContent("hi!"), Timestamp: protocol.Timestamp{Num: 1767225602, Valid: true}},
	))
	path := setup(t, gw.WSURL())

	out, err := execute(t, "", "sync", "-c", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "2 new messages synced.") {
		t.Errorf("first sync output = %q", out)
	}
	out, err = execute(t, "", "sync", "-c", path, "--once")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "0 new messages synced.") {
		t.Errorf("second sync output = %q", out)
	}

	out, err = execute(t, "", "transcript", "-c", path, "--json")
	if err != nil {
		t.Fatal(err)
	}
	var rows []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(rows) != 2 || rows[0].Content != "hello" || rows[1].Content != "hi!" {
		t.Errorf("rows = %+v", rows)
	}

	out, err = execute(t, "", "transcript", "-c", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "2 stored, showing 2") {
		t.Errorf("transcript output = %q", out)
	}
}

func TestPingWebSocketOnly(t *testing.T) {
	gw := gatewaytest.New(t, "tok")
	gw.Handle(protocol.MethodChatHistory, gatewaytest.HistoryReply())
	path := setup(t, gw.WSURL())

	out, err := execute(t, "", "ping", "-c", path, "--ws-only")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "websocket") || !strings.Contains(out, gw.WSURL()) {
		t.Errorf("output = %q", out)
	}
}

func TestInitDefaults(t *testing.T) {
	setup(t, "ws://unused")
	t.Setenv("GATEWAY_WS", "ws://gw.example.com:18789")
	path := filepath.Join(t.TempDir(), "jcc.yaml")

	out, err := execute(t, "", "init", "--defaults", "-o", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, path) {
		t.Errorf("output = %q", out)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "ws://gw.example.com:18789") {
		t.Errorf("config = %s", data)
	}
}

func TestBadSessionFlag(t *testing.T) {
	gw := gatewaytest.New(t, "tok")
	path := setup(t, gw.WSURL())
	if _, err := execute(t, "", "history", "-c", path, "-s", "main"); err == nil {
		t.Error("invalid session key accepted")
	}
}
