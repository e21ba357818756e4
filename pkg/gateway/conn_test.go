package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jcc-labs/jcc/pkg/gateway/gatewaytest"
	"github.com/jcc-labs/jcc/pkg/protocol"
)

func testOptions(srv *gatewaytest.Server, token string) Options {
	return Options{
		URL:    srv.WSURL(),
		Token:  token,
		Client: protocol.ClientInfo{ID: "jcc-test", Version: "test", Platform: "go", Mode: "backend"},
		Role:   "operator",
		Scopes: []string{"operator.admin"},
		Logger: testLogger(),
	}
}

func TestOpen_Handshake(t *testing.T) {
	srv := gatewaytest.New(t, "tok")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := Open(ctx, testOptions(srv, "tok"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if conn.State() != StateAuthenticated {
		t.Errorf("state = %s", conn.State())
	}

	reqs := srv.Requests(protocol.MethodConnect)
	if len(reqs) != 1 {
		t.Fatalf("got %d connect requests", len(reqs))
	}
	var params protocol.ConnectParams
	if err := json.Unmarshal(reqs[0].Params, &params); err != nil {
		t.Fatal(err)
	}
	if params.MinProtocol != 3 || params.MaxProtocol != 3 {
		t.Errorf("protocol range = %d..%d", params.MinProtocol, params.MaxProtocol)
	}
	if params.Role != "operator" || len(params.Scopes) != 1 || params.Scopes[0] != "operator.admin" {
		t.Errorf("role/scopes = %q %v", params.Role, params.Scopes)
	}
	if params.Auth.Token != "tok" || params.Client.InstanceID == "" || params.Caps == nil {
		t.Errorf("unexpected params: %+v", params)
	}

	conn.Close()
	<-conn.Done()
	if conn.State() != StateClosed {
		t.Errorf("state after close = %s", conn.State())
	}
}

func TestOpen_Rejected(t *testing.T) {
	srv := gatewaytest.New(t, "right")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Open(ctx, testOptions(srv, "wrong"))
	var ae *AuthError
	if !errors.As(err, &ae) || ae.Message != "invalid token" {
		t.Fatalf("err = %v, want AuthError(invalid token)", err)
	}
	waitFor(t, "socket close", func() bool { return srv.Closed() == 1 })
}

func TestOpen_ClosedBeforeAuth(t *testing.T) {
	srv := gatewaytest.New(t, "tok")
	srv.Handle(protocol.MethodConnect, func(p *gatewaytest.Peer, _ protocol.Frame) { p.Close() })
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Open(ctx, testOptions(srv, "tok"))
	if !errors.Is(err, ErrClosedBeforeAuth) {
		t.Fatalf("err = %v, want ErrClosedBeforeAuth", err)
	}
}

func TestOpen_NotConfigured(t *testing.T) {
	_, err := Open(context.Background(), Options{})
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v", err)
	}
}

// The Gateway sends the challenge but never answers connect.
func TestOpen_ConnectNeverAnswered(t *testing.T) {
	srv := gatewaytest.New(t, "tok")
	srv.Handle(protocol.MethodConnect, gatewaytest.Silent())

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	c, err := dial(ctx, testOptions(srv, "tok"))
	if err != nil {
		t.Fatal(err)
	}
	err = c.handshake(ctx)
	if !IsTimeout(err) {
		t.Fatalf("handshake err = %v, want timeout", err)
	}
	if c.State() != StatePreHandshake {
		t.Errorf("state = %s", c.State())
	}

	c.Close()
	c.Close()
	<-c.Done()
	if n := c.closes.Load(); n != 1 {
		t.Errorf("socket closed %d times, want 1", n)
	}
	waitFor(t, "server side close", func() bool { return srv.Closed() == 1 })
}

func TestOpen_NoChallenge(t *testing.T) {
	srv := gatewaytest.New(t, "tok")
	srv.SkipChallenge.Store(true)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err := Open(ctx, testOptions(srv, "tok"))
	if !IsTimeout(err) {
		t.Fatalf("err = %v, want timeout", err)
	}
	if n := len(srv.Requests(protocol.MethodConnect)); n != 0 {
		t.Errorf("connect sent before challenge (%d requests)", n)
	}
}

func TestCall_BeforeHandshake(t *testing.T) {
	srv := gatewaytest.New(t, "tok")
	srv.SkipChallenge.Store(true)

	c, err := dial(context.Background(), testOptions(srv, "tok"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		c.Close()
		<-c.Done()
	}()

	_, err = c.Call(context.Background(), protocol.MethodChatHistory, protocol.ChatHistoryParams{SessionKey: "agent:main:main", Limit: 1})
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("err = %v, want ErrNotAuthenticated", err)
	}
}

func openTestConn(t *testing.T, srv *gatewaytest.Server) *Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := Open(ctx, testOptions(srv, "tok"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		<-conn.Done()
	})
	return conn
}

func TestCall_SurvivesMalformedFrames(t *testing.T) {
	srv := gatewaytest.New(t, "tok")
	srv.Handle(protocol.MethodChatHistory, func(p *gatewaytest.Peer, req protocol.Frame) {
		p.WriteRaw(`not json`)
		p.WriteRaw(`{"type":"res"}`)
		p.WriteRaw(`{"type":"mystery","id":"1"}`)
		p.Reply(req.ID, map[string]any{"messages": []any{}})
	})
	conn := openTestConn(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := conn.Call(ctx, protocol.MethodChatHistory, protocol.ChatHistoryParams{SessionKey: "agent:main:main", Limit: 1}); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if conn.State() != StateAuthenticated {
		t.Errorf("state = %s", conn.State())
	}
}

func TestCall_RPCError(t *testing.T) {
	srv := gatewaytest.New(t, "tok")
	conn := openTestConn(t, srv)

	_, err := conn.Call(context.Background(), "sessions.list", nil)
	var re *RPCError
	if !errors.As(err, &re) || re.Method != "sessions.list" {
		t.Errorf("err = %v, want RPCError", err)
	}
}

func TestCall_FailsWhenSocketDrops(t *testing.T) {
	srv := gatewaytest.New(t, "tok")
	srv.Handle(protocol.MethodChatHistory, func(p *gatewaytest.Peer, _ protocol.Frame) { p.Close() })
	conn := openTestConn(t, srv)

	_, err := conn.Call(context.Background(), protocol.MethodChatHistory, protocol.ChatHistoryParams{SessionKey: "agent:main:main"})
	if !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("err = %v, want ErrConnectionClosed", err)
	}
	<-conn.Done()
	if _, err := conn.Call(context.Background(), protocol.MethodChatHistory, nil); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("call after close = %v", err)
	}
}

func TestCall_ConcurrentOutOfOrder(t *testing.T) {
	const n = 5
	srv := gatewaytest.New(t, "tok")
	var mu sync.Mutex
	var held []protocol.Frame
	srv.Handle(protocol.MethodChatHistory, func(p *gatewaytest.Peer, req protocol.Frame) {
		mu.Lock()
		held = append(held, req)
		ready := len(held) == n
		batch := held
		mu.Unlock()
		if !ready {
			return
		}
		for i := len(batch) - 1; i >= 0; i-- {
			var params protocol.ChatHistoryParams
			_ = json.Unmarshal(batch[i].Params, &params)
			p.Reply(batch[i].ID, []protocol.Message{{
				Role:    protocol.RoleAssistant,
				Content: protocol.TextContent(fmt.Sprint(params.Limit)),
			}})
		}
	})
	conn := openTestConn(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(limit int) {
			defer wg.Done()
			msgs, err := fetchHistory(ctx, conn, "agent:main:main", limit)
			if err != nil {
				t.Errorf("limit %d: %v", limit, err)
				return
			}
			if text, _ := protocol.LastAssistantText(msgs); text != fmt.Sprint(limit) {
				t.Errorf("limit %d got reply %q", limit, text)
			}
		}(i)
	}
	wg.Wait()
	if got := conn.calls.outstanding(); got != 0 {
		t.Errorf("outstanding = %d", got)
	}
}

func TestConn_RoutesEventsToSubscribers(t *testing.T) {
	srv := gatewaytest.New(t, "tok")
	srv.Handle(protocol.MethodChatSend, gatewaytest.ChatReply("run-1", "", "a", "b"))
	conn := openTestConn(t, srv)

	got := make(chan protocol.StreamEvent, 8)
	cancel := conn.Subscribe("agent:main:main", func(ev protocol.StreamEvent) { got <- ev })
	defer cancel()

	if _, err := conn.Call(context.Background(), protocol.MethodChatSend, protocol.ChatSendParams{
		SessionKey: "agent:main:main", Message: "hi", IdempotencyKey: "k",
	}); err != nil {
		t.Fatal(err)
	}
	want := []protocol.StreamKind{protocol.StreamDelta, protocol.StreamDelta, protocol.StreamFinal}
	for i, k := range want {
		select {
		case ev := <-got:
			if ev.Kind != k {
				t.Errorf("event %d kind = %s, want %s", i, ev.Kind, k)
			}
		case <-time.After(time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}
}

func TestOpen_UnreadableChallengeStillConnects(t *testing.T) {
	srv := gatewaytest.New(t, "tok")
	raw := `{"type":"event","event":"connect.challenge","payload":"not-an-object"}`
	srv.RawChallenge.Store(&raw)

	var logs lockedBuffer
	opts := testOptions(srv, "tok")
	opts.Logger = slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := Open(ctx, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() {
		conn.Close()
		<-conn.Done()
	}()

	if conn.State() != StateAuthenticated {
		t.Errorf("state = %s", conn.State())
	}
	if !strings.Contains(logs.String(), "unreadable connect.challenge payload") {
		t.Errorf("challenge decode failure not logged:\n%s", logs.String())
	}
}

// lockedBuffer is written by the connection's read loop while the test reads.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
