// Package gatewaytest provides an in-process Gateway for tests.
package gatewaytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/jcc-labs/jcc/pkg/protocol"
)

// MethodFunc answers one request. It must reply through p (Reply or Fail),
// or deliberately not at all.
type MethodFunc func(p *Peer, req protocol.Frame)

// Server is a scriptable Gateway speaking the WebSocket RPC protocol.
type Server struct {
	*httptest.Server

	// Token is the only auth token connect accepts.
	Token string

	// SkipChallenge suppresses connect.challenge after the upgrade.
	SkipChallenge atomic.Bool
	// RawChallenge, when set, is written verbatim in place of the
	// connect.challenge event.
	RawChallenge atomic.Pointer[string]

	mu       sync.Mutex
	handlers map[string]MethodFunc
	requests []protocol.Frame
	peers    map[*Peer]struct{}

	opened atomic.Int32
	closed atomic.Int32
	wg     sync.WaitGroup
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// New starts a Gateway that accepts token. It is shut down with t.Cleanup.
func New(t testing.TB, token string) *Server {
	t.Helper()
	s := &Server{
		Token:    token,
		handlers: make(map[string]MethodFunc),
		peers:    make(map[*Peer]struct{}),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serveWS))
	t.Cleanup(s.Close)
	return s
}

// WSURL returns the ws:// address of the server.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

// Handle installs fn for method, replacing any previous handler. Handling
// "connect" overrides token checking.
func (s *Server) Handle(method string, fn MethodFunc) {
	s.mu.Lock()
	s.handlers[method] = fn
	s.mu.Unlock()
}

// Requests returns every request received for method, in arrival order.
func (s *Server) Requests(method string) []protocol.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []protocol.Frame
	for _, f := range s.requests {
		if f.Method == method {
			out = append(out, f)
		}
	}
	return out
}

// Opened is the number of WebSocket connections accepted so far.
func (s *Server) Opened() int { return int(s.opened.Load()) }

// Closed is the number of WebSocket connections that have ended.
func (s *Server) Closed() int { return int(s.closed.Load()) }

// DropAll closes every open connection from the server side.
func (s *Server) DropAll() {
	s.mu.Lock()
	peers := make([]*Peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()
	for _, p := range peers {
		p.Close()
	}
}

// Close drops all connections, stops the listener and waits for every
// connection goroutine to finish.
func (s *Server) Close() {
	s.DropAll()
	s.Server.Close()
	s.wg.Wait()
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()

	p := &Peer{ws: ws}
	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.mu.Unlock()
	s.opened.Add(1)

	defer func() {
		s.mu.Lock()
		delete(s.peers, p)
		s.mu.Unlock()
		ws.Close()
		s.closed.Add(1)
	}()

	switch raw := s.RawChallenge.Load(); {
	case s.SkipChallenge.Load():
	case raw != nil:
		p.WriteRaw(*raw)
	default:
		p.Emit(protocol.EventConnectChallenge, protocol.ChallengePayload{Nonce: "nonce-1", TS: 1700000000000})
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		f, err := protocol.Decode(data)
		if err != nil || f.Type != protocol.TypeRequest {
			continue
		}

		s.mu.Lock()
		s.requests = append(s.requests, f)
		fn := s.handlers[f.Method]
		s.mu.Unlock()

		switch {
		case fn != nil:
			fn(p, f)
		case f.Method == protocol.MethodConnect:
			s.connect(p, f)
		default:
			p.Fail(f.ID, "unknown method "+f.Method)
		}
	}
}

func (s *Server) connect(p *Peer, req protocol.Frame) {
	var params protocol.ConnectParams
	_ = json.Unmarshal(req.Params, &params)
	if params.Auth.Token != s.Token {
		p.Fail(req.ID, "invalid token")
		return
	}
	p.Reply(req.ID, map[string]any{"type": "hello-ok", "protocol": protocol.ProtocolVersion})
}

// Peer is the server side of one client connection.
type Peer struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (p *Peer) send(f protocol.Frame) {
	data, err := protocol.Encode(f)
	if err != nil {
		return
	}
	p.WriteRaw(string(data))
}

// WriteRaw sends data as a text frame without validation.
func (p *Peer) WriteRaw(data string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.ws.WriteMessage(websocket.TextMessage, []byte(data))
}

// Reply sends an ok:true response.
func (p *Peer) Reply(id string, payload any) {
	raw, _ := json.Marshal(payload)
	ok := true
	p.send(protocol.Frame{Type: protocol.TypeResponse, ID: id, OK: &ok, Payload: raw})
}

// Fail sends an ok:false response.
func (p *Peer) Fail(id, message string) {
	ok := false
	p.send(protocol.Frame{Type: protocol.TypeResponse, ID: id, OK: &ok, Error: &protocol.ErrorShape{Message: message}})
}

// Emit sends an event frame.
func (p *Peer) Emit(event string, payload any) {
	raw, _ := json.Marshal(payload)
	p.send(protocol.Frame{Type: protocol.TypeEvent, Event: event, Payload: raw})
}

// Close closes the underlying socket without a close handshake.
func (p *Peer) Close() {
	p.ws.Close()
}

// ChatReply answers chat.send with an ack carrying runID, then streams the
// deltas and a final event for the request's session. With no deltas the
// final carries finalText, which may be empty.
func ChatReply(runID, finalText string, deltas ...string) MethodFunc {
	return func(p *Peer, req protocol.Frame) {
		var params protocol.ChatSendParams
		_ = json.Unmarshal(req.Params, &params)
		p.Reply(req.ID, protocol.ChatSendAck{RunID: runID, Status: "started"})
		for _, d := range deltas {
			p.Emit(protocol.EventChat, map[string]any{
				"state": "delta", "delta": d, "sessionKey": params.SessionKey, "runId": runID,
			})
		}
		final := map[string]any{"state": "final", "sessionKey": params.SessionKey, "runId": runID}
		if finalText != "" {
			final["text"] = finalText
		}
		p.Emit(protocol.EventChat, final)
	}
}

// HistoryReply answers chat.history with msgs wrapped in {messages: [...]}.
func HistoryReply(msgs ...protocol.Message) MethodFunc {
	return func(p *Peer, req protocol.Frame) {
		p.Reply(req.ID, map[string]any{"messages": msgs})
	}
}

// Silent never answers.
func Silent() MethodFunc {
	return func(*Peer, protocol.Frame) {}
}
