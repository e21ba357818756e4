package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jcc-labs/jcc/pkg/protocol"
)

// State is where a Conn is in its lifecycle.
type State int32

const (
	StatePreHandshake State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StatePreHandshake:
		return "pre-handshake"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "closed"
	}
}

const defaultMaxMessageBytes = 8 << 20

// Options configure a single Gateway connection.
type Options struct {
	URL    string
	Token  string
	Client protocol.ClientInfo
	Role   string
	Scopes []string
	Caps   []string

	// UserAgent is reported in connect params and sent as an HTTP header on
	// the upgrade request.
	UserAgent string

	// DialTimeout bounds the WebSocket upgrade only. The handshake and every
	// call are bounded by the caller's context.
	DialTimeout   time.Duration
	TLSSkipVerify bool

	// MaxMessageBytes limits a single inbound frame.
	MaxMessageBytes int64

	// Demux receives chat and agent events. A private one is created when nil.
	Demux *Demux

	Logger *slog.Logger

	// IDSalt prefixes request ids; random when empty.
	IDSalt string
}

// Conn is one authenticated WebSocket connection to the Gateway. Any number
// of goroutines may call it concurrently; responses are matched to callers
// by request id.
type Conn struct {
	opts   Options
	logger *slog.Logger
	ws     *websocket.Conn

	writeMu sync.Mutex
	ids     *idGenerator
	calls   *correlator
	demux   *Demux

	challenge chan struct{}
	state     atomic.Int32

	closeOnce sync.Once
	closes    atomic.Int32
	done      chan struct{}
}

// Open dials the Gateway and performs the challenge/connect handshake. The
// returned Conn is authenticated. When ctx ends before the handshake
// completes the socket is closed and the error wraps ErrTimeout.
func Open(ctx context.Context, opts Options) (*Conn, error) {
	c, err := dial(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := c.handshake(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func dial(ctx context.Context, opts Options) (*Conn, error) {
	if opts.URL == "" {
		return nil, ErrNotConfigured
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = defaultMaxMessageBytes
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: opts.DialTimeout,
	}
	if opts.TLSSkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	header := http.Header{}
	if opts.UserAgent != "" {
		header.Set("User-Agent", opts.UserAgent)
	}

	url := WebSocketURL(opts.URL)
	ws, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if ctx.Err() != nil {
			return nil, timeoutErr(ctx, "dial gateway")
		}
		return nil, fmt.Errorf("dial gateway: %w", err)
	}
	ws.SetReadLimit(opts.MaxMessageBytes)

	demux := opts.Demux
	if demux == nil {
		demux = NewDemux()
	}

	c := &Conn{
		opts:      opts,
		logger:    logger.With("component", "gateway-conn"),
		ws:        ws,
		ids:       newIDGenerator(opts.IDSalt),
		calls:     newCorrelator(),
		demux:     demux,
		challenge: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	c.state.Store(int32(StatePreHandshake))
	go c.readLoop()
	return c, nil
}

func (c *Conn) handshake(ctx context.Context) error {
	select {
	case <-c.challenge:
	case <-c.done:
		return ErrClosedBeforeAuth
	case <-ctx.Done():
		return timeoutErr(ctx, "await connect.challenge")
	}

	client := c.opts.Client
	if client.InstanceID == "" {
		client.InstanceID = uuid.NewString()
	}
	scopes := c.opts.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	caps := c.opts.Caps
	if caps == nil {
		caps = []string{}
	}
	params := protocol.ConnectParams{
		MinProtocol: protocol.ProtocolVersion,
		MaxProtocol: protocol.ProtocolVersion,
		Client:      client,
		Role:        c.opts.Role,
		Scopes:      scopes,
		Caps:        caps,
		Auth:        protocol.ConnectAuth{Token: c.opts.Token},
		UserAgent:   c.opts.UserAgent,
	}

	f, err := c.call(ctx, protocol.MethodConnect, params, true)
	if err != nil {
		if errors.Is(err, ErrConnectionClosed) {
			return ErrClosedBeforeAuth
		}
		return err
	}
	if !f.Succeeded() {
		return &AuthError{Message: f.ErrorMessage("Connect failed")}
	}

	c.state.CompareAndSwap(int32(StatePreHandshake), int32(StateAuthenticated))
	c.logger.Debug("connected to gateway", "url", c.opts.URL)
	return nil
}

// Call sends a request and waits for its response. An ok:false response is
// returned as *RPCError. Calls before the handshake completes fail with
// ErrNotAuthenticated.
func (c *Conn) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	f, err := c.call(ctx, method, params, false)
	if err != nil {
		return nil, err
	}
	if !f.Succeeded() {
		code := ""
		if f.Error != nil {
			code = f.Error.Code
		}
		return nil, &RPCError{Method: method, Code: code, Message: f.ErrorMessage("request failed")}
	}
	return f.Payload, nil
}

func (c *Conn) call(ctx context.Context, method string, params any, preAuth bool) (protocol.Frame, error) {
	switch c.State() {
	case StateClosed:
		return protocol.Frame{}, ErrConnectionClosed
	case StatePreHandshake:
		if !preAuth {
			return protocol.Frame{}, ErrNotAuthenticated
		}
	}

	id := c.ids.next()
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return protocol.Frame{}, err
	}
	data, err := protocol.Encode(req)
	if err != nil {
		return protocol.Frame{}, err
	}

	ch, err := c.calls.register(id)
	if err != nil {
		return protocol.Frame{}, err
	}
	if err := c.write(data); err != nil {
		c.calls.forget(id)
		return protocol.Frame{}, fmt.Errorf("send %s: %w", method, err)
	}
	return c.calls.await(ctx, id, method, ch)
}

func (c *Conn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.State() == StateClosed {
		return ErrConnectionClosed
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Subscribe registers fn for stream events of sessionKey on this
// connection's demultiplexer.
func (c *Conn) Subscribe(sessionKey string, fn Handler) func() {
	return c.demux.Subscribe(sessionKey, fn)
}

func (c *Conn) readLoop() {
	defer func() {
		c.Close()
		c.calls.failAll(ErrConnectionClosed)
		close(c.done)
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.State() != StateClosed {
				c.logger.Debug("read loop ended", "error", err)
			}
			return
		}

		f, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		c.dispatch(f)
	}
}

func (c *Conn) dispatch(f protocol.Frame) {
	switch f.Type {
	case protocol.TypeResponse:
		if !c.calls.resolve(f) {
			c.logger.Debug("response without waiter", "id", f.ID)
		}
	case protocol.TypeEvent:
		switch f.Event {
		case protocol.EventConnectChallenge:
			// The nonce is not signed; only the arrival matters.
			var ch protocol.ChallengePayload
			if err := json.Unmarshal(f.Payload, &ch); err != nil {
				c.logger.Debug("unreadable connect.challenge payload", "error", err)
			} else {
				c.logger.Debug("connect.challenge", "nonce", ch.Nonce)
			}
			select {
			case c.challenge <- struct{}{}:
			default:
			}
		case protocol.EventChat, protocol.EventAgent:
			c.demux.Route(f.Event, f.Payload)
		default:
			c.logger.Debug("ignoring event", "event", f.Event)
		}
	default:
		c.logger.Debug("ignoring frame", "type", f.Type)
	}
}

// Close closes the socket. Only the first call has any effect.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closes.Add(1)
		c.state.Store(int32(StateClosed))

		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()

		err = c.ws.Close()
	})
	return err
}

// Done is closed after the read loop has exited and pending calls failed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) State() State {
	return State(c.state.Load())
}
