package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jcc-labs/jcc/pkg/protocol"
)

// SessionState is the connection status of a Session.
type SessionState int

const (
	SessionDisconnected SessionState = iota
	SessionConnecting
	SessionConnected
	SessionReconnecting
)

func (s SessionState) String() string {
	switch s {
	case SessionConnecting:
		return "connecting"
	case SessionConnected:
		return "connected"
	case SessionReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// SessionConfig tunes reconnect behaviour.
type SessionConfig struct {
	ReconnectDelay time.Duration
	ConnectTimeout time.Duration
}

// Session keeps one Gateway connection open and replaces it after a drop.
// Subscriptions live on a demultiplexer that outlives each connection.
type Session struct {
	cfg     Config
	scfg    SessionConfig
	opts    Options
	logger  *slog.Logger
	demux   *Demux
	onState func(SessionState)

	mu    sync.Mutex
	conn  *Conn
	state SessionState
	ready chan struct{}
}

// NewSession creates a long-lived session using the client's configuration.
func (c *Client) NewSession(scfg SessionConfig) *Session {
	if scfg.ReconnectDelay <= 0 {
		scfg.ReconnectDelay = 3 * time.Second
	}
	if scfg.ConnectTimeout <= 0 {
		scfg.ConnectTimeout = c.cfg.HistoryTimeout
	}
	s := &Session{
		cfg:    c.cfg,
		scfg:   scfg,
		logger: c.logger.With("component", "gateway-session"),
		demux:  NewDemux(),
		ready:  make(chan struct{}),
	}
	s.opts = c.cfg.Options(c.logger)
	s.opts.Demux = s.demux
	return s
}

// OnStateChange registers a callback for state transitions. Set it before
// calling Run.
func (s *Session) OnStateChange(fn func(SessionState)) {
	s.onState = fn
}

// Run connects and reconnects until ctx is canceled. Authentication and
// configuration failures end the loop.
func (s *Session) Run(ctx context.Context) error {
	first := true
	for {
		select {
		case <-ctx.Done():
			s.setState(SessionDisconnected, nil)
			return ctx.Err()
		default:
		}

		if first {
			s.setState(SessionConnecting, nil)
		} else {
			s.setState(SessionReconnecting, nil)
		}
		first = false

		err := s.connectOnce(ctx)
		if ctx.Err() != nil {
			s.setState(SessionDisconnected, nil)
			return ctx.Err()
		}
		if err != nil {
			if IsAuth(err) || errors.Is(err, ErrNotConfigured) {
				s.setState(SessionDisconnected, nil)
				return err
			}
			s.logger.Warn("connection failed", "error", err)
		}

		delay := s.scfg.ReconnectDelay
		s.logger.Info("reconnecting", "delay", delay)
		if err := sleepCtx(ctx, delay); err != nil {
			s.setState(SessionDisconnected, nil)
			return err
		}
	}
}

func (s *Session) connectOnce(ctx context.Context) error {
	openCtx, cancel := context.WithTimeout(ctx, s.scfg.ConnectTimeout)
	conn, err := Open(openCtx, s.opts)
	cancel()
	if err != nil {
		return err
	}
	s.setState(SessionConnected, conn)
	s.logger.Info("connected to gateway", "url", s.opts.URL)

	select {
	case <-conn.Done():
		s.logger.Warn("gateway connection lost")
	case <-ctx.Done():
		conn.Close()
		<-conn.Done()
	}
	s.setState(SessionReconnecting, nil)
	return nil
}

func (s *Session) setState(st SessionState, conn *Conn) {
	s.mu.Lock()
	changed := s.state != st
	s.state = st
	s.conn = conn
	if st == SessionConnected {
		close(s.ready)
	} else if isClosed(s.ready) {
		s.ready = make(chan struct{})
	}
	s.mu.Unlock()

	if changed && s.onState != nil {
		s.onState(st)
	}
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// WaitConnected blocks until the session has a live connection.
func (s *Session) WaitConnected(ctx context.Context) error {
	s.mu.Lock()
	ready := s.ready
	s.mu.Unlock()
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call issues a request on the current connection.
func (s *Session) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}
	return conn.Call(ctx, method, params)
}

// Subscribe registers fn on the session's demultiplexer. The subscription
// survives reconnects.
func (s *Session) Subscribe(sessionKey string, fn Handler) func() {
	return s.demux.Subscribe(sessionKey, fn)
}

// Chat runs one chat turn on the current connection, bounded by ChatTimeout.
func (s *Session) Chat(ctx context.Context, sessionKey, content string, onDelta func(string)) (string, error) {
	if err := protocol.ValidateSessionKey(sessionKey); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ChatTimeout)
	defer cancel()
	return runChat(ctx, s, sessionKey, content, onDelta, s.cfg)
}

// History reads recent messages on the current connection.
func (s *Session) History(ctx context.Context, sessionKey string, limit int) ([]protocol.Message, error) {
	if err := protocol.ValidateSessionKey(sessionKey); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.HistoryTimeout)
	defer cancel()
	return fetchHistory(ctx, s, sessionKey, limit)
}
