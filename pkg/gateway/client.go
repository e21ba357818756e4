// Package gateway is a client for the Gateway's WebSocket RPC protocol.
//
// A Client opens one short-lived connection per operation: dial, wait for
// connect.challenge, authenticate, issue the call, collect the result, close.
// A Session keeps a single connection open and reconnects when it drops.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/jcc-labs/jcc/pkg/protocol"
)

// Config holds the Gateway endpoint, identity and timeouts. Zero durations
// and counts are replaced by defaults.
type Config struct {
	URL   string
	Token string

	ClientID      string
	ClientVersion string
	Platform      string
	Mode          string
	UserAgent     string
	Role          string
	Scopes        []string

	DialTimeout   time.Duration
	TLSSkipVerify bool

	// ChatTimeout bounds a whole chat operation including the handshake.
	ChatTimeout time.Duration
	// HistoryTimeout bounds a whole history operation.
	HistoryTimeout time.Duration

	// FinalHistoryLimit is the history window read when a run ends with no
	// text, and FinalHistoryDelay the pause before reading it.
	FinalHistoryLimit int
	FinalHistoryDelay time.Duration

	// PollRetries is the number of History Fallback attempts after a chat
	// timeout. Negative disables fallback.
	PollRetries  int
	PollInterval time.Duration
	PollTimeout  time.Duration
	PollLimit    int
}

const (
	DefaultChatTimeout       = 45 * time.Second
	DefaultHistoryTimeout    = 15 * time.Second
	DefaultPollTimeout       = 10 * time.Second
	DefaultPollInterval      = 3 * time.Second
	DefaultPollRetries       = 3
	DefaultPollLimit         = 3
	DefaultFinalHistoryLimit = 5
	DefaultFinalHistoryDelay = 500 * time.Millisecond
	DefaultHistoryLimit      = 100
)

func (c Config) withDefaults() Config {
	if c.ClientID == "" {
		c.ClientID = "gateway-client"
	}
	if c.ClientVersion == "" {
		c.ClientVersion = "dev"
	}
	if c.Platform == "" {
		c.Platform = "go"
	}
	if c.Mode == "" {
		c.Mode = "backend"
	}
	if c.Role == "" {
		c.Role = "operator"
	}
	if c.Scopes == nil {
		c.Scopes = []string{"operator.admin"}
	}
	if c.ChatTimeout <= 0 {
		c.ChatTimeout = DefaultChatTimeout
	}
	if c.HistoryTimeout <= 0 {
		c.HistoryTimeout = DefaultHistoryTimeout
	}
	if c.FinalHistoryLimit <= 0 {
		c.FinalHistoryLimit = DefaultFinalHistoryLimit
	}
	if c.FinalHistoryDelay < 0 {
		c.FinalHistoryDelay = 0
	} else if c.FinalHistoryDelay == 0 {
		c.FinalHistoryDelay = DefaultFinalHistoryDelay
	}
	if c.PollRetries == 0 {
		c.PollRetries = DefaultPollRetries
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.PollLimit <= 0 {
		c.PollLimit = DefaultPollLimit
	}
	return c
}

// Options returns the per-connection options derived from c.
func (c Config) Options(logger *slog.Logger) Options {
	c = c.withDefaults()
	return Options{
		URL:   c.URL,
		Token: c.Token,
		Client: protocol.ClientInfo{
			ID:       c.ClientID,
			Version:  c.ClientVersion,
			Platform: c.Platform,
			Mode:     c.Mode,
		},
		Role:          c.Role,
		Scopes:        c.Scopes,
		UserAgent:     c.UserAgent,
		DialTimeout:   c.DialTimeout,
		TLSSkipVerify: c.TLSSkipVerify,
		Logger:        logger,
	}
}

// WebSocketURL maps http(s) URLs to ws(s); other URLs are returned unchanged.
func WebSocketURL(u string) string {
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// HTTPURL maps ws(s) URLs to http(s); other URLs are returned unchanged.
func HTTPURL(u string) string {
	switch {
	case strings.HasPrefix(u, "wss://"):
		return "https://" + strings.TrimPrefix(u, "wss://")
	case strings.HasPrefix(u, "ws://"):
		return "http://" + strings.TrimPrefix(u, "ws://")
	}
	return u
}

// Chatter sends one message to a session and returns the assistant's reply.
type Chatter interface {
	SendAndWait(ctx context.Context, sessionKey, content string) (string, error)
}

// Client performs one-shot Gateway operations. It is safe for concurrent
// use; every operation opens its own connection.
type Client struct {
	cfg    Config
	logger *slog.Logger
	sleep  func(context.Context, time.Duration) error
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "gateway-client"),
		sleep:  sleepCtx,
	}
}

// WithToken returns a copy of the client that authenticates with token. An
// empty token returns c itself.
func (c *Client) WithToken(token string) *Client {
	if token == "" || token == c.cfg.Token {
		return c
	}
	cp := *c
	cp.cfg.Token = token
	return &cp
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// withConn bounds fn and its connection by timeout, and always closes the
// connection before returning.
func (c *Client) withConn(ctx context.Context, timeout time.Duration, fn func(context.Context, *Conn) error) error {
	if c.cfg.URL == "" {
		return ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := Open(ctx, c.cfg.Options(c.logger))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, conn)
}

// Chat sends content on a fresh connection and streams the reply. onDelta,
// when non-nil, receives each text fragment. There is no fallback.
func (c *Client) Chat(ctx context.Context, sessionKey, content string, onDelta func(string)) (string, error) {
	if err := protocol.ValidateSessionKey(sessionKey); err != nil {
		return "", err
	}
	var text string
	err := c.withConn(ctx, c.cfg.ChatTimeout, func(ctx context.Context, conn *Conn) error {
		var err error
		text, err = runChat(ctx, conn, sessionKey, content, onDelta, c.cfg)
		return err
	})
	return text, err
}

// History returns up to limit messages of sessionKey, oldest first.
func (c *Client) History(ctx context.Context, sessionKey string, limit int) ([]protocol.Message, error) {
	if err := protocol.ValidateSessionKey(sessionKey); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	var msgs []protocol.Message
	err := c.withConn(ctx, c.cfg.HistoryTimeout, func(ctx context.Context, conn *Conn) error {
		var err error
		msgs, err = fetchHistory(ctx, conn, sessionKey, limit)
		return err
	})
	return msgs, err
}

// HistoryRaw is History without decoding: each message is returned exactly
// as the Gateway sent it, for callers that pass history through.
func (c *Client) HistoryRaw(ctx context.Context, sessionKey string, limit int) ([]json.RawMessage, error) {
	if err := protocol.ValidateSessionKey(sessionKey); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	var msgs []json.RawMessage
	err := c.withConn(ctx, c.cfg.HistoryTimeout, func(ctx context.Context, conn *Conn) error {
		raw, err := conn.Call(ctx, protocol.MethodChatHistory, protocol.ChatHistoryParams{
			SessionKey: sessionKey,
			Limit:      limit,
		})
		if err != nil {
			return err
		}
		msgs, err = protocol.ParseHistoryRaw(raw)
		return err
	})
	return msgs, err
}

// LastAssistantText reads the last limit messages and returns the newest
// assistant text, or ErrNoResponse.
func (c *Client) LastAssistantText(ctx context.Context, sessionKey string, limit int) (string, error) {
	msgs, err := c.History(ctx, sessionKey, limit)
	if err != nil {
		return "", err
	}
	text, ok := protocol.LastAssistantText(msgs)
	if !ok || text == "" {
		return "", ErrNoResponse
	}
	return text, nil
}

// chatConn is the part of a connection a chat run needs. Conn and Session
// both satisfy it.
type chatConn interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	Subscribe(sessionKey string, fn Handler) func()
}

// runChat drives one chat run: subscribe, chat.send, wait for the final
// event. A final with no text is resolved by reading recent history on the
// same connection.
func runChat(ctx context.Context, cc chatConn, sessionKey, content string, onDelta func(string), cfg Config) (string, error) {
	acc := NewAccumulator()
	acc.OnDelta(onDelta)
	unsubscribe := cc.Subscribe(sessionKey, func(ev protocol.StreamEvent) {
		acc.Feed(ev)
	})
	defer unsubscribe()

	raw, err := cc.Call(ctx, protocol.MethodChatSend, protocol.ChatSendParams{
		SessionKey:     sessionKey,
		Message:        content,
		IdempotencyKey: newIdempotencyKey(),
	})
	if err != nil {
		return "", err
	}
	var ack protocol.ChatSendAck
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &ack)
	}
	acc.BindRun(ack.RunID)

	select {
	case <-acc.Done():
	case <-ctx.Done():
		return "", timeoutErr(ctx, "await chat final")
	}

	text, err := acc.Result()
	if err != nil || text != "" {
		return text, err
	}

	if err := sleepCtx(ctx, cfg.FinalHistoryDelay); err != nil {
		return "", timeoutErr(ctx, "await chat history")
	}
	msgs, err := fetchHistory(ctx, cc, sessionKey, cfg.FinalHistoryLimit)
	if err != nil {
		return "", err
	}
	text, _ = protocol.LastAssistantText(msgs)
	return text, nil
}

func fetchHistory(ctx context.Context, cc chatConn, sessionKey string, limit int) ([]protocol.Message, error) {
	raw, err := cc.Call(ctx, protocol.MethodChatHistory, protocol.ChatHistoryParams{
		SessionKey: sessionKey,
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}
	return protocol.ParseHistory(raw)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
