package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jcc-labs/jcc/pkg/protocol"
)

const completionsPath = "/v1/chat/completions"

// SessionKeyHeader routes an OpenAI-style completion to a Gateway session.
const SessionKeyHeader = "x-openclaw-session-key"

// HTTPStatusError is a non-2xx answer from the completions endpoint.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("gateway returned HTTP %d: %s", e.StatusCode, e.Body)
}

// CompletionsClient talks to the Gateway's OpenAI-compatible HTTP endpoint.
// It is an alternative Chatter for deployments where WebSocket is blocked.
type CompletionsClient struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

func NewCompletionsClient(cfg Config, logger *slog.Logger) *CompletionsClient {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &CompletionsClient{
		baseURL: strings.TrimRight(HTTPURL(cfg.URL), "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.ChatTimeout},
		logger:  logger.With("component", "gateway-completions"),
	}
}

// WithToken returns a copy of the client that sends token. An empty token
// returns c itself.
func (c *CompletionsClient) WithToken(token string) *CompletionsClient {
	if token == "" || token == c.token {
		return c
	}
	cp := *c
	cp.token = token
	return &cp
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model    string              `json:"model"`
	Messages []completionMessage `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message completionMessage `json:"message"`
	} `json:"choices"`
}

// SendAndWait posts content as a single user message and returns the first
// choice's text.
func (c *CompletionsClient) SendAndWait(ctx context.Context, sessionKey, content string) (string, error) {
	key, err := protocol.ParseSessionKey(sessionKey)
	if err != nil {
		return "", err
	}
	status, body, err := c.post(ctx, key, content)
	if err != nil {
		return "", err
	}
	if status < 200 || status > 299 {
		return "", &HTTPStatusError{StatusCode: status, Body: truncate(string(body), 500)}
	}

	var resp completionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrNoResponse
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *CompletionsClient) post(ctx context.Context, key protocol.SessionKey, content string) (int, []byte, error) {
	if c.baseURL == "" {
		return 0, nil, ErrNotConfigured
	}
	payload, err := json.Marshal(completionRequest{
		Model:    "openclaw:" + key.AgentID,
		Messages: []completionMessage{{Role: protocol.RoleUser, Content: content}},
	})
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set(SessionKeyHeader, key.String())

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, timeoutErr(ctx, "chat completion")
		}
		return 0, nil, fmt.Errorf("chat completion: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read completion: %w", err)
	}
	return resp.StatusCode, body, nil
}

// ProbeResult describes one round trip to the completions endpoint.
type ProbeResult struct {
	URL     string        `json:"url"`
	Status  int           `json:"status"`
	Elapsed time.Duration `json:"elapsed"`
	Body    string        `json:"body"`
}

// Probe asks the main agent for a one-word reply and reports how the
// endpoint answered. Only transport failures are returned as errors.
func (c *CompletionsClient) Probe(ctx context.Context) (*ProbeResult, error) {
	start := time.Now()
	key, _ := protocol.ParseSessionKey(protocol.DefaultSessionKey)
	status, body, err := c.post(ctx, key, "reply with just the word pong")
	res := &ProbeResult{
		URL:     c.baseURL,
		Status:  status,
		Elapsed: time.Since(start),
		Body:    truncate(string(body), 500),
	}
	if err != nil {
		return res, err
	}
	c.logger.Debug("probe finished", "status", status, "elapsed", res.Elapsed)
	return res, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
