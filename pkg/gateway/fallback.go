package gateway

import (
	"context"
	"errors"
	"fmt"
)

// SendAndWait is Chat with History Fallback: when the streamed reply times
// out the session history is polled for the assistant's last message.
// Other failures propagate unchanged.
func (c *Client) SendAndWait(ctx context.Context, sessionKey, content string) (string, error) {
	text, err := c.Chat(ctx, sessionKey, content, nil)
	if err == nil {
		return text, nil
	}
	if !IsTimeout(err) || c.cfg.PollRetries < 0 || ctx.Err() != nil {
		return "", err
	}
	c.logger.Warn("chat timed out, polling history", "session", sessionKey, "error", err)
	return c.PollHistory(ctx, sessionKey, c.cfg.PollRetries)
}

// PollHistory makes up to retries attempts, each after PollInterval, to find
// an assistant reply in the session's recent history. Configuration and
// authentication failures stop polling immediately.
func (c *Client) PollHistory(ctx context.Context, sessionKey string, retries int) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		if err := c.sleep(ctx, c.cfg.PollInterval); err != nil {
			return "", err
		}

		pollCtx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
		text, err := c.LastAssistantText(pollCtx, sessionKey, c.cfg.PollLimit)
		cancel()
		if err == nil {
			c.logger.Info("recovered response from history", "session", sessionKey, "attempt", attempt)
			return text, nil
		}
		if errors.Is(err, ErrNotConfigured) || IsAuth(err) {
			return "", err
		}
		c.logger.Debug("history poll failed", "session", sessionKey, "attempt", attempt, "error", err)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrNoResponse
	}
	return "", fmt.Errorf("%w after %d attempts: %v", ErrRecoveryFailed, retries, lastErr)
}
