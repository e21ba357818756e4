package gateway

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured means the Gateway URL is missing. Raised at the first
	// call, never retried.
	ErrNotConfigured = errors.New("gateway url not configured")

	// ErrTimeout means no terminal response or event arrived in time.
	ErrTimeout = errors.New("gateway timeout")

	// ErrClosedBeforeAuth means the socket went away before the handshake
	// completed.
	ErrClosedBeforeAuth = errors.New("connection closed before authentication")

	// ErrNotAuthenticated is returned when a call other than connect is
	// attempted before the handshake completed.
	ErrNotAuthenticated = errors.New("connection not authenticated")

	// ErrConnectionClosed means the socket closed while a call was pending.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrNotConnected is returned by a Session with no live connection.
	ErrNotConnected = errors.New("not connected to gateway")

	// ErrNoResponse means a history lookup found no assistant message.
	ErrNoResponse = errors.New("no assistant response in history")

	// ErrRecoveryFailed means History Fallback gave up.
	ErrRecoveryFailed = errors.New("could not recover response from history")
)

// AuthError is the Gateway rejecting the connect handshake.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return "gateway rejected connect: " + e.Message
}

// RPCError is an ok:false response to a call other than connect.
type RPCError struct {
	Method  string
	Code    string
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Method, e.Message)
}

// RunError is a chat run that the Gateway reported as failed or aborted.
type RunError struct {
	RunID   string
	Message string
}

func (e *RunError) Error() string {
	if e.RunID != "" {
		return fmt.Sprintf("run %s: %s", e.RunID, e.Message)
	}
	return "run failed: " + e.Message
}

// IsTimeout reports whether err is a Gateway timeout, including a context
// deadline that expired while waiting on the Gateway.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// IsAuth reports whether err is a handshake rejection.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// timeoutErr converts a context error into ErrTimeout while preserving
// cancellation.
func timeoutErr(ctx context.Context, op string) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%s: %w", op, context.Canceled)
	}
	return fmt.Errorf("%s: %w", op, ErrTimeout)
}

// DisplayText renders a failure as a plain assistant-style message so that a
// chat UI always has something to show.
func DisplayText(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotConfigured):
		return "⚠️ The gateway is not configured. Set the gateway URL and try again."
	case errors.Is(err, ErrRecoveryFailed), IsTimeout(err):
		return "⚠️ Response is taking longer than expected. Check back in a moment, or try again."
	case IsAuth(err):
		return "⚠️ The gateway refused the connection: " + authMessage(err)
	default:
		return "⚠️ Could not reach the gateway. Error: " + err.Error()
	}
}

func authMessage(err error) string {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Message
	}
	return err.Error()
}
