// Package protocol defines the wire protocol spoken with the Gateway over
// WebSocket.
//
// All messages are JSON text frames sharing one envelope whose "type" field
// is "req" (client → Gateway), "res" (Gateway → client, correlated by id) or
// "event" (Gateway → client, uncorrelated).
package protocol

import (
	"encoding/json"
	"fmt"
)

// Frame types.
const (
	TypeRequest  = "req"
	TypeResponse = "res"
	TypeEvent    = "event"
)

// Methods the client may call.
const (
	MethodConnect     = "connect"
	MethodChatSend    = "chat.send"
	MethodChatHistory = "chat.history"
)

// Event names emitted by the Gateway.
const (
	EventConnectChallenge = "connect.challenge"
	EventChat             = "chat"
	EventAgent            = "agent"
)

// ProtocolVersion is the only protocol revision this client speaks.
const ProtocolVersion = 3

// Frame is the top-level wire format for all messages. Which fields are set
// depends on Type.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
}

// ErrorShape is the error object carried by a failed response.
type ErrorShape struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Succeeded reports whether a response frame carries ok:true.
func (f Frame) Succeeded() bool {
	return f.OK != nil && *f.OK
}

// ErrorMessage returns the Gateway-supplied error message, or fallback when
// the response carried none.
func (f Frame) ErrorMessage(fallback string) string {
	if f.Error != nil && f.Error.Message != "" {
		return f.Error.Message
	}
	return fallback
}

// DecodeError reports a frame that could not be understood. The connection
// drops such frames and keeps going.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed frame: %s: %v", e.Reason, e.Err)
	}
	return "malformed frame: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// NewRequest builds a request frame with params marshaled to JSON.
func NewRequest(id, method string, params any) (Frame, error) {
	f := Frame{Type: TypeRequest, ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return Frame{}, fmt.Errorf("marshal %s params: %w", method, err)
		}
		f.Params = raw
	}
	return f, nil
}

// Encode serializes a frame.
func Encode(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal frame: %w", err)
	}
	return data, nil
}

// Decode parses a single inbound frame. Anything that is not valid JSON or
// not a known frame shape yields a *DecodeError.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, &DecodeError{Reason: "invalid json", Err: err}
	}
	switch f.Type {
	case TypeResponse:
		if f.ID == "" {
			return Frame{}, &DecodeError{Reason: "response without id"}
		}
	case TypeEvent:
		if f.Event == "" {
			return Frame{}, &DecodeError{Reason: "event without name"}
		}
	case TypeRequest:
		if f.ID == "" || f.Method == "" {
			return Frame{}, &DecodeError{Reason: "request without id or method"}
		}
	default:
		return Frame{}, &DecodeError{Reason: fmt.Sprintf("unknown frame type %q", f.Type)}
	}
	return f, nil
}

// --- connect ---

// ClientInfo identifies this client to the Gateway.
type ClientInfo struct {
	ID         string `json:"id"`
	Version    string `json:"version"`
	Platform   string `json:"platform"`
	Mode       string `json:"mode"`
	InstanceID string `json:"instanceId"`
}

// ConnectAuth carries the Gateway auth token.
type ConnectAuth struct {
	Token string `json:"token"`
}

// ConnectParams are sent with the "connect" request after the challenge.
type ConnectParams struct {
	MinProtocol int         `json:"minProtocol"`
	MaxProtocol int         `json:"maxProtocol"`
	Client      ClientInfo  `json:"client"`
	Role        string      `json:"role"`
	Scopes      []string    `json:"scopes"`
	Caps        []string    `json:"caps"`
	Auth        ConnectAuth `json:"auth"`
	UserAgent   string      `json:"userAgent,omitempty"`
}

// ChallengePayload is the payload of connect.challenge. The client does not
// sign it; it only signals that the Gateway is ready for "connect".
type ChallengePayload struct {
	Nonce string `json:"nonce,omitempty"`
	TS    int64  `json:"ts,omitempty"`
}

// --- chat ---

// ChatSendParams are the params of "chat.send".
type ChatSendParams struct {
	SessionKey     string `json:"sessionKey"`
	Message        string `json:"message"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// ChatSendAck is the response payload of "chat.send".
type ChatSendAck struct {
	RunID  string `json:"runId,omitempty"`
	Status string `json:"status,omitempty"`
}

// ChatHistoryParams are the params of "chat.history".
type ChatHistoryParams struct {
	SessionKey string `json:"sessionKey"`
	Limit      int    `json:"limit"`
}
