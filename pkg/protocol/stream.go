package protocol

import (
	"encoding/json"
	"strings"
)

// StreamKind classifies a chat/agent event once it has been parsed.
type StreamKind int

const (
	// StreamIgnore marks payloads that carry nothing actionable.
	StreamIgnore StreamKind = iota
	// StreamDelta carries an incremental text fragment.
	StreamDelta
	// StreamFinal marks the end of a run, optionally with its full text.
	StreamFinal
	// StreamAck means the Gateway accepted the run; keep waiting.
	StreamAck
	// StreamError means the run failed or was aborted on the Gateway.
	StreamError
)

func (k StreamKind) String() string {
	switch k {
	case StreamDelta:
		return "delta"
	case StreamFinal:
		return "final"
	case StreamAck:
		return "ack"
	case StreamError:
		return "error"
	default:
		return "ignore"
	}
}

// StreamEvent is the canonical form of a chat or agent event. Everything
// downstream of the read loop works with this type only.
type StreamEvent struct {
	Event      string
	Kind       StreamKind
	Text       string
	HasText    bool
	SessionKey string
	RunID      string
	Err        string
}

// streamPayload lists every field name seen for chat/agent events.
type streamPayload struct {
	State        string          `json:"state"`
	Kind         string          `json:"kind"`
	Delta        json.RawMessage `json:"delta"`
	Text         json.RawMessage `json:"text"`
	Content      json.RawMessage `json:"content"`
	Message      json.RawMessage `json:"message"`
	SessionKey   string          `json:"sessionKey"`
	Session      string          `json:"session"`
	RunID        string          `json:"runId"`
	ErrorMessage string          `json:"errorMessage"`
	Error        json.RawMessage `json:"error"`
}

// ParseStreamEvent converts a raw chat/agent event payload into a
// StreamEvent. It never fails: unknown shapes come back as StreamIgnore.
func ParseStreamEvent(event string, payload json.RawMessage) StreamEvent {
	ev := StreamEvent{Event: event}
	var p streamPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return ev
	}

	ev.SessionKey = p.SessionKey
	if ev.SessionKey == "" {
		ev.SessionKey = p.Session
	}
	ev.RunID = p.RunID

	tag := strings.ToLower(p.State)
	if tag == "" {
		tag = strings.ToLower(p.Kind)
	}

	switch tag {
	case "delta", "chunk", "partial":
		if text, ok := firstText(p.Delta, p.Text, p.Content, p.Message); ok {
			ev.Kind = StreamDelta
			ev.Text, ev.HasText = text, true
		}
	case "final", "done", "complete", "completed", "end":
		ev.Kind = StreamFinal
		ev.Text, ev.HasText = firstText(p.Content, p.Text, p.Message)
	case "ack", "accepted", "started", "queued":
		ev.Kind = StreamAck
	case "error", "aborted":
		ev.Kind = StreamError
		ev.Err = p.ErrorMessage
		if ev.Err == "" {
			ev.Err = errorText(p.Error)
		}
		if ev.Err == "" {
			ev.Err = "run " + tag
		}
	case "":
		// Untagged legacy shape: a bare delta string.
		if text, ok := stringField(p.Delta); ok {
			ev.Kind = StreamDelta
			ev.Text, ev.HasText = text, true
		}
	}
	return ev
}

// firstText returns the first candidate that decodes to text: a JSON string,
// content blocks, or a message object with a content field.
func firstText(candidates ...json.RawMessage) (string, bool) {
	for _, raw := range candidates {
		if len(raw) == 0 {
			continue
		}
		if s, ok := stringField(raw); ok {
			return s, true
		}
		switch raw[0] {
		case '[':
			var c Content
			if err := json.Unmarshal(raw, &c); err == nil {
				return c.Text(), true
			}
		case '{':
			var msg struct {
				Content json.RawMessage `json:"content"`
				Text    json.RawMessage `json:"text"`
			}
			if err := json.Unmarshal(raw, &msg); err == nil {
				if s, ok := firstText(msg.Content, msg.Text); ok {
					return s, true
				}
			}
		}
	}
	return "", false
}

func stringField(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func errorText(raw json.RawMessage) string {
	if s, ok := stringField(raw); ok {
		return s
	}
	var e ErrorShape
	if len(raw) > 0 && raw[0] == '{' && json.Unmarshal(raw, &e) == nil {
		return e.Message
	}
	return ""
}
