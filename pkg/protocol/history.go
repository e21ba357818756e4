package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Roles a chat message may carry.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ContentBlock is one typed block of structured message content. Only blocks
// of type "text" contribute to the displayed text.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Content is message content that arrives either as a plain string or as an
// array of typed blocks.
type Content struct {
	str    string
	blocks []ContentBlock
	isList bool
}

// TextContent returns plain string content.
func TextContent(s string) Content {
	return Content{str: s}
}

// BlockContent returns structured content.
func BlockContent(blocks ...ContentBlock) Content {
	return Content{blocks: blocks, isList: true}
}

// Text flattens the content: the string itself, or all text blocks joined.
// Non-text blocks are skipped.
func (c Content) Text() string {
	if !c.isList {
		return c.str
	}
	var sb strings.Builder
	for _, b := range c.blocks {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// Blocks returns the structured blocks, or nil for string content.
func (c Content) Blocks() []ContentBlock {
	return c.blocks
}

func (c *Content) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*c = Content{}
		return nil
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = Content{str: s}
		return nil
	case b[0] == '[':
		// Decode leniently: a block that is not an object is ignored.
		var raw []json.RawMessage
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		blocks := make([]ContentBlock, 0, len(raw))
		for _, r := range raw {
			var blk ContentBlock
			if err := json.Unmarshal(r, &blk); err == nil {
				blocks = append(blocks, blk)
			}
		}
		*c = Content{blocks: blocks, isList: true}
		return nil
	default:
		// Unknown content shape: treat as empty rather than failing the
		// whole history payload.
		*c = Content{}
		return nil
	}
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.isList {
		return json.Marshal(c.blocks)
	}
	return json.Marshal(c.str)
}

// Timestamp is a message timestamp as the Gateway sends it: epoch seconds,
// epoch milliseconds, or a preformatted string.
type Timestamp struct {
	Num   float64
	Str   string
	Valid bool
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		*t = Timestamp{Num: val, Valid: true}
	case string:
		*t = Timestamp{Str: val, Valid: val != ""}
	default:
		*t = Timestamp{}
	}
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	switch {
	case !t.Valid:
		return []byte("null"), nil
	case t.Str != "":
		return json.Marshal(t.Str)
	default:
		return json.Marshal(t.Num)
	}
}

// msThreshold separates epoch seconds from epoch milliseconds.
const msThreshold = 10_000_000_000

// Time resolves the timestamp. Numbers above msThreshold are milliseconds.
// Strings are parsed as RFC 3339 when possible. ok is false when the value
// is missing or unparseable.
func (t Timestamp) Time() (time.Time, bool) {
	if !t.Valid {
		return time.Time{}, false
	}
	if t.Str != "" {
		if ts, err := time.Parse(time.RFC3339Nano, t.Str); err == nil {
			return ts, true
		}
		return time.Time{}, false
	}
	if t.Num > msThreshold {
		return time.UnixMilli(int64(t.Num)).UTC(), true
	}
	sec := int64(t.Num)
	nsec := int64((t.Num - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC(), true
}

// ISO formats the timestamp as an ISO-8601 string. Preformatted strings pass
// through unchanged; missing values resolve to now.
func (t Timestamp) ISO(now time.Time) string {
	if t.Valid && t.Str != "" {
		return t.Str
	}
	if ts, ok := t.Time(); ok {
		return ts.Format("2006-01-02T15:04:05.000Z07:00")
	}
	return now.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// Message is one entry of chat history.
type Message struct {
	ID        string    `json:"id,omitempty"`
	Role      string    `json:"role"`
	Content   Content   `json:"content"`
	Timestamp Timestamp `json:"timestamp"`
}

// NormalizedMessage is the flattened history entry handed to UIs.
type NormalizedMessage struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// Normalize flattens a history message. idx is the message's position and is
// used for the fallback id when neither id nor timestamp is present.
func (m Message) Normalize(idx int, now time.Time) NormalizedMessage {
	id := m.ID
	if id == "" {
		switch {
		case m.Timestamp.Valid && m.Timestamp.Str != "":
			id = "msg-" + m.Timestamp.Str
		case m.Timestamp.Valid:
			id = "msg-" + strconv.FormatFloat(m.Timestamp.Num, 'f', -1, 64)
		default:
			id = "msg-" + strconv.Itoa(idx)
		}
	}
	return NormalizedMessage{
		ID:        id,
		Role:      m.Role,
		Content:   m.Content.Text(),
		CreatedAt: m.Timestamp.ISO(now),
	}
}

// ParseHistory extracts the message list from a chat.history response
// payload, which is either {"messages": [...]} or a bare array. Any other
// shape yields an empty list.
func ParseHistory(payload json.RawMessage) ([]Message, error) {
	arr, err := historyArray(payload)
	if arr == nil || err != nil {
		return nil, err
	}
	var msgs []Message
	if err := json.Unmarshal(arr, &msgs); err != nil {
		return nil, fmt.Errorf("parse history: %w", err)
	}
	return msgs, nil
}

// ParseHistoryRaw is ParseHistory without decoding the messages: each
// element is returned as the Gateway sent it, unknown fields included.
func ParseHistoryRaw(payload json.RawMessage) ([]json.RawMessage, error) {
	arr, err := historyArray(payload)
	if arr == nil || err != nil {
		return nil, err
	}
	var msgs []json.RawMessage
	if err := json.Unmarshal(arr, &msgs); err != nil {
		return nil, fmt.Errorf("parse history: %w", err)
	}
	return msgs, nil
}

// historyArray returns the JSON array holding the messages, or nil.
func historyArray(payload json.RawMessage) (json.RawMessage, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return nil, nil
	}
	if payload[0] == '[' {
		return payload, nil
	}
	var wrapped struct {
		Messages json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(payload, &wrapped); err != nil {
		return nil, fmt.Errorf("parse history: %w", err)
	}
	inner := bytes.TrimSpace(wrapped.Messages)
	if len(inner) == 0 || inner[0] != '[' {
		return nil, nil
	}
	return inner, nil
}

// LastAssistantText scans messages from newest to oldest and returns the text
// of the first assistant message found. ok is false when there is none.
func LastAssistantText(msgs []Message) (text string, ok bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleAssistant {
			return msgs[i].Content.Text(), true
		}
	}
	return "", false
}
