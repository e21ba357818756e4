// Package eventbus fans console events out to the chat view and other
// listeners.
package eventbus

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Event types published on the bus.
const (
	GatewayState  = "gateway.state"
	ChatDelta     = "chat.delta"
	SyncCompleted = "sync.completed"
	LogEntry      = "log.entry"
)

// Event is one message on the bus.
type Event struct {
	Type string          `json:"type"`
	Time time.Time       `json:"ts"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s has no data", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", e.Type, err)
	}
	return nil
}

// StatePayload accompanies GatewayState.
type StatePayload struct {
	State string `json:"state"`
}

// ChatPayload accompanies ChatDelta.
type ChatPayload struct {
	SessionKey string `json:"sessionKey"`
	Text       string `json:"text,omitempty"`
}

// SyncPayload accompanies SyncCompleted.
type SyncPayload struct {
	Agent    string `json:"agent"`
	Fetched  int    `json:"fetched"`
	Inserted int    `json:"inserted"`
	Error    string `json:"error,omitempty"`
}

// Bus is a fan-out pub/sub bus. Publish never blocks: a subscriber whose
// buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[chan Event]map[string]bool // nil filter receives everything
	buffer int
	closed bool
}

// New returns a bus whose subscriber channels hold buffer events.
func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[chan Event]map[string]bool),
		buffer: buffer,
	}
}

// Subscribe returns a channel receiving events of the given types, or all
// events when none are given. On a closed bus the channel is already closed.
func (b *Bus) Subscribe(types ...string) <-chan Event {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	var filter map[string]bool
	if len(types) > 0 {
		filter = make(map[string]bool, len(types))
		for _, t := range types {
			filter[t] = true
		}
	}
	b.subs[ch] = filter
	return ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(sub <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		if ch == sub {
			delete(b.subs, ch)
			close(ch)
			return
		}
	}
}

// Publish delivers e to every matching subscriber.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch, filter := range b.subs {
		if filter != nil && !filter[e.Type] {
			continue
		}
		select {
		case ch <- e:
		default:
		}
	}
}

// PublishType marshals data and publishes it as an event of eventType.
func (b *Bus) PublishType(eventType string, data any) {
	var raw json.RawMessage
	if data != nil {
		var err error
		if raw, err = json.Marshal(data); err != nil {
			raw = nil
		}
	}
	b.Publish(Event{Type: eventType, Time: time.Now(), Data: raw})
}

// Close closes every subscriber channel. Later publishes are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for ch := range b.subs {
		close(ch)
		delete(b.subs, ch)
	}
}
