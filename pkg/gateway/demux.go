package gateway

import (
	"encoding/json"
	"sync"

	"github.com/jcc-labs/jcc/pkg/protocol"
)

// Handler receives parsed stream events for one subscription.
type Handler func(protocol.StreamEvent)

type subscription struct {
	sessionKey string
	fn         Handler
}

// Demux routes chat and agent events to the operations waiting on them.
// Each operation subscribes for the duration of its run and cancels the
// subscription when it returns.
type Demux struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]subscription
}

func NewDemux() *Demux {
	return &Demux{subs: make(map[uint64]subscription)}
}

// Subscribe registers fn for events of sessionKey. An empty sessionKey
// receives every event. The returned func removes the subscription and is
// safe to call more than once.
func (d *Demux) Subscribe(sessionKey string, fn Handler) func() {
	d.mu.Lock()
	d.next++
	id := d.next
	d.subs[id] = subscription{sessionKey: sessionKey, fn: fn}
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subs, id)
			d.mu.Unlock()
		})
	}
}

// Route parses one event and hands it to the matching subscribers. Events
// naming a different sessionKey are not delivered. An event with no
// sessionKey cannot be attributed, so it reaches a session subscriber only
// while that is the sole session subscription; wildcard subscribers always
// get it. It returns the number of deliveries.
func (d *Demux) Route(event string, payload json.RawMessage) int {
	if event != protocol.EventChat && event != protocol.EventAgent {
		return 0
	}
	ev := protocol.ParseStreamEvent(event, payload)
	if ev.Kind == protocol.StreamIgnore {
		return 0
	}

	d.mu.RLock()
	keyed := 0
	for _, s := range d.subs {
		if s.sessionKey != "" {
			keyed++
		}
	}
	targets := make([]Handler, 0, len(d.subs))
	for _, s := range d.subs {
		switch {
		case s.sessionKey == "":
		case ev.SessionKey == "" && keyed > 1:
			continue
		case ev.SessionKey != "" && s.sessionKey != ev.SessionKey:
			continue
		}
		targets = append(targets, s.fn)
	}
	d.mu.RUnlock()

	for _, fn := range targets {
		fn(ev)
	}
	return len(targets)
}

// Len returns the number of live subscriptions.
func (d *Demux) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs)
}
