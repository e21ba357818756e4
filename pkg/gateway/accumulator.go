package gateway

import (
	"strings"
	"sync"

	"github.com/jcc-labs/jcc/pkg/protocol"
)

// Accumulator assembles the reply of one chat run from its stream events.
// Deltas are appended in arrival order; the first final or error event ends
// the run and everything after it is ignored.
//
// Until BindRun is called the run id is unknown, so events that name a run
// are held back and replayed at bind time if they belong to this run.
// Events that name no run are applied at once.
type Accumulator struct {
	mu       sync.Mutex
	runID    string
	bound    bool
	held     []protocol.StreamEvent
	buf      strings.Builder
	finished bool
	text     string
	err      error
	done     chan struct{}
	onDelta  func(string)
}

func NewAccumulator() *Accumulator {
	return &Accumulator{done: make(chan struct{})}
}

// OnDelta sets a callback invoked with each text fragment as it arrives.
// It runs with the accumulator locked and must not call back into it.
func (a *Accumulator) OnDelta(fn func(string)) {
	a.mu.Lock()
	a.onDelta = fn
	a.mu.Unlock()
}

// BindRun fixes the run id taken from the chat.send ack and replays the
// held events of that run; held events of other runs are dropped. An empty
// runID means the Gateway did not name the run, and every held event is
// replayed. Later events with a different runId are ignored.
func (a *Accumulator) BindRun(runID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bound {
		return
	}
	a.bound = true
	a.runID = runID
	held := a.held
	a.held = nil
	for _, ev := range held {
		if runID == "" || ev.RunID == runID {
			a.apply(ev)
		}
	}
}

// Feed applies one event. It reports true when this event ended the run.
func (a *Accumulator) Feed(ev protocol.StreamEvent) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finished {
		return false
	}
	if ev.RunID != "" {
		if !a.bound {
			a.held = append(a.held, ev)
			return false
		}
		if a.runID != "" && ev.RunID != a.runID {
			return false
		}
	}
	a.apply(ev)
	return a.finished
}

// apply must be called with mu held.
func (a *Accumulator) apply(ev protocol.StreamEvent) {
	if a.finished {
		return
	}
	switch ev.Kind {
	case protocol.StreamDelta:
		a.buf.WriteString(ev.Text)
		if a.onDelta != nil && ev.Text != "" {
			a.onDelta(ev.Text)
		}
	case protocol.StreamFinal:
		a.text = a.buf.String()
		if a.text == "" && ev.HasText {
			a.text = ev.Text
		}
		a.finish(nil)
	case protocol.StreamError:
		runID := ev.RunID
		if runID == "" {
			runID = a.runID
		}
		a.finish(&RunError{RunID: runID, Message: ev.Err})
	}
}

// finish must be called with mu held.
func (a *Accumulator) finish(err error) {
	a.finished = true
	a.err = err
	close(a.done)
}

// Done is closed once the run has ended.
func (a *Accumulator) Done() <-chan struct{} {
	return a.done
}

// Result returns the final text or the run error. It is only meaningful
// after Done is closed.
func (a *Accumulator) Result() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.text, a.err
}

// Partial returns the text accumulated so far.
func (a *Accumulator) Partial() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.String()
}
