package gateway

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/jcc-labs/jcc/pkg/protocol"
)

// idGenerator hands out request ids for one connection: an instance-local
// salt plus a monotonic counter.
type idGenerator struct {
	salt string
	n    atomic.Uint64
}

func newIDGenerator(salt string) *idGenerator {
	if salt == "" {
		salt = uuid.NewString()[:8]
	}
	return &idGenerator{salt: salt}
}

func (g *idGenerator) next() string {
	return g.salt + "-" + strconv.FormatUint(g.n.Add(1), 36)
}

// result is what a waiter eventually receives: a response frame or an error.
type result struct {
	frame protocol.Frame
	err   error
}

// correlator maps outstanding request ids to their waiters.
type correlator struct {
	mu      sync.Mutex
	pending map[string]chan result
	err     error // set once the connection is gone
}

func newCorrelator() *correlator {
	return &correlator{pending: make(map[string]chan result)}
}

// register creates the waiter for id. The channel is buffered so resolve
// never blocks the read loop.
func (c *correlator) register(id string) (chan result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	if _, dup := c.pending[id]; dup {
		return nil, fmt.Errorf("request id %q already outstanding", id)
	}
	ch := make(chan result, 1)
	c.pending[id] = ch
	return ch, nil
}

// resolve hands a response to its waiter. It reports false when nobody is
// waiting any more (unknown id, or the call already timed out).
func (c *correlator) resolve(f protocol.Frame) bool {
	c.mu.Lock()
	ch, ok := c.pending[f.ID]
	if ok {
		delete(c.pending, f.ID)
	}
	c.mu.Unlock()
	if ok {
		ch <- result{frame: f}
	}
	return ok
}

func (c *correlator) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// failAll fails every outstanding waiter and refuses new registrations.
func (c *correlator) failAll(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	pending := c.pending
	c.pending = make(map[string]chan result)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- result{err: err}
	}
}

// await blocks until the waiter for id is resolved or ctx ends. On expiry
// the waiter is removed first, so a late response can no longer reach it.
func (c *correlator) await(ctx context.Context, id, method string, ch chan result) (protocol.Frame, error) {
	select {
	case r := <-ch:
		return r.frame, r.err
	case <-ctx.Done():
		c.forget(id)
		return protocol.Frame{}, timeoutErr(ctx, method)
	}
}

func (c *correlator) outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// newIdempotencyKey returns a fresh key for chat.send. The Gateway uses it to
// deduplicate retried sends.
func newIdempotencyKey() string {
	return uuid.NewString()
}
