package jsonrpc

import (
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"
)

// callResult is the value a pending slot completes with.
type callResult struct {
	result json.RawMessage
	err    error
}

// pendingCall is one outstanding request. done has capacity 1 and receives
// exactly one value, sent by whoever removed the call from the map.
type pendingCall struct {
	id   string
	done chan callResult
}

// correlator maps request ids to pending slots.
//
// Senders insert, the receive loop resolves, and callers remove their own
// slot on timeout or cancellation. Removal from the map under mu is what
// grants the right to complete a slot, so each slot completes at most once.
type correlator struct {
	// next is scoped to the client instance and is not reset on reconnection,
	// so a late response from a stale connection can never match a new request.
	next atomic.Uint64

	mu      sync.Mutex
	pending map[string]*pendingCall
}

func newCorrelator() *correlator {
	return &correlator{pending: make(map[string]*pendingCall)}
}

// register allocates the next id and inserts its pending slot.
func (c *correlator) register() *pendingCall {
	call := &pendingCall{
		id:   strconv.FormatUint(c.next.Add(1), 10),
		done: make(chan callResult, 1),
	}

	c.mu.Lock()
	c.pending[call.id] = call
	c.mu.Unlock()

	return call
}

// take removes and returns the slot for id.
func (c *correlator) take(id string) (*pendingCall, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	call, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	return call, ok
}

// resolve completes the slot for id with a result. Unknown ids report false.
func (c *correlator) resolve(id string, result json.RawMessage) bool {
	call, ok := c.take(id)
	if !ok {
		return false
	}
	call.done <- callResult{result: result}
	return true
}

// reject completes the slot for id with an error. Unknown ids report false.
func (c *correlator) reject(id string, err error) bool {
	call, ok := c.take(id)
	if !ok {
		return false
	}
	call.done <- callResult{err: err}
	return true
}

// remove drops the slot for id without completing it. Used by callers that
// stop waiting.
func (c *correlator) remove(id string) {
	c.take(id)
}

// rejectAll completes every pending slot with err and returns how many there were.
func (c *correlator) rejectAll(err error) int {
	c.mu.Lock()
	calls := c.pending
	c.pending = make(map[string]*pendingCall)
	c.mu.Unlock()

	for _, call := range calls {
		call.done <- callResult{err: err}
	}
	return len(calls)
}

// len returns the number of outstanding requests.
func (c *correlator) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
