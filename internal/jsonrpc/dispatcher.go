package jsonrpc

import (
	"encoding/json"
	"fmt"
	"sync"
)

// HandlerID identifies a registered listener for later removal.
type HandlerID uint64

// NotificationHandler receives server-initiated notifications.
//
// Handlers run on the receive loop, one frame at a time. A slow handler
// delays every frame behind it, so expensive work belongs in its own goroutine.
// params is passed through undecoded.
type NotificationHandler func(method string, params json.RawMessage)

// listenerSet is an ordered list of callbacks with add/remove by handle.
type listenerSet[F any] struct {
	mu      sync.RWMutex
	nextID  HandlerID
	entries []listenerEntry[F]
}

type listenerEntry[F any] struct {
	id HandlerID
	fn F
}

// add appends fn and returns its handle.
func (s *listenerSet[F]) add(fn F) HandlerID {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.entries = append(s.entries, listenerEntry[F]{id: s.nextID, fn: fn})
	return s.nextID
}

// remove deletes the listener with the given handle and reports whether it existed.
func (s *listenerSet[F]) remove(id HandlerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.entries {
		if e.id == id {
			s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
			return true
		}
	}
	return false
}

// snapshot returns the listeners in registration order.
func (s *listenerSet[F]) snapshot() []F {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fns := make([]F, len(s.entries))
	for i, e := range s.entries {
		fns[i] = e.fn
	}
	return fns
}

// len returns the number of registered listeners.
func (s *listenerSet[F]) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// each invokes call for every listener in registration order. A panicking
// listener is reported through onPanic and does not stop the others.
func (s *listenerSet[F]) each(call func(F), onPanic func(r any)) {
	for _, fn := range s.snapshot() {
		func() {
			defer func() {
				if r := recover(); r != nil && onPanic != nil {
					onPanic(r)
				}
			}()
			call(fn)
		}()
	}
}

// dispatcher fans notifications out to registered handlers.
type dispatcher struct {
	handlers listenerSet[NotificationHandler]
	logger   func() Logger
}

// dispatch invokes every handler with (method, params).
func (d *dispatcher) dispatch(method string, params json.RawMessage) {
	d.handlers.each(
		func(h NotificationHandler) { h(method, params) },
		func(r any) {
			if logger := d.logger(); logger != nil {
				logger.Error("notification handler panic recovered",
					"method", method,
					"error", fmt.Errorf("%v", r),
				)
			}
		},
	)
}
