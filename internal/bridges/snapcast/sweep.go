package snapcast

import (
	"sync"
)

// stateKey names one entity's retained state topic.
type stateKey struct {
	kind string
	id   string
}

// staleSweep collects the retained state topics already on the broker when
// the bridge starts. After the first successful resync, entries the server
// no longer reports are cleared, since a previous run may have stopped
// before it could remove them.
type staleSweep struct {
	mu     sync.Mutex
	active bool
	seen   map[stateKey]struct{}
}

// begin starts collecting.
func (s *staleSweep) begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
	s.seen = make(map[stateKey]struct{})
}

// record notes a retained entity while collecting.
func (s *staleSweep) record(kind, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		s.seen[stateKey{kind: kind, id: id}] = struct{}{}
	}
}

// finish stops collecting and returns what was seen. It reports false if
// collection was not running.
func (s *staleSweep) finish() ([]stateKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return nil, false
	}
	s.active = false

	keys := make([]stateKey, 0, len(s.seen))
	for k := range s.seen {
		keys = append(keys, k)
	}
	s.seen = nil
	return keys, true
}

// handleRetainedState runs on the MQTT delivery goroutine for every state
// message received during the startup sweep.
func (b *Bridge) handleRetainedState(topic string, payload []byte) error {
	// Cleared topics carry no payload.
	if len(payload) == 0 {
		return nil
	}
	kind, id, ok := b.topics.ParseSnapcastState(topic)
	if !ok {
		return nil
	}
	b.sweep.record(kind, id)
	return nil
}

// clearStale ends the startup sweep and clears retained state for entities
// missing from the cache. It runs once, after the first successful resync.
func (b *Bridge) clearStale() {
	keys, ok := b.sweep.finish()
	if !ok {
		return
	}
	if err := b.mqtt.Unsubscribe(b.topics.AllSnapcastStates()); err != nil {
		b.logDebug("unsubscribe states failed", "error", err)
	}

	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	cleared := 0
	for _, k := range keys {
		if b.cache.has(k.kind, k.id) {
			continue
		}
		b.clearState(k.kind, k.id)
		cleared++
	}
	if cleared > 0 {
		b.logInfo("cleared stale retained state", "count", cleared)
	}
}
