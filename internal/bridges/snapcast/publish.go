package snapcast

import (
	"encoding/json"

	snapapi "github.com/snapdog2/snapdog-core/internal/snapcast"
)

// healthQoS is the QoS for health messages, which must not be lost.
const healthQoS byte = 1

// setClient applies fn to a cached client and publishes the result if it
// changed. Cache updates and their publishes are serialized by publishMu,
// so the last retained message for an entity always matches the cache.
func (b *Bridge) setClient(id string, fn func(*ClientState)) (ClientState, bool) {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	state, changed := b.cache.updateClient(id, fn)
	if changed {
		b.publishState(snapapi.KindClient, id, state)
	}
	return state, changed
}

// setGroup is setClient for groups.
func (b *Bridge) setGroup(id string, fn func(*GroupState)) {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	if state, changed := b.cache.updateGroup(id, fn); changed {
		b.publishState(snapapi.KindGroup, id, state)
	}
}

// setStream is setClient for streams.
func (b *Bridge) setStream(id string, fn func(*StreamState)) {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	if state, changed := b.cache.updateStream(id, fn); changed {
		b.publishState(snapapi.KindStream, id, state)
	}
}

// applyServer replaces the cache with a full snapshot and publishes the
// differences. It returns the number of entities that changed.
func (b *Bridge) applyServer(server snapapi.Server) int {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	updates := b.cache.applySnapshot(server)
	b.publishUpdates(updates)
	return len(updates)
}

// publishUpdates publishes a batch of cache changes. Removed entities get
// an empty retained message, which clears them on the broker.
func (b *Bridge) publishUpdates(updates []stateUpdate) {
	for _, u := range updates {
		if u.state == nil {
			b.clearState(u.kind, u.id)
			continue
		}
		b.publishState(u.kind, u.id, u.state)
	}
}

// publishState publishes one entity's retained state. On failure the cache
// entry is forgotten so the next update or resync publishes it again.
func (b *Bridge) publishState(kind, id string, state any) {
	payload, err := json.Marshal(state)
	if err != nil {
		b.logError("failed to marshal state", err, "kind", kind, "id", id)
		return
	}

	topic := b.topics.SnapcastState(kind, id)
	if err := b.mqtt.Publish(topic, payload, b.qos, true); err != nil {
		b.cache.forget(kind, id)
		b.logError("failed to publish state", err, "topic", topic)
		return
	}
	b.metrics.statesPublished.Add(1)
	b.logDebug("published state", "topic", topic)
}

// clearState removes an entity's retained message.
func (b *Bridge) clearState(kind, id string) {
	topic := b.topics.SnapcastState(kind, id)
	if err := b.mqtt.Publish(topic, nil, b.qos, true); err != nil {
		b.logError("failed to clear state", err, "topic", topic)
		return
	}
	b.logDebug("cleared state", "topic", topic)
}

// publishEvent forwards a notification's params unchanged.
func (b *Bridge) publishEvent(method string, params json.RawMessage) {
	payload := []byte(params)
	if len(payload) == 0 {
		payload = []byte("null")
	}

	topic := b.topics.SnapcastEvent(method)
	if err := b.mqtt.Publish(topic, payload, b.qos, false); err != nil {
		b.logError("failed to publish event", err, "topic", topic)
		return
	}
	b.metrics.eventsPublished.Add(1)
}

// publishHealth publishes the retained control connection status.
func (b *Bridge) publishHealth(status HealthStatus, reason string) {
	payload, err := json.Marshal(NewHealthMessage(status, reason))
	if err != nil {
		b.logError("failed to marshal health", err)
		return
	}

	topic := b.topics.SnapcastHealth()
	if err := b.mqtt.Publish(topic, payload, healthQoS, true); err != nil {
		b.logError("failed to publish health", err, "status", string(status))
		return
	}
	b.logInfo("snapcast health", "status", string(status), "reason", reason)
}
