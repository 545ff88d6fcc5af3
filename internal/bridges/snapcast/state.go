package snapcast

import (
	"reflect"
	"slices"
	"sync"

	snapapi "github.com/snapdog2/snapdog-core/internal/snapcast"
)

// stateUpdate is one entity whose retained state must be (re)published.
// A nil state means the entity is gone and its retained message is cleared.
type stateUpdate struct {
	kind  string
	id    string
	state any
}

// stateCache holds the last published state per entity for change detection.
type stateCache struct {
	mu      sync.Mutex
	clients map[string]ClientState
	groups  map[string]GroupState
	streams map[string]StreamState
}

func newStateCache() *stateCache {
	return &stateCache{
		clients: make(map[string]ClientState),
		groups:  make(map[string]GroupState),
		streams: make(map[string]StreamState),
	}
}

// updateEntry applies mutate to the entry for id (starting from init when
// absent) and reports whether the stored value changed.
func updateEntry[S any](m map[string]S, id string, init S, mutate func(*S)) (S, bool) {
	prev, ok := m[id]
	next := init
	if ok {
		next = prev
	}
	mutate(&next)
	m[id] = next
	return next, !ok || !reflect.DeepEqual(prev, next)
}

// replaceEntry stores next and reports whether it differs from the old value.
func replaceEntry[S any](m map[string]S, id string, next S) bool {
	prev, ok := m[id]
	m[id] = next
	return !ok || !reflect.DeepEqual(prev, next)
}

func (c *stateCache) updateClient(id string, mutate func(*ClientState)) (ClientState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return updateEntry(c.clients, id, ClientState{ID: id}, mutate)
}

func (c *stateCache) updateGroup(id string, mutate func(*GroupState)) (GroupState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return updateEntry(c.groups, id, GroupState{ID: id, Clients: []string{}}, mutate)
}

func (c *stateCache) updateStream(id string, mutate func(*StreamState)) (StreamState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return updateEntry(c.streams, id, StreamState{ID: id}, mutate)
}

func (c *stateCache) client(id string) (ClientState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.clients[id]
	return s, ok
}

func (c *stateCache) group(id string) (GroupState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.groups[id]
	return s, ok
}

// has reports whether an entity of kind is cached.
func (c *stateCache) has(kind, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ok bool
	switch kind {
	case snapapi.KindClient:
		_, ok = c.clients[id]
	case snapapi.KindGroup:
		_, ok = c.groups[id]
	case snapapi.KindStream:
		_, ok = c.streams[id]
	}
	return ok
}

// forget drops an entry so the next update is published unconditionally.
func (c *stateCache) forget(kind, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch kind {
	case snapapi.KindClient:
		delete(c.clients, id)
	case snapapi.KindGroup:
		delete(c.groups, id)
	case snapapi.KindStream:
		delete(c.streams, id)
	}
}

// counts returns the number of known clients, groups and streams.
func (c *stateCache) counts() (clients, groups, streams int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients), len(c.groups), len(c.streams)
}

// applySnapshot replaces the cache with a full server description and
// returns the entities that changed, followed by the ones that disappeared.
func (c *stateCache) applySnapshot(server snapapi.Server) []stateUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()

	var updates []stateUpdate
	seenClients := make(map[string]bool)
	seenGroups := make(map[string]bool)
	seenStreams := make(map[string]bool)

	for _, g := range server.Groups {
		seenGroups[g.ID] = true
		gs := groupStateFrom(g)
		if replaceEntry(c.groups, g.ID, gs) {
			updates = append(updates, stateUpdate{kind: snapapi.KindGroup, id: g.ID, state: gs})
		}
		for _, cl := range g.Clients {
			seenClients[cl.ID] = true
			cs := clientStateFrom(cl, g.ID)
			if replaceEntry(c.clients, cl.ID, cs) {
				updates = append(updates, stateUpdate{kind: snapapi.KindClient, id: cl.ID, state: cs})
			}
		}
	}
	for _, s := range server.Streams {
		seenStreams[s.ID] = true
		ss := streamStateFrom(s)
		if replaceEntry(c.streams, s.ID, ss) {
			updates = append(updates, stateUpdate{kind: snapapi.KindStream, id: s.ID, state: ss})
		}
	}

	updates = append(updates, removeUnseen(c.groups, seenGroups, snapapi.KindGroup)...)
	updates = append(updates, removeUnseen(c.clients, seenClients, snapapi.KindClient)...)
	updates = append(updates, removeUnseen(c.streams, seenStreams, snapapi.KindStream)...)
	return updates
}

// removeUnseen deletes entries missing from seen, in id order.
func removeUnseen[S any](m map[string]S, seen map[string]bool, kind string) []stateUpdate {
	var gone []string
	for id := range m {
		if !seen[id] {
			gone = append(gone, id)
		}
	}
	slices.Sort(gone)

	updates := make([]stateUpdate, 0, len(gone))
	for _, id := range gone {
		delete(m, id)
		updates = append(updates, stateUpdate{kind: kind, id: id})
	}
	return updates
}
