package snapcast

import (
	"time"

	snapapi "github.com/snapdog2/snapdog-core/internal/snapcast"
)

// ClientState is the retained state of one Snapcast client.
// Topic: {prefix}/state/snapcast/client/{id}
type ClientState struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	Volume    int    `json:"volume"`
	Muted     bool   `json:"muted"`
	Latency   int    `json:"latency"`
	GroupID   string `json:"group_id,omitempty"`
	Host      string `json:"host,omitempty"`
}

// GroupState is the retained state of one Snapcast group.
// Topic: {prefix}/state/snapcast/group/{id}
type GroupState struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Muted    bool     `json:"muted"`
	StreamID string   `json:"stream_id"`
	Clients  []string `json:"clients"`
}

// StreamState is the retained state of one audio stream.
// Topic: {prefix}/state/snapcast/stream/{id}
type StreamState struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	URI    string `json:"uri,omitempty"`
}

// HealthStatus is the control connection status published on the health topic.
type HealthStatus string

// Health statuses.
const (
	HealthOnline  HealthStatus = "online"
	HealthOffline HealthStatus = "offline"
)

// HealthMessage is the retained payload of {prefix}/health/snapcast.
type HealthMessage struct {
	Status    HealthStatus `json:"status"`
	Reason    string       `json:"reason,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// NewHealthMessage builds a health message stamped with the current time.
func NewHealthMessage(status HealthStatus, reason string) HealthMessage {
	return HealthMessage{
		Status:    status,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
}

// clientStateFrom converts a server-side client description.
func clientStateFrom(c snapapi.Client, groupID string) ClientState {
	name := c.Config.Name
	if name == "" {
		name = c.Host.Name
	}
	return ClientState{
		ID:        c.ID,
		Name:      name,
		Connected: c.Connected,
		Volume:    c.Config.Volume.Percent,
		Muted:     c.Config.Volume.Muted,
		Latency:   c.Config.Latency,
		GroupID:   groupID,
		Host:      c.Host.Name,
	}
}

// groupStateFrom converts a server-side group description.
func groupStateFrom(g snapapi.Group) GroupState {
	clients := make([]string, 0, len(g.Clients))
	for _, c := range g.Clients {
		clients = append(clients, c.ID)
	}
	return GroupState{
		ID:       g.ID,
		Name:     g.Name,
		Muted:    g.Muted,
		StreamID: g.StreamID,
		Clients:  clients,
	}
}

// streamStateFrom converts a server-side stream description.
func streamStateFrom(s snapapi.Stream) StreamState {
	return StreamState{
		ID:     s.ID,
		Status: s.Status,
		URI:    s.URI.Raw,
	}
}
