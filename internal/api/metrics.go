package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/snapdog2/snapdog-core/internal/jsonrpc"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	MQTT          MQTTMetrics    `json:"mqtt"`
	Snapcast      jsonrpc.Stats  `json:"snapcast"`
	Bridge        *BridgeMetrics `json:"bridge,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// BridgeMetrics contains Snapcast MQTT bridge statistics.
type BridgeMetrics struct {
	Notifications     uint64 `json:"notifications"`
	StatesPublished   uint64 `json:"states_published"`
	EventsPublished   uint64 `json:"events_published"`
	EventsDropped     uint64 `json:"events_dropped"`
	CommandsReceived  uint64 `json:"commands_received"`
	CommandsFailed    uint64 `json:"commands_failed"`
	CommandsThrottled uint64 `json:"commands_throttled"`
	Resyncs           uint64 `json:"resyncs"`
	Clients           int    `json:"clients"`
	Groups            int    `json:"groups"`
	Streams           int    `json:"streams"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	// Collect runtime stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Snapcast: s.snapcast.Stats(),
	}

	// MQTT metrics (if available)
	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{
			Connected: s.mqtt.IsConnected(),
		}
	}

	// Bridge metrics (if available)
	if s.bridge != nil {
		m := s.bridge.GetMetrics()
		metrics.Bridge = &BridgeMetrics{
			Notifications:     m.Notifications,
			StatesPublished:   m.StatesPublished,
			EventsPublished:   m.EventsPublished,
			EventsDropped:     m.EventsDropped,
			CommandsReceived:  m.CommandsReceived,
			CommandsFailed:    m.CommandsFailed,
			CommandsThrottled: m.CommandsThrottled,
			Resyncs:           m.Resyncs,
			Clients:           m.Clients,
			Groups:            m.Groups,
			Streams:           m.Streams,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
