package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementVolume     = "snapcast_volume"
	measurementConnection = "snapcast_connection"
	measurementRPC        = "snapcast_rpc"
)

// WriteVolume records a Snapcast client's volume and mute state.
//
// Example:
//
//	client.WriteVolume("00:11:22:33:44:55", 40, false)
func (c *Client) WriteVolume(clientID string, percent int, muted bool) {
	c.WritePoint(measurementVolume,
		map[string]string{"client_id": clientID},
		map[string]interface{}{
			"percent": int64(percent),
			"muted":   muted,
		})
}

// WriteConnectionEvent records a control connection transition.
// event is "lost" or "restored"; reason may be empty.
func (c *Client) WriteConnectionEvent(event, reason string) {
	fields := map[string]interface{}{"value": int64(1)}
	if reason != "" {
		fields["reason"] = reason
	}
	c.WritePoint(measurementConnection, map[string]string{"event": event}, fields)
}

// RPCStats is one sample of JSON-RPC client counters.
type RPCStats struct {
	Connected       bool
	RequestsSent    uint64
	Responses       uint64
	Notifications   uint64
	MalformedFrames uint64
	Timeouts        uint64
	ConnectionsLost uint64
	Reconnects      uint64
	Pending         int
}

// WriteRPCStats records a counters sample for the named RPC client.
func (c *Client) WriteRPCStats(name string, s RPCStats) {
	c.WritePoint(measurementRPC,
		map[string]string{"client": name},
		map[string]interface{}{
			"connected":        s.Connected,
			"requests_sent":    s.RequestsSent,
			"responses":        s.Responses,
			"notifications":    s.Notifications,
			"malformed_frames": s.MalformedFrames,
			"timeouts":         s.Timeouts,
			"connections_lost": s.ConnectionsLost,
			"reconnects":       s.Reconnects,
			"pending":          int64(s.Pending),
		})
}

// WritePoint writes a custom point stamped with the current time.
//
// Example:
//
//	client.WritePoint("snapcast_stream",
//	    map[string]string{"stream_id": "spotify"},
//	    map[string]interface{}{"playing": true})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
