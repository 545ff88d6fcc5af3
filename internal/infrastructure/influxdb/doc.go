// Package influxdb provides InfluxDB connectivity for SnapDog Core.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, non-blocking batched writes, and health monitoring.
//
// # Purpose
//
// This package records Snapcast telemetry:
//   - Client volume and mute changes (snapcast_volume)
//   - Control connection loss and recovery (snapcast_connection)
//   - Periodic JSON-RPC client counters (snapcast_rpc)
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, map[string]string{"site": cfg.Site.ID})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteVolume("00:11:22:33:44:55", 40, false)
//
// # Error Handling
//
// Write operations are non-blocking; batch errors are delivered to the
// SetOnError callback. Connection and health check errors are returned directly.
package influxdb
