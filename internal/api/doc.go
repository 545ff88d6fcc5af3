// Package api implements the HTTP REST API and WebSocket server for SnapDog.
//
// This package provides:
//   - Health and metrics endpoints for monitoring
//   - Read access to the Snapcast server status and JSON-RPC client counters
//   - Volume and delete endpoints for clients that cannot speak MQTT
//   - WebSocket hub relaying Snapcast notifications and connection changes
//   - Middleware stack (request ID, logging, recovery, CORS)
//   - TLS support for production deployments
//
// # Architecture
//
// The API server reads from the Snapcast JSON-RPC client directly. It does
// not go through MQTT, so it keeps working when the broker is down.
//
// # Graceful Degradation
//
// GET /api/v1/health answers 503 while the Snapcast control connection is
// down. Status and command endpoints map JSON-RPC failures to HTTP codes:
// connection failures to 503, timeouts to 504 and server errors to 502.
package api
