// Package snapcast bridges a Snapcast server and MQTT.
//
// Server notifications become retained entity state and raw events, the
// control connection's health is mirrored to a retained health topic, and
// commands published by home automation are executed against the server.
//
// # Topics
//
//	{prefix}/state/snapcast/{client|group|stream}/{id}   retained entity state
//	{prefix}/event/snapcast/{method}                     raw notification params
//	{prefix}/health/snapcast                             retained online/offline
//	{prefix}/command/snapcast/{kind}/{id}/{property}     inbound commands
//
// # Commands
//
//	client/{id}/volume   0-100
//	client/{id}/mute     true|false|on|off|1|0|toggle
//	client/{id}/latency  milliseconds, >= 0
//	client/{id}/name     text
//	group/{id}/mute      true|false|on|off|1|0|toggle
//	group/{id}/stream    stream id
//	group/{id}/name      text
//	group/{id}/clients   JSON array of client ids
//
// Snapserver does not notify the connection that issued a change, so after
// a successful command the bridge publishes the resulting state itself.
// The bridge never subscribes to its own state topics, so a command is
// never echoed back as another command.
//
// Commands are throttled with a token bucket (golang.org/x/time/rate) and
// each one is bounded by the command timeout, including its wait for a token.
//
// # Ordering
//
// Notifications are queued to a single worker so that state is published in
// server order without blocking the JSON-RPC receive loop. If the queue
// overflows the bridge drops the event and schedules a full resync.
package snapcast
