// Package jsonrpc implements a self-healing JSON-RPC 2.0 client over a
// persistent WebSocket connection.
//
// The package is layered:
//
//   - Transport (WSTransport) owns the socket: dialling, whole-message
//     writes, the receive loop and the close handshake. The receive loop
//     reports why it stopped with an explicit ExitReason.
//   - The correlator assigns string ids from a per-client counter and
//     completes each pending request exactly once.
//   - The dispatcher fans notifications (frames with a method and no id)
//     out to registered handlers, isolating panics per handler.
//   - Client supervises the connection. When the receive loop fails it
//     marks the connection down, fails pending requests with
//     ErrConnectionLost and reconnects in the background.
//
// Basic usage:
//
//	transport := jsonrpc.NewWSTransport(jsonrpc.WSConfig{URL: "ws://snapserver:1780/jsonrpc"})
//	client := jsonrpc.NewClient(transport, jsonrpc.Config{
//	    RequestTimeout: 5 * time.Second,
//	    ConnectRetry:   jsonrpc.RetryPolicy{Attempts: 5, InitialDelay: time.Second},
//	})
//	client.SetLogger(logger)
//	client.OnNotification(func(method string, params json.RawMessage) { ... })
//
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Disconnect(context.Background())
//
//	status, err := jsonrpc.Call[Status](ctx, client, "Server.GetStatus", nil)
//
// Errors:
//
// Failures are classified with errors.Is: ErrConnection (the request never
// reached the server or no connection could be made), ErrConnectionLost
// (the connection dropped while the request was outstanding), ErrTimeout,
// ErrRemote (use errors.As with *RemoteError for the code) and ErrClosed
// (the client was disconnected; also matches context.Canceled).
package jsonrpc
