package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Domain errors for the JSON-RPC client.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnection is returned when the transport could not be opened or a
	// frame could not be written. Failures of this class are retried.
	ErrConnection = errors.New("jsonrpc: connection failed")

	// ErrNotConnected is returned when an operation requires an open
	// connection. It is always reported together with ErrConnection.
	ErrNotConnected = errors.New("jsonrpc: not connected")

	// ErrConnectionLost is returned to every pending request when an open
	// connection is detected down.
	ErrConnectionLost = errors.New("jsonrpc: connection lost")

	// ErrTimeout is returned when no response arrives within the request timeout.
	ErrTimeout = errors.New("jsonrpc: request timed out")

	// ErrMalformedFrame is reported for inbound messages that are not valid
	// JSON or match neither the response nor the notification shape.
	ErrMalformedFrame = errors.New("jsonrpc: malformed frame")

	// ErrClosed is returned to requests still pending when Disconnect is
	// called. It is joined with context.Canceled.
	ErrClosed = errors.New("jsonrpc: client closed")

	// ErrRemote matches any *RemoteError via errors.Is.
	ErrRemote = errors.New("jsonrpc: remote error")
)

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// RemoteError is the error object returned by the peer in a response frame.
// It reflects a semantic rejection and is never retried.
type RemoteError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements error.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("jsonrpc: remote error %d: %s", e.Code, e.Message)
}

// Unwrap lets errors.Is(err, ErrRemote) match.
func (e *RemoteError) Unwrap() error {
	return ErrRemote
}

// connectionError wraps a transport failure so that it matches ErrConnection.
func connectionError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrConnection, op, err)
}

// notConnected is the error returned when no connection is open.
func notConnected() error {
	return fmt.Errorf("%w: %w", ErrConnection, ErrNotConnected)
}

// isConnectionClass reports whether err is a transport-level failure that
// the operation policy may retry.
func isConnectionClass(err error) bool {
	return errors.Is(err, ErrConnection)
}
