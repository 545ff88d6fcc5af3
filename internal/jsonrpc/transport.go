package jsonrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Default transport settings.
const (
	// defaultHandshakeTimeout bounds the WebSocket opening handshake.
	defaultHandshakeTimeout = 10 * time.Second

	// defaultWriteTimeout bounds a single frame write when the caller's
	// context carries no earlier deadline.
	defaultWriteTimeout = 5 * time.Second

	// defaultPongWait is added to the ping interval to form the read deadline.
	defaultPongWait = 10 * time.Second

	// defaultMaxMessageSize caps one reassembled inbound message.
	// Server.GetStatus on a large installation is the biggest payload.
	defaultMaxMessageSize = 4 << 20

	// closeGracePeriod bounds the close handshake write.
	closeGracePeriod = time.Second
)

// TransportState is the lifecycle state of a transport connection.
type TransportState int32

// Transport states. Within one connect/disconnect cycle the state only moves
// forward: Disconnected → Connecting → Open → Closing → Disconnected.
const (
	TransportDisconnected TransportState = iota
	TransportConnecting
	TransportOpen
	TransportClosing
)

// String returns the state name for logging.
func (s TransportState) String() string {
	switch s {
	case TransportConnecting:
		return "connecting"
	case TransportOpen:
		return "open"
	case TransportClosing:
		return "closing"
	default:
		return "disconnected"
	}
}

// ExitReason tells why a receive loop returned.
type ExitReason int

// Receive loop exit reasons.
const (
	// ExitCancelled means the loop's context was cancelled.
	ExitCancelled ExitReason = iota
	// ExitPeerClosed means the peer sent a close frame.
	ExitPeerClosed
	// ExitReadError means the read failed (network error, missed pong, oversized frame).
	ExitReadError
)

// String returns the reason name for logging.
func (r ExitReason) String() string {
	switch r {
	case ExitPeerClosed:
		return "closed_by_peer"
	case ExitReadError:
		return "read_error"
	default:
		return "cancelled"
	}
}

// LoopResult is the outcome of a receive loop.
type LoopResult struct {
	Reason ExitReason
	// Err is the underlying cause; nil for ExitCancelled.
	Err error
	// CloseCode is set for ExitPeerClosed.
	CloseCode int
}

// Transport carries complete text messages over one persistent connection.
type Transport interface {
	// Connect opens the connection. It returns immediately if already open.
	Connect(ctx context.Context) error

	// Send writes one complete text message.
	Send(ctx context.Context, data []byte) error

	// ReceiveLoop reads messages until the connection ends or ctx is
	// cancelled, invoking onMessage once per complete non-empty message.
	ReceiveLoop(ctx context.Context, onMessage func([]byte)) LoopResult

	// Disconnect closes the connection gracefully. Safe to call at any time.
	Disconnect(ctx context.Context) error

	// State returns the current lifecycle state.
	State() TransportState

	// ConnectionID identifies the current connection (empty when none).
	ConnectionID() string
}

// WSConfig configures a WebSocket transport.
type WSConfig struct {
	// URL is the endpoint, e.g. "ws://snapserver:1780/jsonrpc".
	URL string

	// Header is sent with the opening handshake (optional).
	Header http.Header

	// HandshakeTimeout bounds the opening handshake. Default: 10s.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds a frame write. Default: 5s.
	WriteTimeout time.Duration

	// PingInterval enables keepalive pings when positive.
	PingInterval time.Duration

	// PongWait is how long to wait for a pong after a ping. Default: 10s.
	PongWait time.Duration

	// MaxMessageSize caps an inbound message. Default: 4 MiB.
	MaxMessageSize int64
}

// Ensure WSTransport implements Transport.
var _ Transport = (*WSTransport)(nil)

// WSTransport is a Transport over a gorilla/websocket connection.
//
// Thread Safety:
//   - Connect, Send and Disconnect are safe for concurrent use.
//   - ReceiveLoop must have a single caller at a time.
type WSTransport struct {
	cfg    WSConfig
	dialer *websocket.Dialer

	// connMu guards conn and connID; writeMu serialises data frames, since
	// gorilla allows only one concurrent writer.
	connMu  sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	connID  string

	state atomic.Int32

	// closed is set by Disconnect and cleared by the next successful Connect.
	closed atomic.Bool
}

// NewWSTransport creates a transport for cfg. No connection is made until Connect.
func NewWSTransport(cfg WSConfig) *WSTransport {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}

	return &WSTransport{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

// State implements Transport.
func (t *WSTransport) State() TransportState {
	return TransportState(t.state.Load())
}

// ConnectionID implements Transport.
func (t *WSTransport) ConnectionID() string {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	return t.connID
}

// Connect implements Transport.
//
// A previous connection that is no longer open is disposed before dialling.
func (t *WSTransport) Connect(ctx context.Context) error {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if t.State() == TransportOpen && t.conn != nil {
		return nil
	}

	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
		t.connID = ""
	}

	t.state.Store(int32(TransportConnecting))

	conn, resp, err := t.dialer.DialContext(ctx, t.cfg.URL, t.cfg.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		t.state.Store(int32(TransportDisconnected))
		return connectionError("dial "+t.cfg.URL, err)
	}

	conn.SetReadLimit(t.cfg.MaxMessageSize)

	t.conn = conn
	t.connID = uuid.NewString()
	t.closed.Store(false)
	t.state.Store(int32(TransportOpen))
	return nil
}

// currentConn returns the open connection or nil.
func (t *WSTransport) currentConn() *websocket.Conn {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if t.State() != TransportOpen {
		return nil
	}
	return t.conn
}

// Send implements Transport.
//
// A failed write closes the socket so the receive loop ends promptly and
// reconnection starts.
func (t *WSTransport) Send(ctx context.Context, data []byte) error {
	conn := t.currentConn()
	if conn == nil {
		return notConnected()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	// The socket deadline is always WriteTimeout. A caller's own deadline
	// bounds its wait for a response, not the shared connection.
	deadline := time.Now().Add(t.cfg.WriteTimeout)

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := conn.SetWriteDeadline(deadline); err != nil {
		conn.Close()
		return connectionError("set write deadline", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		conn.Close()
		return connectionError("write", err)
	}
	return nil
}

// ReceiveLoop implements Transport.
//
// Fragmented messages are reassembled by draining each message reader
// before the callback runs. Empty messages are skipped. A loop started
// after Disconnect returns ExitCancelled.
func (t *WSTransport) ReceiveLoop(ctx context.Context, onMessage func([]byte)) LoopResult {
	conn := t.currentConn()
	if conn == nil {
		if t.closed.Load() {
			return LoopResult{Reason: ExitCancelled}
		}
		return LoopResult{Reason: ExitReadError, Err: notConnected()}
	}

	// Closing the socket is the only way to unblock a pending read.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if t.cfg.PingInterval > 0 {
		done := make(chan struct{})
		defer close(done)
		t.armKeepalive(conn, done)
	}

	for {
		msgType, r, err := conn.NextReader()
		if err != nil {
			return t.endLoop(ctx, conn, err)
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		data, err := io.ReadAll(r)
		if err != nil {
			return t.endLoop(ctx, conn, err)
		}
		t.extendReadDeadline(conn)

		if len(data) == 0 {
			continue
		}
		onMessage(data)
	}
}

// endLoop classifies a read failure and, unless the loop was stopped on
// purpose, disposes the dead connection so Send fails fast.
func (t *WSTransport) endLoop(ctx context.Context, conn *websocket.Conn, err error) LoopResult {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	// Disconnect already released this connection.
	if ctx.Err() != nil || t.closed.Load() || t.conn != conn {
		return LoopResult{Reason: ExitCancelled}
	}

	conn.Close()
	t.conn = nil
	t.connID = ""
	t.state.Store(int32(TransportDisconnected))

	return classifyReadError(err)
}

// classifyReadError maps a read failure onto an explicit exit reason.
// gorilla reports a dropped TCP connection as close code 1006, which is
// never sent by a peer, so it counts as a read error.
func classifyReadError(err error) LoopResult {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Code == websocket.CloseAbnormalClosure {
			return LoopResult{Reason: ExitReadError, Err: err, CloseCode: closeErr.Code}
		}
		return LoopResult{Reason: ExitPeerClosed, Err: err, CloseCode: closeErr.Code}
	}
	return LoopResult{Reason: ExitReadError, Err: err}
}

// armKeepalive installs the pong handler and starts the ping ticker.
func (t *WSTransport) armKeepalive(conn *websocket.Conn, done <-chan struct{}) {
	t.extendReadDeadline(conn)
	conn.SetPongHandler(func(string) error {
		t.extendReadDeadline(conn)
		return nil
	})

	go func() {
		ticker := time.NewTicker(t.cfg.PingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				// WriteControl may run concurrently with WriteMessage.
				deadline := time.Now().Add(t.cfg.WriteTimeout)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			}
		}
	}()
}

// extendReadDeadline pushes the read deadline out when keepalive is enabled.
func (t *WSTransport) extendReadDeadline(conn *websocket.Conn) {
	if t.cfg.PingInterval <= 0 {
		return
	}
	//nolint:errcheck // A failed deadline surfaces as the next read error
	conn.SetReadDeadline(time.Now().Add(t.cfg.PingInterval + t.cfg.PongWait))
}

// Disconnect implements Transport.
//
// It sends a normal-closure close frame if the connection is open and then
// releases the socket.
func (t *WSTransport) Disconnect(_ context.Context) error {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	t.closed.Store(true)

	if t.conn == nil {
		t.state.Store(int32(TransportDisconnected))
		return nil
	}

	var closeErr error
	if t.State() == TransportOpen {
		t.state.Store(int32(TransportClosing))
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
		err := t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			closeErr = fmt.Errorf("jsonrpc: close handshake: %w", err)
		}
	}

	t.conn.Close()
	t.conn = nil
	t.connID = ""
	t.state.Store(int32(TransportDisconnected))
	return closeErr
}
