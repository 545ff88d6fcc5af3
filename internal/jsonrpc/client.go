package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sony/gobreaker/v2"
)

// Default client settings.
const (
	// defaultRequestTimeout bounds the wait for one response.
	defaultRequestTimeout = 10 * time.Second

	// defaultReconnectDelay separates background reconnection attempts.
	defaultReconnectDelay = 5 * time.Second
)

// Logger is the structured logging sink used by the client.
// Both *slog.Logger and *logging.Logger satisfy it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ConnState is the supervisor's view of the connection.
type ConnState int32

// Connection states.
//
// Normal cycle: Disconnected → Connecting → Connected → (loss) → Disconnected → Connecting → ...
// Disconnect takes any state through Closing to Disconnected.
const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateClosing
)

// String returns the state name for logging.
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "disconnected"
	}
}

// Config configures a Client.
type Config struct {
	// Name labels log lines and the circuit breaker. Default: "jsonrpc".
	Name string

	// RequestTimeout bounds the wait for each response. Default: 10s.
	RequestTimeout time.Duration

	// ReconnectDelay is the pause before each background reconnection attempt. Default: 5s.
	ReconnectDelay time.Duration

	// ConnectRetry wraps every transport connect.
	ConnectRetry RetryPolicy

	// OperationRetry wraps SendRequest. Between attempts the client reconnects on demand.
	OperationRetry RetryPolicy

	// Breaker optionally guards SendRequest with a circuit breaker.
	Breaker BreakerConfig
}

// Stats is a point-in-time snapshot of client counters.
type Stats struct {
	State           string    `json:"state"`
	ConnectionID    string    `json:"connection_id,omitempty"`
	RequestsSent    uint64    `json:"requests_sent"`
	Responses       uint64    `json:"responses"`
	Notifications   uint64    `json:"notifications"`
	MalformedFrames uint64    `json:"malformed_frames"`
	Timeouts        uint64    `json:"timeouts"`
	ConnectionsLost uint64    `json:"connections_lost"`
	Reconnects      uint64    `json:"reconnects"`
	Pending         int       `json:"pending"`
	LastActivity    time.Time `json:"last_activity,omitzero"`
}

// clientStats holds the live counters behind Stats.
type clientStats struct {
	requestsSent    atomic.Uint64
	responses       atomic.Uint64
	notifications   atomic.Uint64
	malformedFrames atomic.Uint64
	timeouts        atomic.Uint64
	connectionsLost atomic.Uint64
	reconnects      atomic.Uint64
	lastActivity    atomic.Int64
}

// Client is a self-healing JSON-RPC 2.0 client over a Transport.
//
// It correlates responses to requests by id, fans notifications out to
// registered handlers, and reconnects in the background after the
// connection is lost. Callers always get a result or a typed error:
// ErrConnection, ErrConnectionLost, ErrTimeout, *RemoteError, ErrClosed or
// their own context's error.
//
// Thread Safety: all methods are safe for concurrent use. Lifecycle and
// state-change observers run synchronously and must not call Connect or
// Disconnect.
type Client struct {
	cfg       Config
	transport Transport

	corr     *correlator
	notes    dispatcher
	lost     listenerSet[func(error)]
	restored listenerSet[func()]
	changes  listenerSet[func(from, to ConnState)]

	// connMu serialises every connection attempt and state transition;
	// ensureConnected is the single reconnection entry point.
	connMu    sync.Mutex
	state     atomic.Int32
	gen       uint64             // guarded by connMu; bumped per established connection
	loopStop  context.CancelFunc // guarded by connMu; stops the current receive loop
	connected bool               // guarded by connMu; true after the first success

	// lifeMu guards the supervisor lifetime. life is cancelled by Disconnect
	// and aborts pending reconnection waits and connect attempts.
	lifeMu sync.Mutex
	life   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup

	breaker *gobreaker.CircuitBreaker[json.RawMessage]

	loggerMu sync.RWMutex
	logger   Logger

	stats clientStats
}

// NewClient creates a client over transport. No connection is made until Connect.
func NewClient(transport Transport, cfg Config) *Client {
	if cfg.Name == "" {
		cfg.Name = "jsonrpc"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}

	c := &Client{
		cfg:       cfg,
		transport: transport,
		corr:      newCorrelator(),
	}
	c.notes.logger = c.getLogger
	c.breaker = newBreaker(cfg.Name, cfg.Breaker, func(from, to gobreaker.State) {
		c.logWarn("circuit breaker state changed", "from", from.String(), "to", to.String())
	})
	return c
}

// SetLogger sets the logger. A nil logger disables logging.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	defer c.loggerMu.Unlock()
	c.logger = logger
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// OnNotification registers a notification handler.
func (c *Client) OnNotification(h NotificationHandler) HandlerID {
	return c.notes.handlers.add(h)
}

// RemoveNotification unregisters a notification handler.
func (c *Client) RemoveNotification(id HandlerID) bool {
	return c.notes.handlers.remove(id)
}

// OnConnectionLost registers a callback fired when an established connection
// drops. The argument wraps ErrConnectionLost and the transport cause.
func (c *Client) OnConnectionLost(fn func(error)) HandlerID {
	return c.lost.add(fn)
}

// RemoveConnectionLost unregisters a connection-lost callback.
func (c *Client) RemoveConnectionLost(id HandlerID) bool {
	return c.lost.remove(id)
}

// OnConnectionRestored registers a callback fired after every successful
// connect, including the first.
func (c *Client) OnConnectionRestored(fn func()) HandlerID {
	return c.restored.add(fn)
}

// RemoveConnectionRestored unregisters a connection-restored callback.
func (c *Client) RemoveConnectionRestored(id HandlerID) bool {
	return c.restored.remove(id)
}

// OnStateChange registers a callback fired on every state transition.
func (c *Client) OnStateChange(fn func(from, to ConnState)) HandlerID {
	return c.changes.add(fn)
}

// RemoveStateChange unregisters a state-change callback.
func (c *Client) RemoveStateChange(id HandlerID) bool {
	return c.changes.remove(id)
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	return ConnState(c.state.Load())
}

// IsConnected reports whether requests can currently be sent.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// Connect opens the connection, retrying per Config.ConnectRetry, and starts
// the receive loop. It returns nil immediately if already connected.
//
// After the first success the client keeps itself connected until
// Disconnect; a failed first Connect leaves no background work behind.
func (c *Client) Connect(ctx context.Context) error {
	life := c.startLifetime()
	return c.ensureConnected(ctx, life)
}

// startLifetime returns the supervisor context, creating it if needed.
func (c *Client) startLifetime() context.Context {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.life == nil {
		c.life, c.stop = context.WithCancel(context.Background())
	}
	return c.life
}

// currentLifetime returns the supervisor context or nil before Connect.
func (c *Client) currentLifetime() context.Context {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	return c.life
}

// ensureConnected is the only path that opens a connection. Callers from
// Connect, the background supervisor and the operation retry all serialise
// here, so at most one attempt is in flight and a caller arriving after a
// concurrent success returns immediately.
func (c *Client) ensureConnected(ctx context.Context, life context.Context) error {
	c.connMu.Lock()

	if life.Err() != nil {
		c.connMu.Unlock()
		return connectionError("connect", ErrClosed)
	}
	if c.State() == StateConnected {
		c.connMu.Unlock()
		return nil
	}

	c.setState(StateConnecting)

	// Attempts stop when either the caller gives up or Disconnect runs.
	attemptCtx, cancel := context.WithCancel(ctx)
	stopAfter := context.AfterFunc(life, cancel)
	err := retry.Do(
		func() error { return c.transport.Connect(attemptCtx) },
		c.cfg.ConnectRetry.options(attemptCtx, func(n uint, err error) {
			c.logWarn("connect attempt failed", "attempt", n+1, "error", err)
		})...,
	)
	stopAfter()
	cancel()

	if err != nil {
		c.setState(StateDisconnected)
		c.connMu.Unlock()
		if !errors.Is(err, ErrConnection) {
			err = connectionError("connect", err)
		}
		return err
	}

	c.gen++
	gen := c.gen
	// The loop is stopped explicitly rather than through life so that
	// Disconnect can send a close frame before the socket is torn down.
	loopCtx, loopStop := context.WithCancel(context.Background())
	c.loopStop = loopStop
	reconnect := c.connected
	c.connected = true
	c.setState(StateConnected)

	c.wg.Add(1)
	go c.supervise(life, loopCtx, gen)

	c.connMu.Unlock()

	if reconnect {
		c.stats.reconnects.Add(1)
	}
	c.logInfo("connected", "connection_id", c.transport.ConnectionID(), "reconnect", reconnect)

	c.restored.each(func(fn func()) { fn() }, c.listenerPanic("connection restored"))
	return nil
}

// supervise runs the receive loop for one connection. When the loop ends
// for any reason other than cancellation it declares the connection lost
// and drives reconnection until one succeeds or the client is closed.
func (c *Client) supervise(life, loopCtx context.Context, gen uint64) {
	defer c.wg.Done()

	res := c.transport.ReceiveLoop(loopCtx, c.handleMessage)
	if res.Reason == ExitCancelled || life.Err() != nil {
		return
	}

	if !c.connectionLost(gen, res) {
		return
	}
	c.reconnectLoop(life)
}

// connectionLost marks the connection down and fails every pending request.
// It reports false if the loop belonged to a connection that was already
// replaced or closed.
func (c *Client) connectionLost(gen uint64, res LoopResult) bool {
	cause := fmt.Errorf("%w: %s", ErrConnectionLost, res.Reason)
	if res.Err != nil {
		cause = fmt.Errorf("%w: %s: %w", ErrConnectionLost, res.Reason, res.Err)
	}

	c.connMu.Lock()
	if gen != c.gen || c.State() != StateConnected {
		c.connMu.Unlock()
		return false
	}
	if c.loopStop != nil {
		c.loopStop()
		c.loopStop = nil
	}
	c.setState(StateDisconnected)
	// Rejecting under connMu keeps a request registered on the next
	// connection from being failed with this connection's error.
	rejected := c.corr.rejectAll(cause)
	c.connMu.Unlock()

	c.stats.connectionsLost.Add(1)
	c.logWarn("connection lost",
		"reason", res.Reason.String(),
		"close_code", res.CloseCode,
		"pending_rejected", rejected,
		"error", res.Err,
	)

	c.lost.each(func(fn func(error)) { fn(cause) }, c.listenerPanic("connection lost"))
	return true
}

// reconnectLoop retries ensureConnected every ReconnectDelay until it
// succeeds or the client is closed.
func (c *Client) reconnectLoop(life context.Context) {
	timer := time.NewTimer(c.cfg.ReconnectDelay)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-life.Done():
			return
		case <-timer.C:
		}

		c.logInfo("reconnecting", "attempt", attempt)
		err := c.ensureConnected(life, life)
		if err == nil || life.Err() != nil {
			return
		}

		c.logWarn("reconnect failed", "attempt", attempt, "retry_in", c.cfg.ReconnectDelay, "error", err)
		timer.Reset(c.cfg.ReconnectDelay)
	}
}

// Disconnect stops the supervisor, closes the transport gracefully and
// waits for the receive loop to finish. Requests still pending fail with
// ErrClosed, which also matches context.Canceled. Safe to call at any time.
func (c *Client) Disconnect(ctx context.Context) error {
	c.lifeMu.Lock()
	stop := c.stop
	c.life, c.stop = nil, nil
	c.lifeMu.Unlock()

	// Cancelling the lifetime first aborts a connect attempt or reconnect
	// wait that may be holding connMu.
	if stop != nil {
		stop()
	}

	c.connMu.Lock()
	c.setState(StateClosing)
	closeErr := c.transport.Disconnect(ctx)
	if c.loopStop != nil {
		c.loopStop()
		c.loopStop = nil
	}
	c.connMu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = fmt.Errorf("jsonrpc: waiting for receive loop: %w", ctx.Err())
	}

	rejected := c.corr.rejectAll(fmt.Errorf("%w: %w", ErrClosed, context.Canceled))

	c.connMu.Lock()
	c.connected = false
	c.setState(StateDisconnected)
	c.connMu.Unlock()

	c.logInfo("disconnected", "pending_cancelled", rejected)

	if closeErr != nil {
		c.logDebug("close handshake failed", "error", closeErr)
	}
	return waitErr
}

// SendRequest sends a request and waits for its result.
//
// Connection-class failures are retried per Config.OperationRetry, with an
// on-demand reconnect before each retry. Remote errors, timeouts, a lost
// connection and caller cancellation are returned as-is.
func (c *Client) SendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if c.breaker == nil {
		return c.sendWithRetry(ctx, method, params)
	}

	result, err := c.breaker.Execute(func() (json.RawMessage, error) {
		return c.sendWithRetry(ctx, method, params)
	})
	if isBreakerRejection(err) {
		return nil, connectionError("circuit "+c.breaker.State().String(), err)
	}
	return result, err
}

// sendWithRetry runs roundTrip under the operation retry policy.
func (c *Client) sendWithRetry(ctx context.Context, method string, params any) (json.RawMessage, error) {
	attempt := 0
	return retry.DoWithData(
		func() (json.RawMessage, error) {
			attempt++
			if attempt > 1 {
				if err := c.reconnectOnDemand(ctx); err != nil {
					return nil, err
				}
			}
			return c.roundTrip(ctx, method, params)
		},
		c.cfg.OperationRetry.options(ctx, func(n uint, err error) {
			c.logDebug("request attempt failed", "method", method, "attempt", n+1, "error", err)
		})...,
	)
}

// reconnectOnDemand funnels an operation retry into ensureConnected. It
// never starts a lifetime, so a client that Connect was never called on,
// or that has been disconnected, stays down.
func (c *Client) reconnectOnDemand(ctx context.Context) error {
	life := c.currentLifetime()
	if life == nil {
		return notConnected()
	}
	return c.ensureConnected(ctx, life)
}

// roundTrip performs one register-send-await cycle.
func (c *Client) roundTrip(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.IsConnected() {
		return nil, notConnected()
	}

	call := c.corr.register()
	defer c.corr.remove(call.id)

	data, err := EncodeRequest(call.id, method, params)
	if err != nil {
		return nil, err
	}

	if err := c.transport.Send(ctx, data); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	c.stats.requestsSent.Add(1)

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case res := <-call.done:
		return res.result, res.err
	case <-timer.C:
		c.stats.timeouts.Add(1)
		return nil, fmt.Errorf("%w: %s (id %s) after %s", ErrTimeout, method, call.id, c.cfg.RequestTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// handleMessage processes one inbound message on the receive loop.
func (c *Client) handleMessage(data []byte) {
	c.stats.lastActivity.Store(time.Now().UnixNano())

	frames, err := DecodeFrames(data)
	if err != nil {
		c.stats.malformedFrames.Add(1)
		c.logWarn("discarding malformed frame", "size", len(data), "error", err)
		return
	}

	for _, f := range frames {
		switch f.Kind {
		case FrameResponse:
			c.stats.responses.Add(1)
			var matched bool
			if f.Error != nil {
				matched = c.corr.reject(f.ID, f.Error)
			} else {
				matched = c.corr.resolve(f.ID, f.Result)
			}
			if !matched {
				c.logDebug("response for unknown request id", "id", f.ID)
			}
		case FrameNotification:
			c.stats.notifications.Add(1)
			c.notes.dispatch(f.Method, f.Params)
		default:
			c.stats.malformedFrames.Add(1)
			c.logWarn("discarding frame with neither id nor method", "size", len(data))
		}
	}
}

// Stats returns a snapshot of the client counters.
func (c *Client) Stats() Stats {
	s := Stats{
		State:           c.State().String(),
		ConnectionID:    c.transport.ConnectionID(),
		RequestsSent:    c.stats.requestsSent.Load(),
		Responses:       c.stats.responses.Load(),
		Notifications:   c.stats.notifications.Load(),
		MalformedFrames: c.stats.malformedFrames.Load(),
		Timeouts:        c.stats.timeouts.Load(),
		ConnectionsLost: c.stats.connectionsLost.Load(),
		Reconnects:      c.stats.reconnects.Load(),
		Pending:         c.corr.len(),
	}
	if ns := c.stats.lastActivity.Load(); ns > 0 {
		s.LastActivity = time.Unix(0, ns)
	}
	return s
}

// HealthCheck reports whether the client is connected.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.IsConnected() {
		return notConnected()
	}
	return nil
}

// setState records a transition and notifies observers. Callers hold connMu.
func (c *Client) setState(to ConnState) {
	from := ConnState(c.state.Swap(int32(to)))
	if from == to {
		return
	}
	c.logDebug("state changed", "from", from.String(), "to", to.String())
	c.changes.each(func(fn func(from, to ConnState)) { fn(from, to) }, c.listenerPanic("state change"))
}

// listenerPanic returns a recover hook that logs a panicking observer.
func (c *Client) listenerPanic(kind string) func(r any) {
	return func(r any) {
		c.logError(kind+" listener panic recovered", "error", fmt.Errorf("%v", r))
	}
}

func (c *Client) logDebug(msg string, args ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Debug(msg, append([]any{"client", c.cfg.Name}, args...)...)
	}
}

func (c *Client) logInfo(msg string, args ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Info(msg, append([]any{"client", c.cfg.Name}, args...)...)
	}
}

func (c *Client) logWarn(msg string, args ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Warn(msg, append([]any{"client", c.cfg.Name}, args...)...)
	}
}

func (c *Client) logError(msg string, args ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"client", c.cfg.Name}, args...)...)
	}
}
