package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/snapdog2/snapdog-core/internal/infrastructure/config"
	"github.com/snapdog2/snapdog-core/internal/infrastructure/logging"
	"github.com/snapdog2/snapdog-core/internal/jsonrpc"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

const (
	// wsSendBufferSize is how many events a slow client may fall behind
	// before new ones are dropped for it.
	wsSendBufferSize = 256

	// Hub defaults applied when the config leaves them unset.
	defaultWSPath           = "/ws"
	defaultWSMaxMessageSize = 8192
	defaultWSPingInterval   = 30
	defaultWSPongTimeout    = 10
)

// Broadcast channels.
const (
	// ChannelSnapcastNotification carries every server notification.
	ChannelSnapcastNotification = "snapcast.notification"

	// ChannelSnapcastConnection carries control connection state changes.
	ChannelSnapcastConnection = "snapcast.connection"
)

// knownChannels are the channels a client may subscribe to.
var knownChannels = []string{ChannelSnapcastNotification, ChannelSnapcastConnection}

// NotificationEvent is the payload on ChannelSnapcastNotification.
type NotificationEvent struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ConnectionEvent is the payload on ChannelSnapcastConnection.
type ConnectionEvent struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// WSMessage is a frame sent to a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe requests.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// wsRequest is a frame received from a WebSocket client. The payload is
// decoded once the type is known.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Hub fans Snapcast events out to subscribed WebSocket clients.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// NewHub creates a hub, filling unset config values with defaults.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	if cfg.Path == "" {
		cfg.Path = defaultWSPath
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultWSMaxMessageSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultWSPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultWSPongTimeout
	}
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

func (h *Hub) pingInterval() time.Duration {
	return time.Duration(h.cfg.PingInterval) * time.Second
}

// readWait is how long a client may stay silent, pongs included.
func (h *Hub) readWait() time.Duration {
	return h.pingInterval() + time.Duration(h.cfg.PongTimeout)*time.Second
}

// Run blocks until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

// Register adds a client.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client and stops its writer. Safe to call twice.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	c.close()
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// Broadcast queues an event for every client subscribed to channel. It
// never blocks, so it may run on the JSON-RPC receive loop.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		if c.subscribed(channel) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	dropped := 0
	for _, c := range targets {
		if !c.enqueue(data) {
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Warn("websocket clients too slow, event dropped", "channel", channel, "clients", dropped)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// WSClient is one WebSocket connection and its channel subscriptions.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// done is closed once when the client goes away.
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	channels map[string]bool
}

func newWSClient(hub *Hub, conn *websocket.Conn) *WSClient {
	return &WSClient{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, wsSendBufferSize),
		done:     make(chan struct{}),
		channels: make(map[string]bool),
	}
}

func (c *WSClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// enqueue hands data to the writer. It reports false when the client is
// gone or its buffer is full.
func (c *WSClient) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *WSClient) subscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[channel]
}

// setChannels turns channels on or off.
func (c *WSClient) setChannels(channels []string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		if on {
			c.channels[ch] = true
		} else {
			delete(c.channels, ch)
		}
	}
}

// subscribeSnapcastEvents relays Snapcast notifications and connection
// state changes to WebSocket clients.
func (s *Server) subscribeSnapcastEvents() {
	notifyID := s.snapcast.OnNotification(func(method string, params json.RawMessage) {
		s.hub.Broadcast(ChannelSnapcastNotification, NotificationEvent{Method: method, Params: params})
	})
	stateID := s.snapcast.OnStateChange(func(from, to jsonrpc.ConnState) {
		s.hub.Broadcast(ChannelSnapcastConnection, ConnectionEvent{From: from.String(), To: to.String()})
	})

	s.mu.Lock()
	s.notifyID, s.stateID = notifyID, stateID
	s.mu.Unlock()
}

// unsubscribeSnapcastEvents removes the listeners added by subscribeSnapcastEvents.
func (s *Server) unsubscribeSnapcastEvents() {
	s.mu.Lock()
	notifyID, stateID := s.notifyID, s.stateID
	s.notifyID, s.stateID = 0, 0
	s.mu.Unlock()

	if notifyID != 0 {
		s.snapcast.RemoveNotification(notifyID)
	}
	if stateID != 0 {
		s.snapcast.RemoveStateChange(stateID)
	}
}

// handleWebSocket upgrades the request and starts the client's reader and
// writer. Browsers must come from an origin the CORS policy allows.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	policy := newCORSPolicy(s.cfg.CORS.AllowedOrigins, nil, nil)
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || policy.allows(origin)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newWSClient(s.hub, conn)
	s.hub.Register(c)
	go c.writeLoop()
	go c.readLoop()
}

// readLoop handles requests until the connection fails, then unregisters.
func (c *WSClient) readLoop() {
	defer c.hub.Unregister(c)

	wait := c.hub.readWait()
	c.conn.SetReadLimit(int64(c.hub.cfg.MaxMessageSize))
	//nolint:errcheck // A failed deadline surfaces as the next read error
	c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Browsers may not answer protocol pings; any frame counts as alive.
		//nolint:errcheck // A failed deadline surfaces as the next read error
		c.conn.SetReadDeadline(time.Now().Add(wait))
		c.handleRequest(data)
	}
}

// writeLoop is the connection's only writer: queued frames and pings.
func (c *WSClient) writeLoop() {
	ticker := time.NewTicker(c.hub.pingInterval())
	defer ticker.Stop()

	writeWait := time.Duration(c.hub.cfg.PongTimeout) * time.Second
	write := func(messageType int, data []byte) error {
		//nolint:errcheck // A failed deadline surfaces as the write error
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteMessage(messageType, data)
	}

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if err := write(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

// handleRequest answers one client frame.
func (c *WSClient) handleRequest(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply("", WSTypeError, errorPayload("invalid JSON message"))
		return
	}

	switch req.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.handleChannels(req)
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	default:
		c.reply(req.ID, WSTypeError, errorPayload("unknown message type: "+req.Type))
	}
}

// handleChannels applies a subscribe or unsubscribe request. Unknown
// channel names reject the whole request.
func (c *WSClient) handleChannels(req wsRequest) {
	var p WSSubscribePayload
	if err := json.Unmarshal(req.Payload, &p); err != nil || len(p.Channels) == 0 {
		c.reply(req.ID, WSTypeError, errorPayload("payload must list channels"))
		return
	}
	for _, ch := range p.Channels {
		if !slices.Contains(knownChannels, ch) {
			c.reply(req.ID, WSTypeError, errorPayload("unknown channel: "+ch))
			return
		}
	}

	subscribe := req.Type == WSTypeSubscribe
	c.setChannels(p.Channels, subscribe)

	key := "unsubscribed"
	if subscribe {
		key = "subscribed"
		c.hub.logger.Debug("websocket client subscribed", "channels", p.Channels)
	}
	c.reply(req.ID, WSTypeResponse, map[string]any{key: p.Channels})
}

// reply queues a response frame for this client.
func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.enqueue(data)
}

func errorPayload(message string) map[string]string {
	return map[string]string{"message": message}
}
