package snapcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/snapdog2/snapdog-core/internal/infrastructure/mqtt"
	"github.com/snapdog2/snapdog-core/internal/jsonrpc"
	snapapi "github.com/snapdog2/snapdog-core/internal/snapcast"
)

// Bridge defaults.
const (
	defaultQoS            byte = 1
	defaultCommandRate         = 20
	defaultCommandBurst        = 10
	defaultCommandTimeout      = 5 * time.Second

	// resyncTimeout bounds one Server.GetStatus round trip during resync.
	resyncTimeout = 15 * time.Second

	// eventQueueSize is the notification backlog before events are dropped.
	eventQueueSize = 256

	// commandQueueSize is the MQTT command backlog before commands are dropped.
	commandQueueSize = 64
)

// MQTTClient is the subset of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Source delivers Snapcast notifications and connection lifecycle events.
// *jsonrpc.Client satisfies it.
type Source interface {
	OnNotification(h jsonrpc.NotificationHandler) jsonrpc.HandlerID
	RemoveNotification(id jsonrpc.HandlerID) bool
	OnConnectionLost(fn func(error)) jsonrpc.HandlerID
	RemoveConnectionLost(id jsonrpc.HandlerID) bool
	OnConnectionRestored(fn func()) jsonrpc.HandlerID
	RemoveConnectionRestored(id jsonrpc.HandlerID) bool
	IsConnected() bool
}

// Controller issues Snapcast requests. *snapcast.Service satisfies it.
type Controller interface {
	GetStatus(ctx context.Context) (snapapi.Server, error)
	SetClientVolume(ctx context.Context, clientID string, percent int) (snapapi.Volume, error)
	SetClientMute(ctx context.Context, clientID string, muted bool) (snapapi.Volume, error)
	SetClientLatency(ctx context.Context, clientID string, latency int) (int, error)
	SetClientName(ctx context.Context, clientID, name string) (string, error)
	SetGroupMute(ctx context.Context, groupID string, muted bool) (bool, error)
	SetGroupStream(ctx context.Context, groupID, streamID string) (string, error)
	SetGroupName(ctx context.Context, groupID, name string) (string, error)
	SetGroupClients(ctx context.Context, groupID string, clientIDs []string) (snapapi.Server, error)
	DeleteClient(ctx context.Context, clientID string) (snapapi.Server, error)
}

// Recorder receives telemetry. *influxdb.Client satisfies it.
// It is optional; a nil Recorder disables telemetry.
type Recorder interface {
	WriteVolume(clientID string, percent int, muted bool)
	WriteConnectionEvent(event, reason string)
}

// Logger is the structured logger used by the bridge.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// MQTT is the broker connection.
	MQTT MQTTClient

	// Source is the Snapcast control connection.
	Source Source

	// Controller executes commands against the server.
	Controller Controller

	// Topics builds the bridge's topic names. Zero value uses the default prefix.
	Topics mqtt.Topics

	// QoS is used for state and event messages. Default: 1.
	QoS byte

	// CommandRate is the sustained command rate per second. Default: 20.
	CommandRate float64

	// CommandBurst is the number of commands accepted at once. Default: 10.
	CommandBurst int

	// CommandTimeout bounds one command, including its wait for a token. Default: 5s.
	CommandTimeout time.Duration

	// Recorder is optional telemetry.
	Recorder Recorder

	// Logger is optional.
	Logger Logger
}

// notification is one queued server notification.
type notification struct {
	method string
	params json.RawMessage
}

// healthUpdate is a connection status change waiting to be published.
type healthUpdate struct {
	status HealthStatus
	reason string
}

// command is one queued MQTT command.
type command struct {
	target  mqtt.CommandTarget
	payload []byte
}

// Bridge mirrors a Snapcast server onto MQTT and executes MQTT commands.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	mqtt       MQTTClient
	source     Source
	controller Controller
	recorder   Recorder
	topics     mqtt.Topics
	qos        byte

	limiter        *rate.Limiter
	commandTimeout time.Duration

	cache    *stateCache
	events   chan notification
	commands chan command
	resync   chan struct{}

	// publishMu pairs each cache update with its retained publish.
	publishMu sync.Mutex
	sweep     staleSweep

	// Latest connection status waiting for the event worker.
	healthMu      sync.Mutex
	pendingHealth *healthUpdate
	healthReady   chan struct{}

	// Listener handles, removed on Stop.
	notifyID   jsonrpc.HandlerID
	lostID     jsonrpc.HandlerID
	restoredID jsonrpc.HandlerID

	metrics bridgeCounters

	// Shutdown coordination
	started   atomic.Bool
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// bridgeCounters are the bridge's running totals.
type bridgeCounters struct {
	notifications     atomic.Uint64
	statesPublished   atomic.Uint64
	eventsPublished   atomic.Uint64
	eventsDropped     atomic.Uint64
	commandsReceived  atomic.Uint64
	commandsFailed    atomic.Uint64
	commandsThrottled atomic.Uint64
	resyncs           atomic.Uint64
}

// NewBridge creates a bridge. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("snapcast source is required")
	}
	if opts.Controller == nil {
		return nil, fmt.Errorf("snapcast controller is required")
	}
	if opts.QoS > 2 {
		return nil, fmt.Errorf("invalid QoS %d", opts.QoS)
	}

	qos := opts.QoS
	if qos == 0 {
		qos = defaultQoS
	}
	commandRate := opts.CommandRate
	if commandRate <= 0 {
		commandRate = defaultCommandRate
	}
	burst := opts.CommandBurst
	if burst < 1 {
		burst = defaultCommandBurst
	}
	timeout := opts.CommandTimeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	return &Bridge{
		mqtt:           opts.MQTT,
		source:         opts.Source,
		controller:     opts.Controller,
		recorder:       opts.Recorder, // May be nil (optional)
		topics:         opts.Topics,
		qos:            qos,
		limiter:        rate.NewLimiter(rate.Limit(commandRate), burst),
		commandTimeout: timeout,
		cache:          newStateCache(),
		events:         make(chan notification, eventQueueSize),
		commands:       make(chan command, commandQueueSize),
		resync:         make(chan struct{}, 1),
		healthReady:    make(chan struct{}, 1),
		ctx:            ctx,
		ctxCancel:      ctxCancel,
		logger:         opts.Logger,
	}, nil
}

// Start subscribes to commands, registers the Snapcast listeners and
// publishes the initial health and state.
func (b *Bridge) Start(_ context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return fmt.Errorf("bridge already started")
	}

	commandTopic := b.topics.AllSnapcastCommands()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	// Retained state from an earlier run arrives right after subscribing.
	b.sweep.begin()
	if err := b.mqtt.Subscribe(b.topics.AllSnapcastStates(), b.qos, b.handleRetainedState); err != nil {
		b.sweep.finish()
		b.logWarn("stale state sweep disabled", "error", err)
	}

	b.notifyID = b.source.OnNotification(b.handleNotification)
	b.lostID = b.source.OnConnectionLost(b.handleConnectionLost)
	b.restoredID = b.source.OnConnectionRestored(b.handleConnectionRestored)

	b.wg.Add(2)
	go b.runEvents()
	go b.runCommands()

	b.RequestResync()

	b.logInfo("bridge started", "prefix", b.topics.Prefix())
	return nil
}

// Stop removes the listeners, waits for in-flight work and publishes
// the offline health status.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.started.Load() {
			b.source.RemoveNotification(b.notifyID)
			b.source.RemoveConnectionLost(b.lostID)
			b.source.RemoveConnectionRestored(b.restoredID)

			if err := b.mqtt.Unsubscribe(b.topics.AllSnapcastCommands()); err != nil {
				b.logDebug("unsubscribe commands failed", "error", err)
			}
			if _, sweeping := b.sweep.finish(); sweeping {
				if err := b.mqtt.Unsubscribe(b.topics.AllSnapcastStates()); err != nil {
					b.logDebug("unsubscribe states failed", "error", err)
				}
			}
		}

		// Cancel bridge context to abort in-flight commands
		b.ctxCancel()
		b.wg.Wait()

		if b.started.Load() {
			b.publishHealth(HealthOffline, "bridge stopped")
		}
		b.logInfo("bridge stopped")
	})
}

// RequestResync schedules a full state refresh from Server.GetStatus.
// Requests made while one is pending are coalesced.
func (b *Bridge) RequestResync() {
	select {
	case b.resync <- struct{}{}:
	default:
	}
}

// handleNotification queues a raw notification for the event worker. It
// runs on the JSON-RPC receive loop and never blocks.
func (b *Bridge) handleNotification(method string, params json.RawMessage) {
	b.metrics.notifications.Add(1)

	select {
	case b.events <- notification{method: method, params: params}:
	default:
		b.metrics.eventsDropped.Add(1)
		b.logWarn("event queue full, dropping notification", "method", method)
		b.RequestResync()
	}
}

// handleConnectionLost mirrors a lost control connection to MQTT. It runs
// on the JSON-RPC supervisor and only queues the health change.
func (b *Bridge) handleConnectionLost(err error) {
	reason := "connection lost"
	if err != nil {
		reason = err.Error()
	}
	b.queueHealth(HealthOffline, reason)
	if b.recorder != nil {
		b.recorder.WriteConnectionEvent("lost", reason)
	}
}

// handleConnectionRestored marks the connection online and schedules a
// resync, since notifications sent while offline were missed.
func (b *Bridge) handleConnectionRestored() {
	b.queueHealth(HealthOnline, "")
	if b.recorder != nil {
		b.recorder.WriteConnectionEvent("restored", "")
	}
	b.RequestResync()
}

// queueHealth hands a connection status to the event worker. Only the
// newest status is kept, so a lost/restored burst publishes its final state.
func (b *Bridge) queueHealth(status HealthStatus, reason string) {
	b.healthMu.Lock()
	b.pendingHealth = &healthUpdate{status: status, reason: reason}
	b.healthMu.Unlock()

	select {
	case b.healthReady <- struct{}{}:
	default:
	}
}

// flushHealth publishes the queued connection status, if any.
func (b *Bridge) flushHealth() {
	b.healthMu.Lock()
	h := b.pendingHealth
	b.pendingHealth = nil
	b.healthMu.Unlock()

	if h != nil {
		b.publishHealth(h.status, h.reason)
	}
}

// runEvents applies notifications, health changes and resyncs in order on
// one goroutine.
func (b *Bridge) runEvents() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case n := <-b.events:
			b.applyNotification(n)
		case <-b.healthReady:
			b.flushHealth()
		case <-b.resync:
			b.resyncState()
		}
	}
}

// applyNotification publishes the raw event and folds it into the state cache.
func (b *Bridge) applyNotification(n notification) {
	b.publishEvent(n.method, n.params)

	ev, err := snapapi.DecodeNotification(n.method, n.params)
	if err != nil {
		if errors.Is(err, snapapi.ErrUnknownNotification) {
			b.logDebug("ignoring notification", "method", n.method)
			return
		}
		b.logWarn("invalid notification", "method", n.method, "error", err)
		return
	}

	switch e := ev.(type) {
	case snapapi.ClientVolumeChanged:
		b.applyClientVolume(e.ClientID, e.Volume)

	case snapapi.ClientConnected:
		b.applyClient(e.ClientID, e.Client, true)

	case snapapi.ClientDisconnected:
		b.applyClient(e.ClientID, e.Client, false)

	case snapapi.ClientLatencyChanged:
		b.setClient(e.ClientID, func(s *ClientState) { s.Latency = e.Latency })

	case snapapi.ClientNameChanged:
		b.setClient(e.ClientID, func(s *ClientState) { s.Name = e.Name })

	case snapapi.GroupMuteChanged:
		b.setGroup(e.GroupID, func(s *GroupState) { s.Muted = e.Mute })

	case snapapi.GroupStreamChanged:
		b.setGroup(e.GroupID, func(s *GroupState) { s.StreamID = e.StreamID })

	case snapapi.GroupNameChanged:
		b.setGroup(e.GroupID, func(s *GroupState) { s.Name = e.Name })

	case snapapi.StreamUpdated:
		next := streamStateFrom(e.Stream)
		next.ID = e.StreamID
		b.setStream(e.StreamID, func(s *StreamState) { *s = next })

	case snapapi.ServerUpdated:
		b.applyServer(e.Server)
	}
}

// applyClientVolume records a volume change and publishes it.
func (b *Bridge) applyClientVolume(clientID string, vol snapapi.Volume) {
	_, changed := b.setClient(clientID, func(s *ClientState) {
		s.Volume = vol.Percent
		s.Muted = vol.Muted
	})
	if changed && b.recorder != nil {
		b.recorder.WriteVolume(clientID, vol.Percent, vol.Muted)
	}
}

// applyClient replaces a client's state from a connect or disconnect event,
// keeping the group it is known to belong to.
func (b *Bridge) applyClient(clientID string, c snapapi.Client, connected bool) {
	b.setClient(clientID, func(s *ClientState) {
		next := clientStateFrom(c, s.GroupID)
		next.ID = clientID
		next.Connected = connected
		*s = next
	})
}

// resyncState replaces the cache with the server's full status.
func (b *Bridge) resyncState() {
	connected := b.source.IsConnected()
	if connected {
		b.publishHealth(HealthOnline, "")
	} else {
		b.publishHealth(HealthOffline, "not connected")
		b.logDebug("resync skipped, snapcast not connected")
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, resyncTimeout)
	defer cancel()

	server, err := b.controller.GetStatus(ctx)
	if err != nil {
		b.logWarn("resync failed", "error", err)
		return
	}

	changed := b.applyServer(server)
	b.metrics.resyncs.Add(1)
	b.clearStale()

	clients, groups, streams := b.cache.counts()
	b.logDebug("resync complete",
		"changed", changed,
		"clients", clients,
		"groups", groups,
		"streams", streams)
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// BridgeMetrics contains metrics data for the API metrics endpoint.
type BridgeMetrics struct {
	SnapcastConnected bool
	MQTTConnected     bool
	Notifications     uint64
	StatesPublished   uint64
	EventsPublished   uint64
	EventsDropped     uint64
	CommandsReceived  uint64
	CommandsFailed    uint64
	CommandsThrottled uint64
	Resyncs           uint64
	Clients           int
	Groups            int
	Streams           int
}

// GetMetrics returns current bridge metrics.
func (b *Bridge) GetMetrics() BridgeMetrics {
	clients, groups, streams := b.cache.counts()
	return BridgeMetrics{
		SnapcastConnected: b.source.IsConnected(),
		MQTTConnected:     b.mqtt.IsConnected(),
		Notifications:     b.metrics.notifications.Load(),
		StatesPublished:   b.metrics.statesPublished.Load(),
		EventsPublished:   b.metrics.eventsPublished.Load(),
		EventsDropped:     b.metrics.eventsDropped.Load(),
		CommandsReceived:  b.metrics.commandsReceived.Load(),
		CommandsFailed:    b.metrics.commandsFailed.Load(),
		CommandsThrottled: b.metrics.commandsThrottled.Load(),
		Resyncs:           b.metrics.resyncs.Load(),
		Clients:           clients,
		Groups:            groups,
		Streams:           streams,
	}
}
