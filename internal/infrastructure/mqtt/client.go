package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/snapdog2/snapdog-core/internal/infrastructure/config"
)

// Client is the SnapDog broker connection: a paho client plus the topic
// scheme, the system status topic and a subscription set that survives
// clean-session reconnects.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	paho   pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	subs subscriptionSet

	// online mirrors paho's connect and connection-lost callbacks.
	online atomic.Bool

	onConnect    atomic.Pointer[func()]
	onDisconnect atomic.Pointer[func(error)]

	logMu  sync.RWMutex
	logger Logger
}

// Logger is the optional logger for connection and handler problems.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler receives one message. paho calls it on its own delivery
// goroutine, so it must return quickly. A returned error is only logged.
type MessageHandler func(topic string, payload []byte) error

// pahoFactory builds the underlying paho client. Tests substitute a fake.
type pahoFactory func(*pahomqtt.ClientOptions) pahomqtt.Client

// Connect dials the broker described by cfg and waits for the first
// connection. The will on {prefix}/system/status marks SnapDog offline if
// the process dies; the connect handler publishes it online again.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	return connect(cfg, pahomqtt.NewClient)
}

func connect(cfg config.MQTTConfig, newClient pahoFactory) (*Client, error) {
	c := &Client{
		cfg:    cfg,
		topics: NewTopics(cfg.TopicPrefix),
	}

	opts := buildClientOptions(cfg)
	configureLWT(opts, c.topics, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.connected() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.lost(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.warn("MQTT reconnecting", "client_id", cfg.Broker.ClientID)
	})

	c.paho = newClient(opts)
	if err := waitToken(c.paho.Connect(), defaultConnectTimeout); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// paho may run the connect handler after Connect returns.
	c.online.Store(true)
	return c, nil
}

// Topics returns the topic builders for the configured prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

// QoS returns the configured default QoS.
func (c *Client) QoS() byte {
	return byte(c.cfg.QoS)
}

// connected runs on every successful (re)connect.
func (c *Client) connected() {
	c.online.Store(true)

	// A clean session starts with no subscriptions on the broker.
	c.resubscribe()
	c.paho.Publish(c.topics.SystemStatus(), c.QoS(), true, buildOnlinePayload(c.cfg.Broker.ClientID))

	if fn := c.onConnect.Load(); fn != nil {
		(*fn)()
	}
}

// lost runs when paho drops the connection.
func (c *Client) lost(err error) {
	c.online.Store(false)
	c.warn("MQTT connection lost", "error", err)

	if fn := c.onDisconnect.Load(); fn != nil {
		(*fn)(err)
	}
}

// Close publishes a graceful offline status, which subscribers can tell
// apart from the will, and disconnects.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.paho.Publish(c.topics.SystemStatus(), c.QoS(), true, buildOfflinePayload(c.cfg.Broker.ClientID))
		token.WaitTimeout(defaultPublishTimeout)
	}
	c.paho.Disconnect(defaultDisconnectQuiesce)
	c.online.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (c *Client) IsConnected() bool {
	return c.paho != nil && c.online.Load() && c.paho.IsConnected()
}

// SetOnConnect registers fn to run after every connect, including the
// automatic reconnects. Pass nil to clear it.
func (c *Client) SetOnConnect(fn func()) {
	if fn == nil {
		c.onConnect.Store(nil)
		return
	}
	c.onConnect.Store(&fn)
}

// SetOnDisconnect registers fn to run when the connection is lost.
// Pass nil to clear it.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	if fn == nil {
		c.onDisconnect.Store(nil)
		return
	}
	c.onDisconnect.Store(&fn)
}

// SetLogger sets the logger. Without one, handler errors are dropped.
func (c *Client) SetLogger(logger Logger) {
	c.logMu.Lock()
	c.logger = logger
	c.logMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.logMu.RLock()
	defer c.logMu.RUnlock()
	return c.logger
}

func (c *Client) warn(msg string, args ...any) {
	if l := c.getLogger(); l != nil {
		l.Warn(msg, args...)
	}
}

func (c *Client) logError(msg string, args ...any) {
	if l := c.getLogger(); l != nil {
		l.Error(msg, args...)
	}
}

// waitToken waits for a paho token and returns its error, or a timeout.
func waitToken(token pahomqtt.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("timeout after %v", timeout)
	}
	return token.Error()
}
