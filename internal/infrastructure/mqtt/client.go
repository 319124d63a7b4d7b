package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/projectorctl/internal/infrastructure/config"
)

// Logger is the subset of logging.Logger the client uses.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler is the callback signature for received messages.
//
// Handlers run on paho's delivery goroutine and should hand long work
// off rather than block it. A returned error is logged and does not
// affect acknowledgment.
type MessageHandler func(topic string, payload []byte) error

// Client is projectorctld's broker connection.
//
// It owns the retained daemon status (with a Last Will for crashes) and
// the subscriptions that must be replayed when paho reconnects.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	paho pahomqtt.Client
	qos  byte
	id   string

	mu           sync.RWMutex
	connected    bool
	subs         map[string]subscription
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Connect dials the broker and blocks until the first connection is up,
// ctx ends, or the connect timeout passes. The retained online status is
// published by the connect handler.
//
// Returns:
//   - *Client: connected client
//   - error: ErrConnectionFailed wrapping the cause
func Connect(ctx context.Context, cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)

	ctx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	token := c.paho.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		c.paho.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler runs on its own goroutine; callers may publish
	// before it fires.
	c.setConnected(true)
	return c, nil
}

func newClient(cfg config.MQTTConfig) *Client {
	c := &Client{
		qos:  byte(cfg.QoS),
		id:   cfg.Broker.ClientID,
		subs: make(map[string]subscription),
	}

	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.connectedHook() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.lostHook(err) })

	c.paho = pahomqtt.NewClient(opts)
	return c
}

func (c *Client) connectedHook() {
	c.setConnected(true)

	c.mu.RLock()
	for topic, sub := range c.subs {
		// Failures show up as another connection loss.
		c.paho.Subscribe(topic, sub.qos, c.wrap(sub.handler))
	}
	hook := c.onConnect
	c.mu.RUnlock()

	c.paho.Publish(Topics{}.SystemStatus(), c.qos, true, buildOnlinePayload(c.id))
	if hook != nil {
		hook()
	}
}

func (c *Client) lostHook(err error) {
	c.setConnected(false)

	c.mu.RLock()
	hook := c.onDisconnect
	c.mu.RUnlock()
	if hook != nil {
		hook(err)
	}
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// Close publishes the graceful offline status and disconnects. Closing a
// nil or disconnected client is not an error.
func (c *Client) Close() error {
	if c == nil || c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		c.paho.Publish(Topics{}.SystemStatus(), c.qos, true, buildOfflinePayload(c.id)).
			WaitTimeout(defaultPublishTimeout)
	}
	c.paho.Disconnect(defaultDisconnectQuiesce)
	c.setConnected(false)
	return nil
}

// HealthCheck reports whether the broker connection is up.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.paho.IsConnected()
}

// SetOnConnect sets a callback run on every (re)connect.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// SetOnDisconnect sets a callback run when the connection drops.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// SetLogger sets the logger used for handler errors and panics.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

// wrap adapts a MessageHandler to paho. Panics are recovered so one bad
// message cannot take down paho's router goroutine.
func (c *Client) wrap(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		topic := msg.Topic()
		defer func() {
			if r := recover(); r != nil {
				if l := c.log(); l != nil {
					l.Error("mqtt handler panic recovered", "topic", topic, "panic", r)
				}
			}
		}()
		if err := handler(topic, msg.Payload()); err != nil {
			if l := c.log(); l != nil {
				l.Warn("mqtt handler returned error", "topic", topic, "error", err)
			}
		}
	}
}

// await waits for token and wraps a timeout or failure in sentinel.
func await(token pahomqtt.Token, timeout time.Duration, sentinel error) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: timeout after %v", sentinel, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return nil
}
