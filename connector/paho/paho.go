// Package paho implements mqttmux.Connector on top of the Eclipse Paho MQTT
// client (github.com/eclipse/paho.mqtt.golang).
//
// Paho speaks MQTT 3.1.1, which has no subscription identifiers. The
// connector binds each identifier to the paho handler of its filter and
// stamps deliveries with it, so the mqttmux Dispatcher still routes by
// identifier only. MQTT v5.0 subscription options and message properties
// are not carried on the wire; the first use of each is logged once.
package paho

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vitalvas/mqttmux"
)

// DefaultQuiesce is how long Disconnect lets paho finish in-flight work when
// ctx carries no deadline.
const DefaultQuiesce = 250 * time.Millisecond

// ClientFactory builds a paho client from fully prepared options.
type ClientFactory func(opts *mqtt.ClientOptions) mqtt.Client

// Option configures a Connector.
type Option func(*Connector)

// WithLogger sets the connector logger.
func WithLogger(logger mqttmux.Logger) Option {
	return func(c *Connector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClientFactory replaces mqtt.NewClient.
func WithClientFactory(factory ClientFactory) Option {
	return func(c *Connector) {
		if factory != nil {
			c.factory = factory
		}
	}
}

// WithClientOptions edits the paho options before the client is built, for
// settings BrokerConfig does not cover such as TLS or a will message.
func WithClientOptions(fn func(*mqtt.ClientOptions)) Option {
	return func(c *Connector) {
		if fn != nil {
			c.tweaks = append(c.tweaks, fn)
		}
	}
}

// Connector adapts a paho client to mqttmux.Connector.
type Connector struct {
	client  mqtt.Client
	logger  mqttmux.Logger
	factory ClientFactory
	tweaks  []func(*mqtt.ClientOptions)

	mu      sync.Mutex
	filters map[int]string
	warned  map[string]bool

	connectCallbacks []mqttmux.ConnectCallback
	messageCallbacks []mqttmux.MessageCallback

	// skipConnect swallows the handler run for the connection Connect
	// started; that connection is reported by Connect itself.
	skipConnect atomic.Bool
}

var _ mqttmux.Connector = (*Connector)(nil)

// New creates a connector from paho client options. The connect and
// connection-lost handlers are owned by the connector.
func New(opts *mqtt.ClientOptions, options ...Option) *Connector {
	c := &Connector{
		logger:  mqttmux.NewNoOpLogger(),
		factory: mqtt.NewClient,
		filters: make(map[int]string),
		warned:  make(map[string]bool),
	}
	for _, opt := range options {
		opt(c)
	}

	if opts == nil {
		opts = mqtt.NewClientOptions()
	}
	for _, fn := range c.tweaks {
		fn(opts)
	}
	opts.SetProtocolVersion(4)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.client = c.factory(opts)
	return c
}

// NewFromConfig creates a connector from broker settings.
func NewFromConfig(cfg mqttmux.BrokerConfig, options ...Option) (*Connector, error) {
	if cfg.URL == "" {
		return nil, errors.New("paho: broker url is required")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.URL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(cfg.CleanSession).
		SetAutoReconnect(cfg.AutoReconnect)

	if cfg.KeepAlive > 0 {
		opts.SetKeepAlive(cfg.KeepAlive)
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}

	return New(opts, options...), nil
}

// Client returns the underlying paho client.
func (c *Connector) Client() mqtt.Client {
	return c.client
}

func (c *Connector) Connect(ctx context.Context) error {
	c.skipConnect.Store(true)

	if err := wait(ctx, c.client.Connect()); err != nil {
		c.skipConnect.Store(false)
		return fmt.Errorf("paho: connect: %w", err)
	}

	c.logger.Info("broker connection established", nil)
	return nil
}

func (c *Connector) Disconnect(ctx context.Context) error {
	quiesce := DefaultQuiesce
	if deadline, ok := ctx.Deadline(); ok {
		quiesce = max(time.Until(deadline), 0)
	}
	c.client.Disconnect(uint(quiesce.Milliseconds()))

	c.mu.Lock()
	clear(c.filters)
	c.mu.Unlock()
	return nil
}

func (c *Connector) Publish(ctx context.Context, msg *mqttmux.Message) error {
	if !c.client.IsConnectionOpen() {
		return mqttmux.ErrNotConnected
	}

	if msg.ResponseTopic != "" || len(msg.CorrelationData) > 0 || len(msg.UserProperties) > 0 ||
		msg.ContentType != "" || msg.MessageExpiry > 0 || msg.PayloadFormat != 0 {
		c.warnOnce("message_properties", msg.Topic)
	}

	return wait(ctx, c.client.Publish(msg.Topic, byte(msg.QoS), msg.Retain, msg.Payload))
}

func (c *Connector) Subscribe(ctx context.Context, req mqttmux.SubscribeRequest) (int, error) {
	if !c.client.IsConnectionOpen() {
		return 0, mqttmux.ErrNotConnected
	}

	filter := req.Pattern.String()
	if req.Options.NoLocal {
		c.warnOnce("no_local", filter)
	}
	if req.Options.RetainAsPublished {
		c.warnOnce("retain_as_published", filter)
	}
	if req.Options.RetainHandling != mqttmux.RetainSendOnSubscribe {
		c.warnOnce("retain_handling", filter)
	}

	id := req.Identifier
	if err := wait(ctx, c.client.Subscribe(filter, byte(req.Options.QoS), c.deliver(id))); err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.filters[id] = filter
	c.mu.Unlock()
	return id, nil
}

func (c *Connector) Unsubscribe(ctx context.Context, identifier int) error {
	c.mu.Lock()
	filter, ok := c.filters[identifier]
	c.mu.Unlock()

	if !ok {
		return nil
	}
	if !c.client.IsConnectionOpen() {
		return mqttmux.ErrNotConnected
	}

	if err := wait(ctx, c.client.Unsubscribe(filter)); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.filters, identifier)
	c.mu.Unlock()
	return nil
}

func (c *Connector) AddConnectCallback(fn mqttmux.ConnectCallback) {
	c.mu.Lock()
	c.connectCallbacks = append(c.connectCallbacks, fn)
	c.mu.Unlock()
}

func (c *Connector) AddMessageCallback(fn mqttmux.MessageCallback) {
	c.mu.Lock()
	c.messageCallbacks = append(c.messageCallbacks, fn)
	c.mu.Unlock()
}

// deliver returns the paho handler bound to one subscription identifier.
func (c *Connector) deliver(id int) mqtt.MessageHandler {
	return func(_ mqtt.Client, m mqtt.Message) {
		msg := &mqttmux.Message{
			Topic:                   m.Topic(),
			Payload:                 m.Payload(),
			QoS:                     mqttmux.QoS(m.Qos()),
			Retain:                  m.Retained(),
			MessageID:               m.MessageID(),
			Duplicate:               m.Duplicate(),
			SubscriptionIdentifiers: []int{id},
		}

		c.mu.Lock()
		callbacks := append([]mqttmux.MessageCallback(nil), c.messageCallbacks...)
		c.mu.Unlock()

		for _, fn := range callbacks {
			fn(msg)
		}
	}
}

// onConnect runs for every connection paho establishes. MQTT 3.1.1 reconnects
// through paho do not report the session flag, so the session is treated as
// lost and every subscription is restored.
func (c *Connector) onConnect(_ mqtt.Client) {
	if c.skipConnect.CompareAndSwap(true, false) {
		return
	}

	c.mu.Lock()
	clear(c.filters)
	callbacks := append([]mqttmux.ConnectCallback(nil), c.connectCallbacks...)
	c.mu.Unlock()

	c.logger.Info("broker connection re-established", nil)

	ctx := context.Background()
	for _, fn := range callbacks {
		fn(ctx, mqttmux.ConnectEvent{SessionPresent: false})
	}
}

func (c *Connector) onConnectionLost(_ mqtt.Client, err error) {
	c.logger.Warn("broker connection lost", mqttmux.LogFields{mqttmux.LogFieldError: err})
}

// warnOnce logs the first use of a feature MQTT 3.1.1 cannot carry.
func (c *Connector) warnOnce(feature, topic string) {
	c.mu.Lock()
	seen := c.warned[feature]
	c.warned[feature] = true
	c.mu.Unlock()

	if seen {
		return
	}
	c.logger.Warn("unsupported by MQTT 3.1.1, ignored", mqttmux.LogFields{
		mqttmux.LogFieldField: feature,
		mqttmux.LogFieldTopic: topic,
	})
}

// wait blocks until the token completes or ctx is done.
func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
