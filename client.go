package mqttmux

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Client ties a Router, a SubscriptionManager and a Dispatcher to one
// Connector. Callbacks registered on the embedded Router before Connect are
// subscribed on Connect; Subscribe registers and subscribes in one step.
type Client struct {
	*Router

	connector  Connector
	manager    *SubscriptionManager
	dispatcher *Dispatcher
	state      *State
	logger     Logger
	clientID   string
	connected  atomic.Bool

	// active is true from Connect until Disconnect; connect events outside
	// that window are ignored.
	active atomic.Bool
}

// NewClient creates a client on top of connector and registers exactly one
// connect hook and one message hook on it.
func NewClient(connector Connector, opts ...Option) (*Client, error) {
	if connector == nil {
		return nil, errors.New("mqttmux: connector is required")
	}

	options := applyClientOptions(opts...)

	clientID := options.clientID
	if clientID == "" {
		clientID = "mqttmux-" + uuid.NewString()
	}
	logger := options.logger.WithFields(LogFields{LogFieldClientID: clientID})

	c := &Client{
		Router: NewRouter(
			WithRouterLogger(logger),
			WithDefaultSubscribeOptions(options.defaultSubOptions),
		),
		connector: connector,
		state:     NewState(),
		logger:    logger,
		clientID:  clientID,
	}

	c.manager = NewSubscriptionManager(connector,
		WithManagerLogger(logger),
		WithManagerMetrics(options.metrics),
	)

	dispatcherOpts := []DispatcherOption{
		WithDispatcherLogger(logger),
		WithDispatcherMetrics(options.metrics),
		WithState(c.state),
	}
	c.dispatcher = NewDispatcher(c.manager, c, append(dispatcherOpts, options.dispatcherOptions...)...)

	for _, r := range options.routers {
		if err := c.IncludeRouter(r); err != nil {
			return nil, fmt.Errorf("mqttmux: include router: %w", err)
		}
	}

	connector.AddConnectCallback(c.onConnect)
	connector.AddMessageCallback(c.dispatcher.Dispatch)

	return c, nil
}

// ClientID returns the client identifier.
func (c *Client) ClientID() string {
	return c.clientID
}

// State returns the typed context shared with callbacks.
func (c *Client) State() *State {
	return c.state
}

// Manager returns the subscription manager.
func (c *Client) Manager() *SubscriptionManager {
	return c.manager
}

// Dispatcher returns the message dispatcher.
func (c *Client) Dispatcher() *Dispatcher {
	return c.dispatcher
}

// IsConnected reports whether Connect succeeded and Disconnect was not called since.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Connect connects the connector and subscribes every registered subscription.
func (c *Client) Connect(ctx context.Context) error {
	c.active.Store(true)
	if err := c.connector.Connect(ctx); err != nil {
		c.active.Store(false)
		return &ConnectError{Cause: err}
	}
	c.connected.Store(true)

	c.logger.Info("connected", nil)

	return c.SubscribeAll(ctx)
}

// onConnect resubscribes after a (re)connect. It is idempotent: subscriptions
// that are PENDING or SUBSCRIBED are left alone.
func (c *Client) onConnect(ctx context.Context, ev ConnectEvent) {
	if !c.active.Load() {
		c.logger.Debug("connect event after disconnect ignored", nil)
		return
	}
	c.connected.Store(true)

	if !ev.SessionPresent {
		c.manager.Invalidate()
	}

	if err := c.SubscribeAll(ctx); err != nil {
		c.logger.Error("resubscribe after connect failed", LogFields{LogFieldError: err.Error()})
	}
}

// Disconnect closes the connection, waits for running dispatch units until
// ctx is done and clears the State.
func (c *Client) Disconnect(ctx context.Context) error {
	c.active.Store(false)
	c.connected.Store(false)

	var errs []error
	if err := c.connector.Disconnect(ctx); err != nil {
		errs = append(errs, fmt.Errorf("mqttmux: disconnect: %w", err))
	}

	if err := c.dispatcher.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("mqttmux: drain: %w", err))
	}

	c.manager.Invalidate()
	c.state.Clear()

	c.logger.Info("disconnected", nil)

	return errors.Join(errs...)
}

// SubscribeAll subscribes every registered subscription that is not yet
// subscribed. Failures are joined.
func (c *Client) SubscribeAll(ctx context.Context) error {
	return c.manager.SubscribeMultiple(ctx, c.Subscriptions())
}

// Subscribe registers cb under pattern and, when connected, subscribes the
// resulting Subscription at the broker. A second callback on an already
// subscribed pattern issues no broker call.
func (c *Client) Subscribe(ctx context.Context, cb *Callback, pattern string, opts ...SubscribeOption) (*Subscription, error) {
	sub, err := c.Register(cb, pattern, opts...)
	if err != nil {
		return nil, err
	}

	if c.IsConnected() {
		if err := c.manager.Subscribe(ctx, sub); err != nil {
			return sub, err
		}
	}

	return sub, nil
}

// SubscribeFunc is Subscribe for a plain function. It returns the Callback
// handle for later removal.
func (c *Client) SubscribeFunc(ctx context.Context, pattern string, fn CallbackFunc, opts ...SubscribeOption) (*Callback, *Subscription, error) {
	cb := NewCallback(fn)
	sub, err := c.Subscribe(ctx, cb, pattern, opts...)
	return cb, sub, err
}

// Unsubscribe removes cb (or every callback when cb is nil) from the
// subscription with the given identifier. When it becomes empty the broker
// subscription is removed and the router drops it.
func (c *Client) Unsubscribe(ctx context.Context, identifier int, cb *Callback) error {
	sub, ok := c.manager.GetSubscription(identifier)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownIdentifier, identifier)
	}

	emptied, err := c.manager.Unsubscribe(ctx, identifier, cb)
	if err != nil {
		return err
	}

	if emptied {
		c.remove(sub)
	}
	return nil
}

// UnsubscribeTopic removes cb (or every callback when cb is nil) from the
// subscription registered under pattern, unsubscribing at the broker when it
// becomes empty. The router keeps the subscription until the broker
// unsubscribe succeeded, so a failed call can be retried with a nil cb.
func (c *Client) UnsubscribeTopic(ctx context.Context, pattern string, cb *Callback) error {
	sub, ok := c.Lookup(pattern)
	if !ok {
		return nil
	}

	if id, ok := sub.Identifier(); ok {
		if indexed, ok := c.manager.GetSubscription(id); ok && indexed == sub {
			emptied, err := c.manager.Unsubscribe(ctx, id, cb)
			if err != nil {
				return err
			}
			if emptied {
				c.remove(sub)
			}
			return nil
		}
	}

	// Never indexed, or a subscribe is still in flight; the manager
	// unsubscribes an emptied subscription once the broker confirms it.
	c.Unregister(pattern, cb)
	return nil
}

// Publish validates msg and sends it through the connector.
func (c *Client) Publish(ctx context.Context, msg *Message) error {
	if msg == nil {
		return &PublishError{Cause: errors.New("message is nil")}
	}

	if err := ValidateTopicName(msg.Topic); err != nil {
		return &PublishError{Topic: msg.Topic, Cause: err}
	}

	if !msg.QoS.Valid() {
		return &PublishError{Topic: msg.Topic, Cause: fmt.Errorf("invalid qos %d", msg.QoS)}
	}

	if err := c.connector.Publish(ctx, msg); err != nil {
		return &PublishError{Topic: msg.Topic, Cause: err}
	}
	return nil
}
