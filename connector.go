package mqttmux

import "context"

// MaxSubscriptionIdentifier is the largest value of the MQTT v5.0
// Subscription Identifier property (variable byte integer).
// MQTT v5.0 spec: Section 3.8.2.1.2
const MaxSubscriptionIdentifier = 268435455

// SubscribeRequest asks the broker to subscribe one pattern.
type SubscribeRequest struct {
	// Identifier is the subscription identifier the broker must attach to
	// every message delivered for this subscription.
	Identifier int
	Pattern    TopicPattern
	Options    SubscribeOptions
}

// ConnectEvent describes an established connection.
type ConnectEvent struct {
	// SessionPresent is true when the broker kept the previous session,
	// including its subscriptions.
	SessionPresent bool
}

// ConnectCallback is invoked by a Connector every time a connection is
// established, including reconnects.
type ConnectCallback func(ctx context.Context, ev ConnectEvent)

// MessageCallback is invoked by a Connector for every inbound message.
// Messages must carry the subscription identifiers that matched them.
type MessageCallback func(msg *Message)

// Connector is the broker-facing transport. Implementations own the wire
// protocol, keep-alive, acknowledgements and reconnection.
type Connector interface {
	// Connect establishes the connection.
	Connect(ctx context.Context) error

	// Disconnect closes the connection.
	Disconnect(ctx context.Context) error

	// Publish sends a message.
	Publish(ctx context.Context, msg *Message) error

	// Subscribe subscribes one pattern and returns the identifier the broker
	// attaches to deliveries for it.
	Subscribe(ctx context.Context, req SubscribeRequest) (int, error)

	// Unsubscribe removes the subscription registered under identifier.
	Unsubscribe(ctx context.Context, identifier int) error

	// AddConnectCallback registers a hook run on every (re)connect.
	AddConnectCallback(fn ConnectCallback)

	// AddMessageCallback registers a hook run on every inbound message.
	AddMessageCallback(fn MessageCallback)
}
