package mqttmux

import (
	"context"
	"slices"
)

// UserProperty is an MQTT v5.0 user property key/value pair.
type UserProperty struct {
	Key   string
	Value string
}

// Message is an application message, inbound or outbound.
type Message struct {
	// Topic is the topic name to publish to or received from.
	Topic string

	// Payload is the application message payload.
	Payload []byte

	// QoS is the Quality of Service level (0, 1, or 2).
	QoS QoS

	// Retain indicates if this is a retained message.
	Retain bool

	// MessageID is the packet identifier of an inbound QoS 1 or 2 message.
	MessageID uint16

	// Duplicate is set on redelivered inbound messages.
	Duplicate bool

	// PayloadFormat indicates UTF-8 text (1) or unspecified bytes (0).
	PayloadFormat byte

	// MessageExpiry is the lifetime of the message in seconds. Zero means no expiry.
	MessageExpiry uint32

	// ContentType is the MIME type of the payload.
	ContentType string

	// ResponseTopic is the topic for response messages. Empty means absent.
	ResponseTopic string

	// CorrelationData is used to correlate request/response messages. Nil means absent.
	CorrelationData []byte

	// UserProperties are application-defined key/value pairs.
	UserProperties []UserProperty

	// SubscriptionIdentifiers lists every subscription of this client that
	// matched the message. Receive only.
	SubscriptionIdentifiers []int

	// State is the client's typed context, set on messages handed to callbacks.
	State *State

	// Publisher publishes follow-up messages, set on messages handed to callbacks.
	Publisher Publisher
}

// Publisher sends messages to the broker.
type Publisher interface {
	Publish(ctx context.Context, msg *Message) error
}

// UserProperty returns the first value of the named user property.
func (m *Message) UserProperty(key string) (string, bool) {
	for _, p := range m.UserProperties {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// HasResponseTopic reports whether the sender asked for a response.
func (m *Message) HasResponseTopic() bool {
	return m.ResponseTopic != ""
}

// Clone returns a copy whose slices do not alias the original.
func (m *Message) Clone() *Message {
	c := *m
	c.Payload = slices.Clone(m.Payload)
	c.CorrelationData = slices.Clone(m.CorrelationData)
	c.UserProperties = slices.Clone(m.UserProperties)
	c.SubscriptionIdentifiers = slices.Clone(m.SubscriptionIdentifiers)
	return &c
}
