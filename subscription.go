package mqttmux

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"sync"
)

// QoS is the delivery guarantee level of a subscription or publish.
type QoS byte

const (
	QoS0 QoS = 0 // at most once
	QoS1 QoS = 1 // at least once
	QoS2 QoS = 2 // exactly once
)

// Valid reports whether q is 0, 1 or 2.
func (q QoS) Valid() bool {
	return q <= QoS2
}

// RetainHandling controls whether the broker sends retained messages when a
// subscription is established.
// MQTT v5.0 spec: Section 3.8.3.1
type RetainHandling byte

const (
	// RetainSendOnSubscribe sends retained messages on every subscribe.
	RetainSendOnSubscribe RetainHandling = 0
	// RetainSendIfNew sends retained messages only if the subscription is new.
	RetainSendIfNew RetainHandling = 1
	// RetainDontSend never sends retained messages on subscribe.
	RetainDontSend RetainHandling = 2
)

func (r RetainHandling) String() string {
	switch r {
	case RetainSendOnSubscribe:
		return "SEND_ON_SUBSCRIBE"
	case RetainSendIfNew:
		return "SEND_IF_NEW"
	case RetainDontSend:
		return "DONT_SEND"
	default:
		return fmt.Sprintf("RetainHandling(%d)", byte(r))
	}
}

// SubscribeOptions are the delivery options sent with a subscription.
type SubscribeOptions struct {
	QoS               QoS
	NoLocal           bool
	RetainAsPublished bool
	RetainHandling    RetainHandling
}

// optionMismatch describes one differing field between two option sets.
type optionMismatch struct {
	field    string
	existing any
	new      any
}

func (o SubscribeOptions) diff(other SubscribeOptions) []optionMismatch {
	var out []optionMismatch
	if o.QoS != other.QoS {
		out = append(out, optionMismatch{"qos", o.QoS, other.QoS})
	}
	if o.NoLocal != other.NoLocal {
		out = append(out, optionMismatch{"no_local", o.NoLocal, other.NoLocal})
	}
	if o.RetainAsPublished != other.RetainAsPublished {
		out = append(out, optionMismatch{"retain_as_published", o.RetainAsPublished, other.RetainAsPublished})
	}
	if o.RetainHandling != other.RetainHandling {
		out = append(out, optionMismatch{"retain_handling", o.RetainHandling, other.RetainHandling})
	}
	return out
}

// SubscribeOption configures SubscribeOptions at registration time.
type SubscribeOption func(*SubscribeOptions)

// WithQoS sets the maximum QoS the broker delivers with.
func WithQoS(qos QoS) SubscribeOption {
	return func(o *SubscribeOptions) {
		o.QoS = qos
	}
}

// WithNoLocal prevents the broker from delivering this client's own publishes.
func WithNoLocal(noLocal bool) SubscribeOption {
	return func(o *SubscribeOptions) {
		o.NoLocal = noLocal
	}
}

// WithRetainAsPublished keeps the retain flag as set by the publisher.
func WithRetainAsPublished(rap bool) SubscribeOption {
	return func(o *SubscribeOptions) {
		o.RetainAsPublished = rap
	}
}

// WithRetainHandling sets the retained message behaviour on subscribe.
func WithRetainHandling(rh RetainHandling) SubscribeOption {
	return func(o *SubscribeOptions) {
		o.RetainHandling = rh
	}
}

func applySubscribeOptions(base SubscribeOptions, opts []SubscribeOption) SubscribeOptions {
	for _, opt := range opts {
		opt(&base)
	}
	return base
}

// CallbackFunc processes one inbound message. A non-empty payload is
// published to the message's response topic.
type CallbackFunc func(ctx context.Context, msg *Message) ([]byte, error)

// Callback is a registered message handler. Its pointer is its identity:
// the same *Callback passed to RemoveCallback or Unsubscribe removes it.
type Callback struct {
	name string
	fn   CallbackFunc
}

// NewCallback wraps fn. The callback is named after the function.
func NewCallback(fn CallbackFunc) *Callback {
	return NewNamedCallback(funcName(fn), fn)
}

// NewNamedCallback wraps fn with an explicit name used in logs and errors.
func NewNamedCallback(name string, fn CallbackFunc) *Callback {
	return &Callback{name: name, fn: fn}
}

// Name returns the callback name. A nil callback is named "<nil>".
func (c *Callback) Name() string {
	if c == nil {
		return "<nil>"
	}
	return c.name
}

// Call invokes the wrapped function.
func (c *Callback) Call(ctx context.Context, msg *Message) ([]byte, error) {
	return c.fn(ctx, msg)
}

func funcName(fn CallbackFunc) string {
	if fn == nil {
		return "<nil>"
	}
	if f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()); f != nil {
		return f.Name()
	}
	return "<unknown>"
}

// SubscriptionState is the broker-side state of a Subscription.
type SubscriptionState int

const (
	StateUnsubscribed SubscriptionState = iota
	StatePending
	StateSubscribed
)

func (s SubscriptionState) String() string {
	switch s {
	case StateUnsubscribed:
		return "UNSUBSCRIBED"
	case StatePending:
		return "PENDING"
	case StateSubscribed:
		return "SUBSCRIBED"
	default:
		return "UNKNOWN"
	}
}

// Subscription is one registered pattern, its delivery options and the
// ordered callbacks bound to it. It is safe for concurrent use.
type Subscription struct {
	pattern TopicPattern
	options SubscribeOptions

	mu         sync.RWMutex
	callbacks  []*Callback
	identifier int // 0 until the manager assigns one
	state      SubscriptionState
}

// NewSubscription creates a subscription holding a single callback.
func NewSubscription(pattern TopicPattern, options SubscribeOptions, cb *Callback) *Subscription {
	s := &Subscription{pattern: pattern, options: options}
	if cb != nil {
		s.callbacks = []*Callback{cb}
	}
	return s
}

// Pattern returns the parsed topic pattern.
func (s *Subscription) Pattern() TopicPattern { return s.pattern }

// Topic returns the pattern string.
func (s *Subscription) Topic() string { return s.pattern.String() }

// Options returns the delivery options fixed at creation.
func (s *Subscription) Options() SubscribeOptions { return s.options }

// Callbacks returns a snapshot of the bound callbacks in registration order.
func (s *Subscription) Callbacks() []*Callback {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Callback, len(s.callbacks))
	copy(out, s.callbacks)
	return out
}

// Len returns the number of bound callbacks.
func (s *Subscription) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.callbacks)
}

// AddCallback appends cb. Adding the same callback twice binds it twice.
// A nil callback is ignored.
func (s *Subscription) AddCallback(cb *Callback) {
	if cb == nil {
		return
	}

	s.mu.Lock()
	s.callbacks = append(s.callbacks, cb)
	s.mu.Unlock()
}

// RemoveCallback removes every binding of cb, or all callbacks when cb is nil.
// It returns true when no callback is left.
func (s *Subscription) RemoveCallback(cb *Callback) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cb == nil {
		s.callbacks = nil
		return true
	}

	kept := s.callbacks[:0]
	for _, c := range s.callbacks {
		if c != cb {
			kept = append(kept, c)
		}
	}
	clear(s.callbacks[len(kept):])
	s.callbacks = kept

	return len(s.callbacks) == 0
}

// HasCallback reports whether cb is bound.
func (s *Subscription) HasCallback(cb *Callback) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.callbacks {
		if c == cb {
			return true
		}
	}
	return false
}

// Identifier returns the broker subscription identifier, if one was assigned.
func (s *Subscription) Identifier() (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identifier, s.identifier != 0
}

// State returns the current broker-side state.
func (s *Subscription) State() SubscriptionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Subscription) String() string {
	id, _ := s.Identifier()
	return fmt.Sprintf("Subscription(%s, id=%d, %s)", s.pattern, id, s.State())
}

// beginSubscribe moves UNSUBSCRIBED to PENDING. It reports false when the
// subscription is already PENDING or SUBSCRIBED.
func (s *Subscription) beginSubscribe() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUnsubscribed {
		return false
	}
	s.state = StatePending
	return true
}

func (s *Subscription) setState(state SubscriptionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Subscription) setIdentifier(id int) {
	s.mu.Lock()
	s.identifier = id
	s.mu.Unlock()
}
