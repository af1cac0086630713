package mqttmux

import (
	"context"
	"slices"
	"sync"
)

// memorySubscription is one broker-side subscription of a MemoryConnector.
type memorySubscription struct {
	pattern TopicPattern
	options SubscribeOptions
}

// MemoryConnector is an in-process Connector that behaves like a broker
// holding one client session. It matches topics itself and attaches
// subscription identifiers to deliveries. It is intended for tests and
// examples.
type MemoryConnector struct {
	mu        sync.Mutex
	connected bool
	loopback  bool
	subs      map[int]memorySubscription
	published []*Message

	subscribeCalls   map[string]int
	unsubscribeCalls map[int]int

	connectErr     error
	publishErr     error
	unsubscribeErr error
	subscribeErrs  map[string]error

	connectCallbacks []ConnectCallback
	messageCallbacks []MessageCallback
}

// NewMemoryConnector creates a disconnected MemoryConnector. Published
// messages are looped back to matching subscriptions.
func NewMemoryConnector() *MemoryConnector {
	return &MemoryConnector{
		loopback:         true,
		subs:             make(map[int]memorySubscription),
		subscribeCalls:   make(map[string]int),
		unsubscribeCalls: make(map[int]int),
		subscribeErrs:    make(map[string]error),
	}
}

// SetLoopback enables or disables delivering published messages back to
// matching subscriptions.
func (m *MemoryConnector) SetLoopback(enabled bool) {
	m.mu.Lock()
	m.loopback = enabled
	m.mu.Unlock()
}

// FailConnect makes Connect return err. A nil err clears it.
func (m *MemoryConnector) FailConnect(err error) {
	m.mu.Lock()
	m.connectErr = err
	m.mu.Unlock()
}

// FailPublish makes Publish return err. A nil err clears it.
func (m *MemoryConnector) FailPublish(err error) {
	m.mu.Lock()
	m.publishErr = err
	m.mu.Unlock()
}

// FailUnsubscribe makes Unsubscribe return err. A nil err clears it.
func (m *MemoryConnector) FailUnsubscribe(err error) {
	m.mu.Lock()
	m.unsubscribeErr = err
	m.mu.Unlock()
}

// FailSubscribe makes Subscribe of pattern return err. A nil err clears it.
func (m *MemoryConnector) FailSubscribe(pattern string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		delete(m.subscribeErrs, pattern)
		return
	}
	m.subscribeErrs[pattern] = err
}

func (m *MemoryConnector) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.connectErr != nil {
		err := m.connectErr
		m.mu.Unlock()
		return err
	}
	m.connected = true
	m.mu.Unlock()

	m.fireConnect(ctx, ConnectEvent{})
	return nil
}

func (m *MemoryConnector) Disconnect(_ context.Context) error {
	m.mu.Lock()
	m.connected = false
	clear(m.subs)
	m.mu.Unlock()
	return nil
}

// IsConnected reports whether Connect succeeded and Disconnect was not called since.
func (m *MemoryConnector) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MemoryConnector) Publish(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	if m.publishErr != nil {
		err := m.publishErr
		m.mu.Unlock()
		return err
	}
	m.published = append(m.published, msg.Clone())
	loopback := m.loopback
	m.mu.Unlock()

	if loopback {
		m.deliver(msg.Clone(), true)
	}
	return nil
}

func (m *MemoryConnector) Subscribe(ctx context.Context, req SubscribeRequest) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	pattern := req.Pattern.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.subscribeCalls[pattern]++

	if !m.connected {
		return 0, ErrNotConnected
	}
	if err := m.subscribeErrs[pattern]; err != nil {
		return 0, err
	}

	m.subs[req.Identifier] = memorySubscription{pattern: req.Pattern, options: req.Options}
	return req.Identifier, nil
}

func (m *MemoryConnector) Unsubscribe(ctx context.Context, identifier int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.unsubscribeCalls[identifier]++

	if !m.connected {
		return ErrNotConnected
	}
	if m.unsubscribeErr != nil {
		return m.unsubscribeErr
	}

	delete(m.subs, identifier)
	return nil
}

func (m *MemoryConnector) AddConnectCallback(fn ConnectCallback) {
	m.mu.Lock()
	m.connectCallbacks = append(m.connectCallbacks, fn)
	m.mu.Unlock()
}

func (m *MemoryConnector) AddMessageCallback(fn MessageCallback) {
	m.mu.Lock()
	m.messageCallbacks = append(m.messageCallbacks, fn)
	m.mu.Unlock()
}

// Deliver routes msg like a broker: it attaches the identifier of every
// matching subscription and hands it to the message callbacks. It returns
// the number of matching subscriptions; nothing is delivered when zero.
func (m *MemoryConnector) Deliver(msg *Message) int {
	return m.deliver(msg.Clone(), false)
}

func (m *MemoryConnector) deliver(msg *Message, fromSelf bool) int {
	m.mu.Lock()
	var ids []int
	for id, sub := range m.subs {
		if fromSelf && sub.options.NoLocal {
			continue
		}
		if TopicMatch(sub.pattern.Filter(), msg.Topic) {
			ids = append(ids, id)
		}
	}
	callbacks := slices.Clone(m.messageCallbacks)
	m.mu.Unlock()

	if len(ids) == 0 {
		return 0
	}

	slices.Sort(ids)
	msg.SubscriptionIdentifiers = ids
	for _, fn := range callbacks {
		fn(msg)
	}
	return len(ids)
}

// DeliverRaw hands msg to the message callbacks unchanged.
func (m *MemoryConnector) DeliverRaw(msg *Message) {
	m.mu.Lock()
	callbacks := slices.Clone(m.messageCallbacks)
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn(msg)
	}
}

// SimulateReconnect emulates a dropped and re-established connection. Without
// a present session the broker forgets every subscription.
func (m *MemoryConnector) SimulateReconnect(ctx context.Context, sessionPresent bool) {
	m.mu.Lock()
	m.connected = true
	if !sessionPresent {
		clear(m.subs)
	}
	m.mu.Unlock()

	m.fireConnect(ctx, ConnectEvent{SessionPresent: sessionPresent})
}

func (m *MemoryConnector) fireConnect(ctx context.Context, ev ConnectEvent) {
	m.mu.Lock()
	callbacks := slices.Clone(m.connectCallbacks)
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn(ctx, ev)
	}
}

// SubscribeCalls returns how many times pattern was subscribed.
func (m *MemoryConnector) SubscribeCalls(pattern string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribeCalls[pattern]
}

// TotalSubscribeCalls returns the number of Subscribe calls over all patterns.
func (m *MemoryConnector) TotalSubscribeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for _, n := range m.subscribeCalls {
		total += n
	}
	return total
}

// UnsubscribeCalls returns how many times identifier was unsubscribed.
func (m *MemoryConnector) UnsubscribeCalls(identifier int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unsubscribeCalls[identifier]
}

// Subscribed reports whether the broker holds a subscription for pattern and
// returns its identifier.
func (m *MemoryConnector) Subscribed(pattern string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, sub := range m.subs {
		if sub.pattern.String() == pattern {
			return id, true
		}
	}
	return 0, false
}

// SubscribedOptions returns the options the broker holds for identifier.
func (m *MemoryConnector) SubscribedOptions(identifier int) (SubscribeOptions, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[identifier]
	return sub.options, ok
}

// Published returns copies of every successfully published message.
func (m *MemoryConnector) Published() []*Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Message, len(m.published))
	for i, msg := range m.published {
		out[i] = msg.Clone()
	}
	return out
}
