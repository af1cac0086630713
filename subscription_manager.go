package mqttmux

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// ManagerOption configures a SubscriptionManager.
type ManagerOption func(*SubscriptionManager)

// WithManagerLogger sets the manager logger.
func WithManagerLogger(logger Logger) ManagerOption {
	return func(m *SubscriptionManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithManagerMetrics sets the metrics collector.
func WithManagerMetrics(metrics Metrics) ManagerOption {
	return func(m *SubscriptionManager) {
		m.metrics = NewDispatchMetrics(metrics)
	}
}

// SubscriptionResolver maps a subscription identifier to its Subscription.
type SubscriptionResolver interface {
	GetSubscription(identifier int) (*Subscription, bool)
}

// SubscriptionManager subscribes Subscriptions at the broker and indexes
// them by broker subscription identifier. It does not own them: the Router
// does. Each Subscription moves through
//
//	UNSUBSCRIBED -> PENDING -> SUBSCRIBED -> UNSUBSCRIBED
//
// Identifiers are allocated monotonically and stay bound to their
// Subscription for its lifetime; a resubscribe after reconnect reuses it.
type SubscriptionManager struct {
	connector Connector
	logger    Logger
	metrics   *DispatchMetrics

	mu     sync.RWMutex
	byID   map[int]*Subscription
	nextID int
}

// NewSubscriptionManager creates a manager on top of connector.
func NewSubscriptionManager(connector Connector, opts ...ManagerOption) *SubscriptionManager {
	m := &SubscriptionManager{
		connector: connector,
		logger:    NewNoOpLogger(),
		metrics:   NewDispatchMetrics(nil),
		byID:      make(map[int]*Subscription),
		nextID:    1,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe subscribes sub at the broker. It is a no-op when sub is already
// PENDING or SUBSCRIBED. On failure sub stays UNSUBSCRIBED and a
// *SubscribeError is returned. A subscription left without callbacks by the
// time the broker confirms it is unsubscribed again.
func (m *SubscriptionManager) Subscribe(ctx context.Context, sub *Subscription) error {
	if !sub.beginSubscribe() {
		return nil
	}

	id, err := m.identifierFor(sub)
	if err != nil {
		sub.setState(StateUnsubscribed)
		return &SubscribeError{Pattern: sub.Topic(), Cause: err}
	}

	assigned, err := m.connector.Subscribe(ctx, SubscribeRequest{
		Identifier: id,
		Pattern:    sub.Pattern(),
		Options:    sub.Options(),
	})
	if err != nil {
		sub.setState(StateUnsubscribed)
		m.metrics.SubscribeFailed()
		return &SubscribeError{Pattern: sub.Topic(), Identifier: id, Cause: err}
	}
	if assigned == 0 {
		assigned = id
	}

	m.mu.Lock()
	if assigned != id && m.byID[id] == sub {
		delete(m.byID, id)
	}
	_, known := m.byID[assigned]
	m.byID[assigned] = sub
	m.mu.Unlock()

	sub.setIdentifier(assigned)
	sub.setState(StateSubscribed)
	if !known {
		m.metrics.SubscriptionAdded()
	}

	m.logger.Debug("subscribed", LogFields{
		LogFieldPattern:        sub.Topic(),
		LogFieldSubscriptionID: assigned,
		LogFieldQoS:            sub.Options().QoS,
	})

	// every callback was removed while the subscribe was in flight
	if sub.Len() == 0 {
		if _, err := m.Unsubscribe(ctx, assigned, nil); err != nil {
			return err
		}
	}

	return nil
}

// identifierFor returns the identifier already bound to sub, or allocates
// the next one.
func (m *SubscriptionManager) identifierFor(sub *Subscription) (int, error) {
	if id, ok := sub.Identifier(); ok {
		return id, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.nextID > MaxSubscriptionIdentifier {
		return 0, ErrIdentifierExhausted
	}
	id := m.nextID
	m.nextID++

	sub.setIdentifier(id)
	return id, nil
}

// SubscribeMultiple subscribes every element independently. One failure does
// not stop the others; all failures are returned joined.
func (m *SubscriptionManager) SubscribeMultiple(ctx context.Context, subs []*Subscription) error {
	var errs []error
	for _, sub := range subs {
		if err := m.Subscribe(ctx, sub); err != nil {
			m.logger.Error("subscribe failed", LogFields{
				LogFieldPattern: sub.Topic(),
				LogFieldError:   err.Error(),
			})
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Unsubscribe removes cb (or every callback when cb is nil) from the
// subscription registered under identifier. When no callback is left the
// broker subscription is removed and true is returned.
//
// If the broker unsubscribe fails the identifier stays indexed and
// SUBSCRIBED; calling Unsubscribe again with a nil callback retries it.
func (m *SubscriptionManager) Unsubscribe(ctx context.Context, identifier int, cb *Callback) (bool, error) {
	sub, ok := m.GetSubscription(identifier)
	if !ok {
		return false, ErrUnknownIdentifier
	}

	if !sub.RemoveCallback(cb) {
		return false, nil
	}

	if sub.State() == StateSubscribed {
		if err := m.connector.Unsubscribe(ctx, identifier); err != nil {
			return false, &UnsubscribeError{Pattern: sub.Topic(), Identifier: identifier, Cause: err}
		}
	}

	m.mu.Lock()
	removed := m.byID[identifier] == sub
	if removed {
		delete(m.byID, identifier)
	}
	m.mu.Unlock()

	sub.setState(StateUnsubscribed)
	if removed {
		m.metrics.SubscriptionRemoved()
	}

	m.logger.Debug("unsubscribed", LogFields{
		LogFieldPattern:        sub.Topic(),
		LogFieldSubscriptionID: identifier,
	})

	return true, nil
}

// GetSubscription returns the subscription indexed under identifier.
// Absence is a normal outcome.
func (m *SubscriptionManager) GetSubscription(identifier int) (*Subscription, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.byID[identifier]
	return sub, ok
}

// Invalidate marks every SUBSCRIBED subscription UNSUBSCRIBED after the
// broker lost the session. Identifiers and index entries are kept so the
// next Subscribe reuses them and late deliveries still resolve.
func (m *SubscriptionManager) Invalidate() {
	m.mu.RLock()
	subs := make([]*Subscription, 0, len(m.byID))
	for _, sub := range m.byID {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	for _, sub := range subs {
		sub.mu.Lock()
		if sub.state == StateSubscribed {
			sub.state = StateUnsubscribed
		}
		sub.mu.Unlock()
	}
}

// Identifiers returns the indexed identifiers in ascending order.
func (m *SubscriptionManager) Identifiers() []int {
	m.mu.RLock()
	ids := make([]int, 0, len(m.byID))
	for id := range m.byID {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// Len returns the number of indexed subscriptions.
func (m *SubscriptionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}
