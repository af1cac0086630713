package mqttmux

import (
	"fmt"
	"slices"
	"sync"
)

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterLogger sets the logger used for merge warnings.
func WithRouterLogger(logger Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithDefaultSubscribeOptions sets the options used for anything a
// registration does not specify.
func WithDefaultSubscribeOptions(opts SubscribeOptions) RouterOption {
	return func(r *Router) {
		r.defaults = opts
	}
}

// Router is a registry of subscriptions keyed by pattern string.
// A router holds at most one Subscription per distinct pattern string;
// registering the same string again merges the callback into it.
// Patterns are never merged by wildcard overlap: "a/+/c" and "a/b/c" stay
// two subscriptions.
type Router struct {
	mu       sync.Mutex
	subs     []*Subscription
	index    map[string]*Subscription
	defaults SubscribeOptions
	logger   Logger
}

// NewRouter creates an empty Router.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		index:  make(map[string]*Subscription),
		logger: NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds cb to pattern and returns the (possibly shared) Subscription.
// A nil cb, or one without a function, is rejected with ErrNilCallback.
//
// If the router already holds pattern, cb is appended to the existing
// Subscription. Delivery options that differ from the existing ones are
// reported as warnings and ignored: the first registration wins.
func (r *Router) Register(cb *Callback, pattern string, opts ...SubscribeOption) (*Subscription, error) {
	return r.register(cb, pattern, applySubscribeOptions(r.defaults, opts))
}

// Handle registers fn under pattern and returns the Callback handle, which
// can later be passed to Unregister.
//
//	r.Handle("sensors/+/temp", func(ctx context.Context, msg *mqttmux.Message) ([]byte, error) {
//	    return nil, store(msg.Payload)
//	}, mqttmux.WithQoS(mqttmux.QoS1))
func (r *Router) Handle(pattern string, fn CallbackFunc, opts ...SubscribeOption) (*Callback, error) {
	cb := NewCallback(fn)
	if _, err := r.Register(cb, pattern, opts...); err != nil {
		return nil, err
	}
	return cb, nil
}

func (r *Router) register(cb *Callback, pattern string, options SubscribeOptions) (*Subscription, error) {
	if cb == nil || cb.fn == nil {
		return nil, fmt.Errorf("%w: pattern %q", ErrNilCallback, pattern)
	}

	parsed, err := ParseTopicPattern(pattern)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if sub, ok := r.index[pattern]; ok {
		sub.AddCallback(cb)
		for _, m := range sub.Options().diff(options) {
			r.logger.Warn("subscription registered again with different options, keeping existing", LogFields{
				LogFieldPattern:  pattern,
				LogFieldField:    m.field,
				LogFieldExisting: m.existing,
				LogFieldNew:      m.new,
			})
		}
		return sub, nil
	}

	sub := NewSubscription(parsed, options, cb)
	r.subs = append(r.subs, sub)
	r.index[pattern] = sub

	return sub, nil
}

// IncludeRouter absorbs every subscription of other, replaying registration
// once per callback with the other subscription's options.
func (r *Router) IncludeRouter(other *Router) error {
	if other == nil || other == r {
		return nil
	}

	for _, sub := range other.Subscriptions() {
		for _, cb := range sub.Callbacks() {
			if _, err := r.register(cb, sub.Topic(), sub.Options()); err != nil {
				return err
			}
		}
	}
	return nil
}

// Unregister removes cb from pattern, or every callback when cb is nil.
// It reports true when the Subscription became empty and was dropped from
// the router; the caller then owns unsubscribing it at the broker.
func (r *Router) Unregister(pattern string, cb *Callback) (*Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.index[pattern]
	if !ok {
		return nil, false
	}

	if !sub.RemoveCallback(cb) {
		return sub, false
	}

	r.removeLocked(sub)
	return sub, true
}

// remove drops sub if it is still registered under its pattern.
func (r *Router) remove(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.index[sub.Topic()] == sub {
		r.removeLocked(sub)
	}
}

func (r *Router) removeLocked(sub *Subscription) {
	delete(r.index, sub.Topic())
	r.subs = slices.DeleteFunc(r.subs, func(s *Subscription) bool { return s == sub })
}

// Lookup returns the subscription registered under pattern.
func (r *Router) Lookup(pattern string) (*Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.index[pattern]
	return sub, ok
}

// Subscriptions returns a snapshot in registration order.
func (r *Router) Subscriptions() []*Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.subs)
}

// Len returns the number of subscriptions.
func (r *Router) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
