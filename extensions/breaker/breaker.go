// Package breaker guards a mqttmux Connector with a circuit breaker. After a
// run of consecutive failures the breaker opens and Publish, Subscribe and
// Unsubscribe fail fast until the reset timeout elapses.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"github.com/vitalvas/mqttmux"
)

// Option configures a Connector.
type Option func(*options)

type options struct {
	name             string
	maxRequests      uint32
	interval         time.Duration
	timeout          time.Duration
	failureThreshold uint32
	logger           mqttmux.Logger
}

func defaultOptions() *options {
	return &options{
		name:             "connector",
		maxRequests:      1,
		timeout:          30 * time.Second,
		failureThreshold: 5,
		logger:           mqttmux.NewNoOpLogger(),
	}
}

// WithName sets the breaker name reported in state change logs.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithMaxRequests sets how many requests may pass while half-open.
func WithMaxRequests(n uint32) Option {
	return func(o *options) {
		o.maxRequests = n
	}
}

// WithInterval sets the cyclic period after which closed-state counts are
// cleared. Zero never clears them.
func WithInterval(d time.Duration) Option {
	return func(o *options) {
		o.interval = d
	}
}

// WithTimeout sets how long the breaker stays open before probing again.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithFailureThreshold sets the consecutive failures that open the breaker.
func WithFailureThreshold(n uint32) Option {
	return func(o *options) {
		if n > 0 {
			o.failureThreshold = n
		}
	}
}

// WithLogger sets the logger for state changes.
func WithLogger(logger mqttmux.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Connector wraps another Connector. Connect, Disconnect and callback
// registration pass through unguarded.
type Connector struct {
	mqttmux.Connector

	cb *gobreaker.CircuitBreaker
}

// New wraps conn with a circuit breaker.
func New(conn mqttmux.Connector, opts ...Option) *Connector {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	logger := o.logger
	threshold := o.failureThreshold

	return &Connector{
		Connector: conn,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        o.name,
			MaxRequests: o.maxRequests,
			Interval:    o.interval,
			Timeout:     o.timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				// the caller gave up; the broker link is not at fault
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.Warn("connector circuit breaker state changed", mqttmux.LogFields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				})
			},
		}),
	}
}

// NewFromConfig wraps conn when cfg.Enabled is set and returns conn as is
// otherwise.
func NewFromConfig(conn mqttmux.Connector, cfg mqttmux.BreakerConfig, logger mqttmux.Logger) mqttmux.Connector {
	if !cfg.Enabled {
		return conn
	}
	return New(conn,
		WithMaxRequests(cfg.MaxRequests),
		WithInterval(cfg.Interval),
		WithTimeout(cfg.Timeout),
		WithFailureThreshold(cfg.FailureThreshold),
		WithLogger(logger),
	)
}

// State returns the current breaker state.
func (c *Connector) State() gobreaker.State {
	return c.cb.State()
}

// Counts returns the breaker counters of the current generation.
func (c *Connector) Counts() gobreaker.Counts {
	return c.cb.Counts()
}

func (c *Connector) Publish(ctx context.Context, msg *mqttmux.Message) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.Connector.Publish(ctx, msg)
	})
	return rejected(err, mqttmux.ErrPublishFailed)
}

func (c *Connector) Subscribe(ctx context.Context, req mqttmux.SubscribeRequest) (int, error) {
	id, err := c.cb.Execute(func() (any, error) {
		return c.Connector.Subscribe(ctx, req)
	})
	if err != nil {
		return 0, rejected(err, mqttmux.ErrSubscribeFailed)
	}
	return id.(int), nil
}

func (c *Connector) Unsubscribe(ctx context.Context, identifier int) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.Connector.Unsubscribe(ctx, identifier)
	})
	return rejected(err, mqttmux.ErrUnsubscribeFailed)
}

// rejected wraps breaker rejections with the operation's sentinel. Errors
// from the wrapped connector are returned unchanged.
func rejected(err, sentinel error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return err
}
