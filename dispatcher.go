package mqttmux

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the dispatcher logger.
func WithDispatcherLogger(logger Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDispatcherMetrics sets the metrics collector.
func WithDispatcherMetrics(metrics Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = NewDispatchMetrics(metrics)
	}
}

// WithResponseQoS sets the QoS of published responses. Default is 0.
func WithResponseQoS(qos QoS) DispatcherOption {
	return func(d *Dispatcher) {
		d.responseQoS = qos
	}
}

// WithResponseRetain sets the retain flag of published responses. Default is false.
func WithResponseRetain(retain bool) DispatcherOption {
	return func(d *Dispatcher) {
		d.responseRetain = retain
	}
}

// WithResponseRateLimit limits published responses to r per second with the
// given burst. A non-positive r disables limiting.
func WithResponseRateLimit(r float64, burst int) DispatcherOption {
	return func(d *Dispatcher) {
		if r <= 0 {
			d.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(r), burst)
	}
}

// WithCallbackTimeout bounds each callback invocation. The callback context
// carries the deadline; a callback still running at the deadline is reported
// as ErrCallbackTimeout and its late result is discarded. Zero (the default)
// means no bound.
func WithCallbackTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.callbackTimeout = timeout
	}
}

// WithState sets the State attached to every message handed to callbacks.
func WithState(state *State) DispatcherOption {
	return func(d *Dispatcher) {
		d.state = state
	}
}

// WithBaseContext sets the context callbacks derive theirs from.
func WithBaseContext(ctx context.Context) DispatcherOption {
	return func(d *Dispatcher) {
		if ctx != nil {
			d.baseCtx = ctx
		}
	}
}

// Dispatcher fans inbound messages out to the callbacks of the subscriptions
// named by the message's subscription identifiers.
//
// Dispatch never waits for callbacks: every resolved subscription is handled
// by its own goroutine, which in turn runs each callback in its own goroutine
// and handles results in completion order. Errors and panics raised by a
// callback are logged and never affect sibling callbacks or other messages.
type Dispatcher struct {
	resolver  SubscriptionResolver
	publisher Publisher
	logger    Logger
	metrics   *DispatchMetrics
	state     *State
	baseCtx   context.Context

	responseQoS     QoS
	responseRetain  bool
	limiter         *rate.Limiter
	callbackTimeout time.Duration

	// idle is closed whenever running drops to zero.
	mu      sync.Mutex
	running int
	idle    chan struct{}
}

// NewDispatcher creates a dispatcher resolving identifiers through resolver
// and publishing responses through publisher.
func NewDispatcher(resolver SubscriptionResolver, publisher Publisher, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		resolver:  resolver,
		publisher: publisher,
		logger:    NewNoOpLogger(),
		metrics:   NewDispatchMetrics(nil),
		baseCtx:   context.Background(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch schedules msg for every subscription identifier it carries and
// returns immediately.
//
// A message without identifiers is a protocol usage violation: it is logged
// and dropped, and no topic matching is attempted. Unknown identifiers are
// logged and skipped; the remaining identifiers are still dispatched.
func (d *Dispatcher) Dispatch(msg *Message) {
	if msg == nil {
		return
	}

	d.metrics.MessageReceived()

	if len(msg.SubscriptionIdentifiers) == 0 {
		d.metrics.MessageDropped(DropReasonNoIdentifier)
		d.logger.Warn("message has no subscription identifier, dropping", LogFields{
			LogFieldTopic: msg.Topic,
		})
		return
	}

	for _, id := range msg.SubscriptionIdentifiers {
		sub, ok := d.resolver.GetSubscription(id)
		if !ok {
			d.metrics.MessageDropped(DropReasonUnknownIdentifier)
			d.logger.Error("message has unknown subscription identifier", LogFields{
				LogFieldTopic:          msg.Topic,
				LogFieldSubscriptionID: id,
			})
			continue
		}

		d.begin()
		go func() {
			defer d.end()
			d.process(sub, msg)
		}()
	}
}

// MessageCallback returns Dispatch as a connector message hook.
func (d *Dispatcher) MessageCallback() MessageCallback {
	return d.Dispatch
}

// callbackResult is the outcome of one callback invocation.
type callbackResult struct {
	cb      *Callback
	payload []byte
	err     error
}

// process runs every callback of sub concurrently and handles each result as
// soon as it is available.
func (d *Dispatcher) process(sub *Subscription, msg *Message) {
	callbacks := sub.Callbacks()
	if len(callbacks) == 0 {
		return
	}

	delivered := msg.Clone()
	delivered.State = d.state
	delivered.Publisher = d.publisher

	// buffered so that callbacks abandoned after a timeout never block
	results := make(chan callbackResult, len(callbacks))
	for _, cb := range callbacks {
		go d.invoke(sub, cb, delivered, results)
	}

	for range callbacks {
		res := <-results
		if res.err != nil {
			d.logger.Error("callback failed", LogFields{
				LogFieldPattern:  sub.Topic(),
				LogFieldCallback: res.cb.Name(),
				LogFieldError:    res.err.Error(),
			})
			continue
		}

		if err := d.handleResult(res.cb, res.payload, msg); err != nil {
			d.metrics.ResponseFailed()
			d.logger.Error("callback result handling failed", LogFields{
				LogFieldPattern:       sub.Topic(),
				LogFieldCallback:      res.cb.Name(),
				LogFieldResponseTopic: msg.ResponseTopic,
				LogFieldError:         err.Error(),
			})
		}
	}
}

// invoke runs one callback and sends exactly one result.
func (d *Dispatcher) invoke(sub *Subscription, cb *Callback, msg *Message, results chan<- callbackResult) {
	ctx, cancel := d.callbackContext()
	defer cancel()

	if d.callbackTimeout <= 0 {
		payload, err := d.call(ctx, sub, cb, msg)
		results <- callbackResult{cb: cb, payload: payload, err: err}
		return
	}

	done := make(chan callbackResult, 1)
	go func() {
		payload, err := d.call(ctx, sub, cb, msg)
		done <- callbackResult{cb: cb, payload: payload, err: err}
	}()

	select {
	case res := <-done:
		results <- res
	case <-ctx.Done():
		cause := fmt.Errorf("%w after %s", ErrCallbackTimeout, d.callbackTimeout)
		if err := d.baseCtx.Err(); err != nil {
			cause = err
		}
		results <- callbackResult{cb: cb, err: &CallbackError{
			Callback: cb.Name(),
			Pattern:  sub.Topic(),
			Cause:    cause,
		}}
	}
}

func (d *Dispatcher) callbackContext() (context.Context, context.CancelFunc) {
	if d.callbackTimeout > 0 {
		return context.WithTimeout(d.baseCtx, d.callbackTimeout)
	}
	return context.WithCancel(d.baseCtx)
}

// call invokes cb, converting errors and panics into *CallbackError.
func (d *Dispatcher) call(ctx context.Context, sub *Subscription, cb *Callback, msg *Message) (payload []byte, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			payload = nil
			err = &CallbackError{Callback: cb.Name(), Pattern: sub.Topic(), Panic: r}
		}
		d.metrics.CallbackFinished(time.Since(start), err)
	}()

	payload, err = cb.Call(ctx, msg)
	if err != nil {
		return nil, &CallbackError{Callback: cb.Name(), Pattern: sub.Topic(), Cause: err}
	}
	return payload, nil
}

// handleResult publishes a non-empty callback result to the message's
// response topic, echoing its correlation data.
func (d *Dispatcher) handleResult(cb *Callback, payload []byte, msg *Message) error {
	if len(payload) == 0 {
		return nil
	}

	if !msg.HasResponseTopic() {
		return &ResponseError{Callback: cb.Name(), Topic: msg.Topic, Cause: ErrResponseWithoutTopic}
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(d.baseCtx); err != nil {
			return &ResponseError{Callback: cb.Name(), Topic: msg.Topic, ResponseTopic: msg.ResponseTopic, Cause: err}
		}
	}

	response := &Message{
		Topic:           msg.ResponseTopic,
		Payload:         payload,
		QoS:             d.responseQoS,
		Retain:          d.responseRetain,
		CorrelationData: msg.CorrelationData,
	}

	if err := d.publisher.Publish(d.baseCtx, response); err != nil {
		return &ResponseError{Callback: cb.Name(), Topic: msg.Topic, ResponseTopic: msg.ResponseTopic, Cause: err}
	}

	d.metrics.ResponsePublished()
	return nil
}

// Wait blocks until every scheduled dispatch unit has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	d.mu.Lock()
	if d.running == 0 {
		d.mu.Unlock()
		return nil
	}
	idle := d.idle
	d.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return errors.Join(fmt.Errorf("%d dispatch units still running", d.InFlight()), ctx.Err())
	}
}

// InFlight returns the number of dispatch units currently running.
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *Dispatcher) begin() {
	d.mu.Lock()
	if d.running == 0 {
		d.idle = make(chan struct{})
	}
	d.running++
	d.mu.Unlock()
}

func (d *Dispatcher) end() {
	d.mu.Lock()
	d.running--
	if d.running == 0 {
		close(d.idle)
	}
	d.mu.Unlock()
}
