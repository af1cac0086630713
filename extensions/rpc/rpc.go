// Package rpc provides the requester side of MQTT v5.0 request/response on
// top of an mqttmux client. A request carries a response topic and
// correlation data; responders built on the mqttmux Dispatcher answer by
// returning a payload from their callback.
// MQTT v5.0 spec: Section 4.10 (Request / Response)
package rpc

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vitalvas/mqttmux"
)

var (
	// ErrTimeout is returned when a request times out waiting for a response.
	ErrTimeout = errors.New("rpc: request timeout")

	// ErrClientClosed is returned when the client is disconnected or the
	// handler is closed during a request.
	ErrClientClosed = errors.New("rpc: client closed")
)

// Headers represents RPC headers as key-value pairs.
// Headers are transmitted using MQTT v5.0 User Properties.
type Headers map[string]string

// Request represents an RPC request with optional headers.
type Request struct {
	// Payload is the request body.
	Payload []byte

	// Headers contains optional request headers.
	Headers Headers

	// ContentType is the MIME type of the payload (optional).
	ContentType string
}

// Response represents an RPC response with headers.
type Response struct {
	Payload         []byte
	Headers         Headers
	ContentType     string
	CorrelationData []byte
}

// Client is the part of *mqttmux.Client the handler needs.
type Client interface {
	ClientID() string
	SubscribeFunc(ctx context.Context, pattern string, fn mqttmux.CallbackFunc, opts ...mqttmux.SubscribeOption) (*mqttmux.Callback, *mqttmux.Subscription, error)
	UnsubscribeTopic(ctx context.Context, pattern string, cb *mqttmux.Callback) error
	Publish(ctx context.Context, msg *mqttmux.Message) error
	IsConnected() bool
}

// HandlerOptions configures the RPC handler.
type HandlerOptions struct {
	// ResponseTopic is the topic where responses will be received.
	// If empty, defaults to "rpc/response/{clientID}".
	ResponseTopic string

	// QoS is the quality of service level for requests and the response
	// subscription. Defaults to 0.
	QoS mqttmux.QoS
}

// Handler correlates published requests with their responses.
type Handler struct {
	client        Client
	callback      *mqttmux.Callback
	responseTopic string
	qos           mqttmux.QoS

	mu      sync.Mutex
	pending map[string]chan *Response

	closeOnce sync.Once
	done      chan struct{}
}

// NewHandler creates a new RPC handler and subscribes to the response topic.
func NewHandler(ctx context.Context, client Client, opts *HandlerOptions) (*Handler, error) {
	if client == nil {
		return nil, errors.New("rpc: client is required")
	}

	if opts == nil {
		opts = &HandlerOptions{}
	}

	responseTopic := opts.ResponseTopic
	if responseTopic == "" {
		responseTopic = fmt.Sprintf("rpc/response/%s", client.ClientID())
	}

	h := &Handler{
		client:        client,
		responseTopic: responseTopic,
		qos:           opts.QoS,
		pending:       make(map[string]chan *Response),
		done:          make(chan struct{}),
	}

	cb, _, err := client.SubscribeFunc(ctx, responseTopic, h.handleResponse, mqttmux.WithQoS(opts.QoS))
	if err != nil {
		return nil, fmt.Errorf("rpc: failed to subscribe to response topic: %w", err)
	}
	h.callback = cb

	return h, nil
}

// ResponseTopic returns the configured response topic.
func (h *Handler) ResponseTopic() string {
	return h.responseTopic
}

// Pending returns the number of requests waiting for a response.
func (h *Handler) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

// Call publishes req to topic with the handler's response topic and a fresh
// correlation identifier, then blocks until the correlated response
// arrives, ctx is done or the handler is closed.
func (h *Handler) Call(ctx context.Context, topic string, req *Request) (*Response, error) {
	if !h.client.IsConnected() {
		return nil, ErrClientClosed
	}

	select {
	case <-h.done:
		return nil, ErrClientClosed
	default:
	}

	if req == nil {
		req = &Request{}
	}

	correlID := uuid.NewString()

	respChan := make(chan *Response, 1)
	h.addPending(correlID, respChan)
	defer h.removePending(correlID)

	msg := &mqttmux.Message{
		Topic:           topic,
		Payload:         req.Payload,
		QoS:             h.qos,
		ResponseTopic:   h.responseTopic,
		CorrelationData: []byte(correlID),
		ContentType:     req.ContentType,
	}

	if len(req.Headers) > 0 {
		msg.UserProperties = make([]mqttmux.UserProperty, 0, len(req.Headers))
		for _, k := range slices.Sorted(maps.Keys(req.Headers)) {
			msg.UserProperties = append(msg.UserProperties, mqttmux.UserProperty{Key: k, Value: req.Headers[k]})
		}
	}

	if err := h.client.Publish(ctx, msg); err != nil {
		return nil, fmt.Errorf("rpc: failed to publish request: %w", err)
	}

	select {
	case resp := <-respChan:
		return resp, nil
	case <-h.done:
		return nil, ErrClientClosed
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// CallWithTimeout is a convenience method that creates a context with timeout.
func (h *Handler) CallWithTimeout(topic string, req *Request, timeout time.Duration) (*Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return h.Call(ctx, topic, req)
}

// Request sends a simple request without headers and waits for a response.
func (h *Handler) Request(ctx context.Context, topic string, payload []byte) (*Response, error) {
	return h.Call(ctx, topic, &Request{Payload: payload})
}

// Close fails every waiting request with ErrClientClosed and unsubscribes
// from the response topic. It is safe to call more than once.
func (h *Handler) Close(ctx context.Context) error {
	var err error
	h.closeOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		clear(h.pending)
		h.mu.Unlock()

		err = h.client.UnsubscribeTopic(ctx, h.responseTopic, h.callback)
	})
	return err
}

func (h *Handler) addPending(correlID string, ch chan *Response) {
	h.mu.Lock()
	h.pending[correlID] = ch
	h.mu.Unlock()
}

func (h *Handler) removePending(correlID string) {
	h.mu.Lock()
	delete(h.pending, correlID)
	h.mu.Unlock()
}

// handleResponse is the callback bound to the response topic. It never
// produces a reply of its own.
func (h *Handler) handleResponse(_ context.Context, msg *mqttmux.Message) ([]byte, error) {
	if len(msg.CorrelationData) == 0 {
		return nil, nil
	}

	resp := &Response{
		Payload:         msg.Payload,
		ContentType:     msg.ContentType,
		CorrelationData: msg.CorrelationData,
	}
	if len(msg.UserProperties) > 0 {
		resp.Headers = make(Headers, len(msg.UserProperties))
		for _, prop := range msg.UserProperties {
			resp.Headers[prop.Key] = prop.Value
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.pending[string(msg.CorrelationData)]
	if !ok {
		return nil, nil // late or foreign response
	}

	// the channel holds one response; duplicates are dropped
	select {
	case ch <- resp:
	default:
	}
	return nil, nil
}
