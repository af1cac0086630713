package mqttmux

import (
	"errors"
	"fmt"
)

// Sentinel errors - check with errors.Is().
var (
	// ErrMalformedPattern is returned when a topic pattern fails validation.
	ErrMalformedPattern = errors.New("malformed topic pattern")

	// ErrInvalidTopic is returned when a topic name is invalid for publishing.
	ErrInvalidTopic = errors.New("invalid topic")

	// ErrConnectFailed is returned when the connector cannot connect.
	ErrConnectFailed = errors.New("connect failed")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("subscribe failed")

	// ErrUnsubscribeFailed is returned when an unsubscribe operation fails.
	ErrUnsubscribeFailed = errors.New("unsubscribe failed")

	// ErrUnknownIdentifier is returned when unsubscribing an identifier the
	// manager does not index.
	ErrUnknownIdentifier = errors.New("unknown subscription identifier")

	// ErrIdentifierExhausted is returned when no subscription identifier is left.
	ErrIdentifierExhausted = errors.New("subscription identifiers exhausted")

	// ErrResponseWithoutTopic is returned when a callback produced a response
	// for a message that carries no response topic.
	ErrResponseWithoutTopic = errors.New("callback returned a response but message has no response topic")

	// ErrCallbackFailed wraps any error or panic raised by a user callback.
	ErrCallbackFailed = errors.New("callback failed")

	// ErrNilCallback is returned when a nil callback or a callback without
	// a function is registered.
	ErrNilCallback = errors.New("callback is nil")

	// ErrCallbackTimeout is reported when a callback exceeds the configured timeout.
	ErrCallbackTimeout = errors.New("callback timeout")

	// ErrNotConnected is returned when an operation requires an active connection.
	ErrNotConnected = errors.New("not connected")
)

// ConnectError contains details about a failed connection attempt.
// Extract with errors.As().
type ConnectError struct {
	Cause error
}

func (e *ConnectError) Error() string {
	if e.Cause == nil {
		return ErrConnectFailed.Error()
	}
	return "connect failed: " + e.Cause.Error()
}

func (e *ConnectError) Unwrap() []error { return []error{ErrConnectFailed, e.Cause} }

// PublishError contains details about a failed publish operation.
// Extract with errors.As().
type PublishError struct {
	Topic string
	Cause error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish failed: topic %q: %v", e.Topic, e.Cause)
}

func (e *PublishError) Unwrap() []error { return []error{ErrPublishFailed, e.Cause} }

// SubscribeError contains details about a failed subscribe operation.
// Extract with errors.As().
type SubscribeError struct {
	Pattern    string
	Identifier int
	Cause      error
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("subscribe failed: pattern %q (id %d): %v", e.Pattern, e.Identifier, e.Cause)
}

func (e *SubscribeError) Unwrap() []error { return []error{ErrSubscribeFailed, e.Cause} }

// UnsubscribeError contains details about a failed unsubscribe operation.
// Extract with errors.As().
type UnsubscribeError struct {
	Pattern    string
	Identifier int
	Cause      error
}

func (e *UnsubscribeError) Error() string {
	return fmt.Sprintf("unsubscribe failed: pattern %q (id %d): %v", e.Pattern, e.Identifier, e.Cause)
}

func (e *UnsubscribeError) Unwrap() []error { return []error{ErrUnsubscribeFailed, e.Cause} }

// CallbackError contains details about a failed callback invocation.
// Panic holds the recovered value when the callback panicked.
// Extract with errors.As().
type CallbackError struct {
	Callback string
	Pattern  string
	Cause    error
	Panic    any
}

func (e *CallbackError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("callback %s on %q panicked: %v", e.Callback, e.Pattern, e.Panic)
	}
	return fmt.Sprintf("callback %s on %q failed: %v", e.Callback, e.Pattern, e.Cause)
}

func (e *CallbackError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrCallbackFailed}
	}
	return []error{ErrCallbackFailed, e.Cause}
}

// ResponseError contains details about a response that could not be sent.
// Extract with errors.As().
type ResponseError struct {
	Callback      string
	Topic         string
	ResponseTopic string
	Cause         error
}

func (e *ResponseError) Error() string {
	if e.ResponseTopic == "" {
		return fmt.Sprintf("callback %s on topic %q: %v", e.Callback, e.Topic, e.Cause)
	}
	return fmt.Sprintf("callback %s: response to %q: %v", e.Callback, e.ResponseTopic, e.Cause)
}

func (e *ResponseError) Unwrap() error { return e.Cause }
