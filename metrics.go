package mqttmux

import (
	"time"
)

// MetricLabels represents key-value pairs for metric labels.
type MetricLabels map[string]string

// Metrics defines the interface for collecting metrics.
type Metrics interface {
	// Counter returns a counter metric.
	Counter(name string, labels MetricLabels) Counter

	// Gauge returns a gauge metric.
	Gauge(name string, labels MetricLabels) Gauge

	// Histogram returns a histogram metric.
	Histogram(name string, labels MetricLabels) Histogram
}

// Counter is a monotonically increasing counter.
type Counter interface {
	Inc()
	Add(delta float64)
	Value() float64
}

// Gauge is a metric that can go up and down.
type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
	Value() float64
}

// Histogram tracks the distribution of values.
type Histogram interface {
	Observe(value float64)
	ObserveDuration(d time.Duration)
	Count() uint64
	Sum() float64
}

// NoOpMetrics is a no-op implementation of Metrics.
type NoOpMetrics struct{}

func (NoOpMetrics) Counter(_ string, _ MetricLabels) Counter     { return noOpMetric{} }
func (NoOpMetrics) Gauge(_ string, _ MetricLabels) Gauge         { return noOpMetric{} }
func (NoOpMetrics) Histogram(_ string, _ MetricLabels) Histogram { return noOpMetric{} }

type noOpMetric struct{}

func (noOpMetric) Inc()                            {}
func (noOpMetric) Dec()                            {}
func (noOpMetric) Add(_ float64)                   {}
func (noOpMetric) Set(_ float64)                   {}
func (noOpMetric) Value() float64                  { return 0 }
func (noOpMetric) Observe(_ float64)               {}
func (noOpMetric) ObserveDuration(_ time.Duration) {}
func (noOpMetric) Count() uint64                   { return 0 }
func (noOpMetric) Sum() float64                    { return 0 }

// Metric names recorded by the subscription manager and dispatcher.
const (
	MetricMessagesReceived   = "mqttmux_messages_received_total"
	MetricMessagesDropped    = "mqttmux_messages_dropped_total"
	MetricCallbacksInvoked   = "mqttmux_callbacks_invoked_total"
	MetricCallbacksFailed    = "mqttmux_callbacks_failed_total"
	MetricCallbackDuration   = "mqttmux_callback_duration_seconds"
	MetricResponsesPublished = "mqttmux_responses_published_total"
	MetricResponsesFailed    = "mqttmux_responses_failed_total"
	MetricSubscriptions      = "mqttmux_subscriptions"
	MetricSubscribeFailures  = "mqttmux_subscribe_failures_total"
)

// LabelReason is attached to MetricMessagesDropped.
const LabelReason = "reason"

// Reasons a message or one of its identifiers is dropped.
const (
	DropReasonNoIdentifier      = "no_identifier"
	DropReasonUnknownIdentifier = "unknown_identifier"
)

// DispatchMetrics provides convenience methods over Metrics.
type DispatchMetrics struct {
	metrics Metrics
}

// NewDispatchMetrics creates a new DispatchMetrics. A nil Metrics records nothing.
func NewDispatchMetrics(m Metrics) *DispatchMetrics {
	if m == nil {
		m = NoOpMetrics{}
	}
	return &DispatchMetrics{metrics: m}
}

func (d *DispatchMetrics) MessageReceived() {
	d.metrics.Counter(MetricMessagesReceived, nil).Inc()
}

func (d *DispatchMetrics) MessageDropped(reason string) {
	d.metrics.Counter(MetricMessagesDropped, MetricLabels{LabelReason: reason}).Inc()
}

// CallbackFinished records one callback invocation and how long it ran.
func (d *DispatchMetrics) CallbackFinished(elapsed time.Duration, err error) {
	d.metrics.Counter(MetricCallbacksInvoked, nil).Inc()
	d.metrics.Histogram(MetricCallbackDuration, nil).ObserveDuration(elapsed)
	if err != nil {
		d.metrics.Counter(MetricCallbacksFailed, nil).Inc()
	}
}

func (d *DispatchMetrics) ResponsePublished() {
	d.metrics.Counter(MetricResponsesPublished, nil).Inc()
}

func (d *DispatchMetrics) ResponseFailed() {
	d.metrics.Counter(MetricResponsesFailed, nil).Inc()
}

func (d *DispatchMetrics) SubscriptionAdded() {
	d.metrics.Gauge(MetricSubscriptions, nil).Inc()
}

func (d *DispatchMetrics) SubscriptionRemoved() {
	d.metrics.Gauge(MetricSubscriptions, nil).Dec()
}

func (d *DispatchMetrics) SubscribeFailed() {
	d.metrics.Counter(MetricSubscribeFailures, nil).Inc()
}
