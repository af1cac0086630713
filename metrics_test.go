package mqttmux

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNoOpMetrics(t *testing.T) {
	m := NoOpMetrics{}

	m.Counter("c", nil).Inc()
	m.Gauge("g", nil).Set(3)
	m.Histogram("h", nil).ObserveDuration(time.Second)

	assert.Equal(t, float64(0), m.Counter("c", nil).Value())
	assert.Equal(t, float64(0), m.Gauge("g", nil).Value())
	assert.Equal(t, uint64(0), m.Histogram("h", nil).Count())
}

func TestDispatchMetrics(t *testing.T) {
	t.Run("nil records nothing", func(_ *testing.T) {
		d := NewDispatchMetrics(nil)
		d.MessageReceived()
		d.MessageDropped(DropReasonNoIdentifier)
		d.CallbackFinished(time.Millisecond, nil)
		d.SubscriptionAdded()
	})

	t.Run("records into the collector", func(t *testing.T) {
		m := NewMemoryMetrics()
		d := NewDispatchMetrics(m)

		d.MessageReceived()
		d.MessageReceived()
		d.MessageDropped(DropReasonUnknownIdentifier)
		d.CallbackFinished(10*time.Millisecond, nil)
		d.CallbackFinished(20*time.Millisecond, errors.New("x"))
		d.ResponsePublished()
		d.ResponseFailed()
		d.SubscriptionAdded()
		d.SubscriptionAdded()
		d.SubscriptionRemoved()
		d.SubscribeFailed()

		assert.Equal(t, float64(2), m.CounterValue(MetricMessagesReceived, nil))
		assert.Equal(t, float64(1), m.CounterValue(MetricMessagesDropped, MetricLabels{LabelReason: DropReasonUnknownIdentifier}))
		assert.Equal(t, float64(0), m.CounterValue(MetricMessagesDropped, MetricLabels{LabelReason: DropReasonNoIdentifier}))
		assert.Equal(t, float64(2), m.CounterValue(MetricCallbacksInvoked, nil))
		assert.Equal(t, float64(1), m.CounterValue(MetricCallbacksFailed, nil))
		assert.Equal(t, uint64(2), m.HistogramCount(MetricCallbackDuration, nil))
		assert.Equal(t, float64(1), m.CounterValue(MetricResponsesPublished, nil))
		assert.Equal(t, float64(1), m.CounterValue(MetricResponsesFailed, nil))
		assert.Equal(t, float64(1), m.GaugeValue(MetricSubscriptions, nil))
		assert.Equal(t, float64(1), m.CounterValue(MetricSubscribeFailures, nil))
	})
}
