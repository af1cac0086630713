package mqttmux

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryMetrics(t *testing.T) {
	t.Run("counter operations", func(t *testing.T) {
		metrics := NewMemoryMetrics()
		counter := metrics.Counter("test_counter", nil)

		counter.Inc()
		assert.Equal(t, float64(1), counter.Value())

		counter.Add(5.5)
		assert.Equal(t, float64(6.5), counter.Value())
		assert.Equal(t, float64(6.5), metrics.CounterValue("test_counter", nil))
	})

	t.Run("gauge operations", func(t *testing.T) {
		metrics := NewMemoryMetrics()
		gauge := metrics.Gauge("test_gauge", nil)

		gauge.Set(100)
		gauge.Inc()
		gauge.Dec()
		gauge.Dec()
		assert.Equal(t, float64(99), metrics.GaugeValue("test_gauge", nil))
	})

	t.Run("histogram operations", func(t *testing.T) {
		metrics := NewMemoryMetrics()
		h := metrics.Histogram("test_hist", nil)

		h.Observe(0.5)
		h.ObserveDuration(1500 * time.Millisecond)
		assert.Equal(t, uint64(2), h.Count())
		assert.InDelta(t, 2.0, h.Sum(), 1e-9)
		assert.Same(t, h, metrics.Histogram("test_hist", nil))
	})

	t.Run("labels distinguish series and ignore order", func(t *testing.T) {
		metrics := NewMemoryMetrics()
		metrics.Counter("c", MetricLabels{"a": "1", "b": "2"}).Inc()
		metrics.Counter("c", MetricLabels{"b": "2", "a": "1"}).Inc()
		metrics.Counter("c", MetricLabels{"a": "x"}).Inc()

		assert.Equal(t, float64(2), metrics.CounterValue("c", MetricLabels{"a": "1", "b": "2"}))
		assert.Equal(t, float64(1), metrics.CounterValue("c", MetricLabels{"a": "x"}))
		assert.Equal(t, float64(0), metrics.CounterValue("c", nil))
	})

	t.Run("unknown series read as zero", func(t *testing.T) {
		metrics := NewMemoryMetrics()
		assert.Equal(t, float64(0), metrics.GaugeValue("missing", nil))
		assert.Equal(t, uint64(0), metrics.HistogramCount("missing", nil))
	})

	t.Run("concurrent updates", func(t *testing.T) {
		metrics := NewMemoryMetrics()

		var wg sync.WaitGroup
		for range 100 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				metrics.Counter("hits", nil).Inc()
				metrics.Histogram("lat", nil).Observe(1)
			}()
		}
		wg.Wait()

		assert.Equal(t, float64(100), metrics.CounterValue("hits", nil))
		assert.Equal(t, uint64(100), metrics.HistogramCount("lat", nil))
	})
}
