package filter

import (
	"context"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitalvas/mqttmux"
)

func TestConditionMatches(t *testing.T) {
	tests := []struct {
		name  string
		cond  *Condition
		msg   *mqttmux.Message
		match bool
	}{
		{"empty condition", New(), &mqttmux.Message{Topic: "a"}, true},
		{"nil message", New(), nil, false},
		{"topic exact", New(WithTopic("sensors/temp")), &mqttmux.Message{Topic: "sensors/temp"}, true},
		{"topic mismatch", New(WithTopic("sensors/temp")), &mqttmux.Message{Topic: "sensors/hum"}, false},
		{"topic single level", New(WithTopic("sensors/+/value")), &mqttmux.Message{Topic: "sensors/a/value"}, true},
		{"topic multi level", New(WithTopic("sensors/#")), &mqttmux.Message{Topic: "sensors/a/b/c"}, true},
		{"qos", New(WithQoS(mqttmux.QoS1)), &mqttmux.Message{QoS: mqttmux.QoS1}, true},
		{"qos mismatch", New(WithQoS(mqttmux.QoS1)), &mqttmux.Message{QoS: mqttmux.QoS0}, false},
		{"retain", New(WithRetain(false)), &mqttmux.Message{Retain: true}, false},
		{"content type", New(WithContentType(regexp.MustCompile(`^application/json`))), &mqttmux.Message{ContentType: "application/json; charset=utf-8"}, true},
		{"content type mismatch", New(WithContentType(regexp.MustCompile(`^application/json`))), &mqttmux.Message{ContentType: "text/plain"}, false},
		{"requests only", New(WithRequestsOnly()), &mqttmux.Message{}, false},
		{"requests only with topic", New(WithRequestsOnly()), &mqttmux.Message{ResponseTopic: "r"}, true},
		{"response topic", New(WithResponseTopic(regexp.MustCompile(`^rpc/`))), &mqttmux.Message{ResponseTopic: "rpc/response/x"}, true},
		{"response topic mismatch", New(WithResponseTopic(regexp.MustCompile(`^rpc/`))), &mqttmux.Message{ResponseTopic: "other"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.match, tt.cond.Matches(tt.msg))
		})
	}
}

func TestConditionUserProperties(t *testing.T) {
	cond := New(
		WithUserProperty(regexp.MustCompile(`^region$`), regexp.MustCompile(`^eu-`)),
		WithUserProperty(regexp.MustCompile(`^tier$`), regexp.MustCompile(`^gold$`)),
	)

	t.Run("all matchers satisfied", func(t *testing.T) {
		assert.True(t, cond.Matches(&mqttmux.Message{UserProperties: []mqttmux.UserProperty{
			{Key: "tier", Value: "gold"},
			{Key: "region", Value: "eu-west"},
		}}))
	})

	t.Run("one matcher missing", func(t *testing.T) {
		assert.False(t, cond.Matches(&mqttmux.Message{UserProperties: []mqttmux.UserProperty{
			{Key: "region", Value: "eu-west"},
		}}))
	})

	t.Run("no properties", func(t *testing.T) {
		assert.False(t, cond.Matches(&mqttmux.Message{}))
	})
}

func TestWrap(t *testing.T) {
	var calls atomic.Int32
	fn := New(WithQoS(mqttmux.QoS1)).Wrap(func(_ context.Context, _ *mqttmux.Message) ([]byte, error) {
		calls.Add(1)
		return []byte("ok"), nil
	})

	out, err := fn(context.Background(), &mqttmux.Message{QoS: mqttmux.QoS0})
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Equal(t, int32(0), calls.Load())

	out, err = fn(context.Background(), &mqttmux.Message{QoS: mqttmux.QoS1})
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), out)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCallbackNarrowsWildcardSubscription(t *testing.T) {
	ctx := context.Background()

	conn := mqttmux.NewMemoryConnector()
	client, err := mqttmux.NewClient(conn)
	require.NoError(t, err)
	require.NoError(t, client.Connect(ctx))

	var hits atomic.Int32
	cb := New(WithTopic("sensors/+/temp")).Callback("temps", func(_ context.Context, _ *mqttmux.Message) ([]byte, error) {
		hits.Add(1)
		return nil, nil
	})
	assert.Equal(t, "temps", cb.Name())

	_, err = client.Subscribe(ctx, cb, "sensors/#")
	require.NoError(t, err)

	conn.Deliver(&mqttmux.Message{Topic: "sensors/a/temp"})
	conn.Deliver(&mqttmux.Message{Topic: "sensors/a/humidity"})
	conn.Deliver(&mqttmux.Message{Topic: "sensors/b/temp"})

	dctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, client.Disconnect(dctx))

	assert.Equal(t, int32(2), hits.Load())
}
