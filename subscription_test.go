package mqttmux

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func namedHandler(_ context.Context, _ *Message) ([]byte, error) {
	return nil, nil
}

func TestCallbackName(t *testing.T) {
	t.Run("derived from function", func(t *testing.T) {
		cb := NewCallback(namedHandler)
		assert.True(t, strings.HasSuffix(cb.Name(), ".namedHandler"), cb.Name())
	})

	t.Run("explicit", func(t *testing.T) {
		cb := NewNamedCallback("echo", namedHandler)
		assert.Equal(t, "echo", cb.Name())
	})

	t.Run("nil function", func(t *testing.T) {
		assert.Equal(t, "<nil>", NewCallback(nil).Name())

		var missing *Callback
		assert.Equal(t, "<nil>", missing.Name())
	})
}

func TestCallbackCall(t *testing.T) {
	cb := NewCallback(func(_ context.Context, msg *Message) ([]byte, error) {
		return msg.Payload, nil
	})

	out, err := cb.Call(context.Background(), &Message{Payload: []byte("p")})
	require.NoError(t, err)
	assert.Equal(t, []byte("p"), out)
}

func TestSubscriptionCallbacks(t *testing.T) {
	cb1 := NewCallback(noResponse)
	cb2 := NewCallback(noResponse)

	sub := NewSubscription(MustParseTopicPattern("a/#"), SubscribeOptions{QoS: QoS1}, cb1)
	assert.Equal(t, "a/#", sub.Topic())
	assert.Equal(t, QoS1, sub.Options().QoS)
	assert.Equal(t, StateUnsubscribed, sub.State())

	_, ok := sub.Identifier()
	assert.False(t, ok)

	sub.AddCallback(cb2)
	sub.AddCallback(cb1)
	assert.Equal(t, []*Callback{cb1, cb2, cb1}, sub.Callbacks(), "registration order is kept")

	t.Run("snapshot is independent", func(t *testing.T) {
		snapshot := sub.Callbacks()
		snapshot[0] = nil
		assert.Same(t, cb1, sub.Callbacks()[0])
	})

	t.Run("remove drops every binding", func(t *testing.T) {
		assert.False(t, sub.RemoveCallback(cb1))
		assert.Equal(t, []*Callback{cb2}, sub.Callbacks())
		assert.False(t, sub.HasCallback(cb1))
		assert.True(t, sub.HasCallback(cb2))
	})

	t.Run("remove last reports empty", func(t *testing.T) {
		assert.True(t, sub.RemoveCallback(cb2))
		assert.Equal(t, 0, sub.Len())
	})
}

func TestSubscriptionRemoveAll(t *testing.T) {
	sub := NewSubscription(MustParseTopicPattern("x"), SubscribeOptions{}, NewCallback(noResponse))
	sub.AddCallback(NewCallback(noResponse))

	assert.True(t, sub.RemoveCallback(nil))
	assert.Empty(t, sub.Callbacks())
}

func TestSubscriptionStateTransitions(t *testing.T) {
	sub := NewSubscription(MustParseTopicPattern("s"), SubscribeOptions{}, nil)

	assert.True(t, sub.beginSubscribe())
	assert.Equal(t, StatePending, sub.State())
	assert.False(t, sub.beginSubscribe(), "pending is not re-entered")

	sub.setIdentifier(5)
	sub.setState(StateSubscribed)
	assert.False(t, sub.beginSubscribe())
	assert.Equal(t, "Subscription(s, id=5, SUBSCRIBED)", sub.String())
}

func TestSubscriptionConcurrentUse(t *testing.T) {
	sub := NewSubscription(MustParseTopicPattern("c"), SubscribeOptions{}, nil)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub.AddCallback(NewCallback(noResponse))
		}()
		go func() {
			defer wg.Done()
			_ = sub.Callbacks()
			_ = sub.State()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, sub.Len())
}

func TestSubscribeOptions(t *testing.T) {
	t.Run("setters", func(t *testing.T) {
		opts := applySubscribeOptions(SubscribeOptions{}, []SubscribeOption{
			WithQoS(QoS2),
			WithNoLocal(true),
			WithRetainAsPublished(true),
			WithRetainHandling(RetainDontSend),
		})
		assert.Equal(t, SubscribeOptions{
			QoS:               QoS2,
			NoLocal:           true,
			RetainAsPublished: true,
			RetainHandling:    RetainDontSend,
		}, opts)
	})

	t.Run("diff reports each field", func(t *testing.T) {
		a := SubscribeOptions{}
		b := SubscribeOptions{QoS: QoS1, NoLocal: true, RetainAsPublished: true, RetainHandling: RetainSendIfNew}

		var fields []string
		for _, m := range a.diff(b) {
			fields = append(fields, m.field)
		}
		assert.Equal(t, []string{"qos", "no_local", "retain_as_published", "retain_handling"}, fields)
		assert.Empty(t, a.diff(a))
	})
}

func TestQoSAndEnums(t *testing.T) {
	assert.True(t, QoS2.Valid())
	assert.False(t, QoS(3).Valid())

	assert.Equal(t, "SEND_ON_SUBSCRIBE", RetainSendOnSubscribe.String())
	assert.Equal(t, "SEND_IF_NEW", RetainSendIfNew.String())
	assert.Equal(t, "DONT_SEND", RetainDontSend.String())
	assert.Equal(t, "RetainHandling(7)", RetainHandling(7).String())

	assert.Equal(t, "PENDING", StatePending.String())
	assert.Equal(t, "UNKNOWN", SubscriptionState(9).String())
}

func TestSubscriptionIgnoresNilCallback(t *testing.T) {
	sub := NewSubscription(MustParseTopicPattern("n"), SubscribeOptions{}, NewCallback(noResponse))

	sub.AddCallback(nil)
	assert.Equal(t, 1, sub.Len())
}
