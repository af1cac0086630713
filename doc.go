// Package mqttmux provides client-side routing and dispatch for MQTT v5.0
// subscriptions.
//
// Callbacks are registered against topic patterns on a Router. Registering
// the same pattern string twice merges both callbacks into one Subscription,
// so the broker sees a single subscription. A SubscriptionManager subscribes
// every Subscription through a Connector and indexes it by its MQTT v5.0
// subscription identifier. When a message arrives, the Dispatcher resolves
// each identifier it carries, runs the callbacks of the matching
// Subscriptions concurrently and, if a callback returns a payload, publishes
// it to the message's response topic with the original correlation data.
//
// Topic matching is never done client-side: the broker already resolved it
// when it attached the subscription identifiers.
//
// # Client
//
//	client, err := mqttmux.NewClient(connector,
//	    mqttmux.WithLogger(mqttmux.NewStdLogger(os.Stderr, mqttmux.LogLevelInfo)),
//	)
//
//	client.Handle("sensors/+/temp", func(ctx context.Context, msg *mqttmux.Message) ([]byte, error) {
//	    return nil, store(msg.Topic, msg.Payload)
//	}, mqttmux.WithQoS(mqttmux.QoS1))
//
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Disconnect(context.Background())
//
// # Routers
//
// Routers can be built independently and composed; merge rules apply
// across them:
//
//	api := mqttmux.NewRouter()
//	api.Handle("svc/echo", echo)
//
//	client, _ := mqttmux.NewClient(connector, mqttmux.WithRouters(api))
//
// # Request / Response
//
// A callback answering a request returns the response payload:
//
//	client.Handle("svc/time", func(ctx context.Context, msg *mqttmux.Message) ([]byte, error) {
//	    return []byte(time.Now().Format(time.RFC3339)), nil
//	})
//
// The response goes to msg.ResponseTopic and carries msg.CorrelationData.
// Returning a payload for a message without a response topic is reported as
// ErrResponseWithoutTopic for that callback only.
//
// # Connectors
//
// A Connector owns the wire: connection, keep-alive, acknowledgements and
// reconnection. MemoryConnector is an in-process implementation for tests;
// the connector/paho package adapts github.com/eclipse/paho.mqtt.golang.
package mqttmux
