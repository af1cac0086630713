// Package filter narrows mqttmux callbacks with conditions on the delivered
// message. A wrapped callback that does not match returns no response and
// no error, so the Dispatcher treats it as handled.
package filter

import (
	"context"
	"regexp"

	"github.com/vitalvas/mqttmux"
)

// userPropertyMatcher holds regexp patterns for matching user properties.
type userPropertyMatcher struct {
	keyPattern   *regexp.Regexp
	valuePattern *regexp.Regexp
}

// Condition defines filtering criteria for delivered messages.
type Condition struct {
	topicFilter         *string
	qos                 *mqttmux.QoS
	retain              *bool
	contentTypeRegexp   *regexp.Regexp
	responseTopicRegexp *regexp.Regexp
	requireResponse     bool
	userProperties      []userPropertyMatcher
}

// ConditionOption configures a Condition.
type ConditionOption func(*Condition)

// WithTopic narrows a wildcard subscription to topics matching filter.
// Supports MQTT wildcards: + (single level) and # (multi level).
func WithTopic(filter string) ConditionOption {
	return func(c *Condition) {
		c.topicFilter = &filter
	}
}

// WithQoS filters messages by delivered QoS level.
func WithQoS(qos mqttmux.QoS) ConditionOption {
	return func(c *Condition) {
		c.qos = &qos
	}
}

// WithRetain filters messages by their retain flag.
func WithRetain(retain bool) ConditionOption {
	return func(c *Condition) {
		c.retain = &retain
	}
}

// WithContentType filters messages by content type regexp pattern.
func WithContentType(pattern *regexp.Regexp) ConditionOption {
	return func(c *Condition) {
		c.contentTypeRegexp = pattern
	}
}

// WithResponseTopic filters messages by response topic regexp pattern.
func WithResponseTopic(pattern *regexp.Regexp) ConditionOption {
	return func(c *Condition) {
		c.responseTopicRegexp = pattern
	}
}

// WithRequestsOnly passes only messages that carry a response topic.
func WithRequestsOnly() ConditionOption {
	return func(c *Condition) {
		c.requireResponse = true
	}
}

// WithUserProperty filters messages by user property key/value regexp patterns.
// Both key and value must match for the condition to pass.
// Can be called multiple times to match multiple properties.
func WithUserProperty(keyPattern, valuePattern *regexp.Regexp) ConditionOption {
	return func(c *Condition) {
		c.userProperties = append(c.userProperties, userPropertyMatcher{
			keyPattern:   keyPattern,
			valuePattern: valuePattern,
		})
	}
}

// New builds a Condition from opts. A Condition without options matches
// every message.
func New(opts ...ConditionOption) *Condition {
	c := &Condition{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Matches checks if the condition matches the message.
func (c *Condition) Matches(msg *mqttmux.Message) bool {
	if msg == nil {
		return false
	}
	if c.topicFilter != nil && !mqttmux.TopicMatch(*c.topicFilter, msg.Topic) {
		return false
	}
	if c.qos != nil && *c.qos != msg.QoS {
		return false
	}
	if c.retain != nil && *c.retain != msg.Retain {
		return false
	}
	if c.contentTypeRegexp != nil && !c.contentTypeRegexp.MatchString(msg.ContentType) {
		return false
	}
	if c.requireResponse && !msg.HasResponseTopic() {
		return false
	}
	if c.responseTopicRegexp != nil && !c.responseTopicRegexp.MatchString(msg.ResponseTopic) {
		return false
	}
	if len(c.userProperties) > 0 && !c.matchUserProperties(msg.UserProperties) {
		return false
	}
	return true
}

// matchUserProperties checks if all user property matchers find a match.
func (c *Condition) matchUserProperties(props []mqttmux.UserProperty) bool {
	for _, matcher := range c.userProperties {
		found := false
		for _, prop := range props {
			if matcher.keyPattern.MatchString(prop.Key) && matcher.valuePattern.MatchString(prop.Value) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Wrap returns fn guarded by the condition.
//
//	client.SubscribeFunc(ctx, "sensors/#", filter.New(
//	    filter.WithContentType(regexp.MustCompile(`^application/json`)),
//	).Wrap(storeJSON))
func (c *Condition) Wrap(fn mqttmux.CallbackFunc) mqttmux.CallbackFunc {
	return func(ctx context.Context, msg *mqttmux.Message) ([]byte, error) {
		if !c.Matches(msg) {
			return nil, nil
		}
		return fn(ctx, msg)
	}
}

// Callback is Wrap returning a named mqttmux.Callback handle.
func (c *Condition) Callback(name string, fn mqttmux.CallbackFunc) *mqttmux.Callback {
	return mqttmux.NewNamedCallback(name, c.Wrap(fn))
}
