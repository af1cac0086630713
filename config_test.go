package mqttmux

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "tcp://localhost:1883", cfg.Broker.URL)
	assert.Equal(t, 60*time.Second, cfg.Broker.KeepAlive)
	assert.True(t, cfg.Broker.CleanSession)
	assert.Equal(t, 0, cfg.Dispatch.ResponseQoS)
	assert.False(t, cfg.Dispatch.ResponseRetain)
	assert.Equal(t, time.Duration(0), cfg.Dispatch.CallbackTimeout)
	assert.False(t, cfg.Breaker.Enabled)
	assert.Equal(t, LogLevelInfo, cfg.LogLevel())
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("empty filename yields defaults", func(t *testing.T) {
		cfg, err := LoadConfig("")
		require.NoError(t, err)
		assert.Equal(t, "tcp://localhost:1883", cfg.Broker.URL)
	})

	t.Run("yaml overrides defaults", func(t *testing.T) {
		path := writeConfig(t, `
broker:
  url: tcp://broker:1883
  client_id: responder
  keep_alive: 30s
dispatch:
  response_qos: 1
  response_rate_limit: 50
  response_burst: 10
  callback_timeout: 2s
subscribe:
  qos: 2
  no_local: true
breaker:
  enabled: true
  failure_threshold: 3
log:
  level: debug
`)
		cfg, err := LoadConfig(path)
		require.NoError(t, err)

		assert.Equal(t, "tcp://broker:1883", cfg.Broker.URL)
		assert.Equal(t, "responder", cfg.Broker.ClientID)
		assert.Equal(t, 30*time.Second, cfg.Broker.KeepAlive)
		assert.Equal(t, 10*time.Second, cfg.Broker.ConnectTimeout, "unset keys keep defaults")
		assert.Equal(t, 1, cfg.Dispatch.ResponseQoS)
		assert.Equal(t, float64(50), cfg.Dispatch.ResponseRateLimit)
		assert.Equal(t, 2*time.Second, cfg.Dispatch.CallbackTimeout)
		assert.Equal(t, QoS2, cfg.SubscribeOptions().QoS)
		assert.True(t, cfg.SubscribeOptions().NoLocal)
		assert.True(t, cfg.Breaker.Enabled)
		assert.Equal(t, uint32(3), cfg.Breaker.FailureThreshold)
		assert.Equal(t, LogLevelDebug, cfg.LogLevel())
	})

	t.Run("environment overrides yaml", func(t *testing.T) {
		path := writeConfig(t, "broker:\n  url: tcp://file:1883\n")
		t.Setenv("MQTTMUX_BROKER_URL", "tcp://env:1883")
		t.Setenv("MQTTMUX_DISPATCH_RESPONSE_RETAIN", "true")
		t.Setenv("MQTTMUX_SUBSCRIBE_RETAIN_HANDLING", "2")
		t.Setenv("MQTTMUX_LOG_LEVEL", "error")

		cfg, err := LoadConfig(path)
		require.NoError(t, err)

		assert.Equal(t, "tcp://env:1883", cfg.Broker.URL)
		assert.True(t, cfg.Dispatch.ResponseRetain)
		assert.Equal(t, RetainDontSend, cfg.SubscribeOptions().RetainHandling)
		assert.Equal(t, LogLevelError, cfg.LogLevel())
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "broker: [unterminated"))
		assert.ErrorContains(t, err, "failed to parse config file")
	})

	t.Run("malformed environment", func(t *testing.T) {
		t.Setenv("MQTTMUX_BROKER_KEEP_ALIVE", "soon")
		_, err := LoadConfig("")
		assert.ErrorContains(t, err, "failed to parse environment")
	})

	t.Run("invalid values", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "dispatch:\n  response_qos: 3\n"))
		assert.ErrorContains(t, err, "invalid configuration")
	})
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"empty url", func(c *Config) { c.Broker.URL = "" }, "broker.url"},
		{"negative keep alive", func(c *Config) { c.Broker.KeepAlive = -time.Second }, "broker.keep_alive"},
		{"response qos", func(c *Config) { c.Dispatch.ResponseQoS = 5 }, "dispatch.response_qos"},
		{"negative rate", func(c *Config) { c.Dispatch.ResponseRateLimit = -1 }, "dispatch.response_rate_limit"},
		{"negative timeout", func(c *Config) { c.Dispatch.CallbackTimeout = -time.Second }, "dispatch.callback_timeout"},
		{"subscribe qos", func(c *Config) { c.Subscribe.QoS = -1 }, "subscribe.qos"},
		{"retain handling", func(c *Config) { c.Subscribe.RetainHandling = 3 }, "subscribe.retain_handling"},
		{"breaker threshold", func(c *Config) {
			c.Breaker.Enabled = true
			c.Breaker.FailureThreshold = 0
		}, "breaker.failure_threshold"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}
}

func TestConfigClientOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Broker.ClientID = "from-config"
	cfg.Subscribe.QoS = 1
	cfg.Dispatch.ResponseQoS = 1

	client, err := NewClient(NewMemoryConnector(), cfg.ClientOptions()...)
	require.NoError(t, err)

	assert.Equal(t, "from-config", client.ClientID())
	assert.Equal(t, QoS1, client.Dispatcher().responseQoS)
	assert.Nil(t, client.Dispatcher().limiter)

	sub, err := client.Register(NewCallback(noResponse), "cfg")
	require.NoError(t, err)
	assert.Equal(t, QoS1, sub.Options().QoS)

	t.Run("empty client id is generated", func(t *testing.T) {
		assert.Len(t, DefaultConfig().ClientOptions(), 2)
	})
}
