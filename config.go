package mqttmux

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "MQTTMUX_"

// Config holds the configuration of a client program.
type Config struct {
	Broker    BrokerConfig    `yaml:"broker" envPrefix:"BROKER_"`
	Dispatch  DispatchConfig  `yaml:"dispatch" envPrefix:"DISPATCH_"`
	Subscribe SubscribeConfig `yaml:"subscribe" envPrefix:"SUBSCRIBE_"`
	Breaker   BreakerConfig   `yaml:"breaker" envPrefix:"BREAKER_"`
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
}

// BrokerConfig holds connection settings consumed by connector adapters.
type BrokerConfig struct {
	URL            string        `yaml:"url" env:"URL"`
	ClientID       string        `yaml:"client_id" env:"CLIENT_ID"`
	Username       string        `yaml:"username" env:"USERNAME"`
	Password       string        `yaml:"password" env:"PASSWORD"`
	KeepAlive      time.Duration `yaml:"keep_alive" env:"KEEP_ALIVE"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
	CleanSession   bool          `yaml:"clean_session" env:"CLEAN_SESSION"`
	AutoReconnect  bool          `yaml:"auto_reconnect" env:"AUTO_RECONNECT"`
}

// DispatchConfig holds response and callback settings.
type DispatchConfig struct {
	ResponseQoS       int           `yaml:"response_qos" env:"RESPONSE_QOS"`
	ResponseRetain    bool          `yaml:"response_retain" env:"RESPONSE_RETAIN"`
	ResponseRateLimit float64       `yaml:"response_rate_limit" env:"RESPONSE_RATE_LIMIT"` // responses per second, 0 = unlimited
	ResponseBurst     int           `yaml:"response_burst" env:"RESPONSE_BURST"`
	CallbackTimeout   time.Duration `yaml:"callback_timeout" env:"CALLBACK_TIMEOUT"` // 0 = no timeout
	DrainTimeout      time.Duration `yaml:"drain_timeout" env:"DRAIN_TIMEOUT"`
}

// SubscribeConfig holds the default subscribe options.
type SubscribeConfig struct {
	QoS               int  `yaml:"qos" env:"QOS"`
	NoLocal           bool `yaml:"no_local" env:"NO_LOCAL"`
	RetainAsPublished bool `yaml:"retain_as_published" env:"RETAIN_AS_PUBLISHED"`
	RetainHandling    int  `yaml:"retain_handling" env:"RETAIN_HANDLING"`
}

// BreakerConfig holds circuit breaker settings for connector operations.
type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled" env:"ENABLED"`
	MaxRequests      uint32        `yaml:"max_requests" env:"MAX_REQUESTS"`
	Interval         time.Duration `yaml:"interval" env:"INTERVAL"`
	Timeout          time.Duration `yaml:"timeout" env:"TIMEOUT"`
	FailureThreshold uint32        `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			URL:            "tcp://localhost:1883",
			KeepAlive:      60 * time.Second,
			ConnectTimeout: 10 * time.Second,
			CleanSession:   true,
			AutoReconnect:  true,
		},
		Dispatch: DispatchConfig{
			ResponseBurst: 1,
			DrainTimeout:  5 * time.Second,
		},
		Breaker: BreakerConfig{
			MaxRequests:      1,
			Interval:         60 * time.Second,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads filename over the defaults, applies MQTTMUX_* environment
// overrides and validates the result. An empty or missing filename yields
// the defaults with environment overrides.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()

	if filename != "" {
		data, err := os.ReadFile(filename)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Broker.URL == "" {
		return fmt.Errorf("broker.url cannot be empty")
	}
	if c.Broker.KeepAlive < 0 {
		return fmt.Errorf("broker.keep_alive cannot be negative")
	}
	if c.Dispatch.ResponseQoS < 0 || c.Dispatch.ResponseQoS > 2 {
		return fmt.Errorf("dispatch.response_qos must be 0, 1 or 2")
	}
	if c.Dispatch.ResponseRateLimit < 0 {
		return fmt.Errorf("dispatch.response_rate_limit cannot be negative")
	}
	if c.Dispatch.CallbackTimeout < 0 {
		return fmt.Errorf("dispatch.callback_timeout cannot be negative")
	}
	if c.Subscribe.QoS < 0 || c.Subscribe.QoS > 2 {
		return fmt.Errorf("subscribe.qos must be 0, 1 or 2")
	}
	if c.Subscribe.RetainHandling < 0 || c.Subscribe.RetainHandling > 2 {
		return fmt.Errorf("subscribe.retain_handling must be 0, 1 or 2")
	}
	if c.Breaker.Enabled && c.Breaker.FailureThreshold == 0 {
		return fmt.Errorf("breaker.failure_threshold must be positive when the breaker is enabled")
	}
	return nil
}

// SubscribeOptions converts the subscribe section to SubscribeOptions.
func (c *Config) SubscribeOptions() SubscribeOptions {
	return SubscribeOptions{
		QoS:               QoS(c.Subscribe.QoS),
		NoLocal:           c.Subscribe.NoLocal,
		RetainAsPublished: c.Subscribe.RetainAsPublished,
		RetainHandling:    RetainHandling(c.Subscribe.RetainHandling),
	}
}

// DispatcherOptions converts the dispatch section to dispatcher options.
func (c *Config) DispatcherOptions() []DispatcherOption {
	return []DispatcherOption{
		WithResponseQoS(QoS(c.Dispatch.ResponseQoS)),
		WithResponseRetain(c.Dispatch.ResponseRetain),
		WithResponseRateLimit(c.Dispatch.ResponseRateLimit, c.Dispatch.ResponseBurst),
		WithCallbackTimeout(c.Dispatch.CallbackTimeout),
	}
}

// ClientOptions converts the configuration to client options.
func (c *Config) ClientOptions() []Option {
	opts := []Option{
		WithClientDefaultSubscribeOptions(c.SubscribeOptions()),
		WithDispatcherOptions(c.DispatcherOptions()...),
	}
	if c.Broker.ClientID != "" {
		opts = append(opts, WithClientID(c.Broker.ClientID))
	}
	return opts
}

// LogLevel returns the configured log level.
func (c *Config) LogLevel() LogLevel {
	return ParseLogLevel(c.Log.Level)
}
