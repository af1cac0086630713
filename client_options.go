package mqttmux

// clientOptions holds configuration for a Client.
type clientOptions struct {
	clientID          string
	logger            Logger
	metrics           Metrics
	routers           []*Router
	defaultSubOptions SubscribeOptions
	dispatcherOptions []DispatcherOption
}

func defaultClientOptions() *clientOptions {
	return &clientOptions{
		logger:  NewNoOpLogger(),
		metrics: NoOpMetrics{},
	}
}

// Option configures a Client.
type Option func(*clientOptions)

// WithClientID sets the client identifier reported by ClientID.
// When unset, a random identifier is generated.
func WithClientID(id string) Option {
	return func(o *clientOptions) {
		o.clientID = id
	}
}

// WithLogger sets the logger shared by the router, manager and dispatcher.
func WithLogger(logger Logger) Option {
	return func(o *clientOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics Metrics) Option {
	return func(o *clientOptions) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithRouters includes the given routers at construction.
func WithRouters(routers ...*Router) Option {
	return func(o *clientOptions) {
		o.routers = append(o.routers, routers...)
	}
}

// WithClientDefaultSubscribeOptions sets the options used for anything a
// registration on the client does not specify.
func WithClientDefaultSubscribeOptions(opts SubscribeOptions) Option {
	return func(o *clientOptions) {
		o.defaultSubOptions = opts
	}
}

// WithDispatcherOptions passes options to the client's Dispatcher.
func WithDispatcherOptions(opts ...DispatcherOption) Option {
	return func(o *clientOptions) {
		o.dispatcherOptions = append(o.dispatcherOptions, opts...)
	}
}

func applyClientOptions(opts ...Option) *clientOptions {
	options := defaultClientOptions()
	for _, opt := range opts {
		opt(options)
	}
	return options
}
