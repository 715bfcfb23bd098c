package rabbit

import "time"

// Exchange kinds accepted by the broker.
const (
	ExchangeDirect  = "direct"
	ExchangeTopic   = "topic"
	ExchangeFanout  = "fanout"
	ExchangeHeaders = "headers"
)

// Defaults for the connection budget and the consumer envelope.
const (
	DefaultMaxConnectionAttempts = 5
	DefaultMaxTotalDelay         = 15 * time.Second
	DefaultInitialDelay          = 2 * time.Second
	DefaultHeartbeat             = 2 * time.Second

	DefaultMaxTries     = 3
	DefaultMaxExecution = 30 * time.Second
	DefaultHangGrace    = 10 * time.Second

	DefaultContentType = "text/plain"
	JSONContentType    = "application/json"
)

// Config defines the top-level configuration structure for the broker client.
type Config struct {
	// Connection contains the settings needed to reach the RabbitMQ server
	Connection Connection `mapstructure:"connection"`

	// Reconnect bounds how long EnsureConnected keeps dialing
	Reconnect Reconnect `mapstructure:"reconnect"`

	// ContentType is set on messages published through Send
	ContentType string `mapstructure:"content_type"`

	// LogErrors enables error level logging of the client
	LogErrors bool `mapstructure:"log_errors"`
}

// Connection contains the parameters needed to establish a connection
// to a RabbitMQ server, including authentication and TLS settings.
type Connection struct {
	Host     string `mapstructure:"host"`
	Port     uint   `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	VHost    string `mapstructure:"vhost"`

	// IsSSLEnabled switches the scheme to amqps
	IsSSLEnabled bool `mapstructure:"is_ssl_enabled"`

	// UseCert enables mutual TLS with the client certificate below
	UseCert        bool   `mapstructure:"use_cert"`
	CACertPath     string `mapstructure:"ca_cert_path"`
	ClientCertPath string `mapstructure:"client_cert_path"`
	ClientKeyPath  string `mapstructure:"client_key_path"`
	ServerName     string `mapstructure:"server_name"`

	// Heartbeat interval negotiated with the server, DefaultHeartbeat when zero
	Heartbeat time.Duration `mapstructure:"heartbeat"`
}

// Reconnect holds the two independent budgets checked before every dial
// attempt. Exhausting either one ends the connection attempt with a
// *ConnectionError.
type Reconnect struct {
	// MaxAttempts caps the number of dial attempts
	MaxAttempts int `mapstructure:"max_attempts"`

	// MaxTotalDelay caps the sum of all backoff sleeps
	MaxTotalDelay time.Duration `mapstructure:"max_total_delay"`

	// InitialDelay is the first backoff sleep; each further sleep doubles it
	InitialDelay time.Duration `mapstructure:"initial_delay"`
}

// ConsumerConfig controls the retry and deadline envelope that wraps a
// handler. Consume copies it, so changes made after the loop started have
// no effect on that loop.
type ConsumerConfig struct {
	// MaxTries is the number of handler invocations per delivery (>= 1)
	MaxTries int `mapstructure:"max_tries"`

	// MaxExecution bounds a single handler invocation (> 0)
	MaxExecution time.Duration `mapstructure:"max_execution"`

	// HangGrace is how long the supervisor waits for a handler that missed
	// its deadline to return before declaring the worker hung
	HangGrace time.Duration `mapstructure:"hang_grace"`

	// ManualAck consumes with explicit acknowledgments; the supervisor then
	// acks each delivery exactly once after the envelope finishes.
	// By default the broker acknowledges on delivery.
	ManualAck bool `mapstructure:"manual_ack"`

	// Prefetch limits unacknowledged deliveries when ManualAck is set
	Prefetch int `mapstructure:"prefetch"`

	// ConsumerTag identifies the consumer on the broker, generated when empty
	ConsumerTag string `mapstructure:"consumer_tag"`
}

// DefaultConfig returns a Config pointing at a local broker with the
// default reconnect budget.
func DefaultConfig() Config {
	return Config{
		Connection: Connection{
			Host:     "localhost",
			Port:     5672,
			User:     "guest",
			Password: "guest",
		},
		Reconnect:   DefaultReconnect(),
		ContentType: DefaultContentType,
		LogErrors:   true,
	}
}

// DefaultReconnect returns the default connection budget: 5 attempts,
// 15 seconds of total delay, starting at 2 seconds.
func DefaultReconnect() Reconnect {
	return Reconnect{
		MaxAttempts:   DefaultMaxConnectionAttempts,
		MaxTotalDelay: DefaultMaxTotalDelay,
		InitialDelay:  DefaultInitialDelay,
	}
}

// DefaultConsumerConfig returns 3 tries with a 30 second deadline each.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		MaxTries:     DefaultMaxTries,
		MaxExecution: DefaultMaxExecution,
		HangGrace:    DefaultHangGrace,
	}
}

func (r Reconnect) withDefaults() Reconnect {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = DefaultMaxConnectionAttempts
	}
	if r.MaxTotalDelay <= 0 {
		r.MaxTotalDelay = DefaultMaxTotalDelay
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = DefaultInitialDelay
	}
	return r
}

// Validate checks the envelope limits.
func (c ConsumerConfig) Validate() error {
	if c.MaxTries < 1 {
		return invalidConsumerConfig("max tries must be at least 1, got %d", c.MaxTries)
	}
	if c.MaxExecution <= 0 {
		return invalidConsumerConfig("max execution must be positive, got %s", c.MaxExecution)
	}
	if c.HangGrace < 0 {
		return invalidConsumerConfig("hang grace must not be negative, got %s", c.HangGrace)
	}
	return nil
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.HangGrace == 0 {
		c.HangGrace = DefaultHangGrace
	}
	return c
}
