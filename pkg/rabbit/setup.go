package rabbit

import (
	"context"

	"github.com/cenkalti/backoff/v4"
)

// Rabbit wires the connection manager, the topology cache, the publisher
// and the consumer supervisor around one broker connection. It is the
// explicitly owned replacement for a process-wide client: create one per
// worker, and do not share it between goroutines without synchronization.
type Rabbit struct {
	cfg Config

	Conn       *ConnectionManager
	Topology   *TopologyCache
	Publisher  *Publisher
	Supervisor *ConsumerSupervisor
}

// Option customises the components built by New.
type Option func(*settings)

type settings struct {
	dialer   Dialer
	logger   Logger
	observer Observer
	tracer   Tracer
	sink     DeadLetterSink
	journal  Journal
	timer    backoff.Timer
}

// WithDialer replaces DialAMQP, mostly for tests.
func WithDialer(d Dialer) Option {
	return func(s *settings) { s.dialer = d }
}

// WithLogger sets the logger. Error level messages are only written when
// Config.LogErrors is true.
func WithLogger(l Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithObserver attaches an operation observer such as *metrics.Metrics.
func WithObserver(o Observer) Option {
	return func(s *settings) { s.observer = o }
}

// WithTracer enables spans and header propagation.
func WithTracer(t Tracer) Option {
	return func(s *settings) { s.tracer = t }
}

// WithDeadLetterSink sets where exhausted deliveries are recorded.
func WithDeadLetterSink(sink DeadLetterSink) Option {
	return func(s *settings) { s.sink = sink }
}

// WithJournal records in-flight deliveries for a watchdog process.
func WithJournal(j Journal) Option {
	return func(s *settings) { s.journal = j }
}

// WithTimer replaces the timer used between dial attempts.
func WithTimer(t backoff.Timer) Option {
	return func(s *settings) { s.timer = t }
}

func newSettings(cfg Config, opts []Option) *settings {
	s := &settings{dialer: DialAMQP}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = nopLogger{}
	}
	s.logger = gatedLogger{Logger: s.logger, errorsEnabled: cfg.LogErrors}
	if s.sink == nil {
		s.sink = nopSink{}
	}
	return s
}

// New builds the components and links them: every successful reconnect of
// the connection manager resets the topology cache before control returns
// to the caller that asked for the reconnect. New does not dial; the first
// Send or Consume (or an explicit Conn.EnsureConnected) does.
func New(cfg Config, opts ...Option) *Rabbit {
	s := newSettings(cfg, opts)

	conn := newConnectionManager(cfg, s)
	topology := newTopologyCache(conn, s)
	conn.OnReconnect(topology.Reset)

	return &Rabbit{
		cfg:        cfg,
		Conn:       conn,
		Topology:   topology,
		Publisher:  newPublisher(cfg, conn, topology, s),
		Supervisor: newConsumerSupervisor(conn, topology, s),
	}
}

// Send publishes a message, see Publisher.Send.
func (r *Rabbit) Send(ctx context.Context, req SendRequest) error {
	return r.Publisher.Send(ctx, req)
}

// SendJSON publishes a JSON encoded payload, see Publisher.SendJSON.
func (r *Rabbit) SendJSON(ctx context.Context, payload interface{}, req SendRequest) error {
	return r.Publisher.SendJSON(ctx, payload, req)
}

// Consume runs the supervised consume loop, see ConsumerSupervisor.Consume.
func (r *Rabbit) Consume(ctx context.Context, queue string, h Handler, cfg ConsumerConfig) error {
	return r.Supervisor.Consume(ctx, queue, h, cfg)
}

// Close releases the channel and the connection. It is safe to call more than once.
func (r *Rabbit) Close() error {
	return r.Conn.Close()
}

// Config returns the configuration the client was built with.
func (r *Rabbit) Config() Config {
	return r.cfg
}

type nopLogger struct{}

func (nopLogger) Info(string, error, ...map[string]interface{})  {}
func (nopLogger) Debug(string, error, ...map[string]interface{}) {}
func (nopLogger) Warn(string, error, ...map[string]interface{})  {}
func (nopLogger) Error(string, error, ...map[string]interface{}) {}

// gatedLogger drops error level messages unless error logging is enabled.
type gatedLogger struct {
	Logger
	errorsEnabled bool
}

func (l gatedLogger) Error(msg string, err error, fields ...map[string]interface{}) {
	if l.errorsEnabled {
		l.Logger.Error(msg, err, fields...)
	}
}

type nopSink struct{}

func (nopSink) Insert(context.Context, DeadLetterRecord) error { return nil }
