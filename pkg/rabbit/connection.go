package rabbit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// State is the lifecycle state of a ConnectionManager.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ConnectionManager owns the broker connection and its single channel. It
// is the only place that dials or opens a channel.
//
// State machine:
//
//	Disconnected -> Connecting -> Connected
//	Connecting   -> Connecting     (failed dial, within budget)
//	Connecting   -> Disconnected   (budget spent)
//	Connected    -> Disconnected   (transport failure or Close)
type ConnectionManager struct {
	cfg      Config
	dial     Dialer
	logger   Logger
	observer Observer
	timer    backoff.Timer

	mu          sync.Mutex
	state       State
	conn        Conn
	channel     Channel
	connects    int
	onReconnect []func()
}

// NewConnectionManager creates a manager. It does not dial.
func NewConnectionManager(cfg Config, opts ...Option) *ConnectionManager {
	return newConnectionManager(cfg, newSettings(cfg, opts))
}

func newConnectionManager(cfg Config, s *settings) *ConnectionManager {
	return &ConnectionManager{
		cfg:      cfg,
		dial:     s.dialer,
		logger:   s.logger,
		observer: s.observer,
		timer:    s.timer,
		state:    StateDisconnected,
	}
}

// OnReconnect registers fn to run after every successful reconnect, that
// is every successful connect except the first one. Hooks run before
// EnsureConnected or Reconnect return.
func (m *ConnectionManager) OnReconnect(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnect = append(m.onReconnect, fn)
}

// State returns the current lifecycle state.
func (m *ConnectionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// EnsureConnected returns immediately when the connection and channel are
// open. Otherwise it dials with budgeted exponential backoff and returns a
// *ConnectionError once the attempt or delay budget is spent.
func (m *ConnectionManager) EnsureConnected(ctx context.Context) error {
	m.mu.Lock()
	reconnected, err := m.ensureConnectedLocked(ctx)
	hooks := m.onReconnect
	m.mu.Unlock()

	if reconnected {
		for _, fn := range hooks {
			fn()
		}
	}
	return err
}

// Reconnect closes the current connection and dials a new one.
func (m *ConnectionManager) Reconnect(ctx context.Context) error {
	m.logger.Error("RabbitMQ connection error. Reconnection initialized", nil, map[string]interface{}{
		"rabbit_addr": m.cfg.Connection.Address(),
	})

	m.mu.Lock()
	m.releaseLocked()
	reconnected, err := m.ensureConnectedLocked(ctx)
	hooks := m.onReconnect
	m.mu.Unlock()

	if reconnected {
		for _, fn := range hooks {
			fn()
		}
	}
	return err
}

// Channel returns the open channel. EnsureConnected must have succeeded.
func (m *ConnectionManager) Channel() (Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateConnected || m.channel == nil {
		return nil, ErrNotConnected
	}
	return m.channel, nil
}

// Close releases the channel and the connection. Calling it while
// disconnected is a no-op.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateDisconnected && m.conn == nil && m.channel == nil {
		return nil
	}
	m.logger.Info("closing rabbit channel...", nil, nil)
	return m.releaseLocked()
}

func (m *ConnectionManager) healthyLocked() bool {
	return m.state == StateConnected &&
		m.conn != nil && !m.conn.IsClosed() &&
		m.channel != nil && !m.channel.IsClosed()
}

// ensureConnectedLocked reports whether a reconnect (not the first connect) happened.
func (m *ConnectionManager) ensureConnectedLocked(ctx context.Context) (bool, error) {
	if m.healthyLocked() {
		return false, nil
	}
	if m.state == StateConnected {
		m.logger.Warn("RabbitMQ connection lost", nil, map[string]interface{}{
			"rabbit_addr": m.cfg.Connection.Address(),
		})
		m.releaseLocked()
	}

	m.state = StateConnecting
	start := time.Now()
	budget := newBudgetBackOff(m.cfg.Reconnect)
	attempts := 0
	var lastErr error

	operation := func() error {
		attempts++
		m.logger.Info("Connecting to Rabbit", nil, map[string]interface{}{
			"rabbit_addr": m.cfg.Connection.Address(),
			"attempt":     attempts,
		})
		conn, ch, err := m.open(ctx)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		m.conn, m.channel = conn, ch
		return nil
	}
	notify := func(err error, delay time.Duration) {
		m.logger.Warn("error in connecting to rabbit, retrying", err, map[string]interface{}{
			"attempt": attempts,
			"delay":   delay.String(),
		})
	}

	err := backoff.RetryNotifyWithTimer(operation, backoff.WithContext(budget, ctx), notify, m.timer)
	if err != nil {
		m.state = StateDisconnected
		if lastErr == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			lastErr = err
		}
		connErr := &ConnectionError{
			Op:         "dial " + m.cfg.Connection.Address(),
			Attempts:   attempts,
			TotalDelay: budget.TotalDelay(),
			Err:        lastErr,
		}
		m.logger.Error("error in connecting to rabbit after all retries", connErr, nil)
		m.observe("connect", time.Since(start), connErr)
		return false, connErr
	}

	m.state = StateConnected
	m.connects++
	m.logger.Info("Connected to Rabbit", nil, map[string]interface{}{
		"rabbit_addr": m.cfg.Connection.Address(),
		"attempts":    attempts,
	})

	if m.connects > 1 {
		m.observe("reconnect", time.Since(start), nil)
		return true, nil
	}
	m.observe("connect", time.Since(start), nil)
	return false, nil
}

func (m *ConnectionManager) open(ctx context.Context) (Conn, Channel, error) {
	conn, err := m.dial(ctx, m.cfg.Connection)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to create channel: %w", err)
	}
	return conn, ch, nil
}

func (m *ConnectionManager) releaseLocked() error {
	var firstErr error
	if m.channel != nil && !m.channel.IsClosed() {
		if err := m.channel.Close(); err != nil {
			m.logger.Warn("Failed to close rabbit channel", err, nil)
			firstErr = err
		}
	}
	if m.conn != nil && !m.conn.IsClosed() {
		if err := m.conn.Close(); err != nil {
			m.logger.Warn("Failed to close rabbit connection", err, nil)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	m.channel = nil
	m.conn = nil
	m.state = StateDisconnected
	return firstErr
}

func (m *ConnectionManager) observe(operation string, d time.Duration, err error) {
	if m.observer == nil {
		return
	}
	m.observer.ObserveOperation(OperationContext{
		Component: "rabbit",
		Operation: operation,
		Resource:  m.cfg.Connection.Address(),
		Duration:  d,
		Error:     err,
	})
}
