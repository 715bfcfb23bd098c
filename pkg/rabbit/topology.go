package rabbit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Aleph-Alpha/smallrabbit/pkg/routing"
)

type bindingKey struct {
	exchange   string
	queue      string
	routingKey string
}

// TopologyCache remembers which queues, exchanges and bindings were
// declared on the current connection, so each one is declared at most once
// per connection lifetime. Reset must be called after every reconnect.
type TopologyCache struct {
	conn     *ConnectionManager
	logger   Logger
	observer Observer

	mu        sync.Mutex
	queues    map[string]struct{}
	exchanges map[string]string
	bindings  map[bindingKey]*routing.Matcher
}

func newTopologyCache(conn *ConnectionManager, s *settings) *TopologyCache {
	t := &TopologyCache{
		conn:     conn,
		logger:   s.logger,
		observer: s.observer,
	}
	t.Reset()
	return t
}

// Reset forgets every declared resource.
func (t *TopologyCache) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.queues = make(map[string]struct{})
	t.exchanges = make(map[string]string)
	t.bindings = make(map[bindingKey]*routing.Matcher)
}

// EnsureQueue declares a durable queue unless it was declared already.
func (t *TopologyCache) EnsureQueue(ctx context.Context, name string) error {
	t.mu.Lock()
	_, ok := t.queues[name]
	t.mu.Unlock()
	if ok {
		return nil
	}

	ch, err := t.channel(ctx)
	if err != nil {
		return err
	}

	start := time.Now()
	_, err = ch.QueueDeclare(name, true, false, false, false, nil)
	t.observe("declare_queue", name, "", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("%w: queue %q: %w", ErrDeclareFailed, name, TranslateError(err))
	}

	t.mu.Lock()
	t.queues[name] = struct{}{}
	t.mu.Unlock()

	t.logger.Debug("queue declared", nil, map[string]interface{}{"queue": name})
	return nil
}

// EnsureExchange declares a durable exchange of the given kind unless it
// was declared already. An empty kind means direct. Asking for a known
// exchange with another kind fails with ErrExchangeKindConflict and does
// not touch the broker.
func (t *TopologyCache) EnsureExchange(ctx context.Context, name, kind string) error {
	if kind == "" {
		kind = ExchangeDirect
	}
	if !validExchangeKind(kind) {
		return ErrInvalidExchangeType
	}

	t.mu.Lock()
	known, ok := t.exchanges[name]
	t.mu.Unlock()
	if ok {
		if known != kind {
			return fmt.Errorf("%w: %q is %s, requested %s", ErrExchangeKindConflict, name, known, kind)
		}
		return nil
	}

	ch, err := t.channel(ctx)
	if err != nil {
		return err
	}

	start := time.Now()
	err = ch.ExchangeDeclare(name, kind, true, false, false, false, nil)
	t.observe("declare_exchange", name, kind, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("%w: exchange %q: %w", ErrDeclareFailed, name, TranslateError(err))
	}

	t.mu.Lock()
	t.exchanges[name] = kind
	t.mu.Unlock()

	t.logger.Debug("exchange declared", nil, map[string]interface{}{"exchange": name, "kind": kind})
	return nil
}

// EnsureBinding makes sure the queue and the exchange exist and binds them
// with routingKey, once per (exchange, queue, routingKey).
func (t *TopologyCache) EnsureBinding(ctx context.Context, queue, exchange, kind, routingKey string) error {
	if err := t.EnsureQueue(ctx, queue); err != nil {
		return err
	}
	if err := t.EnsureExchange(ctx, exchange, kind); err != nil {
		return err
	}

	key := bindingKey{exchange: exchange, queue: queue, routingKey: routingKey}
	t.mu.Lock()
	_, ok := t.bindings[key]
	t.mu.Unlock()
	if ok {
		return nil
	}

	matcher, err := routing.Compile(routingKey)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	ch, err := t.channel(ctx)
	if err != nil {
		return err
	}

	start := time.Now()
	err = ch.QueueBind(queue, routingKey, exchange, false, nil)
	t.observe("bind", exchange, queue, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("%w: %q -> %q (%q): %w", ErrBindFailed, exchange, queue, routingKey, TranslateError(err))
	}

	t.mu.Lock()
	t.bindings[key] = matcher
	t.mu.Unlock()

	t.logger.Debug("queue bound", nil, map[string]interface{}{
		"exchange":    exchange,
		"queue":       queue,
		"routing_key": routingKey,
	})
	return nil
}

// HasBindingMatching reports whether the pattern of a known binding on
// exchange matches routingKey. Direct bindings are matched as patterns too,
// so "orders.*" accepts "orders.eu". Fanout and headers exchanges ignore
// the routing key, so any binding on them counts.
func (t *TopologyCache) HasBindingMatching(exchange, routingKey string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	kind := t.exchanges[exchange]
	for key, matcher := range t.bindings {
		if key.exchange != exchange {
			continue
		}
		switch kind {
		case ExchangeFanout, ExchangeHeaders:
			return true
		default:
			if matcher.Matches(routingKey) {
				return true
			}
		}
	}
	return false
}

// ExchangeKind returns the kind an exchange was declared with on this
// connection.
func (t *TopologyCache) ExchangeKind(name string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	kind, ok := t.exchanges[name]
	return kind, ok
}

func (t *TopologyCache) channel(ctx context.Context) (Channel, error) {
	if err := t.conn.EnsureConnected(ctx); err != nil {
		return nil, err
	}
	return t.conn.Channel()
}

func (t *TopologyCache) observe(operation, resource, subResource string, d time.Duration, err error) {
	if t.observer == nil {
		return
	}
	t.observer.ObserveOperation(OperationContext{
		Component:   "rabbit",
		Operation:   operation,
		Resource:    resource,
		SubResource: subResource,
		Duration:    d,
		Error:       err,
	})
}

func validExchangeKind(kind string) bool {
	switch kind {
	case ExchangeDirect, ExchangeTopic, ExchangeFanout, ExchangeHeaders:
		return true
	}
	return false
}
