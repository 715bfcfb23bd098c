package rabbit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/mock/gomock"
)

// instantTimer fires immediately and remembers the requested delays.
type instantTimer struct {
	mu     sync.Mutex
	delays []time.Duration
	c      chan time.Time
}

func (t *instantTimer) Start(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.delays = append(t.delays, d)
	t.c = make(chan time.Time, 1)
	t.c <- time.Now()
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.c
}

func (t *instantTimer) Delays() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.delays...)
}

// fakeBroker hands out one scripted connection per dial.
type fakeBroker struct {
	mu    sync.Mutex
	conns []Conn
	errs  []error
	dials int
}

func (b *fakeBroker) dial(_ context.Context, _ Connection) (Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.dials
	b.dials++
	if i < len(b.errs) && b.errs[i] != nil {
		return nil, b.errs[i]
	}
	if i < len(b.conns) {
		return b.conns[i], nil
	}
	return nil, amqp.ErrClosed
}

func (b *fakeBroker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// openChannel returns a connection mock whose single channel is ch.
// Both report themselves open until closed.
func openChannel(ctrl *gomock.Controller) (*MockConn, *MockChannel) {
	conn := NewMockConn(ctrl)
	ch := NewMockChannel(ctrl)
	conn.EXPECT().Channel().Return(ch, nil).AnyTimes()
	conn.EXPECT().IsClosed().Return(false).AnyTimes()
	ch.EXPECT().IsClosed().Return(false).AnyTimes()
	return conn, ch
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.LogErrors = true
	return cfg
}

func newTestRabbit(t *testing.T, broker *fakeBroker, opts ...Option) (*Rabbit, *instantTimer) {
	t.Helper()
	timer := &instantTimer{}
	opts = append([]Option{WithDialer(broker.dial), WithTimer(timer)}, opts...)
	return New(testConfig(), opts...), timer
}

// countingAcknowledger counts acknowledgments of deliveries.
type countingAcknowledger struct {
	acks    atomic.Int32
	nacks   atomic.Int32
	rejects atomic.Int32
}

func (a *countingAcknowledger) Ack(uint64, bool) error {
	a.acks.Add(1)
	return nil
}

func (a *countingAcknowledger) Nack(uint64, bool, bool) error {
	a.nacks.Add(1)
	return nil
}

func (a *countingAcknowledger) Reject(uint64, bool) error {
	a.rejects.Add(1)
	return nil
}

type namedHandler struct {
	name string
	fn   func(ctx context.Context, d *Delivery) error
}

func (h *namedHandler) Name() string { return h.name }

func (h *namedHandler) Handle(ctx context.Context, d *Delivery) error {
	return h.fn(ctx, d)
}
