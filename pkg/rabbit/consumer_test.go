package rabbit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// consumeHarness runs Consume in the background against one scripted channel.
type consumeHarness struct {
	client     *Rabbit
	deliveries chan amqp.Delivery
	ack        *countingAcknowledger
	cancel     context.CancelFunc
	done       chan error
}

func startConsume(t *testing.T, ctrl *gomock.Controller, h Handler, cfg ConsumerConfig, opts ...Option) *consumeHarness {
	t.Helper()

	conn, ch := openChannel(ctrl)
	deliveries := make(chan amqp.Delivery, 4)
	ch.EXPECT().QueueDeclare("jobs", true, false, false, false, nil).Return(amqp.Queue{Name: "jobs"}, nil)
	ch.EXPECT().Consume("jobs", gomock.Any(), !cfg.ManualAck, false, false, false, nil).
		Return((<-chan amqp.Delivery)(deliveries), nil)
	ch.EXPECT().Cancel(gomock.Any(), false).Return(nil).AnyTimes()

	client, _ := newTestRabbit(t, &fakeBroker{conns: []Conn{conn}}, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	hs := &consumeHarness{
		client:     client,
		deliveries: deliveries,
		ack:        &countingAcknowledger{},
		cancel:     cancel,
		done:       make(chan error, 1),
	}
	go func() {
		hs.done <- client.Consume(ctx, "jobs", h, cfg)
	}()
	return hs
}

func (hs *consumeHarness) deliver(body string) {
	hs.deliveries <- amqp.Delivery{
		Acknowledger: hs.ack,
		DeliveryTag:  1,
		MessageId:    "msg-1",
		Body:         []byte(body),
	}
}

func (hs *consumeHarness) stop(t *testing.T) error {
	t.Helper()
	hs.cancel()
	select {
	case err := <-hs.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("consume did not stop")
		return nil
	}
}

func waitFor(t *testing.T, signal <-chan struct{}) {
	t.Helper()
	select {
	case <-signal:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the consumer")
	}
}

func manualAckConfig() ConsumerConfig {
	cfg := DefaultConsumerConfig()
	cfg.ManualAck = true
	return cfg
}

func TestConsumeDeadLettersAfterMaxTries(t *testing.T) {
	ctrl := gomock.NewController(t)

	var calls atomic.Int32
	handler := &namedHandler{name: "mailer", fn: func(ctx context.Context, d *Delivery) error {
		calls.Add(1)
		return errors.New("smtp unavailable")
	}}

	inserted := make(chan struct{})
	sink := NewMockDeadLetterSink(ctrl)
	journal := NewMockJournal(ctrl)
	gomock.InOrder(
		journal.EXPECT().Begin(gomock.Any()).DoAndReturn(func(a DeliveryAttempt) error {
			assert.Equal(t, "msg-1", a.ID)
			assert.Equal(t, "mailer", a.ConsumerClass)
			assert.Equal(t, []byte("payload"), a.Payload)
			return nil
		}),
		journal.EXPECT().Clear().Return(nil),
		sink.EXPECT().Insert(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, rec DeadLetterRecord) error {
			defer close(inserted)
			assert.Equal(t, "jobs", rec.Queue)
			assert.Equal(t, []byte("payload"), rec.Payload)
			assert.Equal(t, "mailer", rec.ConsumerClass)
			assert.Equal(t, "Max attempts reached for consumer. Error: smtp unavailable", rec.Error)
			return nil
		}),
	)

	hs := startConsume(t, ctrl, handler, manualAckConfig(), WithDeadLetterSink(sink), WithJournal(journal))
	hs.deliver("payload")
	waitFor(t, inserted)

	require.NoError(t, hs.stop(t))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int32(1), hs.ack.acks.Load())
	assert.Equal(t, int32(0), hs.ack.nacks.Load())
}

func TestConsumeSucceedsOnSecondAttempt(t *testing.T) {
	ctrl := gomock.NewController(t)

	var calls atomic.Int32
	succeeded := make(chan struct{})
	handler := HandlerFunc(func(ctx context.Context, d *Delivery) error {
		if calls.Add(1) == 1 {
			return errors.New("flaky")
		}
		assert.Equal(t, 2, d.Attempt)
		close(succeeded)
		return nil
	})

	sink := NewMockDeadLetterSink(ctrl)
	sink.EXPECT().Insert(gomock.Any(), gomock.Any()).Times(0)

	hs := startConsume(t, ctrl, handler, manualAckConfig(), WithDeadLetterSink(sink))
	hs.deliver("payload")
	waitFor(t, succeeded)

	require.NoError(t, hs.stop(t))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(1), hs.ack.acks.Load())
}

func TestConsumeAutoAckDoesNotAckAgain(t *testing.T) {
	ctrl := gomock.NewController(t)

	handled := make(chan struct{})
	handler := HandlerFunc(func(ctx context.Context, d *Delivery) error {
		close(handled)
		return nil
	})

	hs := startConsume(t, ctrl, handler, DefaultConsumerConfig())
	hs.deliver("payload")
	waitFor(t, handled)

	require.NoError(t, hs.stop(t))
	assert.Equal(t, int32(0), hs.ack.acks.Load())
}

func TestConsumeTimesOutSlowHandler(t *testing.T) {
	ctrl := gomock.NewController(t)

	var calls atomic.Int32
	handler := HandlerFunc(func(ctx context.Context, d *Delivery) error {
		calls.Add(1)
		<-ctx.Done()
		return ctx.Err()
	})

	inserted := make(chan struct{})
	sink := NewMockDeadLetterSink(ctrl)
	sink.EXPECT().Insert(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, rec DeadLetterRecord) error {
		defer close(inserted)
		assert.Contains(t, rec.Error, ErrHandlerTimeout.Error())
		return nil
	})

	cfg := manualAckConfig()
	cfg.MaxTries = 2
	cfg.MaxExecution = 20 * time.Millisecond

	hs := startConsume(t, ctrl, handler, cfg, WithDeadLetterSink(sink))
	hs.deliver("payload")
	waitFor(t, inserted)

	require.NoError(t, hs.stop(t))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(1), hs.ack.acks.Load())
}

func TestConsumeTreatsPanicAsFailedAttempt(t *testing.T) {
	ctrl := gomock.NewController(t)

	inserted := make(chan struct{})
	sink := NewMockDeadLetterSink(ctrl)
	sink.EXPECT().Insert(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, rec DeadLetterRecord) error {
		defer close(inserted)
		assert.Contains(t, rec.Error, "handler panicked: boom")
		return nil
	})

	handler := HandlerFunc(func(ctx context.Context, d *Delivery) error {
		panic("boom")
	})

	cfg := DefaultConsumerConfig()
	cfg.MaxTries = 1

	hs := startConsume(t, ctrl, handler, cfg, WithDeadLetterSink(sink))
	hs.deliver("payload")
	waitFor(t, inserted)
	require.NoError(t, hs.stop(t))
}

func TestConsumeSinkFailureIsOnlyLogged(t *testing.T) {
	ctrl := gomock.NewController(t)

	logged := make(chan struct{})
	var once sync.Once
	log := NewMockLogger(ctrl)
	log.EXPECT().Error("Failed to save not processed message", gomock.Any(), gomock.Any()).
		Do(func(string, error, ...map[string]interface{}) { once.Do(func() { close(logged) }) })
	log.EXPECT().Error(gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()
	log.EXPECT().Info(gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()
	log.EXPECT().Warn(gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()
	log.EXPECT().Debug(gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()

	sink := NewMockDeadLetterSink(ctrl)
	sink.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(errors.New("db down"))

	handler := HandlerFunc(func(ctx context.Context, d *Delivery) error {
		return errors.New("nope")
	})
	cfg := manualAckConfig()
	cfg.MaxTries = 1

	hs := startConsume(t, ctrl, handler, cfg, WithDeadLetterSink(sink), WithLogger(log))
	hs.deliver("payload")
	waitFor(t, logged)

	require.NoError(t, hs.stop(t))
	assert.Equal(t, int32(1), hs.ack.acks.Load())
}

func TestConsumeLogsEachAttempt(t *testing.T) {
	ctrl := gomock.NewController(t)

	finished := make(chan struct{})
	log := NewMockLogger(ctrl)
	gomock.InOrder(
		log.EXPECT().Error("Attempt #1 failed for consumer: mailer", gomock.Any(), gomock.Any()),
		log.EXPECT().Error("Attempt #2 failed for consumer: mailer", gomock.Any(), gomock.Any()),
		log.EXPECT().Error("Max attempts reached for consumer: mailer", gomock.Any(), gomock.Any()).
			Do(func(string, error, ...map[string]interface{}) { close(finished) }),
	)
	log.EXPECT().Info(gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()
	log.EXPECT().Debug(gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()

	handler := &namedHandler{name: "mailer", fn: func(ctx context.Context, d *Delivery) error {
		return errors.New("nope")
	}}
	cfg := DefaultConsumerConfig()
	cfg.MaxTries = 2

	hs := startConsume(t, ctrl, handler, cfg, WithLogger(log))
	hs.deliver("payload")
	waitFor(t, finished)
	require.NoError(t, hs.stop(t))
}

func TestConsumeReturnsWhenHandlerHangs(t *testing.T) {
	ctrl := gomock.NewController(t)

	release := make(chan struct{})
	defer close(release)
	handler := &namedHandler{name: "stuck", fn: func(ctx context.Context, d *Delivery) error {
		<-release
		return nil
	}}

	sink := NewMockDeadLetterSink(ctrl)
	sink.EXPECT().Insert(gomock.Any(), gomock.Any()).Times(0)
	journal := NewMockJournal(ctrl)
	gomock.InOrder(
		journal.EXPECT().Begin(gomock.Any()).Return(nil),
		journal.EXPECT().Fail(gomock.Any()).DoAndReturn(func(a DeliveryAttempt) error {
			assert.Equal(t, 1, a.Attempt)
			assert.Equal(t, "stuck", a.ConsumerClass)
			assert.True(t, strings.HasPrefix(a.LastError, ErrHandlerHung.Error()))
			return nil
		}),
	)
	journal.EXPECT().Clear().Times(0)

	cfg := DefaultConsumerConfig()
	cfg.MaxExecution = 10 * time.Millisecond
	cfg.HangGrace = 10 * time.Millisecond

	hs := startConsume(t, ctrl, handler, cfg, WithDeadLetterSink(sink), WithJournal(journal))
	hs.deliver("payload")

	select {
	case err := <-hs.done:
		assert.ErrorIs(t, err, ErrHandlerHung)
	case <-time.After(5 * time.Second):
		t.Fatal("consume did not report the hung handler")
	}
	hs.cancel()
}

func TestConsumeDeadLettersHungHandlerWithoutJournal(t *testing.T) {
	ctrl := gomock.NewController(t)

	release := make(chan struct{})
	defer close(release)
	var calls atomic.Int32
	handler := &namedHandler{name: "stuck", fn: func(ctx context.Context, d *Delivery) error {
		calls.Add(1)
		<-release
		return nil
	}}

	sink := NewMockDeadLetterSink(ctrl)
	sink.EXPECT().Insert(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, rec DeadLetterRecord) error {
		assert.Equal(t, "jobs", rec.Queue)
		assert.Equal(t, []byte("payload"), rec.Payload)
		assert.Equal(t, "stuck", rec.ConsumerClass)
		assert.True(t, strings.HasPrefix(rec.Error, "Worker timeout limit exceeded for job processing: stuck. Error: "+ErrHandlerHung.Error()), rec.Error)
		return nil
	})

	cfg := manualAckConfig()
	cfg.MaxExecution = 10 * time.Millisecond
	cfg.HangGrace = 10 * time.Millisecond

	hs := startConsume(t, ctrl, handler, cfg, WithDeadLetterSink(sink))
	hs.deliver("payload")

	select {
	case err := <-hs.done:
		assert.ErrorIs(t, err, ErrHandlerHung)
	case <-time.After(5 * time.Second):
		t.Fatal("consume did not report the hung handler")
	}
	hs.cancel()

	assert.Equal(t, int32(1), calls.Load(), "no attempt starts while the handler is still running")
	assert.Equal(t, int32(1), hs.ack.acks.Load())
}

func TestConsumeResubscribesAfterChannelLoss(t *testing.T) {
	ctrl := gomock.NewController(t)

	conn1, ch1 := openChannel(ctrl)
	closed := make(chan amqp.Delivery)
	close(closed)
	ch1.EXPECT().QueueDeclare("jobs", true, false, false, false, nil).Return(amqp.Queue{Name: "jobs"}, nil)
	ch1.EXPECT().Consume("jobs", gomock.Any(), true, false, false, false, nil).Return((<-chan amqp.Delivery)(closed), nil)
	ch1.EXPECT().Close().Return(nil)
	conn1.EXPECT().Close().Return(nil)

	conn2, ch2 := openChannel(ctrl)
	deliveries := make(chan amqp.Delivery, 1)
	ch2.EXPECT().QueueDeclare("jobs", true, false, false, false, nil).Return(amqp.Queue{Name: "jobs"}, nil)
	ch2.EXPECT().Consume("jobs", gomock.Any(), true, false, false, false, nil).Return((<-chan amqp.Delivery)(deliveries), nil)
	ch2.EXPECT().Cancel(gomock.Any(), false).Return(nil)

	broker := &fakeBroker{conns: []Conn{conn1, conn2}}
	client, _ := newTestRabbit(t, broker)

	handled := make(chan struct{})
	handler := HandlerFunc(func(ctx context.Context, d *Delivery) error {
		assert.Equal(t, "after reconnect", string(d.Body))
		close(handled)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Consume(ctx, "jobs", handler, DefaultConsumerConfig()) }()

	deliveries <- amqp.Delivery{Body: []byte("after reconnect")}
	waitFor(t, handled)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("consume did not stop")
	}
	assert.Equal(t, 2, broker.Dials())
}

func TestConsumeRejectsInvalidInput(t *testing.T) {
	broker := &fakeBroker{}
	client, _ := newTestRabbit(t, broker)
	ctx := context.Background()
	ok := HandlerFunc(func(context.Context, *Delivery) error { return nil })

	err := client.Consume(ctx, "jobs", nil, DefaultConsumerConfig())
	assert.ErrorIs(t, err, ErrInvalidHandler)

	var missing *namedHandler
	err = client.Consume(ctx, "jobs", missing, DefaultConsumerConfig())
	assert.ErrorIs(t, err, ErrInvalidHandler)

	err = client.Consume(ctx, "jobs", HandlerFunc(nil), DefaultConsumerConfig())
	assert.ErrorIs(t, err, ErrInvalidHandler)

	err = client.Consume(ctx, "jobs", ok, ConsumerConfig{MaxTries: 0, MaxExecution: time.Second})
	assert.ErrorIs(t, err, ErrInvalidConsumerConfig)

	err = client.Consume(ctx, "jobs", ok, ConsumerConfig{MaxTries: 1})
	assert.ErrorIs(t, err, ErrInvalidConsumerConfig)

	assert.Equal(t, 0, broker.Dials())
}

func TestConsumeFailsWhenBrokerUnreachable(t *testing.T) {
	refused := errors.New("refused")
	broker := &fakeBroker{errs: []error{refused, refused, refused, refused, refused}}
	client, _ := newTestRabbit(t, broker)

	err := client.Consume(context.Background(), "jobs", HandlerFunc(func(context.Context, *Delivery) error { return nil }), DefaultConsumerConfig())

	var connErr *ConnectionError
	assert.ErrorAs(t, err, &connErr)
	assert.Equal(t, 4, broker.Dials())
}

func TestHandlerName(t *testing.T) {
	assert.Equal(t, "mailer", HandlerName(&namedHandler{name: "mailer"}))
	assert.Equal(t, "*rabbit.namedHandler", HandlerName(&namedHandler{}))
	assert.Equal(t, "rabbit.HandlerFunc", HandlerName(HandlerFunc(func(context.Context, *Delivery) error { return nil })))
	assert.Equal(t, "<nil>", HandlerName(nil))

	var missing *namedHandler
	assert.Equal(t, "*rabbit.namedHandler", HandlerName(missing))
}
