package rabbit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
)

const hungMessage = "Worker timeout limit exceeded for job processing: "

// ConsumerSupervisor runs handlers under the retry and deadline envelope
// and records deliveries that exhaust their attempts.
type ConsumerSupervisor struct {
	conn     *ConnectionManager
	topology *TopologyCache
	logger   Logger
	observer Observer
	tracer   Tracer
	sink     DeadLetterSink
	journal  Journal
}

func newConsumerSupervisor(conn *ConnectionManager, topology *TopologyCache, s *settings) *ConsumerSupervisor {
	return &ConsumerSupervisor{
		conn:     conn,
		topology: topology,
		logger:   s.logger,
		observer: s.observer,
		tracer:   s.tracer,
		sink:     s.sink,
		journal:  s.journal,
	}
}

// Consume declares queue, subscribes to it and processes deliveries one at
// a time until ctx is cancelled. The delivery being processed when ctx is
// cancelled is allowed to finish.
//
// A dropped connection makes Consume reconnect and subscribe again. It
// returns an error when the reconnect budget is spent, on a configuration
// error, or with ErrHandlerHung when a handler ignored its deadline; the
// worker should exit in that last case. The hung delivery is then marked in
// the Journal for a watchdog, or written to the DeadLetterSink right away
// when there is no Journal.
func (s *ConsumerSupervisor) Consume(ctx context.Context, queue string, h Handler, cfg ConsumerConfig) error {
	if isNilHandler(h) {
		return fmt.Errorf("%w: handler for queue %q is nil", ErrInvalidHandler, queue)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg = cfg.withDefaults()
	class := HandlerName(h)

	for {
		err := s.consume(ctx, queue, h, class, cfg)
		switch {
		case errors.Is(err, ErrHandlerHung):
			return err
		case err == nil, ctx.Err() != nil:
			return nil
		case isBudgetExhausted(err), !IsTransient(err):
			return err
		}

		s.logger.Warn("consumer lost its channel", err, map[string]interface{}{"queue": queue})
		if rerr := s.conn.Reconnect(ctx); rerr != nil {
			if ctx.Err() != nil {
				return nil
			}
			return rerr
		}
	}
}

func (s *ConsumerSupervisor) consume(ctx context.Context, queue string, h Handler, class string, cfg ConsumerConfig) error {
	if err := s.conn.EnsureConnected(ctx); err != nil {
		return err
	}
	if err := s.topology.EnsureQueue(ctx, queue); err != nil {
		return err
	}
	ch, err := s.conn.Channel()
	if err != nil {
		return err
	}

	if cfg.ManualAck && cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			return TranslateError(err)
		}
	}

	tag := cfg.ConsumerTag
	if tag == "" {
		tag = "smallrabbit-" + uuid.NewString()
	}
	deliveries, err := ch.Consume(queue, tag, !cfg.ManualAck, false, false, false, nil)
	if err != nil {
		return TranslateError(err)
	}

	s.logger.Info("consumer started", nil, map[string]interface{}{
		"queue":          queue,
		"consumer_class": class,
		"max_tries":      cfg.MaxTries,
		"max_execution":  cfg.MaxExecution.String(),
	})

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("consumer is shutting down due to context cancellation", ctx.Err(), map[string]interface{}{
				"queue": queue,
			})
			if err := ch.Cancel(tag, false); err != nil {
				s.logger.Warn("failed to cancel consumer", err, nil)
			}
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return ErrDeliveriesClosed
			}
			if err := s.process(ctx, queue, h, class, cfg, d); err != nil {
				return err
			}
		}
	}
}

// process runs the envelope for one delivery. It only returns an error
// for a hung handler.
func (s *ConsumerSupervisor) process(ctx context.Context, queue string, h Handler, class string, cfg ConsumerConfig, d amqp.Delivery) error {
	start := time.Now()
	attempt := DeliveryAttempt{
		ID:            d.MessageId,
		Queue:         queue,
		Payload:       d.Body,
		ConsumerClass: class,
		StartedAt:     start,
	}
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	s.journalBegin(attempt)

	ctx = s.extractTrace(ctx, d)
	var lastErr error
	for n := 1; n <= cfg.MaxTries; n++ {
		attempt.Attempt = n
		err := s.attempt(ctx, h, newDelivery(queue, d, n), cfg)
		if err == nil {
			s.journalClear()
			s.ack(d, cfg)
			s.observe("handle", queue, class, time.Since(start), nil, len(d.Body))
			return nil
		}

		// A hung handler is still running, so no further attempt may start.
		if errors.Is(err, ErrHandlerHung) {
			attempt.LastError = err.Error()
			s.logger.Error(hungMessage+class, err, map[string]interface{}{
				"queue":   queue,
				"attempt": n,
			})
			s.observe("handle", queue, class, time.Since(start), err, len(d.Body))

			if s.journal == nil {
				// Nothing outside this process will record the delivery.
				s.deadLetter(ctx, queue, class, d.Body, hungMessage+class+". Error: "+errorText(err))
			} else {
				s.journalFail(attempt)
			}
			s.ack(d, cfg)
			return err
		}

		lastErr = err
		s.logger.Error(fmt.Sprintf("Attempt #%d failed for consumer: %s", n, class), err, map[string]interface{}{
			"queue": queue,
		})
	}

	s.logger.Error("Max attempts reached for consumer: "+class, lastErr, map[string]interface{}{
		"queue":     queue,
		"max_tries": cfg.MaxTries,
	})
	s.observe("handle", queue, class, time.Since(start), lastErr, len(d.Body))

	// The journal entry goes first so a crash during the sink write can not
	// make the watchdog record the same delivery again.
	s.journalClear()
	s.deadLetter(ctx, queue, class, d.Body, "Max attempts reached for consumer. Error: "+errorText(lastErr))
	s.ack(d, cfg)
	return nil
}

func (s *ConsumerSupervisor) attempt(ctx context.Context, h Handler, d *Delivery, cfg ConsumerConfig) (err error) {
	if s.tracer == nil {
		return invoke(ctx, h, d, cfg)
	}
	ctx, span := s.tracer.StartSpan(ctx, "rabbit.consume")
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.system", "rabbitmq"),
		attribute.String("messaging.source.name", d.Queue),
		attribute.Int("messaging.rabbitmq.attempt", d.Attempt),
	)
	if err = invoke(ctx, h, d, cfg); err != nil {
		s.tracer.RecordErrorOnSpan(span, err)
	}
	return err
}

func (s *ConsumerSupervisor) deadLetter(ctx context.Context, queue, class string, payload []byte, errText string) {
	rec := DeadLetterRecord{
		Queue:         queue,
		Payload:       payload,
		Error:         errText,
		ConsumerClass: class,
		CreatedAt:     time.Now().UTC(),
	}

	start := time.Now()
	err := s.sink.Insert(context.WithoutCancel(ctx), rec)
	s.observe("dead_letter", queue, class, time.Since(start), err, len(payload))
	if err != nil {
		s.logger.Error("Failed to save not processed message", err, map[string]interface{}{
			"queue":          queue,
			"consumer_class": class,
		})
	}
}

func (s *ConsumerSupervisor) ack(d amqp.Delivery, cfg ConsumerConfig) {
	if !cfg.ManualAck {
		return
	}
	if err := d.Ack(false); err != nil {
		s.logger.Warn("failed to acknowledge delivery", err, map[string]interface{}{
			"delivery_tag": d.DeliveryTag,
		})
	}
}

func (s *ConsumerSupervisor) extractTrace(ctx context.Context, d amqp.Delivery) context.Context {
	if s.tracer == nil || len(d.Headers) == 0 {
		return ctx
	}
	carrier := make(map[string]string, len(d.Headers))
	for k, v := range d.Headers {
		if str, ok := v.(string); ok {
			carrier[k] = str
		}
	}
	return s.tracer.SetCarrierOnContext(ctx, carrier)
}

func (s *ConsumerSupervisor) journalBegin(a DeliveryAttempt) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Begin(a); err != nil {
		s.logger.Warn("failed to record in-flight delivery", err, nil)
	}
}

func (s *ConsumerSupervisor) journalFail(a DeliveryAttempt) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Fail(a); err != nil {
		s.logger.Warn("failed to mark in-flight delivery as hung", err, nil)
	}
}

func (s *ConsumerSupervisor) journalClear() {
	if s.journal == nil {
		return
	}
	if err := s.journal.Clear(); err != nil {
		s.logger.Warn("failed to clear in-flight delivery", err, nil)
	}
}

func (s *ConsumerSupervisor) observe(operation, queue, class string, d time.Duration, err error, size int) {
	if s.observer == nil {
		return
	}
	s.observer.ObserveOperation(OperationContext{
		Component:   "rabbit",
		Operation:   operation,
		Resource:    queue,
		SubResource: class,
		Duration:    d,
		Error:       err,
		Size:        int64(size),
	})
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
