package rabbit

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Delivery is the message handed to a Handler.
type Delivery struct {
	Queue       string
	Body        []byte
	Headers     map[string]interface{}
	ContentType string
	MessageID   string

	// Attempt is 1 for the first invocation of the handler for this delivery
	Attempt int

	Raw amqp.Delivery
}

func newDelivery(queue string, d amqp.Delivery, attempt int) *Delivery {
	return &Delivery{
		Queue:       queue,
		Body:        d.Body,
		Headers:     d.Headers,
		ContentType: d.ContentType,
		MessageID:   d.MessageId,
		Attempt:     attempt,
		Raw:         d,
	}
}

// DeliveryAttempt is the journal entry for the delivery being processed.
type DeliveryAttempt struct {
	ID            string
	Queue         string
	Payload       []byte
	ConsumerClass string
	Attempt       int
	LastError     string
	StartedAt     time.Time
}

// HandlerName is the consumer class recorded with dead letters: the value
// of Name() for handlers implementing Named, the Go type otherwise.
func HandlerName(h Handler) string {
	if h == nil {
		return "<nil>"
	}
	if n, ok := h.(Named); ok && !isNilHandler(h) {
		if name := n.Name(); name != "" {
			return name
		}
	}
	return reflect.TypeOf(h).String()
}

// isNilHandler also catches a nil pointer or func stored in the interface.
func isNilHandler(h Handler) bool {
	if h == nil {
		return true
	}
	v := reflect.ValueOf(h)
	switch v.Kind() {
	case reflect.Pointer, reflect.Func, reflect.Map, reflect.Slice, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// invoke runs one attempt of h under a deadline of cfg.MaxExecution. The
// deadline does not inherit cancellation from ctx, so a shutdown lets the
// in-flight attempt finish or time out.
//
// When the deadline fires first the handler gets cfg.HangGrace to notice
// the cancelled context. A handler that is still running after that is
// reported as ErrHandlerHung.
func invoke(ctx context.Context, h Handler, d *Delivery, cfg ConsumerConfig) error {
	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.MaxExecution)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: %v", ErrHandlerPanic, r)
			}
		}()
		done <- h.Handle(attemptCtx, d)
	}()

	select {
	case err := <-done:
		if err != nil && errors.Is(err, context.DeadlineExceeded) && attemptCtx.Err() != nil {
			return fmt.Errorf("%w after %s: %w", ErrHandlerTimeout, cfg.MaxExecution, err)
		}
		return err
	case <-attemptCtx.Done():
	}

	grace := time.NewTimer(cfg.HangGrace)
	defer grace.Stop()

	select {
	case <-done:
		return fmt.Errorf("%w after %s", ErrHandlerTimeout, cfg.MaxExecution)
	case <-grace.C:
		return fmt.Errorf("%w: handler still running %s after its deadline", ErrHandlerHung, cfg.HangGrace)
	}
}
