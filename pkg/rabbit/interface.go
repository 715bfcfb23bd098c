package rabbit

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Logger defines the logging operations used by the rabbit package.
// *logger.Logger from this module satisfies it.
//
//go:generate mockgen -source=interface.go -destination=mock_interface.go -package=rabbit
type Logger interface {
	// Info logs informational messages, optionally with error and contextual fields
	Info(msg string, err error, fields ...map[string]interface{})

	// Debug logs debug-level messages, optionally with error and contextual fields
	Debug(msg string, err error, fields ...map[string]interface{})

	// Warn logs warning messages, optionally with error and contextual fields
	Warn(msg string, err error, fields ...map[string]interface{})

	// Error logs error messages with the associated error and optional contextual fields
	Error(msg string, err error, fields ...map[string]interface{})
}

// Observer receives one notification per broker operation. It is used to
// feed metrics; *metrics.Metrics satisfies it.
type Observer interface {
	ObserveOperation(op OperationContext)
}

// OperationContext describes a finished operation.
type OperationContext struct {
	Component   string
	Operation   string
	Resource    string
	SubResource string
	Duration    time.Duration
	Error       error
	Size        int64
	Metadata    map[string]interface{}
}

// Tracer starts spans and moves trace context in and out of message
// headers. *tracer.Tracer satisfies it.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, trace.Span)
	RecordErrorOnSpan(span trace.Span, err error)
	GetCarrier(ctx context.Context) map[string]string
	SetCarrierOnContext(ctx context.Context, carrier map[string]string) context.Context
}

// Handler processes one delivery. Returning an error, panicking or running
// past the deadline carried by ctx counts as a failed attempt.
type Handler interface {
	Handle(ctx context.Context, d *Delivery) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, d *Delivery) error

// Handle calls f(ctx, d).
func (f HandlerFunc) Handle(ctx context.Context, d *Delivery) error {
	return f(ctx, d)
}

// Named is implemented by handlers that want to choose the consumer class
// recorded with their dead letters.
type Named interface {
	Name() string
}

// DeadLetterRecord is what the supervisor persists for a delivery that
// exhausted its attempts.
type DeadLetterRecord struct {
	Queue         string
	Payload       []byte
	Error         string
	ConsumerClass string
	CreatedAt     time.Time
}

// DeadLetterSink stores permanently failed deliveries.
type DeadLetterSink interface {
	Insert(ctx context.Context, rec DeadLetterRecord) error
}

// Journal remembers the delivery that is currently being processed, so a
// watchdog can record it if the worker dies mid-handler.
type Journal interface {
	Begin(attempt DeliveryAttempt) error
	Fail(attempt DeliveryAttempt) error
	Clear() error
}
