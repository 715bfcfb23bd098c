package rabbit

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Error categories. Every error returned by this package that callers may
// want to remediate differently belongs to exactly one of them:
// configuration errors should be fixed, connectivity errors may be retried
// later.
var (
	// ErrConfiguration marks invalid send arguments and topology conflicts
	ErrConfiguration = errors.New("configuration error")

	// ErrConnectivity marks dial failures and lost connections or channels
	ErrConnectivity = errors.New("connectivity error")
)

// Send validation errors. They are returned before any network I/O.
var (
	ErrEmptyMessage            = fmt.Errorf("%w: message cannot be empty", ErrConfiguration)
	ErrNoDestination           = fmt.Errorf("%w: both exchange and queue cannot be empty", ErrConfiguration)
	ErrRoutingKeyNeedsExchange = fmt.Errorf("%w: exchange name must be provided if routing key is specified", ErrConfiguration)
	ErrInvalidExchangeType     = fmt.Errorf("%w: invalid exchange type, valid types are 'direct', 'topic', 'headers', 'fanout'", ErrConfiguration)
	ErrRoutingKeyRequired      = fmt.Errorf("%w: routing key is required for 'direct' and 'topic' exchange types", ErrConfiguration)
	ErrExchangeKindConflict    = fmt.Errorf("%w: exchange already declared with a different type", ErrConfiguration)
)

var (
	// ErrUnroutableMessage is returned when an exchange-only publish has no
	// known binding that matches its routing key
	ErrUnroutableMessage = errors.New("unroutable message")

	// ErrNotConnected is returned when a channel is requested before the
	// connection has been established
	ErrNotConnected = fmt.Errorf("%w: not connected", ErrConnectivity)

	// ErrDeliveriesClosed is returned when the broker closes the delivery stream
	ErrDeliveriesClosed = fmt.Errorf("%w: deliveries channel closed", ErrConnectivity)

	// ErrHandlerTimeout is recorded when a handler misses its deadline
	ErrHandlerTimeout = errors.New("message processing timed out")

	// ErrHandlerPanic is recorded when a handler panics
	ErrHandlerPanic = errors.New("handler panicked")

	// ErrHandlerHung is returned by Consume when a handler ignored the
	// cancellation of its deadline; the worker cannot safely continue
	ErrHandlerHung = errors.New("execution deadline exceeded")

	// ErrInvalidConsumerConfig is returned for out of range envelope limits
	ErrInvalidConsumerConfig = errors.New("invalid consumer config")

	// ErrInvalidHandler is returned when a registry entry cannot produce a handler
	ErrInvalidHandler = errors.New("invalid handler")

	// ErrUnknownQueue is returned when no handler is registered for a queue
	ErrUnknownQueue = errors.New("no handler registered for queue")

	// ErrPublishFailed wraps non transient publish failures
	ErrPublishFailed = errors.New("publish failed")

	// ErrDeclareFailed wraps failed queue or exchange declarations
	ErrDeclareFailed = errors.New("declare failed")

	// ErrBindFailed wraps failed queue bindings
	ErrBindFailed = errors.New("bind failed")

	// Broker reply errors produced by TranslateError
	ErrAccessDenied       = errors.New("access denied")
	ErrNotFound           = errors.New("not found")
	ErrResourceLocked     = errors.New("resource locked")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrMessageTooLarge    = errors.New("message too large")
	ErrNotAllowed         = errors.New("not allowed")
	ErrInternalError      = errors.New("internal error")
)

// ConnectionError reports that a connection could not be established
// within the reconnect budget.
type ConnectionError struct {
	Op         string        // Operation that failed
	Attempts   int           // Dial attempts made
	TotalDelay time.Duration // Time spent sleeping between attempts
	Err        error         // Last dial error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("unable to connect to RabbitMQ: %s failed after %d attempts and %s of delay: %v",
		e.Op, e.Attempts, e.TotalDelay, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Is makes every ConnectionError match ErrConnectivity.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnectivity
}

func invalidConsumerConfig(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConsumerConfig, fmt.Sprintf(format, args...))
}

// IsTransient reports whether err is a transport level failure after which
// a reconnect is worth trying: a closed connection or channel, a recoverable
// broker exception, or a network I/O error.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConfiguration) || errors.Is(err, ErrUnroutableMessage) {
		return false
	}
	if errors.Is(err, ErrConnectivity) || errors.Is(err, amqp.ErrClosed) {
		return true
	}

	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		switch amqpErr.Code {
		case amqp.ConnectionForced, amqp.ChannelError, amqp.FrameError, amqp.UnexpectedFrame:
			return true
		}
		return amqpErr.Recover
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}

// TranslateError converts AMQP broker replies into the package's sentinel
// errors. The original error stays in the chain; errors that match no known
// reply code are returned unchanged.
func TranslateError(err error) error {
	if err == nil {
		return nil
	}

	var amqpErr *amqp.Error
	if !errors.As(err, &amqpErr) {
		return err
	}

	var sentinel error
	switch amqpErr.Code {
	case amqp.ConnectionForced, amqp.ChannelError:
		sentinel = ErrConnectivity
	case amqp.AccessRefused:
		sentinel = ErrAccessDenied
	case amqp.NotFound, amqp.InvalidPath:
		sentinel = ErrNotFound
	case amqp.ResourceLocked:
		sentinel = ErrResourceLocked
	case amqp.PreconditionFailed:
		sentinel = ErrPreconditionFailed
	case amqp.ContentTooLarge:
		sentinel = ErrMessageTooLarge
	case amqp.NotAllowed:
		sentinel = ErrNotAllowed
	case amqp.InternalError:
		sentinel = ErrInternalError
	default:
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
