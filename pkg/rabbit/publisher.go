package rabbit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SendRequest describes one message to publish.
type SendRequest struct {
	Message      []byte
	QueueName    string
	ExchangeName string
	RoutingKey   string

	// ExchangeType is one of direct, topic, fanout or headers. Empty means direct.
	ExchangeType string

	// ContentType overrides Config.ContentType
	ContentType string

	Headers map[string]interface{}
}

// Validate checks the request without touching the broker. The first
// failing rule wins.
func (r SendRequest) Validate() error {
	if len(r.Message) == 0 {
		return ErrEmptyMessage
	}
	if r.ExchangeName == "" && r.QueueName == "" {
		return ErrNoDestination
	}
	if r.RoutingKey != "" && r.ExchangeName == "" {
		return ErrRoutingKeyNeedsExchange
	}
	kind := r.exchangeKind()
	if !validExchangeKind(kind) {
		return fmt.Errorf("%w: got %q", ErrInvalidExchangeType, r.ExchangeType)
	}
	if r.ExchangeName != "" && r.RoutingKey == "" && (kind == ExchangeDirect || kind == ExchangeTopic) {
		return ErrRoutingKeyRequired
	}
	return nil
}

func (r SendRequest) exchangeKind() string {
	if r.ExchangeType == "" {
		return ExchangeDirect
	}
	return r.ExchangeType
}

// Publisher sends persistent messages, declaring what the destination
// needs through the topology cache.
type Publisher struct {
	cfg      Config
	conn     *ConnectionManager
	topology *TopologyCache
	logger   Logger
	observer Observer
	tracer   Tracer
}

func newPublisher(cfg Config, conn *ConnectionManager, topology *TopologyCache, s *settings) *Publisher {
	return &Publisher{
		cfg:      cfg,
		conn:     conn,
		topology: topology,
		logger:   s.logger,
		observer: s.observer,
		tracer:   s.tracer,
	}
}

// Send validates req, resolves its destination and publishes the message
// with persistent delivery mode.
//
// Destination precedence:
//   - queue and exchange: the queue is bound to the exchange with the routing key
//   - exchange only: an existing binding must match the routing key, else ErrUnroutableMessage
//   - queue only: the queue is declared and the message goes through the default exchange
//
// A transient failure reconnects and retries once. A second transient
// failure is returned to the caller.
func (p *Publisher) Send(ctx context.Context, req SendRequest) (err error) {
	if verr := req.Validate(); verr != nil {
		return verr
	}

	if p.tracer != nil {
		var span trace.Span
		ctx, span = p.tracer.StartSpan(ctx, "rabbit.publish")
		defer span.End()
		span.SetAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", req.ExchangeName),
			attribute.String("messaging.rabbitmq.queue", req.QueueName),
			attribute.String("messaging.rabbitmq.destination.routing_key", req.RoutingKey),
		)
		defer func() {
			if err != nil {
				p.tracer.RecordErrorOnSpan(span, err)
			}
		}()
	}

	start := time.Now()
	err = p.send(ctx, req)
	if err != nil && IsTransient(err) && !isBudgetExhausted(err) {
		p.logger.Warn("transient error while publishing, reconnecting", err, map[string]interface{}{
			"exchange": req.ExchangeName,
			"queue":    req.QueueName,
		})
		if rerr := p.conn.Reconnect(ctx); rerr != nil {
			err = rerr
		} else {
			err = p.send(ctx, req)
		}
	}
	p.observe(req, len(req.Message), time.Since(start), err)

	if err != nil {
		if !isBudgetExhausted(err) && !errors.Is(err, ErrConfiguration) && !errors.Is(err, ErrUnroutableMessage) {
			err = fmt.Errorf("%w: %w", ErrPublishFailed, err)
		}
		p.logger.Error("Failed to publish message", err, map[string]interface{}{
			"exchange":    req.ExchangeName,
			"queue":       req.QueueName,
			"routing_key": req.RoutingKey,
		})
		return err
	}
	return nil
}

// SendJSON encodes payload as JSON and sends it with an application/json
// content type.
func (p *Publisher) SendJSON(ctx context.Context, payload interface{}, req SendRequest) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal payload: %w", ErrConfiguration, err)
	}
	req.Message = body
	if req.ContentType == "" {
		req.ContentType = JSONContentType
	}
	return p.Send(ctx, req)
}

func (p *Publisher) send(ctx context.Context, req SendRequest) error {
	exchange, key, err := p.resolve(ctx, req)
	if err != nil {
		return err
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}

	if err := ch.PublishWithContext(ctx, exchange, key, false, false, p.publishing(ctx, req)); err != nil {
		return TranslateError(err)
	}

	p.logger.Debug("message published to rabbit", nil, map[string]interface{}{
		"exchange":    exchange,
		"routing_key": key,
	})
	return nil
}

func (p *Publisher) resolve(ctx context.Context, req SendRequest) (string, string, error) {
	kind := req.exchangeKind()
	switch {
	case req.QueueName != "" && req.ExchangeName != "":
		if err := p.topology.EnsureBinding(ctx, req.QueueName, req.ExchangeName, kind, req.RoutingKey); err != nil {
			return "", "", err
		}
		return req.ExchangeName, req.RoutingKey, nil

	case req.ExchangeName != "":
		if err := p.topology.EnsureExchange(ctx, req.ExchangeName, kind); err != nil {
			return "", "", err
		}
		if !p.topology.HasBindingMatching(req.ExchangeName, req.RoutingKey) {
			return "", "", fmt.Errorf("%w: no binding on exchange %q matches routing key %q",
				ErrUnroutableMessage, req.ExchangeName, req.RoutingKey)
		}
		return req.ExchangeName, req.RoutingKey, nil

	default:
		if err := p.topology.EnsureQueue(ctx, req.QueueName); err != nil {
			return "", "", err
		}
		return "", req.QueueName, nil
	}
}

func (p *Publisher) publishing(ctx context.Context, req SendRequest) amqp.Publishing {
	contentType := req.ContentType
	if contentType == "" {
		contentType = p.cfg.ContentType
	}
	if contentType == "" {
		contentType = DefaultContentType
	}

	headers := amqp.Table{}
	for k, v := range req.Headers {
		headers[k] = v
	}
	if p.tracer != nil {
		for k, v := range p.tracer.GetCarrier(ctx) {
			headers[k] = v
		}
	}

	return amqp.Publishing{
		Headers:      headers,
		ContentType:  contentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         req.Message,
	}
}

func (p *Publisher) observe(req SendRequest, size int, d time.Duration, err error) {
	if p.observer == nil {
		return
	}
	resource := req.ExchangeName
	if resource == "" {
		resource = req.QueueName
	}
	p.observer.ObserveOperation(OperationContext{
		Component:   "rabbit",
		Operation:   "produce",
		Resource:    resource,
		SubResource: req.RoutingKey,
		Duration:    d,
		Error:       err,
		Size:        int64(size),
	})
}

// isBudgetExhausted reports whether the connection manager already gave up;
// reconnecting again would only spend another budget.
func isBudgetExhausted(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}
