// Package rabbit is a resilient RabbitMQ client with a supervised consumer.
//
// The package is built from four components sharing one connection:
//
//   - ConnectionManager dials with a bounded exponential backoff: at most
//     Reconnect.MaxAttempts attempts and Reconnect.MaxTotalDelay of sleeping,
//     whichever runs out first. Exhausting the budget yields a *ConnectionError.
//   - TopologyCache declares queues, exchanges and bindings once per
//     connection and is reset on every reconnect.
//   - Publisher validates a SendRequest, resolves its destination and
//     publishes persistent messages, retrying once after a reconnect on
//     transport failures.
//   - ConsumerSupervisor runs a Handler for each delivery with a deadline
//     per attempt and a fixed number of attempts, then records the delivery
//     in a DeadLetterSink.
//
// Errors fall in two categories that callers can tell apart with errors.Is:
// ErrConfiguration (fix the request) and ErrConnectivity (retry later).
// ErrUnroutableMessage is reported for exchange-only sends with no
// matching binding.
//
// Basic Usage:
//
//	import (
//		"github.com/Aleph-Alpha/smallrabbit/pkg/logger"
//		"github.com/Aleph-Alpha/smallrabbit/pkg/rabbit"
//	)
//
//	log, _ := logger.NewLogger(logger.Config{Level: "info"})
//
//	client := rabbit.New(rabbit.DefaultConfig(), rabbit.WithLogger(log))
//	defer client.Close()
//
//	// Publish through the default exchange
//	err := client.Send(ctx, rabbit.SendRequest{
//		Message:   []byte("hello"),
//		QueueName: "emails",
//	})
//
//	// Publish to a topic exchange bound to a queue
//	err = client.SendJSON(ctx, order, rabbit.SendRequest{
//		QueueName:    "orders-eu",
//		ExchangeName: "orders",
//		ExchangeType: rabbit.ExchangeTopic,
//		RoutingKey:   "orders.eu.*",
//	})
//
// Consuming:
//
//	handler := rabbit.HandlerFunc(func(ctx context.Context, d *rabbit.Delivery) error {
//		return sendEmail(ctx, d.Body)
//	})
//
//	err := client.Consume(ctx, "emails", handler, rabbit.DefaultConsumerConfig())
//	if errors.Is(err, rabbit.ErrHandlerHung) {
//		os.Exit(124)
//	}
//
// A handler must honour ctx: once MaxExecution elapses ctx is cancelled and
// the attempt counts as failed. A handler that keeps running for HangGrace
// after that makes Consume return ErrHandlerHung. The delivery is then left
// in the Journal for a watchdog process to record (see package escalation).
//
// FX Module Integration:
//
//	app := fx.New(
//		logger.FXModule,
//		rabbit.FXModule,
//		fx.Provide(func() rabbit.Config { return cfg }),
//	)
//
// Thread Safety:
//
// One Rabbit instance serves one worker. Its components lock their own
// state, but the AMQP channel underneath is not safe for concurrent
// publishing and consuming.
package rabbit
