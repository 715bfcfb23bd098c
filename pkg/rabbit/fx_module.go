package rabbit

import (
	"context"

	"go.uber.org/fx"
)

// FXModule provides *Rabbit built from Config and closes its connection
// when the application stops. Logger, Observer, Tracer, DeadLetterSink and
// Journal are picked up when the graph provides them.
//
// Usage:
//
//	app := fx.New(
//	    logger.FXModule,
//	    rabbit.FXModule,
//	    fx.Provide(func() rabbit.Config { return cfg }),
//	)
var FXModule = fx.Module("rabbit",
	fx.Provide(
		NewWithDI,
	),
	fx.Invoke(RegisterRabbitLifecycle),
)

// RabbitParams groups the dependencies needed to create a Rabbit client.
type RabbitParams struct {
	fx.In

	Config   Config
	Logger   Logger         `optional:"true"`
	Observer Observer       `optional:"true"`
	Tracer   Tracer         `optional:"true"`
	Sink     DeadLetterSink `optional:"true"`
	Journal  Journal        `optional:"true"`
}

// NewWithDI builds the client from injected dependencies.
func NewWithDI(params RabbitParams) *Rabbit {
	var opts []Option
	if params.Logger != nil {
		opts = append(opts, WithLogger(params.Logger))
	}
	if params.Observer != nil {
		opts = append(opts, WithObserver(params.Observer))
	}
	if params.Tracer != nil {
		opts = append(opts, WithTracer(params.Tracer))
	}
	if params.Sink != nil {
		opts = append(opts, WithDeadLetterSink(params.Sink))
	}
	if params.Journal != nil {
		opts = append(opts, WithJournal(params.Journal))
	}
	return New(params.Config, opts...)
}

// RegisterRabbitLifecycle closes the broker connection on stop. Connecting
// is left to the first Send or Consume.
func RegisterRabbitLifecycle(lc fx.Lifecycle, client *Rabbit) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
}
