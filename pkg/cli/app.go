package cli

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/Aleph-Alpha/smallrabbit/pkg/config"
	"github.com/Aleph-Alpha/smallrabbit/pkg/deadletter"
	"github.com/Aleph-Alpha/smallrabbit/pkg/escalation"
	"github.com/Aleph-Alpha/smallrabbit/pkg/logger"
	"github.com/Aleph-Alpha/smallrabbit/pkg/metrics"
	"github.com/Aleph-Alpha/smallrabbit/pkg/postgres"
	"github.com/Aleph-Alpha/smallrabbit/pkg/rabbit"
	"github.com/Aleph-Alpha/smallrabbit/pkg/tracer"
)

// supplyConfig splits the worker configuration into the per package
// configs the modules consume.
func supplyConfig(cfg config.Config) fx.Option {
	return fx.Supply(
		cfg,
		cfg.Logger,
		cfg.Rabbit,
		cfg.DeadLetter,
		cfg.Postgres,
		cfg.Metrics,
		cfg.Tracer,
		cfg.Escalation,
	)
}

// loggerAdapters exposes *logger.Logger as the Logger interface of every
// package.
var loggerAdapters = fx.Provide(
	fx.Annotate(
		func(l *logger.Logger) *logger.Logger { return l },
		fx.As(new(rabbit.Logger)),
		fx.As(new(postgres.Logger)),
		fx.As(new(deadletter.Logger)),
		fx.As(new(metrics.Logger)),
		fx.As(new(tracer.Logger)),
		fx.As(new(escalation.Logger)),
	),
)

// sinkModules wires the dead letter sink, with postgres behind it when
// saving is enabled.
func sinkModules(cfg config.Config) fx.Option {
	if !cfg.DeadLetter.Enabled {
		return deadletter.FXModule
	}
	return fx.Options(deadletter.StoreModule, deadletter.FXModule)
}

// newApp builds the application graph for a command. The fx event log is
// silent; the components log through the zap logger.
func newApp(cfg config.Config, extra ...fx.Option) *fx.App {
	opts := []fx.Option{
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
		supplyConfig(cfg),
		logger.FXModule,
		loggerAdapters,
		sinkModules(cfg),
	}
	return fx.New(append(opts, extra...)...)
}

// brokerModules are the modules of commands that talk to RabbitMQ.
var brokerModules = fx.Options(
	metrics.FXModule,
	tracer.FXModule,
	escalation.FXModule,
	rabbit.FXModule,
)
