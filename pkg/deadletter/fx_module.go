package deadletter

import (
	"context"

	"go.uber.org/fx"

	"github.com/Aleph-Alpha/smallrabbit/pkg/postgres"
	"github.com/Aleph-Alpha/smallrabbit/pkg/rabbit"
)

// FXModule provides a *Sink and exposes it as rabbit.DeadLetterSink. A
// Store is optional; add StoreModule when the sink is enabled.
var FXModule = fx.Module("deadletter",
	fx.Provide(
		NewSinkWithDI,
		func(s *Sink) rabbit.DeadLetterSink { return s },
	),
	fx.Invoke(RegisterSinkLifecycle),
)

// StoreModule backs the sink with postgres.
var StoreModule = fx.Options(
	postgres.FXModule,
	fx.Provide(func(p *postgres.Postgres) Store { return p }),
)

// SinkParams groups the dependencies of NewSinkWithDI.
type SinkParams struct {
	fx.In

	Config Config
	Store  Store  `optional:"true"`
	Logger Logger `optional:"true"`
}

// NewSinkWithDI builds a Sink from fx parameters.
func NewSinkWithDI(p SinkParams) (*Sink, error) {
	log := p.Logger
	if log == nil {
		log = nopLogger{}
	}
	return NewSink(p.Config, p.Store, log)
}

// RegisterSinkLifecycle migrates the table on start when configured.
func RegisterSinkLifecycle(lc fx.Lifecycle, sink *Sink) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if !sink.cfg.AutoMigrate {
				return nil
			}
			return sink.Migrate(ctx)
		},
	})
}

type nopLogger struct{}

func (nopLogger) Info(string, error, ...map[string]interface{})  {}
func (nopLogger) Debug(string, error, ...map[string]interface{}) {}
func (nopLogger) Warn(string, error, ...map[string]interface{})  {}
func (nopLogger) Error(string, error, ...map[string]interface{}) {}
