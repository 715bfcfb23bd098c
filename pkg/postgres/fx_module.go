package postgres

import (
	"context"
	"sync"

	"go.uber.org/fx"
)

// FXModule provides a *Postgres and runs its connection monitor for the
// lifetime of the application.
var FXModule = fx.Module("postgres",
	fx.Provide(
		NewPostgres,
	),
	fx.Invoke(RegisterPostgresLifecycle),
)

// RegisterPostgresLifecycle starts the monitor and retry loops on start and
// closes the pool on stop. The loops outlive OnStart, so they run on a
// context of their own.
func RegisterPostgresLifecycle(lifecycle fx.Lifecycle, postgres *Postgres) {
	wg := &sync.WaitGroup{}
	loopCtx, cancel := context.WithCancel(context.Background())

	lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			wg.Add(2)
			go func() {
				defer wg.Done()
				postgres.MonitorConnection(loopCtx)
			}()
			go func() {
				defer wg.Done()
				postgres.RetryConnection(loopCtx)
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			err := postgres.Close()
			wg.Wait()
			return err
		},
	})
}
