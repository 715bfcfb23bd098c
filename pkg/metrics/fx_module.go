package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"

	"go.uber.org/fx"

	"github.com/Aleph-Alpha/smallrabbit/pkg/rabbit"
)

// Logger defines the logging operations used by the metrics server.
type Logger interface {
	Info(msg string, err error, fields ...map[string]interface{})
	Error(msg string, err error, fields ...map[string]interface{})
}

// FXModule provides *Metrics, exposes it as rabbit.Observer and serves it
// while the application runs.
var FXModule = fx.Module("metrics",
	fx.Provide(
		NewMetrics,
		func(m *Metrics) rabbit.Observer { return m },
	),
	fx.Invoke(RegisterMetricsLifecycle),
)

// RegisterMetricsLifecycle starts the HTTP server on start and shuts it
// down on stop. Nothing is served when the address is empty.
func RegisterMetricsLifecycle(lc fx.Lifecycle, m *Metrics, logger Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if m.Server.Addr == "" {
				return nil
			}
			ln, err := net.Listen("tcp", m.Server.Addr)
			if err != nil {
				return err
			}
			go func() {
				if err := m.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server stopped", err, nil)
				}
			}()
			logger.Info("metrics server listening", nil, map[string]interface{}{"address": ln.Addr().String()})
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if m.Server.Addr == "" {
				return nil
			}
			return m.Server.Shutdown(ctx)
		},
	})
}
