package logger

import (
	"context"
	"errors"
	"syscall"

	"go.uber.org/fx"
)

// FXModule provides *Logger from Config.
var FXModule = fx.Module("logger",
	fx.Provide(
		NewLogger,
	),
	fx.Invoke(RegisterLoggerLifecycle),
)

// RegisterLoggerLifecycle flushes buffered entries when the application stops.
func RegisterLoggerLifecycle(lc fx.Lifecycle, client *Logger) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Sync()
		},
	})
}

// Sync flushes the logger. Syncing stderr or stdout fails on some
// platforms with EINVAL or ENOTTY; those errors are ignored.
func (l *Logger) Sync() error {
	err := l.Zap.Sync()
	if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) {
		return nil
	}
	return err
}
