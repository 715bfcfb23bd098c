// Package logger provides the structured zap logger used across the module.
//
// Entries are JSON encoded with an ISO8601 "timestamp", capitalised level
// names and the "pid" and "service" fields. Every logging method takes a
// message, an optional error and optional field maps:
//
//	log, err := logger.NewLogger(logger.Config{Level: "info", ServiceName: "mailer"})
//	if err != nil {
//		return err
//	}
//
//	log.Info("consumer started", nil, map[string]interface{}{"queue": "emails"})
//	log.Error("Failed to publish message", err, nil)
//
// *Logger satisfies the narrow Logger interfaces declared by the rabbit,
// deadletter, escalation and postgres packages, so none of them import zap.
//
// Configuration:
//
//	ZAP_LOGGER_LEVEL=debug   # debug, info, warning or error
//
// FX Module Integration:
//
//	app := fx.New(
//		logger.FXModule,
//		fx.Provide(func() logger.Config { return cfg.Logger }),
//	)
//
// The logger is synced when the application stops.
package logger
