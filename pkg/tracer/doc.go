// Package tracer provides distributed tracing for broker traffic using
// OpenTelemetry.
//
// The publisher starts a "rabbit.publish" span and copies the W3C trace
// context into the message headers through GetCarrier. The consumer reads
// those headers back with SetCarrierOnContext, so every "rabbit.consume"
// span joins the trace of the message that caused it.
//
// Basic Usage:
//
//	log, _ := logger.NewLogger(logger.Config{Level: "info"})
//
//	tr, err := tracer.NewClient(tracer.Config{
//		ServiceName:  "mailer",
//		AppEnv:       "production",
//		EnableExport: true,
//		Endpoint:     "otel-collector:4318",
//	}, log)
//	if err != nil {
//		return err
//	}
//	defer tr.Shutdown(ctx)
//
//	client := rabbit.New(cfg, rabbit.WithTracer(tr))
//
// FX Module Integration:
//
//	app := fx.New(
//		logger.FXModule,
//		tracer.FXModule,
//		rabbit.FXModule,
//	)
package tracer
