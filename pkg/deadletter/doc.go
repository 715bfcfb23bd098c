// Package deadletter stores deliveries that exhausted their attempts in
// the not_processed_messages table.
//
// Payloads are stored as text. Bodies that are not valid UTF-8 or contain a
// NUL byte are stored base64 encoded with a "base64:" prefix; DecodePayload
// returns the original bytes either way. Error and consumer class are cut
// to 255 bytes.
//
// With Config.Enabled false the sink accepts records and drops them, so a
// supervisor can always be given a sink.
//
//	sink, err := deadletter.NewSink(deadletter.Config{Enabled: true}, pg, log)
//	client := rabbit.New(cfg, rabbit.WithDeadLetterSink(sink))
package deadletter
