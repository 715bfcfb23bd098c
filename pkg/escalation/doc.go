// Package escalation records deliveries whose worker died mid-handler.
//
// A worker given a FileJournal writes the delivery it is processing before
// the first attempt and removes it when the delivery is acknowledged or
// recorded as a dead letter. A handler that ignores its deadline makes the
// worker mark the entry hung and exit with ExitHung (124).
//
// The Watchdog runs the worker as a child process. When the child exits
// abnormally and the journal still holds an entry, the watchdog sends it to
// an Escalator and clears the journal. Because the worker clears its entry
// before writing its own dead letter, a delivery is recorded by one side
// only.
//
// Records cross process boundaries as base64 encoded JSON:
//
//	data, _ := escalation.Encode(escalation.Record{Error: "...", Payload: body, Class: "SendEmail"})
//	// smallrabbit deadletter --data=<data>
package escalation
