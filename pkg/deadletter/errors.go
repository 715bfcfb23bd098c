package deadletter

import "errors"

var (
	// ErrNoStore is returned by NewSink when the sink is enabled without a store.
	ErrNoStore = errors.New("dead letter sink is enabled but has no store")

	// ErrInsert wraps failures to persist a record.
	ErrInsert = errors.New("failed to save not processed message")

	// ErrMigrate wraps failures to create the table.
	ErrMigrate = errors.New("failed to migrate not processed messages table")
)
