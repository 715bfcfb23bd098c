package escalation

import "errors"

var (
	ErrEmptyData = errors.New("escalation data is empty")
	ErrDecode    = errors.New("invalid escalation data")
	ErrEncode    = errors.New("failed to encode escalation record")

	// ErrEscalate wraps a failed escalation command.
	ErrEscalate = errors.New("escalation command failed")

	// ErrNoCommand is returned when a watchdog or escalator has nothing to run.
	ErrNoCommand = errors.New("no command configured")
)
