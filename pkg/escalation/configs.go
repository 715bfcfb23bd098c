package escalation

import "time"

// Config configures the journal of a worker and the watchdog around it.
type Config struct {
	// JournalPath is the file holding the in-flight delivery. Empty
	// disables the journal.
	JournalPath string `mapstructure:"journal_path"`

	// Command is run with --data=<record> to record a dead letter when the
	// watchdog can not reach the store itself.
	Command string `mapstructure:"command"`

	StopTimeout     time.Duration `mapstructure:"stop_timeout"`
	MaxRestartDelay time.Duration `mapstructure:"max_restart_delay"`
}
