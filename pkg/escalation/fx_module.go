package escalation

import (
	"go.uber.org/fx"

	"github.com/Aleph-Alpha/smallrabbit/pkg/rabbit"
)

// FXModule provides the worker side: a rabbit.Journal when
// Config.JournalPath is set.
var FXModule = fx.Module("escalation",
	fx.Provide(NewJournal),
)

// NewJournal returns a FileJournal for cfg.JournalPath, or nil when no
// path is configured.
func NewJournal(cfg Config) rabbit.Journal {
	if cfg.JournalPath == "" {
		return nil
	}
	return NewFileJournal(cfg.JournalPath)
}
