package rabbit

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// budgetBackOff is a backoff.BackOff that doubles the delay after every
// failed attempt and stops when either the attempt budget or the total
// delay budget is spent. Both budgets are checked before the next attempt:
// a delay that would use up the rest of MaxTotalDelay is never slept,
// because no attempt would be allowed after it. With the defaults this
// means 4 dials separated by 2s, 4s and 8s.
type budgetBackOff struct {
	cfg      Reconnect
	attempts int
	total    time.Duration
}

var _ backoff.BackOff = (*budgetBackOff)(nil)

func newBudgetBackOff(cfg Reconnect) *budgetBackOff {
	return &budgetBackOff{cfg: cfg.withDefaults()}
}

// NextBackOff is called after each failed attempt.
func (b *budgetBackOff) NextBackOff() time.Duration {
	b.attempts++
	if b.attempts >= b.cfg.MaxAttempts {
		return backoff.Stop
	}

	remaining := b.cfg.MaxTotalDelay - b.total
	if remaining <= 0 {
		return backoff.Stop
	}

	delay := remaining
	if shift := b.attempts - 1; shift < 32 {
		if d := b.cfg.InitialDelay << shift; d > 0 && d < remaining {
			delay = d
		}
	}
	if delay >= remaining {
		return backoff.Stop
	}

	b.total += delay
	return delay
}

func (b *budgetBackOff) Reset() {
	b.attempts = 0
	b.total = 0
}

// Attempts returns the number of failed attempts seen since the last Reset.
func (b *budgetBackOff) Attempts() int {
	return b.attempts
}

// TotalDelay returns the sum of the delays handed out since the last Reset.
func (b *budgetBackOff) TotalDelay() time.Duration {
	return b.total
}
