package rabbit

import (
	"math"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
)

func drain(b backoff.BackOff) []time.Duration {
	var out []time.Duration
	for i := 0; i < 100; i++ {
		d := b.NextBackOff()
		if d == backoff.Stop {
			return out
		}
		out = append(out, d)
	}
	return out
}

func TestBudgetBackOff(t *testing.T) {
	tests := []struct {
		name string
		cfg  Reconnect
		want []time.Duration
	}{
		{
			name: "default budget stops before the delay that spends it",
			cfg:  DefaultReconnect(),
			want: []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second},
		},
		{
			name: "attempts run out first",
			cfg:  Reconnect{MaxAttempts: 3, MaxTotalDelay: time.Minute, InitialDelay: time.Second},
			want: []time.Duration{1 * time.Second, 2 * time.Second},
		},
		{
			name: "delay budget runs out first",
			cfg:  Reconnect{MaxAttempts: 10, MaxTotalDelay: 5 * time.Second, InitialDelay: 2 * time.Second},
			want: []time.Duration{2 * time.Second},
		},
		{
			name: "delays that add up to the budget exactly",
			cfg:  Reconnect{MaxAttempts: 10, MaxTotalDelay: 7 * time.Second, InitialDelay: time.Second},
			want: []time.Duration{1 * time.Second, 2 * time.Second},
		},
		{
			name: "single attempt never sleeps",
			cfg:  Reconnect{MaxAttempts: 1, MaxTotalDelay: time.Minute, InitialDelay: time.Second},
			want: nil,
		},
		{
			name: "zero values fall back to defaults",
			cfg:  Reconnect{},
			want: []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBudgetBackOff(tt.cfg)
			got := drain(b)
			assert.Equal(t, tt.want, got)

			var total time.Duration
			for _, d := range got {
				total += d
			}
			assert.Equal(t, total, b.TotalDelay())
			assert.Less(t, b.TotalDelay(), b.cfg.MaxTotalDelay)
		})
	}
}

func TestBudgetBackOffReset(t *testing.T) {
	b := newBudgetBackOff(DefaultReconnect())
	drain(b)
	assert.Equal(t, 4, b.Attempts())

	b.Reset()
	assert.Equal(t, 0, b.Attempts())
	assert.Equal(t, time.Duration(0), b.TotalDelay())
	assert.Equal(t, 2*time.Second, b.NextBackOff())
}

func TestBudgetBackOffSingleDelayFillsBudget(t *testing.T) {
	b := newBudgetBackOff(Reconnect{MaxAttempts: 100, MaxTotalDelay: time.Hour, InitialDelay: time.Hour})
	assert.Empty(t, drain(b))

	b = newBudgetBackOff(Reconnect{MaxAttempts: 100, MaxTotalDelay: time.Hour, InitialDelay: 10 * time.Minute})
	assert.Equal(t, []time.Duration{10 * time.Minute, 20 * time.Minute}, drain(b))
}

func TestBudgetBackOffLargeShift(t *testing.T) {
	b := newBudgetBackOff(Reconnect{MaxAttempts: 100, MaxTotalDelay: math.MaxInt64, InitialDelay: time.Hour})
	got := drain(b)

	assert.Len(t, got, 21)
	assert.Equal(t, time.Hour<<20, got[len(got)-1])
	assert.Positive(t, b.TotalDelay())
}
