package routing

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcher(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		key     string
		want    bool
	}{
		{"single word wildcard", "orders.*.created", "orders.eu.created", true},
		{"single word wildcard spans one word only", "orders.*.created", "orders.eu.west.created", false},
		{"hash matches one word", "orders.#", "orders.created", true},
		{"hash matches many words", "orders.#", "orders.eu.west.created", true},
		{"hash matches zero words", "orders.#", "orders", true},
		{"leading hash matches zero words", "#.created", "created", true},
		{"leading hash matches many words", "#.created", "orders.eu.created", true},
		{"inner hash matches zero words", "orders.#.created", "orders.created", true},
		{"inner hash matches many words", "orders.#.created", "orders.eu.west.created", true},
		{"inner hash keeps the suffix", "orders.#.created", "orders.eu.deleted", false},
		{"repeated hashes", "#.#", "a.b", true},
		{"hash then star", "#.*", "a", true},
		{"star needs a word", "orders.*", "orders", false},
		{"star rejects empty word", "orders.*", "orders.", false},
		{"literal exact", "orders.created", "orders.created", true},
		{"literal dot is not a wildcard", "orders.created", "ordersXcreated", false},
		{"anchored at start", "created", "orders.created", false},
		{"anchored at end", "orders", "orders.created", false},
		{"hash alone", "#", "anything.at.all", true},
		{"empty pattern matches empty key", "", "", true},
		{"empty pattern rejects key", "", "rk", false},
		{"regex metacharacters are literal", "a+b.(c)", "a+b.(c)", true},
		{"regex metacharacters do not expand", "a+b", "aab", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Compile(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Matches(tt.key))
			assert.Equal(t, tt.want, Match(tt.pattern, tt.key))
		})
	}
}

func TestMatcherConcurrentUse(t *testing.T) {
	m := MustCompile("logs.*.error")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.True(t, m.Matches("logs.api.error"))
				assert.True(t, Match("logs.#", "logs.api.error"))
			}
		}()
	}
	wg.Wait()
}

func TestMatcherPattern(t *testing.T) {
	m := MustCompile("a.#")
	assert.Equal(t, "a.#", m.Pattern())
	assert.Equal(t, "a.#", m.String())
}
