package rabbit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopFactory() Handler {
	return HandlerFunc(func(context.Context, *Delivery) error { return nil })
}

func TestRegistrySetAndGet(t *testing.T) {
	reg := NewRegistry(nil)
	assert.Empty(t, reg.Get())

	require.NoError(t, reg.Set(map[string]HandlerFactory{
		"emails": noopFactory,
		"orders": func() Handler { return &namedHandler{name: "orders"} },
	}))
	assert.Equal(t, []string{"emails", "orders"}, reg.Queues())

	h, err := reg.Handler("orders")
	require.NoError(t, err)
	assert.Equal(t, "orders", HandlerName(h))

	got := reg.Get()
	delete(got, "emails")
	assert.Len(t, reg.Get(), 2, "Get returns a copy")
}

func TestRegistrySetValidatesAllEntries(t *testing.T) {
	reg := NewRegistry(map[string]HandlerFactory{"emails": noopFactory})

	tests := []struct {
		name      string
		factories map[string]HandlerFactory
	}{
		{"empty queue name", map[string]HandlerFactory{"": noopFactory}},
		{"nil factory", map[string]HandlerFactory{"orders": nil}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Set(tt.factories)
			assert.ErrorIs(t, err, ErrInvalidHandler)
			assert.Equal(t, []string{"emails"}, reg.Queues(), "a rejected mapping leaves the registry unchanged")
		})
	}
}

func TestRegistrySetDoesNotBuildHandlers(t *testing.T) {
	built := 0
	reg := NewRegistry(map[string]HandlerFactory{
		"emails": func() Handler {
			built++
			return noopFactory()
		},
	})
	assert.Zero(t, built)

	_, err := reg.Handler("emails")
	require.NoError(t, err)
	assert.Equal(t, 1, built)
}

func TestRegistryRejectsNilHandlers(t *testing.T) {
	reg := NewRegistry(map[string]HandlerFactory{
		"untyped": func() Handler { return nil },
		"pointer": func() Handler {
			var h *namedHandler
			return h
		},
		"func": func() Handler { return HandlerFunc(nil) },
	})

	for _, queue := range reg.Queues() {
		_, err := reg.Handler(queue)
		assert.ErrorIs(t, err, ErrInvalidHandler, queue)
	}
}

func TestRegistryUnknownQueue(t *testing.T) {
	reg := NewRegistry(map[string]HandlerFactory{"emails": noopFactory})

	_, err := reg.Handler("missing")
	assert.ErrorIs(t, err, ErrUnknownQueue)
}

func TestNewRegistryPanicsOnInvalidMapping(t *testing.T) {
	assert.Panics(t, func() {
		NewRegistry(map[string]HandlerFactory{"orders": nil})
	})
}
