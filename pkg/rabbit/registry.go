package rabbit

import (
	"fmt"
	"sort"
	"sync"
)

// HandlerFactory builds a fresh handler for one consume loop.
type HandlerFactory func() Handler

// Registry maps queue names to handler factories. The CLI resolves the
// queue given on the command line through it.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]HandlerFactory
}

// NewRegistry returns a registry holding factories. It panics if the
// mapping is invalid, which makes it suitable for package level variables.
func NewRegistry(factories map[string]HandlerFactory) *Registry {
	r := &Registry{factories: map[string]HandlerFactory{}}
	if err := r.Set(factories); err != nil {
		panic(err)
	}
	return r
}

// Get returns a copy of the current mapping.
func (r *Registry) Get() map[string]HandlerFactory {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]HandlerFactory, len(r.factories))
	for q, f := range r.factories {
		out[q] = f
	}
	return out
}

// Set replaces the mapping. Every entry must have a queue name and a
// factory; otherwise nothing is changed. Factories are not called here, so
// a handler that needs connections or files is only built for the queue
// that is actually consumed.
func (r *Registry) Set(factories map[string]HandlerFactory) error {
	next := make(map[string]HandlerFactory, len(factories))
	for queue, factory := range factories {
		if queue == "" {
			return fmt.Errorf("%w: empty queue name", ErrInvalidHandler)
		}
		if factory == nil {
			return fmt.Errorf("%w: nil factory for queue %q", ErrInvalidHandler, queue)
		}
		next[queue] = factory
	}

	r.mu.Lock()
	r.factories = next
	r.mu.Unlock()
	return nil
}

// Handler builds the handler registered for queue. A factory that returns
// nil, or a nil pointer of a handler type, yields ErrInvalidHandler.
func (r *Registry) Handler(queue string) (Handler, error) {
	r.mu.RLock()
	factory, ok := r.factories[queue]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownQueue, queue)
	}
	h := factory()
	if isNilHandler(h) {
		return nil, fmt.Errorf("%w: factory for queue %q returned nil", ErrInvalidHandler, queue)
	}
	return h, nil
}

// Queues lists the registered queue names in order.
func (r *Registry) Queues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	queues := make([]string, 0, len(r.factories))
	for q := range r.factories {
		queues = append(queues, q)
	}
	sort.Strings(queues)
	return queues
}
