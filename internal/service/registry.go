package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Service is an in-process component. Run blocks until ctx is cancelled or the
// service fails; a nil return after cancellation is a clean stop.
type Service interface {
	Run(ctx context.Context) error
}

// Func adapts a function to Service.
type Func func(ctx context.Context) error

func (f Func) Run(ctx context.Context) error { return f(ctx) }

// Hook prepares the environment of a component before each (re)start.
type Hook func(ctx context.Context) error

var (
	ErrEmptyName = errors.New("registry: name cannot be empty")
	ErrDuplicate = errors.New("registry: name already registered")
	ErrNotFound  = errors.New("registry: name not found")
)

// Registry maps names to values of one kind.
type Registry[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

// NewRegistry creates an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{items: make(map[string]T)}
}

// Register adds a value under name. Names are unique.
func (r *Registry[T]) Register(name string, value T) error {
	if name == "" {
		return ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	r.items[name] = value
	return nil
}

// MustRegister is Register for wiring code where a duplicate is a programming error.
func (r *Registry[T]) MustRegister(name string, value T) {
	if err := r.Register(name, value); err != nil {
		panic(err)
	}
}

// Get retrieves a value by name.
func (r *Registry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.items[name]
	return v, ok
}

// Lookup is Get with an error naming the missing entry.
func (r *Registry[T]) Lookup(name string) (T, error) {
	v, ok := r.Get(name)
	if !ok {
		return v, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return v, nil
}

// Has reports whether name is registered.
func (r *Registry[T]) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns registered names, sorted.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Unregister removes a value.
func (r *Registry[T]) Unregister(name string) {
	r.mu.Lock()
	delete(r.items, name)
	r.mu.Unlock()
}
