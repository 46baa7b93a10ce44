package flight

import (
	"fmt"
	"sync"
)

// Factory builds a fresh flight for a class key. It receives the immutable
// input map and the application context handed to the engine at submit time.
type Factory func(input *FlightMap, appContext any) (*Flight, error)

// Registry maps class keys to factories. It replaces by-name reflective
// construction: class names are opaque identifiers chosen at registration.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(className string, f Factory) error {
	if className == "" {
		return fmt.Errorf("flight class name is empty")
	}
	if f == nil {
		return fmt.Errorf("nil factory for flight class %s", className)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[className]; exists {
		return fmt.Errorf("factory already registered for flight class %s", className)
	}
	r.factories[className] = f
	return nil
}

// New constructs the flight for className, or reports an unknown class.
func (r *Registry) New(className string, input *FlightMap, appContext any) (*Flight, error) {
	r.mu.RLock()
	f, ok := r.factories[className]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no factory registered for flight class %s", className)
	}
	return f(input, appContext)
}

func (r *Registry) Known(className string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[className]
	return ok
}
