package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"signalengine/internal/strategy"
)

var (
	// ErrNotFound is returned for an unknown or removed run id.
	ErrNotFound = errors.New("strategy run not found")
	// ErrDuplicate is returned when a run id is already registered.
	ErrDuplicate = errors.New("strategy run already registered")
)

// Registry owns the running strategy instances keyed by run id. A removed
// id is gone for good; lookups after Remove fail with ErrNotFound.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]strategy.Strategy
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]strategy.Strategy)}
}

// Add registers s under s.ID().
func (r *Registry) Add(s strategy.Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[s.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, s.ID())
	}
	r.byID[s.ID()] = s
	return nil
}

// Get returns the instance registered under id.
func (r *Registry) Get(id string) (strategy.Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Remove unregisters id and returns the instance it held.
func (r *Registry) Remove(id string) (strategy.Strategy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.byID, id)
	return s, nil
}

// Len returns the number of registered instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// List returns the registered instances ordered by id.
func (r *Registry) List() []strategy.Strategy {
	r.mu.RLock()
	out := make([]strategy.Strategy, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
