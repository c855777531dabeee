// Package registry provides a generic, thread-safe registry of named
// factories. The OAuth provider families register themselves here and are
// resolved by type name when a server is configured.
//
//	reg := registry.New[providers.Factory]()
//	reg.Register(azureFactory)
//	factory, err := reg.Get("azure")
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"dicomweb-oauth/internal/common/errors"
)

// Factory is implemented by anything that can be registered
type Factory interface {
	// GetType returns the type identifier for this factory
	GetType() string
}

// Registry maps type identifiers to factories of type T
type Registry[T Factory] struct {
	factories map[string]T
	mu        sync.RWMutex
}

// New creates a new empty registry for factories of type T.
func New[T Factory]() *Registry[T] {
	return &Registry[T]{
		factories: make(map[string]T),
	}
}

// Register adds factory under its own type identifier, replacing any
// previous registration for that type.
func (r *Registry[T]) Register(factory T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalize(factory.GetType())] = factory
}

// Get retrieves a factory by type. Lookup is case-insensitive; an unknown
// type is a configuration error listing the registered types.
func (r *Registry[T]) Get(factoryType string) (T, error) {
	r.mu.RLock()
	factory, exists := r.factories[normalize(factoryType)]
	r.mu.RUnlock()

	if !exists {
		var zero T
		return zero, errors.ConfigError(errors.CodeConfigInvalidValue,
			fmt.Sprintf("unknown provider type %q (available: %s)", factoryType, strings.Join(r.Types(), ", "))).
			WithContext("type", factoryType)
	}

	return factory, nil
}

// Types returns the registered type identifiers in sorted order
func (r *Registry[T]) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for factoryType := range r.factories {
		types = append(types, factoryType)
	}
	sort.Strings(types)
	return types
}

// IsRegistered checks if a factory type is registered in the registry.
func (r *Registry[T]) IsRegistered(factoryType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[normalize(factoryType)]
	return exists
}

func normalize(factoryType string) string {
	return strings.ToLower(strings.TrimSpace(factoryType))
}
