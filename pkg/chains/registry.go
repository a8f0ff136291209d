package chains

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the chain observers of one tenant, keyed by network id
type Registry struct {
	observers map[string]Observer
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		observers: make(map[string]Observer),
	}
}

// Register registers an observer (uses observer.Network() as key)
// If an observer already exists for the network, it will be replaced (idempotent)
func (r *Registry) Register(observer Observer) error {
	if observer == nil {
		return fmt.Errorf("cannot register nil observer")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.observers[observer.Network()] = observer
	return nil
}

// Get retrieves an observer by network id
func (r *Registry) Get(network string) (Observer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	observer, exists := r.observers[network]
	if !exists {
		return nil, fmt.Errorf("no observer registered for network: %s", network)
	}

	return observer, nil
}

// GetSupportedNetworks returns all registered networks in sorted order
func (r *Registry) GetSupportedNetworks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	networks := make([]string, 0, len(r.observers))
	for network := range r.observers {
		networks = append(networks, network)
	}
	sort.Strings(networks)
	return networks
}

// IsSupported checks if a network has an observer
func (r *Registry) IsSupported(network string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.observers[network]
	return exists
}

// Unregister removes an observer
func (r *Registry) Unregister(network string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.observers, network)
}
