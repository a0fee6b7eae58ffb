package backend

import (
	"sort"
	"sync"
)

// Factory creates the device and intersector for a backend.
type Factory func(cfg Config) (Device, Intersector, error)

type registration struct {
	name    string
	factory Factory
}

var (
	registryMu sync.RWMutex
	registry   = make(map[API]registration)
)

// Register a backend factory. It is meant to be called from the init block
// of backend packages. Registering the same API twice panics.
func Register(api API, name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if factory == nil {
		panic("backend: Register factory is nil")
	}
	if _, exists := registry[api]; exists {
		panic("backend: Register called twice for " + api.String())
	}
	registry[api] = registration{name: name, factory: factory}
}

// New instantiates the backend registered for api.
func New(api API, cfg Config) (Device, Intersector, error) {
	registryMu.RLock()
	reg, exists := registry[api]
	registryMu.RUnlock()

	if !exists {
		return nil, nil, ErrUnsupportedAPI
	}
	return reg.factory(cfg)
}

// Registered returns the list of registered API tags in ascending order.
func Registered() []API {
	registryMu.RLock()
	defer registryMu.RUnlock()

	apis := make([]API, 0, len(registry))
	for api := range registry {
		apis = append(apis, api)
	}
	sort.Slice(apis, func(i, j int) bool { return apis[i] < apis[j] })
	return apis
}

// Name returns the name a backend was registered with.
func Name(api API) string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[api].name
}
