package render

import (
	"errors"
	"sort"
	"sync"
)

// ErrBackendNotAvailable is returned when no registered backend matches.
var ErrBackendNotAvailable = errors.New("render: backend not available")

// Factory creates a new engine instance.
type Factory func() Engine

// Descriptor registers a backend.
type Descriptor struct {
	Name string
	// Module is the system library whose presence in the host process means
	// the host may be using this backend.
	Module string
	New    Factory
}

var (
	registryMu sync.RWMutex
	backends   = make(map[string]Descriptor)
	// Priority for auto detection: a host that loads d3d12.dll usually also
	// has dxgi and d3d11 loaded, so the newest API wins.
	backendPriority = []string{DX12, DX11, DX9, OpenGL3}
)

// Register adds a backend. It is called from init functions in the backend
// packages; registering a name again replaces the earlier descriptor.
func Register(d Descriptor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[d.Name] = d
}

// Unregister removes a backend. Used by tests.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns registered backend names in priority order.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ri, rj := rank(names[i]), rank(names[j])
		if ri != rj {
			return ri < rj
		}
		return names[i] < names[j]
	})
	return names
}

// Lookup returns the descriptor registered under name.
func Lookup(name string) (Descriptor, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	d, ok := backends[name]
	return d, ok
}

// Get returns a new engine for name, or nil.
func Get(name string) Engine {
	d, ok := Lookup(name)
	if !ok || d.New == nil {
		return nil
	}
	return d.New()
}

// Detect returns the highest-priority registered backend whose module the
// host has loaded.
func Detect(loaded func(module string) bool) (string, error) {
	for _, name := range Available() {
		d, _ := Lookup(name)
		if d.Module == "" || loaded(d.Module) {
			return name, nil
		}
	}
	return "", ErrBackendNotAvailable
}

func rank(name string) int {
	for i, n := range backendPriority {
		if n == name {
			return i
		}
	}
	return len(backendPriority)
}
