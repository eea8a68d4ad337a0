package session

import (
	"sort"
	"sync"

	"github.com/breeze-rmm/hudhook/internal/config"
	"github.com/breeze-rmm/hudhook/internal/hook"
	"github.com/breeze-rmm/hudhook/internal/present"
)

// HookSpec is one site a backend wants installed.
type HookSpec struct {
	Name        string
	Patch       hook.Patch
	Replacement uintptr
	// Bind hands the installed site to the detour before it is enabled.
	Bind func(*hook.Site)
}

// Env is what a backend's detours need to reach.
type Env struct {
	Machine *present.Machine
	Config  *config.Config
}

// Resolution is the outcome of locating a backend's hook targets.
type Resolution struct {
	Specs []HookSpec
	// Release frees throwaway objects created to locate the targets. The
	// coordinator calls it once every site is installed or rolled back.
	Release func()
	// Unbind clears the detours' references to Env after the sites are
	// uninstalled.
	Unbind func()
}

// Backend locates the presentation and resize functions of one graphics
// API in the current process.
type Backend struct {
	Name    string
	Resolve func(env Env) (*Resolution, error)
}

var (
	backendsMu sync.RWMutex
	backends   = map[string]Backend{}
)

// RegisterBackend makes a backend's hooks available under its name. Backend
// packages call it from init on the platforms they support.
func RegisterBackend(b Backend) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[b.Name] = b
}

// UnregisterBackend removes a backend.
func UnregisterBackend(name string) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	delete(backends, name)
}

// LookupBackend returns the backend registered under name.
func LookupBackend(name string) (Backend, bool) {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	b, ok := backends[name]
	return b, ok
}

// Backends lists registered backend names.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	out := make([]string, 0, len(backends))
	for n := range backends {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
