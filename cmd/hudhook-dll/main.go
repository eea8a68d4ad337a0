//go:build windows

// Command hudhook-dll is the overlay's injectable module, built with
// -buildmode=c-shared. The injector calls Attach on a thread of its own
// once the module is loaded; Detach, the eject key, the control channel or
// a fatal render error take the overlay down again.
package main

import "C"

import (
	"os"
	"sync"

	"github.com/breeze-rmm/hudhook/internal/logging"
)

var log = logging.L("main")

var (
	mu      sync.Mutex
	running *overlay
)

//export Attach
func Attach() C.int {
	mu.Lock()
	defer mu.Unlock()
	if running != nil {
		log.Warn("attach called while the overlay is running")
		return 1
	}
	o, err := start(os.Getenv("HUDHOOK_CONFIG"))
	if err != nil {
		log.Error("overlay failed to attach", logging.KeyError, err)
		return 0
	}
	running = o
	return 1
}

// Detach starts the unhook and returns without waiting for it.
//
//export Detach
func Detach() C.int {
	mu.Lock()
	o := running
	mu.Unlock()
	if o == nil {
		return 0
	}
	o.coord.RequestDetach("detach export")
	return 1
}

func detached(o *overlay) {
	mu.Lock()
	if running == o {
		running = nil
	}
	mu.Unlock()
}

func main() {}
