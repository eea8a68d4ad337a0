//go:build windows

// Package dxgi routes IDXGISwapChain::Present and ResizeBuffers into a
// presentation machine. The Direct3D 11 and 12 backends share it: both
// present through the same swap chain vtable.
package dxgi

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/windows"

	"github.com/breeze-rmm/hudhook/internal/hook"
	"github.com/breeze-rmm/hudhook/internal/logging"
	"github.com/breeze-rmm/hudhook/internal/present"
	"github.com/breeze-rmm/hudhook/internal/render"
	"github.com/breeze-rmm/hudhook/internal/session"
	"github.com/breeze-rmm/hudhook/internal/winapi"
)

var log = logging.L("dxgi")

// DXGI_PRESENT_TEST: the host only checks occlusion, nothing is shown.
const presentTest = 0x1

// Hooks holds the sites and machine the swap chain detours use.
type Hooks struct {
	machine *present.Machine
	after   func()

	present atomic.Pointer[hook.Site]
	resize  atomic.Pointer[hook.Site]
}

var (
	// One backend is attached per process; the callbacks find it here.
	active atomic.Pointer[Hooks]

	presentCallback = sync.OnceValue(func() uintptr { return windows.NewCallback(presentDetour) })
	resizeCallback  = sync.OnceValue(func() uintptr { return windows.NewCallback(resizeDetour) })
)

// New returns hooks feeding m. after, if set, runs on the render thread once
// the host's Present has returned.
func New(m *present.Machine, after func()) *Hooks {
	return &Hooks{machine: m, after: after}
}

// Specs publishes h and returns the Present and ResizeBuffers sites for the
// vtable of swapChain, which may be a throwaway instance.
func (h *Hooks) Specs(swapChain uintptr) []session.HookSpec {
	active.Store(h)
	return []session.HookSpec{
		{
			Name:        "IDXGISwapChain::Present",
			Patch:       hook.VTableSlot{Object: swapChain, Index: winapi.SwapChainPresent},
			Replacement: presentCallback(),
			Bind:        h.present.Store,
		},
		{
			Name:        "IDXGISwapChain::ResizeBuffers",
			Patch:       hook.VTableSlot{Object: swapChain, Index: winapi.SwapChainResizeBuffers},
			Replacement: resizeCallback(),
			Bind:        h.resize.Store,
		},
	}
}

// Unbind withdraws h once its sites are uninstalled.
func (h *Hooks) Unbind() { active.CompareAndSwap(h, nil) }

func presentDetour(this, syncInterval, flags uintptr) uintptr {
	h := active.Load()
	if h == nil {
		return 0
	}
	site := h.present.Load()
	site.Enter()
	defer site.Exit()

	original := func() uintptr { return site.Call(this, syncInterval, flags) }
	if !site.Active() || flags&presentTest != 0 {
		return original()
	}
	r := h.machine.Present(render.Target{SwapChain: this}, original)
	if h.after != nil {
		h.runAfter()
	}
	return r
}

// runAfter calls h.after once the host's present has already returned; a
// panic there must not reach the host.
func (h *Hooks) runAfter() {
	defer func() {
		if r := recover(); r != nil {
			log.Error("post-present hook panicked", "panic", fmt.Sprint(r))
		}
	}()
	h.after()
}

func resizeDetour(this, bufferCount, width, height, format, flags uintptr) uintptr {
	h := active.Load()
	if h == nil {
		return 0
	}
	site := h.resize.Load()
	site.Enter()
	defer site.Exit()

	original := func() uintptr { return site.Call(this, bufferCount, width, height, format, flags) }
	if !site.Active() {
		return original()
	}
	return h.machine.Resize(render.Size{Width: uint32(width), Height: uint32(height)}, original)
}
