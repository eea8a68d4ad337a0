//go:build windows

package dx9

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/gonutz/d3d9"
	"golang.org/x/sys/windows"

	"github.com/breeze-rmm/hudhook/internal/hook"
	"github.com/breeze-rmm/hudhook/internal/logging"
	"github.com/breeze-rmm/hudhook/internal/present"
	"github.com/breeze-rmm/hudhook/internal/render"
	"github.com/breeze-rmm/hudhook/internal/session"
	"github.com/breeze-rmm/hudhook/internal/winapi"
)

// IDirect3DDevice9 vtable indices.
const (
	deviceReset    = 16
	deviceEndScene = 42
)

type hooks struct {
	machine  *present.Machine
	endScene atomic.Pointer[hook.Site]
	reset    atomic.Pointer[hook.Site]
}

var (
	active atomic.Pointer[hooks]

	endSceneCallback = sync.OnceValue(func() uintptr { return windows.NewCallback(endSceneDetour) })
	resetCallback    = sync.OnceValue(func() uintptr { return windows.NewCallback(resetDetour) })
)

func init() {
	render.Register(render.Descriptor{
		Name:   render.DX9,
		Module: "d3d9.dll",
		New:    func() render.Engine { return New(Open) },
	})
	session.RegisterBackend(session.Backend{Name: render.DX9, Resolve: resolve})
}

// resolve creates a throwaway device to find the IDirect3DDevice9 vtable.
func resolve(env session.Env) (*session.Resolution, error) {
	wnd, err := winapi.NewDummyWindow("hudhook-dx9")
	if err != nil {
		return nil, err
	}
	d3d, err := d3d9.Create(d3d9.SDK_VERSION)
	if err != nil {
		wnd.Close()
		return nil, fmt.Errorf("Direct3DCreate9: %w", err)
	}
	pp := d3d9.PRESENT_PARAMETERS{
		BackBufferWidth:  64,
		BackBufferHeight: 64,
		BackBufferFormat: d3d9.FMT_UNKNOWN,
		BackBufferCount:  1,
		SwapEffect:       d3d9.SWAPEFFECT_DISCARD,
		HDeviceWindow:    d3d9.HWND(wnd.HWND),
		Windowed:         1,
	}
	var dev *d3d9.Device
	for _, typ := range []d3d9.DEVTYPE{d3d9.DEVTYPE_HAL, d3d9.DEVTYPE_NULLREF} {
		dev, _, err = d3d.CreateDevice(d3d9.ADAPTER_DEFAULT, typ, d3d9.HWND(wnd.HWND),
			d3d9.CREATE_SOFTWARE_VERTEXPROCESSING, pp)
		if err == nil {
			break
		}
		log.Debug("dummy device creation failed", "type", typ, logging.KeyError, err)
	}
	if err != nil {
		d3d.Release()
		wnd.Close()
		return nil, fmt.Errorf("CreateDevice: %w", err)
	}

	h := &hooks{machine: env.Machine}
	active.Store(h)
	obj := uintptr(unsafe.Pointer(dev))
	return &session.Resolution{
		Specs: []session.HookSpec{
			{
				Name:        "IDirect3DDevice9::EndScene",
				Patch:       hook.VTableSlot{Object: obj, Index: deviceEndScene},
				Replacement: endSceneCallback(),
				Bind:        h.endScene.Store,
			},
			{
				Name:        "IDirect3DDevice9::Reset",
				Patch:       hook.VTableSlot{Object: obj, Index: deviceReset},
				Replacement: resetCallback(),
				Bind:        h.reset.Store,
			},
		},
		Release: func() {
			dev.Release()
			d3d.Release()
			wnd.Close()
		},
		Unbind: func() { active.CompareAndSwap(h, nil) },
	}, nil
}

func endSceneDetour(this uintptr) uintptr {
	h := active.Load()
	if h == nil {
		return 0
	}
	site := h.endScene.Load()
	site.Enter()
	defer site.Exit()

	original := func() uintptr { return site.Call(this) }
	if !site.Active() || !drawingToBackBuffer((*d3d9.Device)(unsafe.Pointer(this))) {
		return original()
	}
	return h.machine.Present(render.Target{Device: this}, original)
}

func resetDetour(this, params uintptr) uintptr {
	h := active.Load()
	if h == nil {
		return 0
	}
	site := h.reset.Load()
	site.Enter()
	defer site.Exit()

	original := func() uintptr { return site.Call(this, params) }
	if !site.Active() || params == 0 {
		return original()
	}
	pp := (*d3d9.PRESENT_PARAMETERS)(unsafe.Pointer(params))
	return h.machine.Resize(render.Size{Width: pp.BackBufferWidth, Height: pp.BackBufferHeight}, original)
}
