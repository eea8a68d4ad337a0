//go:build windows

package dx11

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/breeze-rmm/hudhook/internal/render"
	"github.com/breeze-rmm/hudhook/internal/render/dxgi"
	"github.com/breeze-rmm/hudhook/internal/session"
	"github.com/breeze-rmm/hudhook/internal/winapi"
)

const (
	driverTypeHardware = 1
	driverTypeWARP     = 5
	sdkVersion         = 7
)

var (
	d3d11DLL                          = windows.NewLazySystemDLL("d3d11.dll")
	procD3D11CreateDeviceAndSwapChain = d3d11DLL.NewProc("D3D11CreateDeviceAndSwapChain")
)

func init() {
	render.Register(render.Descriptor{
		Name:   render.DX11,
		Module: "d3d11.dll",
		New:    func() render.Engine { return New(Open) },
	})
	session.RegisterBackend(session.Backend{Name: render.DX11, Resolve: resolve})
}

// resolve creates a throwaway device and swap chain on a hidden window; the
// swap chain's vtable is shared with every swap chain in the process.
func resolve(env session.Env) (*session.Resolution, error) {
	wnd, err := winapi.NewDummyWindow("hudhook-dx11")
	if err != nil {
		return nil, err
	}
	desc := winapi.DummySwapChainDesc(wnd.HWND, winapi.SwapEffectDiscard)
	levels := []uint32{0xb000, featureLevel10_0}

	var sc, dev, ctx uintptr
	var level uint32
	var hr uintptr
	for _, driver := range []uintptr{driverTypeHardware, driverTypeWARP} {
		hr, _, _ = procD3D11CreateDeviceAndSwapChain.Call(
			0, driver, 0, 0,
			uintptr(unsafe.Pointer(&levels[0])), uintptr(len(levels)),
			sdkVersion,
			uintptr(unsafe.Pointer(&desc)),
			uintptr(unsafe.Pointer(&sc)),
			uintptr(unsafe.Pointer(&dev)),
			uintptr(unsafe.Pointer(&level)),
			uintptr(unsafe.Pointer(&ctx)),
		)
		if !winapi.Failed(hr) {
			break
		}
		log.Debug("dummy device creation failed", "driver", driver, "hr", fmt.Sprintf("%#x", uint32(hr)))
	}
	if winapi.Failed(hr) {
		wnd.Close()
		return nil, fmt.Errorf("D3D11CreateDeviceAndSwapChain: %w", winapi.HRESULT(hr))
	}

	h := dxgi.New(env.Machine, nil)
	return &session.Resolution{
		Specs: h.Specs(sc),
		Release: func() {
			winapi.ReleaseAll(ctx, dev, sc)
			wnd.Close()
		},
		Unbind: h.Unbind,
	}, nil
}
