//go:build windows

package dx12

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/breeze-rmm/hudhook/internal/hook"
	"github.com/breeze-rmm/hudhook/internal/present"
	"github.com/breeze-rmm/hudhook/internal/render"
	"github.com/breeze-rmm/hudhook/internal/render/dxgi"
	"github.com/breeze-rmm/hudhook/internal/session"
	"github.com/breeze-rmm/hudhook/internal/winapi"
)

const featureLevel11_0 = 0xb000

// queueHooks routes ExecuteCommandLists to the engine so it can pick up the
// host's direct queue.
type queueHooks struct {
	machine *present.Machine
	site    atomic.Pointer[hook.Site]
}

var (
	activeQueue     atomic.Pointer[queueHooks]
	executeCallback = sync.OnceValue(func() uintptr { return windows.NewCallback(executeDetour) })
)

func init() {
	render.Register(render.Descriptor{
		Name:   render.DX12,
		Module: "d3d12.dll",
		New:    func() render.Engine { return New(Open) },
	})
	session.RegisterBackend(session.Backend{Name: render.DX12, Resolve: resolve})
}

func resolve(env session.Env) (*session.Resolution, error) {
	if err := procD3D12CreateDevice.Find(); err != nil {
		return nil, err
	}
	wnd, err := winapi.NewDummyWindow("hudhook-dx12")
	if err != nil {
		return nil, err
	}
	var dev, queue, factory, sc uintptr
	release := func() {
		winapi.ReleaseAll(sc, factory, queue, dev)
		wnd.Close()
	}

	hr, _, _ := procD3D12CreateDevice.Call(0, featureLevel11_0, ptr(iidID3D12Device), ptr(&dev))
	if winapi.Failed(hr) {
		release()
		return nil, fmt.Errorf("D3D12CreateDevice: %w", winapi.HRESULT(hr))
	}
	qd := commandQueueDesc{Type: commandListTypeDirect}
	if err := winapi.Call("CreateCommandQueue", dev, devCreateCommandQueue, ptr(&qd), ptr(iidID3D12CommandQueue), ptr(&queue)); err != nil {
		release()
		return nil, err
	}
	if factory, err = winapi.CreateFactory1(); err != nil {
		release()
		return nil, err
	}
	desc := winapi.DummySwapChainDesc(wnd.HWND, winapi.SwapEffectFlipDiscard)
	if err := winapi.Call("IDXGIFactory::CreateSwapChain", factory, winapi.FactoryCreateSwapChain,
		queue, uintptr(unsafe.Pointer(&desc)), ptr(&sc)); err != nil {
		release()
		return nil, err
	}

	var after func()
	if env.Config != nil && env.Config.DXGIDebug {
		after = logDXGIMessages
	}
	h := dxgi.New(env.Machine, after)
	q := &queueHooks{machine: env.Machine}
	activeQueue.Store(q)

	specs := append(h.Specs(sc), session.HookSpec{
		Name:        "ID3D12CommandQueue::ExecuteCommandLists",
		Patch:       hook.VTableSlot{Object: queue, Index: queueExecuteCommandLists},
		Replacement: executeCallback(),
		Bind: func(s *hook.Site) {
			q.site.Store(s)
			execute.Store(s)
		},
	})
	return &session.Resolution{
		Specs:   specs,
		Release: release,
		Unbind: func() {
			h.Unbind()
			if activeQueue.CompareAndSwap(q, nil) {
				execute.Store(nil)
			}
		},
	}, nil
}

func logDXGIMessages() {
	for _, m := range winapi.DXGIDebugMessages() {
		log.Debug("dxgi debug message", "message", m)
	}
}

func executeDetour(this, count, lists uintptr) uintptr {
	q := activeQueue.Load()
	if q == nil {
		return 0
	}
	site := q.site.Load()
	site.Enter()
	defer site.Exit()

	if site.Active() {
		observeQueue(q, this)
	}
	return site.Call(this, count, lists)
}

func observeQueue(q *queueHooks, queue uintptr) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("command queue capture panicked", "panic", fmt.Sprint(r))
		}
	}()
	if e, ok := q.machine.Engine().(*Engine); ok && e.NeedsQueue() {
		e.ObserveQueue(queue, isDirect(queue))
	}
}
