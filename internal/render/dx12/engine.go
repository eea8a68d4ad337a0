// Package dx12 draws the overlay with Direct3D 12. The overlay records its
// own command list and submits it on the host's direct command queue right
// before the host presents; it never creates a queue of its own.
package dx12

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/breeze-rmm/hudhook/internal/logging"
	"github.com/breeze-rmm/hudhook/internal/render"
)

var log = logging.WithBackend(logging.L("render"), render.DX12)

// ResourceState is a D3D12_RESOURCE_STATES value.
type ResourceState uint32

const (
	StatePresent      ResourceState = 0
	StateRenderTarget ResourceState = 0x4
)

// Device is the part of the host's ID3D12Device and swap chain the engine
// uses.
type Device interface {
	BufferCount() (int, error)
	CurrentBackBuffer() int
	Surface() (render.Surface, error)
	// CreatePipeline builds the root signature, pipeline state, atlas
	// texture and one set of geometry buffers per back buffer.
	CreatePipeline(atlas *render.Atlas, frames int) (Pipeline, error)
	// CreateFrame wraps back buffer i with its own allocator and fence.
	CreateFrame(i int) (Frame, error)
	CreateCommandList() (CommandList, error)
	// Queue wraps a host command queue. Execute must bypass any hook on
	// ExecuteCommandLists.
	Queue(raw uintptr) Queue
	Release()
}

// Frame is the per-back-buffer context: render target view, command
// allocator and fence.
type Frame interface {
	// Completed is the last fence value the GPU reached.
	Completed() uint64
	// WaitFor blocks until the fence reaches value.
	WaitFor(value uint64) error
	ResetAllocator() error
	Release()
}

// Pipeline is the overlay's private GPU state.
type Pipeline interface {
	// Upload writes geometry into the buffers owned by back buffer frame.
	Upload(frame int, dd *render.DrawData) error
	Release()
}

// CommandList is the overlay's graphics command list.
type CommandList interface {
	Reset(f Frame) error
	Transition(f Frame, before, after ResourceState)
	Bind(p Pipeline, f Frame, frame int, size render.Size, proj [16]float32)
	SetScissor(r render.Rect)
	DrawIndexed(count, startIndex uint32, baseVertex int32)
	Close() error
	Release()
}

// Queue is a host command queue.
type Queue interface {
	Raw() uintptr
	Execute(l CommandList)
	Signal(f Frame, value uint64) error
}

type Opener func(t render.Target) (Device, error)

// Engine implements render.Engine for Direct3D 12.
type Engine struct {
	open Opener

	swapChain uintptr
	dev       Device
	pipe      Pipeline
	list      CommandList

	// created on the first frame after init or resize
	frames  []Frame
	pending []uint64

	// last fence value handed out; strictly increasing for the engine's life
	fence uint64

	// host's direct queue, set from the ExecuteCommandLists detour
	queueRaw atomic.Uintptr
	queue    Queue
}

func New(open Opener) *Engine {
	return &Engine{open: open}
}

func (e *Engine) Backend() string { return render.DX12 }

// ObserveQueue offers a queue the host submitted work on. The first direct
// queue is kept until the next resize; it reports whether q was taken.
func (e *Engine) ObserveQueue(q uintptr, direct bool) bool {
	if !direct || q == 0 {
		return false
	}
	if e.queueRaw.CompareAndSwap(0, q) {
		log.Debug("command queue captured", "queue", fmt.Sprintf("%#x", q))
		return true
	}
	return false
}

// NeedsQueue reports whether no queue is captured yet.
func (e *Engine) NeedsQueue() bool { return e.queueRaw.Load() == 0 }

func (e *Engine) Initialize(t render.Target, atlas *render.Atlas) error {
	if t.SwapChain == 0 {
		return &render.InitError{Backend: render.DX12, Step: "target", Err: render.ErrNotReady}
	}
	if e.dev != nil {
		if e.swapChain == t.SwapChain {
			return nil
		}
		e.Shutdown()
	}
	if err := atlas.Validate(); err != nil {
		return &render.InitError{Backend: render.DX12, Step: "atlas", Err: err}
	}

	dev, err := e.open(t)
	if err != nil {
		return &render.InitError{Backend: render.DX12, Step: "open device", Err: err}
	}
	n, err := dev.BufferCount()
	if err != nil || n <= 0 {
		dev.Release()
		return &render.InitError{Backend: render.DX12, Step: "buffer count",
			Err: fmt.Errorf("%w: %d buffers: %v", render.ErrDeviceIncompatible, n, err)}
	}
	pipe, err := dev.CreatePipeline(atlas, n)
	if err != nil {
		dev.Release()
		return &render.InitError{Backend: render.DX12, Step: "pipeline", Err: errors.Join(render.ErrResourceAllocation, err)}
	}
	list, err := dev.CreateCommandList()
	if err != nil {
		pipe.Release()
		dev.Release()
		return &render.InitError{Backend: render.DX12, Step: "command list", Err: errors.Join(render.ErrResourceAllocation, err)}
	}

	e.swapChain = t.SwapChain
	e.dev, e.pipe, e.list = dev, pipe, list
	log.Info("device bound", "swapChain", fmt.Sprintf("%#x", t.SwapChain), "buffers", n)
	return nil
}

func (e *Engine) Surface(t render.Target) (render.Surface, error) {
	if e.dev == nil {
		return render.Surface{}, render.ErrNotReady
	}
	if t.SwapChain != e.swapChain {
		return render.Surface{}, render.ErrForeignTarget
	}
	return e.dev.Surface()
}

func (e *Engine) createFrames() error {
	n, err := e.dev.BufferCount()
	if err != nil {
		return err
	}
	frames := make([]Frame, 0, n)
	for i := 0; i < n; i++ {
		f, err := e.dev.CreateFrame(i)
		if err != nil {
			for _, f := range frames {
				f.Release()
			}
			return err
		}
		frames = append(frames, f)
	}
	e.frames = frames
	e.pending = make([]uint64, n)
	return nil
}

func (e *Engine) Render(fc *render.FrameContext) error {
	if e.dev == nil {
		return &render.RenderError{Backend: render.DX12, Step: "render", Err: render.ErrNotReady}
	}
	raw := e.queueRaw.Load()
	if raw == 0 {
		return &render.RenderError{Backend: render.DX12, Step: "queue", Err: render.ErrNotReady}
	}
	if e.queue == nil || e.queue.Raw() != raw {
		e.queue = e.dev.Queue(raw)
	}
	dd := fc.Draw
	if err := dd.Validate(); err != nil {
		return &render.RenderError{Backend: render.DX12, Step: "draw data", Err: err}
	}
	if e.frames == nil {
		if err := e.createFrames(); err != nil {
			return &render.RenderError{Backend: render.DX12, Step: "frames", Err: errors.Join(render.ErrResourceAllocation, err)}
		}
	}
	idx := e.dev.CurrentBackBuffer()
	if idx < 0 || idx >= len(e.frames) {
		return &render.RenderError{Backend: render.DX12, Step: "back buffer", Err: fmt.Errorf("index %d of %d", idx, len(e.frames))}
	}
	f := e.frames[idx]

	// The allocator and geometry of this back buffer may still be in use by
	// the GPU from the last time it came round.
	if err := e.waitFrame(idx); err != nil {
		return &render.RenderError{Backend: render.DX12, Step: "wait fence", Err: err}
	}
	if err := f.ResetAllocator(); err != nil {
		return &render.RenderError{Backend: render.DX12, Step: "reset allocator", Err: err}
	}
	if err := e.pipe.Upload(idx, dd); err != nil {
		return &render.RenderError{Backend: render.DX12, Step: "upload", Err: err}
	}
	if err := e.list.Reset(f); err != nil {
		return &render.RenderError{Backend: render.DX12, Step: "reset list", Err: err}
	}

	// The host presents right after us: its back buffer goes back to the
	// state it handed it over in.
	e.list.Transition(f, StatePresent, StateRenderTarget)
	size, err := e.dev.Surface()
	if err != nil {
		size.Size = fc.Size
	}
	e.list.Bind(e.pipe, f, idx, size.Size, render.Ortho(dd))
	draw(e.list, dd, size.Size)
	e.list.Transition(f, StateRenderTarget, StatePresent)

	if err := e.list.Close(); err != nil {
		return &render.RenderError{Backend: render.DX12, Step: "close list", Err: err}
	}

	e.queue.Execute(e.list)
	e.fence++
	if err := e.queue.Signal(f, e.fence); err != nil {
		return &render.RenderError{Backend: render.DX12, Step: "signal", Err: err}
	}
	e.pending[idx] = e.fence
	return nil
}

func (e *Engine) waitFrame(i int) error {
	v := e.pending[i]
	if v == 0 || e.frames[i].Completed() >= v {
		return nil
	}
	return e.frames[i].WaitFor(v)
}

func draw(l CommandList, dd *render.DrawData, fb render.Size) {
	var idxBase, vtxBase uint32
	for i := range dd.Lists {
		dl := &dd.Lists[i]
		for _, c := range dl.Commands {
			r, ok := render.Scissor(c.ClipRect, dd, fb)
			if !ok || c.ElemCount == 0 {
				continue
			}
			l.SetScissor(r)
			l.DrawIndexed(c.ElemCount, idxBase+c.IdxOffset, int32(vtxBase+c.VtxOffset))
		}
		idxBase += uint32(len(dl.Indices))
		vtxBase += uint32(len(dl.Vertices))
	}
}

// releaseFrames waits for the GPU to finish with every back buffer and drops
// the engine's references to them.
func (e *Engine) releaseFrames() {
	for i, f := range e.frames {
		if err := e.waitFrame(i); err != nil {
			log.Warn("fence wait failed while releasing frames", "frame", i, logging.KeyError, err)
		}
		f.Release()
	}
	e.frames, e.pending = nil, nil
}

// OnResize releases the back buffers and forgets the captured queue; the
// host may recreate its queues along with the swap chain buffers.
func (e *Engine) OnResize(size render.Size) {
	e.releaseFrames()
	e.queueRaw.Store(0)
	e.queue = nil
	log.Debug("frames released", "size", size.String())
}

func (e *Engine) Shutdown() {
	e.releaseFrames()
	if e.list != nil {
		e.list.Release()
		e.list = nil
	}
	if e.pipe != nil {
		e.pipe.Release()
		e.pipe = nil
	}
	if e.dev != nil {
		e.dev.Release()
		e.dev = nil
	}
	e.queueRaw.Store(0)
	e.queue = nil
	e.swapChain = 0
}
