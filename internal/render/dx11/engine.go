// Package dx11 draws the overlay with Direct3D 11 onto the host's DXGI swap
// chain, borrowing the host's device and immediate context.
package dx11

import (
	"errors"
	"fmt"

	"github.com/breeze-rmm/hudhook/internal/logging"
	"github.com/breeze-rmm/hudhook/internal/render"
)

var log = logging.WithBackend(logging.L("render"), render.DX11)

// featureLevel10_0 is the lowest level whose shader model the overlay
// shaders compile for.
const featureLevel10_0 = 0xa000

// Device is the part of the host's ID3D11Device and swap chain the engine
// uses. The engine owns the Device value but not the host objects behind it.
type Device interface {
	FeatureLevel() uint32
	Context() Context
	// CreatePipeline builds shaders, fixed-function states, the atlas texture
	// and growable geometry buffers.
	CreatePipeline(atlas *render.Atlas) (Pipeline, error)
	// CreateRenderTarget wraps the swap chain's current back buffer.
	CreateRenderTarget() (RenderTarget, error)
	Surface() (render.Surface, error)
	Release()
}

// Pipeline is the overlay's private GPU state.
type Pipeline interface {
	Upload(ctx Context, dd *render.DrawData) error
	Release()
}

// RenderTarget is a view of one back buffer.
type RenderTarget interface {
	Size() render.Size
	Release()
}

// Context is the host's immediate context.
type Context interface {
	// Capture reads the state the overlay is about to overwrite, adding a
	// reference to each object in it.
	Capture() State
	// Restore rebinds s.
	Restore(s State)
	// ReleaseState drops the references Capture added.
	ReleaseState(s State)
	Setup(p Pipeline, rt RenderTarget, proj [16]float32)
	SetScissor(r render.Rect)
	DrawIndexed(count, startIndex uint32, baseVertex int32)
}

// Opener binds to the device behind the swap chain in t.
type Opener func(t render.Target) (Device, error)

// Engine implements render.Engine for Direct3D 11.
type Engine struct {
	open Opener

	swapChain uintptr
	dev       Device
	ctx       Context
	pipe      Pipeline
	rt        RenderTarget
}

func New(open Opener) *Engine {
	return &Engine{open: open}
}

func (e *Engine) Backend() string { return render.DX11 }

func (e *Engine) Initialize(t render.Target, atlas *render.Atlas) error {
	if t.SwapChain == 0 {
		return &render.InitError{Backend: render.DX11, Step: "target", Err: render.ErrNotReady}
	}
	if e.dev != nil {
		if e.swapChain == t.SwapChain {
			return nil
		}
		e.Shutdown()
	}
	if err := atlas.Validate(); err != nil {
		return &render.InitError{Backend: render.DX11, Step: "atlas", Err: err}
	}

	dev, err := e.open(t)
	if err != nil {
		return &render.InitError{Backend: render.DX11, Step: "open device", Err: err}
	}
	if fl := dev.FeatureLevel(); fl < featureLevel10_0 {
		dev.Release()
		return &render.InitError{Backend: render.DX11, Step: "feature level",
			Err: fmt.Errorf("%w: level %#x below %#x", render.ErrDeviceIncompatible, fl, featureLevel10_0)}
	}
	pipe, err := dev.CreatePipeline(atlas)
	if err != nil {
		dev.Release()
		return &render.InitError{Backend: render.DX11, Step: "pipeline", Err: errors.Join(render.ErrResourceAllocation, err)}
	}

	e.swapChain = t.SwapChain
	e.dev = dev
	e.ctx = dev.Context()
	e.pipe = pipe
	log.Info("device bound", "swapChain", fmt.Sprintf("%#x", t.SwapChain), "featureLevel", fmt.Sprintf("%#x", dev.FeatureLevel()))
	return nil
}

// Surface reports the bound swap chain's size. A frame presented on any other
// swap chain yields ErrForeignTarget so the caller can rebind.
func (e *Engine) Surface(t render.Target) (render.Surface, error) {
	if e.dev == nil {
		return render.Surface{}, render.ErrNotReady
	}
	if t.SwapChain != e.swapChain {
		return render.Surface{}, render.ErrForeignTarget
	}
	return e.dev.Surface()
}

func (e *Engine) Render(fc *render.FrameContext) error {
	if e.dev == nil {
		return &render.RenderError{Backend: render.DX11, Step: "render", Err: render.ErrNotReady}
	}
	dd := fc.Draw
	if err := dd.Validate(); err != nil {
		return &render.RenderError{Backend: render.DX11, Step: "draw data", Err: err}
	}
	if e.rt == nil {
		rt, err := e.dev.CreateRenderTarget()
		if err != nil {
			return &render.RenderError{Backend: render.DX11, Step: "render target", Err: errors.Join(render.ErrResourceAllocation, err)}
		}
		e.rt = rt
	}
	if err := e.pipe.Upload(e.ctx, dd); err != nil {
		return &render.RenderError{Backend: render.DX11, Step: "upload", Err: err}
	}

	saved := e.ctx.Capture()
	e.ctx.Setup(e.pipe, e.rt, render.Ortho(dd))
	draw(e.ctx, dd, e.rt.Size())
	e.ctx.Restore(saved)

	after := e.ctx.Capture()
	restored := after == saved
	e.ctx.ReleaseState(after)
	e.ctx.ReleaseState(saved)
	if !restored {
		return &render.RenderError{Backend: render.DX11, Step: "verify", Err: render.ErrStateRestore}
	}
	return nil
}

func draw(ctx Context, dd *render.DrawData, fb render.Size) {
	var idxBase, vtxBase uint32
	for i := range dd.Lists {
		l := &dd.Lists[i]
		for _, c := range l.Commands {
			r, ok := render.Scissor(c.ClipRect, dd, fb)
			if !ok || c.ElemCount == 0 {
				continue
			}
			ctx.SetScissor(r)
			ctx.DrawIndexed(c.ElemCount, idxBase+c.IdxOffset, int32(vtxBase+c.VtxOffset))
		}
		idxBase += uint32(len(l.Indices))
		vtxBase += uint32(len(l.Vertices))
	}
}

// OnResize drops the back-buffer view; ResizeBuffers fails while it is held.
func (e *Engine) OnResize(size render.Size) {
	if e.rt != nil {
		e.rt.Release()
		e.rt = nil
		log.Debug("render target released", "size", size.String())
	}
}

func (e *Engine) Shutdown() {
	if e.rt != nil {
		e.rt.Release()
		e.rt = nil
	}
	if e.pipe != nil {
		e.pipe.Release()
		e.pipe = nil
	}
	if e.dev != nil {
		e.dev.Release()
		e.dev = nil
	}
	e.ctx = nil
	e.swapChain = 0
}
