// Package opengl3 draws the overlay with OpenGL 3.2 core from inside the
// host's wglSwapBuffers, on whatever context the host has current.
package opengl3

import (
	"errors"
	"fmt"

	"github.com/breeze-rmm/hudhook/internal/logging"
	"github.com/breeze-rmm/hudhook/internal/render"
)

var log = logging.WithBackend(logging.L("render"), render.OpenGL3)

// State is the GL state the overlay changes. It is comparable so a restore
// can be verified by reading it back.
type State struct {
	Program            uint32
	ActiveTexture      uint32
	Texture            uint32
	ArrayBuffer        uint32
	ElementArrayBuffer uint32
	VertexArray        uint32
	PolygonMode        [2]int32
	Viewport           [4]int32
	ScissorBox         [4]int32
	BlendSrcRGB        int32
	BlendDstRGB        int32
	BlendSrcAlpha      int32
	BlendDstAlpha      int32
	BlendEquationRGB   int32
	BlendEquationAlpha int32
	Blend              bool
	CullFace           bool
	DepthTest          bool
	StencilTest        bool
	ScissorTest        bool
	PrimitiveRestart   bool
}

// GL is the slice of the API the engine uses, bound to one context.
type GL interface {
	// Current returns the calling thread's current context, zero if none.
	Current() uintptr
	Surface(dc uintptr) (render.Surface, error)
	Capture() State
	Restore(s State)
	CreatePipeline(atlas *render.Atlas) (Pipeline, error)
	Setup(p Pipeline, size render.Size, proj [16]float32)
	// Scissor takes a box with a bottom-left origin.
	Scissor(x, y, w, h int32)
	DrawIndexed(count, startIndex uint32, baseVertex int32)
}

type Pipeline interface {
	Upload(dd *render.DrawData) error
	Release()
}

// Opener loads GL entry points for the context current in t.
type Opener func(t render.Target) (GL, error)

// Engine implements render.Engine for OpenGL.
type Engine struct {
	open Opener

	context uintptr
	gl      GL
	pipe    Pipeline
}

func New(open Opener) *Engine {
	return &Engine{open: open}
}

func (e *Engine) Backend() string { return render.OpenGL3 }

func (e *Engine) Initialize(t render.Target, atlas *render.Atlas) error {
	if t.Context == 0 || t.DC == 0 {
		return &render.InitError{Backend: render.OpenGL3, Step: "target", Err: render.ErrNotReady}
	}
	if e.gl != nil {
		if e.context == t.Context {
			return nil
		}
		e.Shutdown()
	}
	if err := atlas.Validate(); err != nil {
		return &render.InitError{Backend: render.OpenGL3, Step: "atlas", Err: err}
	}
	gl, err := e.open(t)
	if err != nil {
		return &render.InitError{Backend: render.OpenGL3, Step: "load", Err: errors.Join(render.ErrDeviceIncompatible, err)}
	}
	pipe, err := gl.CreatePipeline(atlas)
	if err != nil {
		return &render.InitError{Backend: render.OpenGL3, Step: "pipeline", Err: errors.Join(render.ErrResourceAllocation, err)}
	}
	e.context, e.gl, e.pipe = t.Context, gl, pipe
	log.Info("context bound", "context", fmt.Sprintf("%#x", t.Context))
	return nil
}

// Surface sizes the frame from the window behind the DC. A swap on another
// context yields ErrForeignTarget: the overlay's objects live in one context.
func (e *Engine) Surface(t render.Target) (render.Surface, error) {
	if e.gl == nil {
		return render.Surface{}, render.ErrNotReady
	}
	if t.Context != e.context {
		return render.Surface{}, render.ErrForeignTarget
	}
	return e.gl.Surface(t.DC)
}

func (e *Engine) Render(fc *render.FrameContext) error {
	if e.gl == nil {
		return &render.RenderError{Backend: render.OpenGL3, Step: "render", Err: render.ErrNotReady}
	}
	if cur := e.gl.Current(); cur != e.context {
		return &render.RenderError{Backend: render.OpenGL3, Step: "context",
			Err: fmt.Errorf("%w: context %#x current, bound to %#x", render.ErrNotReady, cur, e.context)}
	}
	dd := fc.Draw
	if err := dd.Validate(); err != nil {
		return &render.RenderError{Backend: render.OpenGL3, Step: "draw data", Err: err}
	}

	saved := e.gl.Capture()
	err := e.pipe.Upload(dd)
	if err == nil {
		e.gl.Setup(e.pipe, fc.Size, render.OrthoGL(dd))
		e.draw(dd, fc.Size)
	}
	e.gl.Restore(saved)
	if err != nil {
		return &render.RenderError{Backend: render.OpenGL3, Step: "upload", Err: err}
	}
	if e.gl.Capture() != saved {
		return &render.RenderError{Backend: render.OpenGL3, Step: "verify", Err: render.ErrStateRestore}
	}
	return nil
}

func (e *Engine) draw(dd *render.DrawData, fb render.Size) {
	var idxBase, vtxBase uint32
	for i := range dd.Lists {
		l := &dd.Lists[i]
		for _, c := range l.Commands {
			r, ok := render.Scissor(c.ClipRect, dd, fb)
			if !ok || c.ElemCount == 0 {
				continue
			}
			x, y, w, h := glScissor(r, fb)
			e.gl.Scissor(x, y, w, h)
			e.gl.DrawIndexed(c.ElemCount, idxBase+c.IdxOffset, int32(vtxBase+c.VtxOffset))
		}
		idxBase += uint32(len(l.Indices))
		vtxBase += uint32(len(l.Vertices))
	}
}

// glScissor flips a top-left rectangle into GL's bottom-left window space.
func glScissor(r render.Rect, fb render.Size) (x, y, w, h int32) {
	return r.X0, int32(fb.Height) - r.Y1, r.X1 - r.X0, r.Y1 - r.Y0
}

// OnResize keeps every object: nothing the overlay owns is sized to the
// window.
func (e *Engine) OnResize(size render.Size) {
	log.Debug("window resized", "size", size.String())
}

// Shutdown deletes the overlay's GL objects when their context is current on
// the calling thread. Otherwise they are left for the host's context to free
// when it is destroyed.
func (e *Engine) Shutdown() {
	if e.pipe != nil {
		if e.gl.Current() == e.context {
			e.pipe.Release()
		} else {
			log.Warn("context not current at shutdown, GL objects left to the host context")
		}
		e.pipe = nil
	}
	e.gl = nil
	e.context = 0
}
