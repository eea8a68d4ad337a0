// Package dx9 draws the overlay with Direct3D 9 from inside the host's
// EndScene, using fixed-function state and client-memory geometry.
package dx9

import (
	"errors"
	"fmt"

	"github.com/breeze-rmm/hudhook/internal/logging"
	"github.com/breeze-rmm/hudhook/internal/render"
)

var log = logging.WithBackend(logging.L("render"), render.DX9)

// Vertex is the fixed-function vertex: position, ARGB color and one texture
// coordinate.
type Vertex struct {
	X, Y, Z float32
	Color   uint32
	U, V    float32
}

// Viewport matches D3DVIEWPORT9.
type Viewport struct {
	X, Y, Width, Height uint32
	MinZ, MaxZ          float32
}

// Snapshot is the device state the overlay overwrites, read back through the
// device's getters. Devices fill the leading entries of each array.
type Snapshot struct {
	RenderStates  [32]uint32
	StageStates   [16]uint32
	SamplerStates [4]uint32
	FVF           uint32
	VertexShader  uintptr
	PixelShader   uintptr
	Texture       uintptr
	Viewport      Viewport
	Scissor       [4]int32
	World         [16]float32
	View          [16]float32
	Projection    [16]float32
}

// Device is the part of the host's IDirect3DDevice9 the engine uses.
type Device interface {
	// Cooperative returns nil while the device can draw. A lost device
	// fails until the host resets it.
	Cooperative() error
	Surface() (render.Surface, error)
	CreateTexture(atlas *render.Atlas) (Texture, error)
	Snapshot() Snapshot
	// CaptureState records all device state in a state block.
	CaptureState() (StateBlock, error)
	// Restore puts back the viewport, scissor and transforms in s, which
	// some drivers leave out of state blocks.
	Restore(s Snapshot)
	Setup(tex Texture, size render.Size, proj [16]float32)
	SetScissor(r render.Rect)
	DrawIndexed(vertices []Vertex, indices []uint16)
	Release()
}

type StateBlock interface {
	Apply() error
	Release()
}

type Texture interface {
	Release()
}

type Opener func(t render.Target) (Device, error)

// Engine implements render.Engine for Direct3D 9.
type Engine struct {
	open Opener

	device uintptr
	dev    Device
	tex    Texture

	// reused between frames
	vertices []Vertex
	indices  []uint16
}

func New(open Opener) *Engine {
	return &Engine{open: open}
}

func (e *Engine) Backend() string { return render.DX9 }

func (e *Engine) Initialize(t render.Target, atlas *render.Atlas) error {
	if t.Device == 0 {
		return &render.InitError{Backend: render.DX9, Step: "target", Err: render.ErrNotReady}
	}
	if e.dev != nil {
		if e.device == t.Device {
			return nil
		}
		e.Shutdown()
	}
	if err := atlas.Validate(); err != nil {
		return &render.InitError{Backend: render.DX9, Step: "atlas", Err: err}
	}
	dev, err := e.open(t)
	if err != nil {
		return &render.InitError{Backend: render.DX9, Step: "open device", Err: err}
	}
	tex, err := dev.CreateTexture(atlas)
	if err != nil {
		dev.Release()
		return &render.InitError{Backend: render.DX9, Step: "atlas texture", Err: errors.Join(render.ErrResourceAllocation, err)}
	}
	e.device, e.dev, e.tex = t.Device, dev, tex
	log.Info("device bound", "device", fmt.Sprintf("%#x", t.Device))
	return nil
}

func (e *Engine) Surface(t render.Target) (render.Surface, error) {
	if e.dev == nil {
		return render.Surface{}, render.ErrNotReady
	}
	if t.Device != e.device {
		return render.Surface{}, render.ErrForeignTarget
	}
	return e.dev.Surface()
}

func (e *Engine) Render(fc *render.FrameContext) error {
	if e.dev == nil {
		return &render.RenderError{Backend: render.DX9, Step: "render", Err: render.ErrNotReady}
	}
	if err := e.dev.Cooperative(); err != nil {
		return &render.RenderError{Backend: render.DX9, Step: "device lost", Err: errors.Join(render.ErrNotReady, err)}
	}
	dd := fc.Draw
	if err := dd.Validate(); err != nil {
		return &render.RenderError{Backend: render.DX9, Step: "draw data", Err: err}
	}
	e.convert(dd)

	saved := e.dev.Snapshot()
	sb, err := e.dev.CaptureState()
	if err != nil {
		return &render.RenderError{Backend: render.DX9, Step: "state block", Err: err}
	}
	e.dev.Setup(e.tex, fc.Size, render.Ortho(dd))
	e.draw(dd, fc.Size)
	applyErr := sb.Apply()
	sb.Release()
	e.dev.Restore(saved)

	if applyErr != nil {
		return &render.RenderError{Backend: render.DX9, Step: "apply state block", Err: errors.Join(render.ErrStateRestore, applyErr)}
	}
	if e.dev.Snapshot() != saved {
		return &render.RenderError{Backend: render.DX9, Step: "verify", Err: render.ErrStateRestore}
	}
	return nil
}

// convert fills the reused buffers with every list's geometry. Positions are
// shifted half a pixel to map texels to pixels the way Direct3D 9 samples.
func (e *Engine) convert(dd *render.DrawData) {
	e.vertices = e.vertices[:0]
	e.indices = e.indices[:0]
	for i := range dd.Lists {
		l := &dd.Lists[i]
		for _, v := range l.Vertices {
			e.vertices = append(e.vertices, Vertex{
				X:     v.X - 0.5,
				Y:     v.Y - 0.5,
				Color: abgrToARGB(v.Color),
				U:     v.U,
				V:     v.V,
			})
		}
		e.indices = append(e.indices, l.Indices...)
	}
}

// abgrToARGB swaps red and blue: draw data packs red in the low byte,
// D3DCOLOR keeps blue there.
func abgrToARGB(c uint32) uint32 {
	return c&0xff00ff00 | (c&0xff)<<16 | (c>>16)&0xff
}

func (e *Engine) draw(dd *render.DrawData, fb render.Size) {
	var idxBase, vtxBase int
	for i := range dd.Lists {
		l := &dd.Lists[i]
		verts := e.vertices[vtxBase : vtxBase+len(l.Vertices)]
		for _, c := range l.Commands {
			r, ok := render.Scissor(c.ClipRect, dd, fb)
			if !ok || c.ElemCount == 0 {
				continue
			}
			start := idxBase + int(c.IdxOffset)
			e.dev.SetScissor(r)
			e.dev.DrawIndexed(verts[c.VtxOffset:], e.indices[start:start+int(c.ElemCount)])
		}
		idxBase += len(l.Indices)
		vtxBase += len(l.Vertices)
	}
}

// OnResize has nothing to release: the atlas lives in the managed pool and
// geometry is drawn from client memory, so the host's Reset can proceed.
func (e *Engine) OnResize(size render.Size) {
	log.Debug("device reset", "size", size.String())
}

func (e *Engine) Shutdown() {
	if e.tex != nil {
		e.tex.Release()
		e.tex = nil
	}
	if e.dev != nil {
		e.dev.Release()
		e.dev = nil
	}
	e.device = 0
	e.vertices, e.indices = nil, nil
}
