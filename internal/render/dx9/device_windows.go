//go:build windows

package dx9

import (
	"fmt"
	"unsafe"

	"github.com/gonutz/d3d9"

	"github.com/breeze-rmm/hudhook/internal/render"
)

const (
	fvfXYZ     = 0x002
	fvfDiffuse = 0x040
	fvfTex1    = 0x100
	vertexFVF  = fvfXYZ | fvfDiffuse | fvfTex1
)

// Render states the overlay sets, in Snapshot order.
var trackedRenderStates = []d3d9.RENDERSTATETYPE{
	d3d9.RS_FILLMODE,
	d3d9.RS_SHADEMODE,
	d3d9.RS_ZWRITEENABLE,
	d3d9.RS_ALPHATESTENABLE,
	d3d9.RS_CULLMODE,
	d3d9.RS_ZENABLE,
	d3d9.RS_ALPHABLENDENABLE,
	d3d9.RS_BLENDOP,
	d3d9.RS_SRCBLEND,
	d3d9.RS_DESTBLEND,
	d3d9.RS_SEPARATEALPHABLENDENABLE,
	d3d9.RS_SRCBLENDALPHA,
	d3d9.RS_DESTBLENDALPHA,
	d3d9.RS_SCISSORTESTENABLE,
	d3d9.RS_FOGENABLE,
	d3d9.RS_RANGEFOGENABLE,
	d3d9.RS_SPECULARENABLE,
	d3d9.RS_STENCILENABLE,
	d3d9.RS_CLIPPING,
	d3d9.RS_LIGHTING,
}

var trackedStageStates = []d3d9.TEXTURESTAGESTATETYPE{
	d3d9.TSS_COLOROP,
	d3d9.TSS_COLORARG1,
	d3d9.TSS_COLORARG2,
	d3d9.TSS_ALPHAOP,
	d3d9.TSS_ALPHAARG1,
	d3d9.TSS_ALPHAARG2,
}

var trackedSamplerStates = []d3d9.SAMPLERSTATETYPE{
	d3d9.SAMP_MINFILTER,
	d3d9.SAMP_MAGFILTER,
}

// Open wraps the host's device. The engine borrows it: the host owns the
// only reference.
func Open(t render.Target) (Device, error) {
	if t.Device == 0 {
		return nil, render.ErrNotReady
	}
	return &device{dev: (*d3d9.Device)(unsafe.Pointer(t.Device))}, nil
}

type device struct {
	dev *d3d9.Device
}

func (d *device) Cooperative() error {
	if err := d.dev.TestCooperativeLevel(); err != nil {
		return err
	}
	return nil
}

func (d *device) Surface() (render.Surface, error) {
	bb, err := d.dev.GetBackBuffer(0, 0, d3d9.BACKBUFFER_TYPE_MONO)
	if err != nil {
		return render.Surface{}, fmt.Errorf("GetBackBuffer: %w", err)
	}
	defer bb.Release()
	desc, err := bb.GetDesc()
	if err != nil {
		return render.Surface{}, fmt.Errorf("GetDesc: %w", err)
	}
	s := render.Surface{Size: render.Size{Width: desc.Width, Height: desc.Height}}
	if params, err := d.dev.GetCreationParameters(); err == nil {
		s.Window = uintptr(params.HFocusWindow)
	}
	return s, nil
}

// drawingToBackBuffer reports whether the device's first render target is
// the swap chain's back buffer. Hosts call EndScene for off-screen passes
// too; those get no overlay.
func drawingToBackBuffer(dev *d3d9.Device) bool {
	rt, err := dev.GetRenderTarget(0)
	if err != nil {
		return false
	}
	defer rt.Release()
	bb, err := dev.GetBackBuffer(0, 0, d3d9.BACKBUFFER_TYPE_MONO)
	if err != nil {
		return false
	}
	defer bb.Release()
	return rt == bb
}

type texture struct {
	tex *d3d9.Texture
}

func (t *texture) Release() {
	if t.tex != nil {
		t.tex.Release()
		t.tex = nil
	}
}

// CreateTexture uploads the atlas into the managed pool, which survives a
// device reset.
func (d *device) CreateTexture(atlas *render.Atlas) (Texture, error) {
	tex, err := d.dev.CreateTexture(uint(atlas.Width), uint(atlas.Height), 1, 0, d3d9.FMT_A8R8G8B8, d3d9.POOL_MANAGED, 0)
	if err != nil {
		return nil, fmt.Errorf("CreateTexture: %w", err)
	}
	rect, err := tex.LockRect(0, nil, 0)
	if err != nil {
		tex.Release()
		return nil, fmt.Errorf("LockRect: %w", err)
	}
	stride := atlas.Stride()
	bgra := make([]byte, len(atlas.Pixels))
	for i := 0; i+3 < len(bgra); i += 4 {
		bgra[i] = atlas.Pixels[i+2]
		bgra[i+1] = atlas.Pixels[i+1]
		bgra[i+2] = atlas.Pixels[i]
		bgra[i+3] = atlas.Pixels[i+3]
	}
	rect.SetAllBytes(bgra, stride)
	tex.UnlockRect(0)
	return &texture{tex: tex}, nil
}

func (d *device) Snapshot() Snapshot {
	var s Snapshot
	for i, st := range trackedRenderStates {
		s.RenderStates[i], _ = d.dev.GetRenderState(st)
	}
	for i, st := range trackedStageStates {
		s.StageStates[i], _ = d.dev.GetTextureStageState(0, st)
	}
	for i, st := range trackedSamplerStates {
		s.SamplerStates[i], _ = d.dev.GetSamplerState(0, st)
	}
	s.FVF, _ = d.dev.GetFVF()
	if vp, err := d.dev.GetViewport(); err == nil {
		s.Viewport = Viewport{X: vp.X, Y: vp.Y, Width: vp.Width, Height: vp.Height, MinZ: vp.MinZ, MaxZ: vp.MaxZ}
	}
	if r, err := d.dev.GetScissorRect(); err == nil {
		s.Scissor = [4]int32{r.Left, r.Top, r.Right, r.Bottom}
	}
	if m, err := d.dev.GetTransform(d3d9.TSWorldMatrix(0)); err == nil {
		s.World = m
	}
	if m, err := d.dev.GetTransform(d3d9.TS_VIEW); err == nil {
		s.View = m
	}
	if m, err := d.dev.GetTransform(d3d9.TS_PROJECTION); err == nil {
		s.Projection = m
	}
	return s
}

type stateBlock struct {
	sb *d3d9.StateBlock
}

func (b *stateBlock) Apply() error {
	if err := b.sb.Apply(); err != nil {
		return err
	}
	return nil
}

func (b *stateBlock) Release() { b.sb.Release() }

func (d *device) CaptureState() (StateBlock, error) {
	sb, err := d.dev.CreateStateBlock(d3d9.SBT_ALL)
	if err != nil {
		return nil, fmt.Errorf("CreateStateBlock: %w", err)
	}
	if err := sb.Capture(); err != nil {
		sb.Release()
		return nil, fmt.Errorf("StateBlock.Capture: %w", err)
	}
	return &stateBlock{sb: sb}, nil
}

func (d *device) Restore(s Snapshot) {
	d.dev.SetViewport(d3d9.VIEWPORT{X: s.Viewport.X, Y: s.Viewport.Y, Width: s.Viewport.Width, Height: s.Viewport.Height, MinZ: s.Viewport.MinZ, MaxZ: s.Viewport.MaxZ})
	d.dev.SetScissorRect(d3d9.RECT{Left: s.Scissor[0], Top: s.Scissor[1], Right: s.Scissor[2], Bottom: s.Scissor[3]})
	d.dev.SetTransform(d3d9.TSWorldMatrix(0), s.World)
	d.dev.SetTransform(d3d9.TS_VIEW, s.View)
	d.dev.SetTransform(d3d9.TS_PROJECTION, s.Projection)
}

func (d *device) Setup(tx Texture, size render.Size, proj [16]float32) {
	x := d.dev
	x.SetViewport(d3d9.VIEWPORT{Width: size.Width, Height: size.Height, MaxZ: 1})
	x.SetPixelShader(nil)
	x.SetVertexShader(nil)

	x.SetRenderState(d3d9.RS_FILLMODE, d3d9.FILL_SOLID)
	x.SetRenderState(d3d9.RS_SHADEMODE, d3d9.SHADE_GOURAUD)
	x.SetRenderState(d3d9.RS_ZWRITEENABLE, 0)
	x.SetRenderState(d3d9.RS_ALPHATESTENABLE, 0)
	x.SetRenderState(d3d9.RS_CULLMODE, d3d9.CULL_NONE)
	x.SetRenderState(d3d9.RS_ZENABLE, 0)
	x.SetRenderState(d3d9.RS_ALPHABLENDENABLE, 1)
	x.SetRenderState(d3d9.RS_BLENDOP, d3d9.BLENDOP_ADD)
	x.SetRenderState(d3d9.RS_SRCBLEND, d3d9.BLEND_SRCALPHA)
	x.SetRenderState(d3d9.RS_DESTBLEND, d3d9.BLEND_INVSRCALPHA)
	x.SetRenderState(d3d9.RS_SEPARATEALPHABLENDENABLE, 1)
	x.SetRenderState(d3d9.RS_SRCBLENDALPHA, d3d9.BLEND_ONE)
	x.SetRenderState(d3d9.RS_DESTBLENDALPHA, d3d9.BLEND_INVSRCALPHA)
	x.SetRenderState(d3d9.RS_SCISSORTESTENABLE, 1)
	x.SetRenderState(d3d9.RS_FOGENABLE, 0)
	x.SetRenderState(d3d9.RS_RANGEFOGENABLE, 0)
	x.SetRenderState(d3d9.RS_SPECULARENABLE, 0)
	x.SetRenderState(d3d9.RS_STENCILENABLE, 0)
	x.SetRenderState(d3d9.RS_CLIPPING, 1)
	x.SetRenderState(d3d9.RS_LIGHTING, 0)

	x.SetTextureStageState(0, d3d9.TSS_COLOROP, d3d9.TOP_MODULATE)
	x.SetTextureStageState(0, d3d9.TSS_COLORARG1, d3d9.TA_TEXTURE)
	x.SetTextureStageState(0, d3d9.TSS_COLORARG2, d3d9.TA_DIFFUSE)
	x.SetTextureStageState(0, d3d9.TSS_ALPHAOP, d3d9.TOP_MODULATE)
	x.SetTextureStageState(0, d3d9.TSS_ALPHAARG1, d3d9.TA_TEXTURE)
	x.SetTextureStageState(0, d3d9.TSS_ALPHAARG2, d3d9.TA_DIFFUSE)
	x.SetSamplerState(0, d3d9.SAMP_MINFILTER, d3d9.TEXF_LINEAR)
	x.SetSamplerState(0, d3d9.SAMP_MAGFILTER, d3d9.TEXF_LINEAR)

	var identity d3d9.MATRIX
	identity[0], identity[5], identity[10], identity[15] = 1, 1, 1, 1
	x.SetTransform(d3d9.TSWorldMatrix(0), identity)
	x.SetTransform(d3d9.TS_VIEW, identity)
	x.SetTransform(d3d9.TS_PROJECTION, d3d9.MATRIX(proj))

	x.SetFVF(vertexFVF)
	x.SetTexture(0, tx.(*texture).tex)
}

func (d *device) SetScissor(r render.Rect) {
	d.dev.SetScissorRect(d3d9.RECT{Left: r.X0, Top: r.Y0, Right: r.X1, Bottom: r.Y1})
}

func (d *device) DrawIndexed(vertices []Vertex, indices []uint16) {
	d.dev.DrawIndexedPrimitiveUP(
		d3d9.PT_TRIANGLELIST,
		0,
		uint(len(vertices)),
		uint(len(indices)/3),
		uintptr(unsafe.Pointer(&indices[0])),
		d3d9.FMT_INDEX16,
		uintptr(unsafe.Pointer(&vertices[0])),
		uint(unsafe.Sizeof(Vertex{})),
	)
}

// Release drops nothing: the device is the host's.
func (d *device) Release() { d.dev = nil }
