package ui

import (
	"math"

	"github.com/breeze-rmm/hudhook/internal/render"
)

// RGBA packs a color the way render.Vertex expects it.
func RGBA(r, g, b, a uint8) uint32 {
	return uint32(r) | uint32(g)<<8 | uint32(b)<<16 | uint32(a)<<24
}

// Builder accumulates geometry for one frame. Consecutive primitives that
// share a clip rectangle are merged into one command.
type Builder struct {
	dd     render.DrawData
	list   *render.DrawList
	clips  [][4]float32
	whiteU float32
	whiteV float32
}

// NewBuilder starts a frame of the given size. whiteU and whiteV locate an
// opaque white texel in the atlas.
func NewBuilder(size render.Size, whiteU, whiteV float32) *Builder {
	b := &Builder{whiteU: whiteU, whiteV: whiteV}
	b.Reset(size)
	return b
}

// Reset starts a new frame, reusing buffers.
func (b *Builder) Reset(size render.Size) {
	for i := range b.dd.Lists {
		l := &b.dd.Lists[i]
		l.Vertices = l.Vertices[:0]
		l.Indices = l.Indices[:0]
		l.Commands = l.Commands[:0]
	}
	b.dd.Lists = b.dd.Lists[:0]
	b.dd.DisplayPos = [2]float32{}
	b.dd.DisplaySize = [2]float32{float32(size.Width), float32(size.Height)}
	b.dd.FramebufferScale = [2]float32{1, 1}
	b.clips = append(b.clips[:0], [4]float32{0, 0, float32(size.Width), float32(size.Height)})
	b.list = nil
}

// PushClip intersects the clip rectangle with r until PopClip.
func (b *Builder) PushClip(x0, y0, x1, y1 float32) {
	cur := b.clips[len(b.clips)-1]
	b.clips = append(b.clips, [4]float32{
		max(cur[0], x0), max(cur[1], y0),
		min(cur[2], x1), min(cur[3], y1),
	})
}

func (b *Builder) PopClip() {
	if len(b.clips) > 1 {
		b.clips = b.clips[:len(b.clips)-1]
	}
}

// reserve makes room for nv vertices and returns the index of the first one
// relative to the current command's vertex offset.
func (b *Builder) reserve(nv int) uint16 {
	clip := b.clips[len(b.clips)-1]
	if b.list == nil || len(b.list.Vertices)+nv > math.MaxUint16+1 {
		if cap(b.dd.Lists) > len(b.dd.Lists) {
			b.dd.Lists = b.dd.Lists[:len(b.dd.Lists)+1]
		} else {
			b.dd.Lists = append(b.dd.Lists, render.DrawList{})
		}
		b.list = &b.dd.Lists[len(b.dd.Lists)-1]
	}
	l := b.list
	if n := len(l.Commands); n == 0 || l.Commands[n-1].ClipRect != clip {
		l.Commands = append(l.Commands, render.Command{
			ClipRect:  clip,
			IdxOffset: uint32(len(l.Indices)),
		})
	}
	return uint16(len(l.Vertices))
}

func (b *Builder) quad(x0, y0, x1, y1 float32, uv UV, color uint32) {
	base := b.reserve(4)
	l := b.list
	l.Vertices = append(l.Vertices,
		render.Vertex{X: x0, Y: y0, U: uv.U0, V: uv.V0, Color: color},
		render.Vertex{X: x1, Y: y0, U: uv.U1, V: uv.V0, Color: color},
		render.Vertex{X: x1, Y: y1, U: uv.U1, V: uv.V1, Color: color},
		render.Vertex{X: x0, Y: y1, U: uv.U0, V: uv.V1, Color: color},
	)
	l.Indices = append(l.Indices, base, base+1, base+2, base, base+2, base+3)
	l.Commands[len(l.Commands)-1].ElemCount += 6
}

// RectFilled draws a solid rectangle.
func (b *Builder) RectFilled(x0, y0, x1, y1 float32, color uint32) {
	if x1 <= x0 || y1 <= y0 {
		return
	}
	uv := UV{b.whiteU, b.whiteV, b.whiteU, b.whiteV}
	b.quad(x0, y0, x1, y1, uv, color)
}

// Rect draws a rectangle outline of the given thickness.
func (b *Builder) Rect(x0, y0, x1, y1, thickness float32, color uint32) {
	b.RectFilled(x0, y0, x1, y0+thickness, color)
	b.RectFilled(x0, y1-thickness, x1, y1, color)
	b.RectFilled(x0, y0+thickness, x0+thickness, y1-thickness, color)
	b.RectFilled(x1-thickness, y0+thickness, x1, y1-thickness, color)
}

// Image draws a packed sprite stretched to the rectangle, tinted by color.
func (b *Builder) Image(s *Sprite, x0, y0, x1, y1 float32, color uint32) {
	b.quad(x0, y0, x1, y1, s.UV, color)
}

// Text draws s with its top-left corner at x, y and returns the pen
// position after the last glyph. Newlines move down one line.
func (b *Builder) Text(f *Font, x, y float32, color uint32, s string) float32 {
	pen := x
	for _, r := range s {
		if r == '\n' {
			pen = x
			y += float32(f.Height)
			continue
		}
		g := f.Glyph(r)
		if g == nil {
			continue
		}
		if g.W > 0 && g.H > 0 {
			gx := pen + float32(g.OffX)
			gy := y + float32(g.OffY)
			b.quad(gx, gy, gx+float32(g.W), gy+float32(g.H), g.UV, color)
		}
		pen += float32(g.Advance)
	}
	return pen
}

// DrawData returns the accumulated frame. It stays valid until Reset.
func (b *Builder) DrawData() *render.DrawData {
	return &b.dd
}
