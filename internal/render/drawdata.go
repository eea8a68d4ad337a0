package render

import (
	"fmt"
	"math"
)

// TextureID names a texture in draw commands. Zero is the font atlas.
type TextureID uintptr

// Vertex layout shared by every backend: position, texture coordinate and a
// packed RGBA8 color with red in the low byte. 20 bytes, no padding.
type Vertex struct {
	X, Y  float32
	U, V  float32
	Color uint32
}

const VertexSize = 20

// Command draws ElemCount indices starting at IdxOffset, clipped to ClipRect
// (x0, y0, x1, y1 in display coordinates).
type Command struct {
	ClipRect  [4]float32
	Texture   TextureID
	ElemCount uint32
	IdxOffset uint32
	VtxOffset uint32
}

// DrawList is one batch of geometry with its commands.
type DrawList struct {
	Vertices []Vertex
	Indices  []uint16
	Commands []Command
}

// DrawData is everything the UI layer produced for one frame.
type DrawData struct {
	DisplayPos       [2]float32
	DisplaySize      [2]float32
	FramebufferScale [2]float32
	Lists            []DrawList
}

func (d *DrawData) TotalVertices() int {
	n := 0
	for i := range d.Lists {
		n += len(d.Lists[i].Vertices)
	}
	return n
}

func (d *DrawData) TotalIndices() int {
	n := 0
	for i := range d.Lists {
		n += len(d.Lists[i].Indices)
	}
	return n
}

// Empty reports whether there is nothing to draw. Engines still run their
// save/restore cycle on empty frames only when they have something to bind.
func (d *DrawData) Empty() bool {
	return d == nil || d.DisplaySize[0] <= 0 || d.DisplaySize[1] <= 0 || d.TotalIndices() == 0
}

// Validate checks every command stays inside its list's buffers, down to the
// index values. Engines call it before uploading so a malformed list cannot
// read past a GPU buffer or a vertex slice.
func (d *DrawData) Validate() error {
	for li := range d.Lists {
		l := &d.Lists[li]
		if len(l.Vertices) > math.MaxUint16+1 {
			return fmt.Errorf("list %d: %d vertices exceed 16-bit indices", li, len(l.Vertices))
		}
		for ci, c := range l.Commands {
			if uint64(c.IdxOffset)+uint64(c.ElemCount) > uint64(len(l.Indices)) {
				return fmt.Errorf("list %d command %d: indices [%d,+%d) out of %d", li, ci, c.IdxOffset, c.ElemCount, len(l.Indices))
			}
			if c.ElemCount == 0 {
				continue
			}
			if int(c.VtxOffset) >= len(l.Vertices) {
				return fmt.Errorf("list %d command %d: vertex offset %d out of %d", li, ci, c.VtxOffset, len(l.Vertices))
			}
			reach := len(l.Vertices) - int(c.VtxOffset)
			for _, idx := range l.Indices[c.IdxOffset : c.IdxOffset+c.ElemCount] {
				if int(idx) >= reach {
					return fmt.Errorf("list %d command %d: index %d past %d vertices at offset %d", li, ci, idx, len(l.Vertices), c.VtxOffset)
				}
			}
		}
	}
	return nil
}

// Ortho returns the column-major projection mapping display coordinates to
// clip space with depth in [0, 1], as Direct3D expects.
func Ortho(d *DrawData) [16]float32 {
	l := d.DisplayPos[0]
	r := d.DisplayPos[0] + d.DisplaySize[0]
	t := d.DisplayPos[1]
	b := d.DisplayPos[1] + d.DisplaySize[1]
	return [16]float32{
		2 / (r - l), 0, 0, 0,
		0, 2 / (t - b), 0, 0,
		0, 0, 0.5, 0,
		(r + l) / (l - r), (t + b) / (b - t), 0.5, 1,
	}
}

// OrthoGL is Ortho with depth in [-1, 1].
func OrthoGL(d *DrawData) [16]float32 {
	m := Ortho(d)
	m[10] = -1
	m[14] = 0
	return m
}

// Rect is a scissor rectangle in framebuffer pixels.
type Rect struct {
	X0, Y0, X1, Y1 int32
}

// Scissor converts a command clip rectangle to framebuffer pixels clamped to
// fb. It reports false when nothing of the command is visible.
func Scissor(clip [4]float32, d *DrawData, fb Size) (Rect, bool) {
	sx, sy := d.FramebufferScale[0], d.FramebufferScale[1]
	if sx == 0 {
		sx = 1
	}
	if sy == 0 {
		sy = 1
	}
	x0 := (clip[0] - d.DisplayPos[0]) * sx
	y0 := (clip[1] - d.DisplayPos[1]) * sy
	x1 := (clip[2] - d.DisplayPos[0]) * sx
	y1 := (clip[3] - d.DisplayPos[1]) * sy

	x0 = clamp(x0, 0, float32(fb.Width))
	y0 = clamp(y0, 0, float32(fb.Height))
	x1 = clamp(x1, 0, float32(fb.Width))
	y1 = clamp(y1, 0, float32(fb.Height))
	if x1 <= x0 || y1 <= y0 {
		return Rect{}, false
	}
	return Rect{X0: int32(x0), Y0: int32(y0), X1: int32(x1), Y1: int32(y1)}, true
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
