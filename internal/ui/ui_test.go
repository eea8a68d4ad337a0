package ui

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"golang.org/x/image/font/basicfont"

	"github.com/breeze-rmm/hudhook/internal/render"
)

func TestRGBA(t *testing.T) {
	if got := RGBA(0x11, 0x22, 0x33, 0x44); got != 0x44332211 {
		t.Fatalf("RGBA = %#x", got)
	}
}

func TestBuilderMergesCommandsByClip(t *testing.T) {
	b := NewBuilder(render.Size{Width: 100, Height: 50}, 0, 0)
	b.RectFilled(0, 0, 10, 10, RGBA(255, 0, 0, 255))
	b.RectFilled(10, 10, 20, 20, RGBA(0, 255, 0, 255))
	b.PushClip(5, 5, 200, 40)
	b.RectFilled(0, 0, 1, 1, RGBA(0, 0, 255, 255))
	b.PopClip()
	b.RectFilled(0, 0, 1, 1, 0)
	b.RectFilled(5, 5, 5, 10, 0) // empty, skipped

	dd := b.DrawData()
	if dd.DisplaySize != [2]float32{100, 50} || len(dd.Lists) != 1 {
		t.Fatalf("draw data = %+v", dd)
	}
	cmds := dd.Lists[0].Commands
	if len(cmds) != 3 {
		t.Fatalf("commands = %d, want 3", len(cmds))
	}
	if cmds[0].ElemCount != 12 || cmds[1].ElemCount != 6 || cmds[1].IdxOffset != 12 {
		t.Fatalf("commands = %+v", cmds)
	}
	if cmds[1].ClipRect != [4]float32{5, 5, 100, 40} {
		t.Fatalf("clip = %v", cmds[1].ClipRect)
	}
	if err := dd.Validate(); err != nil {
		t.Fatal(err)
	}
	if dd.TotalVertices() != 16 {
		t.Fatalf("vertices = %d", dd.TotalVertices())
	}

	b.Reset(render.Size{Width: 10, Height: 10})
	if !b.DrawData().Empty() {
		t.Fatal("Reset should empty the frame")
	}
}

func TestBuilderSplitsLists(t *testing.T) {
	b := NewBuilder(render.Size{Width: 10, Height: 10}, 0, 0)
	// 16385 quads need 65540 vertices.
	for i := 0; i < 16385; i++ {
		b.RectFilled(0, 0, 1, 1, 0)
	}
	dd := b.DrawData()
	if len(dd.Lists) != 2 {
		t.Fatalf("lists = %d, want 2", len(dd.Lists))
	}
	if err := dd.Validate(); err != nil {
		t.Fatal(err)
	}
	if len(dd.Lists[1].Vertices) != 4 {
		t.Fatalf("second list vertices = %d", len(dd.Lists[1].Vertices))
	}
}

func TestAtlasFontAndText(t *testing.T) {
	ab := NewAtlasBuilder(128, 128)
	f, err := ab.AddFont(basicfont.Face7x13, []rune("?AB "))
	if err != nil {
		t.Fatalf("AddFont: %v", err)
	}
	dot := image.NewRGBA(image.Rect(0, 0, 3, 3))
	dot.Set(1, 1, color.RGBA{255, 0, 0, 255})
	sprite, err := ab.AddImage(dot)
	if err != nil {
		t.Fatal(err)
	}
	atlas := ab.Build()
	if err := atlas.Validate(); err != nil {
		t.Fatal(err)
	}
	if atlas.Pixels[0] != 0xff || atlas.Pixels[3] != 0xff {
		t.Fatal("white texel missing")
	}
	if sprite.W != 3 || sprite.UV.U1 <= sprite.UV.U0 {
		t.Fatalf("sprite = %+v", sprite)
	}

	if f.Measure("AB") != 14 {
		t.Fatalf("Measure = %d, want 14", f.Measure("AB"))
	}
	if f.Glyph('Z') != f.Glyph('?') {
		t.Fatal("missing rune should use the fallback")
	}

	u, v := ab.WhiteUV()
	b := NewBuilder(render.Size{Width: 100, Height: 100}, u, v)
	end := b.Text(f, 10, 10, RGBA(255, 255, 255, 255), "A B")
	if end != 10+21 {
		t.Fatalf("pen = %v, want 31", end)
	}
	if n := b.DrawData().TotalIndices(); n != 18 {
		t.Fatalf("indices = %d, want 18", n)
	}
}

func TestAtlasFull(t *testing.T) {
	ab := NewAtlasBuilder(8, 8)
	if _, err := ab.AddImage(image.NewRGBA(image.Rect(0, 0, 9, 1))); !errors.Is(err, render.ErrResourceAllocation) {
		t.Fatalf("err = %v", err)
	}
	if _, err := ab.AddImage(image.NewRGBA(image.Rect(0, 0, 8, 9))); !errors.Is(err, render.ErrResourceAllocation) {
		t.Fatalf("err = %v", err)
	}
}
