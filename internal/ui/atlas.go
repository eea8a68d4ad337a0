package ui

import (
	"fmt"
	"image"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"

	"github.com/breeze-rmm/hudhook/internal/render"
)

// UV is a normalized texture rectangle.
type UV struct {
	U0, V0, U1, V1 float32
}

// Sprite is an image packed into the atlas.
type Sprite struct {
	W, H int
	UV   UV
}

// Glyph is one packed character.
type Glyph struct {
	Sprite
	// Offset of the glyph's top-left corner from the pen position on the
	// baseline.
	OffX, OffY int
	Advance    int
}

// Font maps runes to packed glyphs.
type Font struct {
	Glyphs   map[rune]*Glyph
	Height   int
	Ascent   int
	Fallback rune
}

// Glyph returns the glyph for r, the fallback glyph, or nil.
func (f *Font) Glyph(r rune) *Glyph {
	if g, ok := f.Glyphs[r]; ok {
		return g
	}
	return f.Glyphs[f.Fallback]
}

// Measure returns the advance width of s.
func (f *Font) Measure(s string) int {
	w := 0
	for _, r := range s {
		if g := f.Glyph(r); g != nil {
			w += g.Advance
		}
	}
	return w
}

// AtlasBuilder packs glyphs and images into one RGBA image with a shelf
// packer. Pixel (0,0) is kept opaque white for untextured geometry.
type AtlasBuilder struct {
	img     *image.RGBA
	x, y    int
	rowH    int
	pending []pendingUV
}

type pendingUV struct {
	uv   *UV
	rect image.Rectangle
}

const atlasPad = 1

func NewAtlasBuilder(width, height int) *AtlasBuilder {
	b := &AtlasBuilder{img: image.NewRGBA(image.Rect(0, 0, width, height))}
	draw.Draw(b.img, image.Rect(0, 0, 2, 2), image.White, image.Point{}, draw.Src)
	b.x = 2 + atlasPad
	b.rowH = 2
	return b
}

// WhiteUV is the texture coordinate of the white pixel.
func (b *AtlasBuilder) WhiteUV() (float32, float32) {
	return 0.5 / float32(b.img.Rect.Dx()), 0.5 / float32(b.img.Rect.Dy())
}

func (b *AtlasBuilder) alloc(w, h int) (image.Rectangle, error) {
	width, height := b.img.Rect.Dx(), b.img.Rect.Dy()
	if w > width {
		return image.Rectangle{}, fmt.Errorf("%w: %dx%d does not fit a %d wide atlas", render.ErrResourceAllocation, w, h, width)
	}
	if b.x+w > width {
		b.x = 0
		b.y += b.rowH + atlasPad
		b.rowH = 0
	}
	if b.y+h > height {
		return image.Rectangle{}, fmt.Errorf("%w: atlas full", render.ErrResourceAllocation)
	}
	r := image.Rect(b.x, b.y, b.x+w, b.y+h)
	b.x += w + atlasPad
	if h > b.rowH {
		b.rowH = h
	}
	return r, nil
}

// AddImage packs img and returns its sprite. UVs are final after Build.
func (b *AtlasBuilder) AddImage(img image.Image) (*Sprite, error) {
	size := img.Bounds().Size()
	r, err := b.alloc(size.X, size.Y)
	if err != nil {
		return nil, err
	}
	draw.Draw(b.img, r, img, img.Bounds().Min, draw.Src)
	s := &Sprite{W: size.X, H: size.Y}
	b.pending = append(b.pending, pendingUV{uv: &s.UV, rect: r})
	return s, nil
}

// AddFont rasterizes runes from face. Runes the face lacks are skipped; the
// first rune is the fallback.
func (b *AtlasBuilder) AddFont(face font.Face, runes []rune) (*Font, error) {
	m := face.Metrics()
	f := &Font{
		Glyphs: make(map[rune]*Glyph, len(runes)),
		Height: m.Height.Ceil(),
		Ascent: m.Ascent.Ceil(),
	}
	if len(runes) > 0 {
		f.Fallback = runes[0]
	}
	for _, r := range runes {
		dr, mask, maskp, adv, ok := face.Glyph(fixed.Point26_6{}, r)
		if !ok {
			continue
		}
		g := &Glyph{
			Sprite:  Sprite{W: dr.Dx(), H: dr.Dy()},
			OffX:    dr.Min.X,
			OffY:    dr.Min.Y + f.Ascent,
			Advance: adv.Round(),
		}
		f.Glyphs[r] = g
		if dr.Empty() {
			continue
		}
		dst, err := b.alloc(dr.Dx(), dr.Dy())
		if err != nil {
			return nil, err
		}
		draw.DrawMask(b.img, dst, image.White, image.Point{}, mask, maskp, draw.Over)
		b.pending = append(b.pending, pendingUV{uv: &g.UV, rect: dst})
	}
	return f, nil
}

// Build finalizes every sprite's UVs and returns the atlas.
func (b *AtlasBuilder) Build() *render.Atlas {
	w, h := float32(b.img.Rect.Dx()), float32(b.img.Rect.Dy())
	for _, p := range b.pending {
		*p.uv = UV{
			U0: float32(p.rect.Min.X) / w,
			V0: float32(p.rect.Min.Y) / h,
			U1: float32(p.rect.Max.X) / w,
			V1: float32(p.rect.Max.Y) / h,
		}
	}
	b.pending = nil
	return &render.Atlas{Width: b.img.Rect.Dx(), Height: b.img.Rect.Dy(), Pixels: b.img.Pix}
}
