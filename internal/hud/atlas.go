package hud

import (
	"fmt"

	"github.com/gogpu/gg"
	"golang.org/x/image/font/basicfont"

	"github.com/breeze-rmm/hudhook/internal/render"
	"github.com/breeze-rmm/hudhook/internal/ui"
)

const (
	atlasWidth  = 256
	atlasHeight = 128

	panelSize   = 24
	panelRadius = 6
)

// skin is everything the HUD draws with, packed into one atlas.
type skin struct {
	atlas  *render.Atlas
	font   *ui.Font
	whiteU float32
	whiteV float32
	// panel is a rounded rectangle cut into a 3x3 grid, row-major.
	panel [9]ui.Sprite
}

func printable() []rune {
	runes := []rune{'?'}
	for r := rune(' '); r <= '~'; r++ {
		if r != '?' {
			runes = append(runes, r)
		}
	}
	return runes
}

func newSkin() (*skin, error) {
	ab := ui.NewAtlasBuilder(atlasWidth, atlasHeight)
	font, err := ab.AddFont(basicfont.Face7x13, printable())
	if err != nil {
		return nil, fmt.Errorf("pack font: %w", err)
	}

	dc := gg.NewContext(panelSize, panelSize)
	dc.DrawRoundedRectangle(0, 0, panelSize, panelSize, panelRadius)
	dc.SetRGBA(1, 1, 1, 1)
	if err := dc.Fill(); err != nil {
		return nil, fmt.Errorf("rasterize panel: %w", err)
	}
	sprite, err := ab.AddImage(dc.Image())
	_ = dc.Close()
	if err != nil {
		return nil, fmt.Errorf("pack panel: %w", err)
	}

	s := &skin{atlas: ab.Build(), font: font}
	s.whiteU, s.whiteV = ab.WhiteUV()
	s.panel = nineSlice(sprite, panelRadius)
	return s, nil
}

// nineSlice cuts s into corners of r pixels, edges and a center.
func nineSlice(s *ui.Sprite, r int) [9]ui.Sprite {
	du := (s.UV.U1 - s.UV.U0) * float32(r) / float32(s.W)
	dv := (s.UV.V1 - s.UV.V0) * float32(r) / float32(s.H)
	us := [4]float32{s.UV.U0, s.UV.U0 + du, s.UV.U1 - du, s.UV.U1}
	vs := [4]float32{s.UV.V0, s.UV.V0 + dv, s.UV.V1 - dv, s.UV.V1}
	ws := [3]int{r, s.W - 2*r, r}
	hs := [3]int{r, s.H - 2*r, r}

	var out [9]ui.Sprite
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			out[row*3+col] = ui.Sprite{
				W:  ws[col],
				H:  hs[row],
				UV: ui.UV{U0: us[col], V0: vs[row], U1: us[col+1], V1: vs[row+1]},
			}
		}
	}
	return out
}

// drawPanel stretches the 3x3 panel grid over the rectangle, keeping the
// corners unscaled.
func (s *skin) drawPanel(b *ui.Builder, x0, y0, x1, y1 float32, color uint32) {
	r := float32(panelRadius)
	if x1-x0 < 2*r || y1-y0 < 2*r {
		b.RectFilled(x0, y0, x1, y1, color)
		return
	}
	xs := [4]float32{x0, x0 + r, x1 - r, x1}
	ys := [4]float32{y0, y0 + r, y1 - r, y1}
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			b.Image(&s.panel[row*3+col], xs[col], ys[row], xs[col+1], ys[row+1], color)
		}
	}
}
