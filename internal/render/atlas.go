package render

import "fmt"

// Atlas is the overlay's single texture: glyphs and UI sprites packed into
// one RGBA8 image. Engines upload it once at Initialize.
type Atlas struct {
	Width  int
	Height int
	Pixels []byte // RGBA8, row-major, Width*4 bytes per row
}

// Stride returns the number of bytes per row.
func (a *Atlas) Stride() int { return a.Width * 4 }

// Validate checks the pixel buffer matches the dimensions.
func (a *Atlas) Validate() error {
	if a == nil {
		return fmt.Errorf("%w: nil atlas", ErrResourceAllocation)
	}
	if a.Width <= 0 || a.Height <= 0 {
		return fmt.Errorf("%w: atlas is %dx%d", ErrResourceAllocation, a.Width, a.Height)
	}
	if len(a.Pixels) != a.Width*a.Height*4 {
		return fmt.Errorf("%w: atlas has %d bytes, want %d", ErrResourceAllocation, len(a.Pixels), a.Width*a.Height*4)
	}
	return nil
}

// WhiteAtlas returns a 1x1 opaque white atlas, enough for untextured
// geometry.
func WhiteAtlas() *Atlas {
	return &Atlas{Width: 1, Height: 1, Pixels: []byte{0xff, 0xff, 0xff, 0xff}}
}
