// Package ui is the boundary between the render bridge and whatever produces
// overlay geometry. A Layer is asked for draw data once per rendered frame
// and handed a snapshot of the input accumulated since the previous one.
package ui

import (
	"time"

	"github.com/breeze-rmm/hudhook/internal/input"
	"github.com/breeze-rmm/hudhook/internal/render"
)

// Frame is what a layer sees of one host frame.
type Frame struct {
	Size    render.Size
	Input   input.Snapshot
	Delta   time.Duration
	Backend string
	Index   uint64
}

// Layer produces overlay draw data.
type Layer interface {
	// Atlas returns the texture referenced by TextureID zero. It is called
	// once before the first frame.
	Atlas() *render.Atlas
	// Frame returns the draw data for f, or nil to draw nothing. The result
	// is only read until the next call.
	Frame(f *Frame) *render.DrawData
}

// Capturer is implemented by layers that claim input themselves, for
// example while a text field has focus.
type Capturer interface {
	WantMouse() bool
	WantKeyboard() bool
}

// Empty is a layer that draws nothing.
type Empty struct{}

func (Empty) Atlas() *render.Atlas          { return render.WhiteAtlas() }
func (Empty) Frame(*Frame) *render.DrawData { return nil }
