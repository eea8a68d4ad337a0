// Package render defines the contract every graphics backend implements to
// draw the overlay onto a host's back buffer, plus the backend-neutral draw
// data the UI layer produces each frame.
package render

import (
	"fmt"
	"time"
)

// Backend names.
const (
	DX9     = "dx9"
	DX11    = "dx11"
	DX12    = "dx12"
	OpenGL3 = "opengl3"
)

// Size is a back-buffer size in pixels.
type Size struct {
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
}

func (s Size) Empty() bool { return s.Width == 0 || s.Height == 0 }

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

// Target carries the native handles a detour observed in the host's call.
// All of them are borrowed: the engine never releases a reference it did not
// add itself. Fields a backend does not use are zero.
type Target struct {
	Device    uintptr // IDirect3DDevice9, ID3D11Device or ID3D12Device, when known
	Context   uintptr // ID3D11DeviceContext, or the HGLRC current in wglSwapBuffers
	SwapChain uintptr // IDXGISwapChain
	Queue     uintptr // ID3D12CommandQueue captured from ExecuteCommandLists
	DC        uintptr // HDC passed to wglSwapBuffers
	Window    uintptr // HWND, when the detour already knows it
}

// Surface describes what the host is presenting right now.
type Surface struct {
	Size   Size
	Window uintptr
}

// FrameContext is built for one presentation call and dropped when it
// returns.
type FrameContext struct {
	Target Target
	Size   Size
	Draw   *DrawData
	Delta  time.Duration
	Index  uint64
}

// Engine draws overlay frames with one graphics API.
//
// Initialize is retried on every frame until it succeeds. Render must leave
// every piece of host pipeline state it touched exactly as it found it.
// OnResize drops back-buffer-bound resources; the next Render recreates them.
// Shutdown is safe whether or not Initialize ever succeeded.
type Engine interface {
	Backend() string
	Initialize(t Target, atlas *Atlas) error
	Surface(t Target) (Surface, error)
	Render(fc *FrameContext) error
	OnResize(size Size)
	Shutdown()
}
