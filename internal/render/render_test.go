package render

import (
	"errors"
	"fmt"
	"testing"
)

func TestScissor(t *testing.T) {
	dd := &DrawData{DisplayPos: [2]float32{10, 20}, DisplaySize: [2]float32{100, 50}, FramebufferScale: [2]float32{2, 2}}
	fb := Size{Width: 200, Height: 100}

	tests := []struct {
		name string
		clip [4]float32
		want Rect
		ok   bool
	}{
		{"inside", [4]float32{20, 30, 60, 40}, Rect{20, 20, 100, 40}, true},
		{"clamped", [4]float32{0, 0, 500, 500}, Rect{0, 0, 200, 100}, true},
		{"empty", [4]float32{30, 30, 30, 60}, Rect{}, false},
		{"offscreen", [4]float32{500, 500, 600, 600}, Rect{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Scissor(tt.clip, dd, fb)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("Scissor = %+v, %v; want %+v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestScissorZeroScale(t *testing.T) {
	dd := &DrawData{DisplaySize: [2]float32{10, 10}}
	got, ok := Scissor([4]float32{1, 2, 3, 4}, dd, Size{10, 10})
	if !ok || got != (Rect{1, 2, 3, 4}) {
		t.Fatalf("Scissor = %+v, %v", got, ok)
	}
}

func TestOrthoMapsCorners(t *testing.T) {
	dd := &DrawData{DisplayPos: [2]float32{0, 0}, DisplaySize: [2]float32{1024, 512}}
	m := Ortho(dd)
	apply := func(x, y float32) (float32, float32) {
		return m[0]*x + m[4]*y + m[12], m[1]*x + m[5]*y + m[13]
	}
	if x, y := apply(0, 0); x != -1 || y != 1 {
		t.Fatalf("top-left -> %v,%v", x, y)
	}
	if x, y := apply(1024, 512); x != 1 || y != -1 {
		t.Fatalf("bottom-right -> %v,%v", x, y)
	}
	if gl := OrthoGL(dd); gl[10] != -1 || gl[14] != 0 || gl[0] != m[0] {
		t.Fatalf("OrthoGL = %v", gl)
	}
}

func TestDrawDataValidate(t *testing.T) {
	ok := &DrawData{DisplaySize: [2]float32{1, 1}, Lists: []DrawList{{
		Vertices: make([]Vertex, 4),
		Indices:  []uint16{0, 1, 2, 0, 2, 3},
		Commands: []Command{{ElemCount: 3}, {ElemCount: 3, IdxOffset: 3}},
	}}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if ok.TotalVertices() != 4 || ok.TotalIndices() != 6 || ok.Empty() {
		t.Fatal("totals")
	}

	bad := map[string]DrawList{
		"index range": {Vertices: make([]Vertex, 3), Indices: []uint16{0}, Commands: []Command{{ElemCount: 2}}},
		"index value": {Vertices: make([]Vertex, 4), Indices: []uint16{0, 1, 60000}, Commands: []Command{{ElemCount: 3}}},
		"index past offset": {
			Vertices: make([]Vertex, 4),
			Indices:  []uint16{0, 1, 2},
			Commands: []Command{{ElemCount: 3, VtxOffset: 2}},
		},
		"offset at end": {Vertices: make([]Vertex, 4), Indices: []uint16{0}, Commands: []Command{{ElemCount: 1, VtxOffset: 4}}},
		"no vertices":   {Indices: []uint16{0}, Commands: []Command{{ElemCount: 1}}},
	}
	for name, l := range bad {
		dd := &DrawData{Lists: []DrawList{l}}
		if err := dd.Validate(); err == nil {
			t.Errorf("%s: expected out-of-range error", name)
		}
	}

	// A command drawing nothing may point anywhere.
	idle := &DrawData{Lists: []DrawList{{Vertices: make([]Vertex, 1), Commands: []Command{{VtxOffset: 9}}}}}
	if err := idle.Validate(); err != nil {
		t.Fatalf("empty command: %v", err)
	}
	edge := &DrawData{Lists: []DrawList{{
		Vertices: make([]Vertex, 5),
		Indices:  []uint16{0, 1, 2},
		Commands: []Command{{ElemCount: 3, VtxOffset: 2}},
	}}}
	if err := edge.Validate(); err != nil {
		t.Fatalf("last reachable vertex: %v", err)
	}
	var nilData *DrawData
	if !nilData.Empty() {
		t.Fatal("nil draw data should be empty")
	}
}

func TestAtlasValidate(t *testing.T) {
	if err := WhiteAtlas().Validate(); err != nil {
		t.Fatal(err)
	}
	if err := (&Atlas{Width: 2, Height: 2, Pixels: make([]byte, 3)}).Validate(); !errors.Is(err, ErrResourceAllocation) {
		t.Fatalf("err = %v", err)
	}
}

func TestErrorsUnwrap(t *testing.T) {
	err := fmt.Errorf("frame 3: %w", &RenderError{Backend: DX11, Step: "verify", Err: ErrStateRestore})
	if !Fatal(err) {
		t.Fatal("state restore must be fatal")
	}
	if Fatal(&InitError{Backend: DX11, Step: "feature level", Err: ErrDeviceIncompatible}) {
		t.Fatal("init errors are not fatal")
	}
}

type stubEngine struct{ name string }

func (s stubEngine) Backend() string               { return s.name }
func (stubEngine) Initialize(Target, *Atlas) error { return nil }
func (stubEngine) Surface(Target) (Surface, error) { return Surface{}, nil }
func (stubEngine) Render(*FrameContext) error      { return nil }
func (stubEngine) OnResize(Size)                   {}
func (stubEngine) Shutdown()                       {}

func TestRegistryPriorityAndDetect(t *testing.T) {
	for _, d := range []Descriptor{
		{Name: OpenGL3, Module: "opengl32.dll"},
		{Name: DX11, Module: "d3d11.dll"},
		{Name: DX12, Module: "d3d12.dll"},
		{Name: DX9, Module: "d3d9.dll", New: func() Engine { return stubEngine{DX9} }},
	} {
		Register(d)
		defer Unregister(d.Name)
	}

	got := Available()
	want := []string{DX12, DX11, DX9, OpenGL3}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("Available = %v, want %v", got, want)
	}

	loaded := map[string]bool{"d3d9.dll": true, "opengl32.dll": true}
	name, err := Detect(func(m string) bool { return loaded[m] })
	if err != nil || name != DX9 {
		t.Fatalf("Detect = %q, %v", name, err)
	}
	if _, err := Detect(func(string) bool { return false }); !errors.Is(err, ErrBackendNotAvailable) {
		t.Fatalf("err = %v", err)
	}
	if e := Get(DX9); e == nil || e.Backend() != DX9 {
		t.Fatal("Get(dx9)")
	}
	if Get(DX11) != nil || Get("vulkan") != nil {
		t.Fatal("Get should return nil without a factory")
	}
}
