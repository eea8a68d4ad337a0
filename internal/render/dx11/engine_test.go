package dx11

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/breeze-rmm/hudhook/internal/render"
)

// fakeContext models an immediate context as a State value plus reference
// counts for the objects bound in it.
type fakeContext struct {
	t    *testing.T
	cur  State
	refs map[uintptr]int
	// dropBlend makes Restore forget the blend state.
	dropBlend bool

	draws    int
	scissors []render.Rect
	lastRT   *fakeRT
}

func newFakeContext(t *testing.T, initial State) *fakeContext {
	return &fakeContext{t: t, cur: initial, refs: make(map[uintptr]int)}
}

func (c *fakeContext) Capture() State {
	s := c.cur
	for _, o := range s.Objects() {
		if o != 0 {
			c.refs[o]++
		}
	}
	return s
}

func (c *fakeContext) Restore(s State) {
	blend := c.cur.BlendState
	c.cur = s
	if c.dropBlend {
		c.cur.BlendState = blend
	}
}

func (c *fakeContext) ReleaseState(s State) {
	for _, o := range s.Objects() {
		if o != 0 {
			c.refs[o]--
		}
	}
}

func (c *fakeContext) Setup(p Pipeline, rt RenderTarget, proj [16]float32) {
	r := rt.(*fakeRT)
	if r.released {
		c.t.Errorf("Setup bound released render target %d", r.gen)
	}
	c.lastRT = r
	size := rt.Size()
	c.cur.ViewportCount = 1
	c.cur.Viewports[0] = Viewport{Width: float32(size.Width), Height: float32(size.Height), MaxDepth: 1}
	c.cur.RenderTarget = 0xAAA0 + uintptr(r.gen)
	c.cur.DepthStencil = 0
	c.cur.BlendState = 0xB1
	c.cur.BlendFactor = [4]float32{}
	c.cur.SampleMask = 0xffffffff
	c.cur.RasterizerState = 0xB2
	c.cur.DepthStencilState = 0xB3
	c.cur.StencilRef = 0
	c.cur.PixelShader = 0xB4
	c.cur.VertexShader = 0xB5
	c.cur.GeometryShader = 0
	c.cur.PSInstanceCount, c.cur.VSInstanceCount, c.cur.GSInstanceCount = 0, 0, 0
	c.cur.PSInstances, c.cur.VSInstances, c.cur.GSInstances = [maxClassInstances]uintptr{}, [maxClassInstances]uintptr{}, [maxClassInstances]uintptr{}
	c.cur.PSShaderResource = 0xB6
	c.cur.PSSampler = 0xB7
	c.cur.VSConstantBuffer = 0xB8
	c.cur.InputLayout = 0xB9
	c.cur.PrimitiveTopology = 4
	c.cur.VertexBuffer = 0xBA
	c.cur.VertexStride = render.VertexSize
	c.cur.VertexOffset = 0
	c.cur.IndexBuffer = 0xBB
	c.cur.IndexFormat = 57
	c.cur.IndexOffset = 0
}

func (c *fakeContext) SetScissor(r render.Rect) {
	c.cur.ScissorCount = 1
	c.cur.Scissors[0] = ScissorRect{r.X0, r.Y0, r.X1, r.Y1}
	c.scissors = append(c.scissors, r)
}

func (c *fakeContext) DrawIndexed(uint32, uint32, int32) { c.draws++ }

type fakeRT struct {
	gen      int
	size     render.Size
	released bool
}

func (r *fakeRT) Size() render.Size { return r.size }
func (r *fakeRT) Release()          { r.released = true }

type fakePipeline struct {
	uploads  int
	released bool
}

func (p *fakePipeline) Upload(Context, *render.DrawData) error { p.uploads++; return nil }
func (p *fakePipeline) Release()                               { p.released = true }

type fakeDevice struct {
	level    uint32
	ctx      *fakeContext
	pipe     *fakePipeline
	size     render.Size
	rts      []*fakeRT
	released bool
	pipeErr  error
}

func (d *fakeDevice) FeatureLevel() uint32 { return d.level }
func (d *fakeDevice) Context() Context     { return d.ctx }

func (d *fakeDevice) CreatePipeline(*render.Atlas) (Pipeline, error) {
	if d.pipeErr != nil {
		return nil, d.pipeErr
	}
	d.pipe = &fakePipeline{}
	return d.pipe, nil
}

func (d *fakeDevice) CreateRenderTarget() (RenderTarget, error) {
	rt := &fakeRT{gen: len(d.rts) + 1, size: d.size}
	d.rts = append(d.rts, rt)
	return rt, nil
}

func (d *fakeDevice) Surface() (render.Surface, error) {
	return render.Surface{Size: d.size, Window: 0x77}, nil
}

func (d *fakeDevice) Release() { d.released = true }

const testSwapChain = 0x5C00

func newEngine(t *testing.T, initial State) (*Engine, *fakeDevice) {
	t.Helper()
	dev := &fakeDevice{level: 0xb000, ctx: newFakeContext(t, initial), size: render.Size{Width: 1280, Height: 720}}
	e := New(func(render.Target) (Device, error) { return dev, nil })
	if err := e.Initialize(render.Target{SwapChain: testSwapChain}, render.WhiteAtlas()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return e, dev
}

func frame(size render.Size) *render.FrameContext {
	dd := &render.DrawData{
		DisplaySize:      [2]float32{float32(size.Width), float32(size.Height)},
		FramebufferScale: [2]float32{1, 1},
		Lists: []render.DrawList{
			{
				Vertices: make([]render.Vertex, 4),
				Indices:  []uint16{0, 1, 2, 0, 2, 3},
				Commands: []render.Command{
					{ClipRect: [4]float32{0, 0, 100, 100}, ElemCount: 6},
					{ClipRect: [4]float32{-10, -10, -1, -1}, ElemCount: 6}, // clipped away
				},
			},
			{
				Vertices: make([]render.Vertex, 3),
				Indices:  []uint16{0, 1, 2},
				Commands: []render.Command{{ClipRect: [4]float32{0, 0, 1e6, 1e6}, ElemCount: 3}},
			},
		},
	}
	return &render.FrameContext{Target: render.Target{SwapChain: testSwapChain}, Size: size, Draw: dd}
}

func randomState(r *rand.Rand) State {
	var s State
	s.ViewportCount = uint32(r.Intn(maxViewports + 1))
	s.ScissorCount = uint32(r.Intn(maxViewports + 1))
	for i := 0; i < maxViewports; i++ {
		s.Viewports[i] = Viewport{r.Float32(), r.Float32(), r.Float32() * 4000, r.Float32() * 4000, 0, 1}
		s.Scissors[i] = ScissorRect{r.Int31(), r.Int31(), r.Int31(), r.Int31()}
	}
	obj := func() uintptr {
		if r.Intn(4) == 0 {
			return 0
		}
		return uintptr(0x10000 + r.Intn(1<<20))
	}
	s.RasterizerState, s.BlendState, s.DepthStencilState = obj(), obj(), obj()
	s.BlendFactor = [4]float32{r.Float32(), r.Float32(), r.Float32(), r.Float32()}
	s.SampleMask = r.Uint32()
	s.StencilRef = r.Uint32()
	s.RenderTarget, s.DepthStencil = obj(), obj()
	s.PSShaderResource, s.PSSampler = obj(), obj()
	s.PixelShader, s.VertexShader, s.GeometryShader = obj(), obj(), obj()
	s.VSConstantBuffer, s.InputLayout = obj(), obj()
	s.PSInstanceCount, s.VSInstanceCount = uint32(r.Intn(3)), uint32(r.Intn(3))
	for i := uint32(0); i < s.PSInstanceCount; i++ {
		s.PSInstances[i] = obj()
	}
	for i := uint32(0); i < s.VSInstanceCount; i++ {
		s.VSInstances[i] = obj()
	}
	s.PrimitiveTopology = uint32(r.Intn(40))
	s.IndexBuffer, s.IndexFormat, s.IndexOffset = obj(), uint32(r.Intn(100)), r.Uint32()
	s.VertexBuffer, s.VertexStride, s.VertexOffset = obj(), r.Uint32(), r.Uint32()
	return s
}

func TestRenderRestoresArbitraryState(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		initial := randomState(r)
		e, dev := newEngine(t, initial)
		if err := e.Render(frame(dev.size)); err != nil {
			t.Fatalf("case %d: Render: %v", i, err)
		}
		if dev.ctx.cur != initial {
			t.Fatalf("case %d: host state not restored", i)
		}
		for obj, n := range dev.ctx.refs {
			if n != 0 {
				t.Fatalf("case %d: object %#x has %d leaked references", i, obj, n)
			}
		}
		if dev.ctx.draws != 2 {
			t.Fatalf("case %d: draws = %d, want 2", i, dev.ctx.draws)
		}
	}
}

func TestRestoreMismatchIsStateRestoreError(t *testing.T) {
	e, dev := newEngine(t, State{BlendState: 0x1234})
	dev.ctx.dropBlend = true
	err := e.Render(frame(dev.size))
	if !errors.Is(err, render.ErrStateRestore) || !render.Fatal(err) {
		t.Fatalf("err = %v, want ErrStateRestore", err)
	}
}

func TestResizeReacquiresBackBuffer(t *testing.T) {
	e, dev := newEngine(t, State{})
	for i := 0; i < 3; i++ {
		if err := e.Render(frame(dev.size)); err != nil {
			t.Fatalf("Render %d: %v", i, err)
		}
	}
	if len(dev.rts) != 1 {
		t.Fatalf("render targets created = %d, want 1", len(dev.rts))
	}

	e.OnResize(render.Size{Width: 800, Height: 600})
	if !dev.rts[0].released {
		t.Fatal("old back buffer view still held after resize")
	}
	dev.size = render.Size{Width: 800, Height: 600}

	if err := e.Render(frame(dev.size)); err != nil {
		t.Fatalf("Render after resize: %v", err)
	}
	if len(dev.rts) != 2 || dev.ctx.lastRT != dev.rts[1] {
		t.Fatal("render after resize did not use a fresh back buffer")
	}
	if got := dev.ctx.lastRT.Size(); got != (render.Size{Width: 800, Height: 600}) {
		t.Fatalf("back buffer size = %v", got)
	}
	for _, s := range dev.ctx.scissors[len(dev.ctx.scissors)-2:] {
		if s.X1 > 800 || s.Y1 > 600 {
			t.Fatalf("scissor %+v exceeds new size", s)
		}
	}
}

func TestInitializeFailures(t *testing.T) {
	atlas := render.WhiteAtlas()
	target := render.Target{SwapChain: testSwapChain}

	e := New(func(render.Target) (Device, error) { return nil, errors.New("no device") })
	if err := e.Initialize(render.Target{}, atlas); !errors.Is(err, render.ErrNotReady) {
		t.Fatalf("missing swap chain: %v", err)
	}
	if err := e.Initialize(target, atlas); err == nil {
		t.Fatal("open failure not reported")
	}

	old := &fakeDevice{level: 0x9300, ctx: newFakeContext(t, State{})}
	e = New(func(render.Target) (Device, error) { return old, nil })
	err := e.Initialize(target, atlas)
	var ierr *render.InitError
	if !errors.Is(err, render.ErrDeviceIncompatible) || !errors.As(err, &ierr) || ierr.Step != "feature level" {
		t.Fatalf("err = %v, want feature level incompatibility", err)
	}
	if !old.released {
		t.Fatal("rejected device not released")
	}

	broken := &fakeDevice{level: 0xb000, ctx: newFakeContext(t, State{}), pipeErr: errors.New("CreateVertexShader")}
	e = New(func(render.Target) (Device, error) { return broken, nil })
	if err := e.Initialize(target, atlas); !errors.Is(err, render.ErrResourceAllocation) {
		t.Fatalf("err = %v, want ErrResourceAllocation", err)
	}
}

func TestSurfaceOnlyForBoundSwapChain(t *testing.T) {
	e, _ := newEngine(t, State{})
	if s, err := e.Surface(render.Target{SwapChain: testSwapChain}); err != nil || s.Window != 0x77 {
		t.Fatalf("Surface = %+v, %v", s, err)
	}
	if _, err := e.Surface(render.Target{SwapChain: 0x9999}); !errors.Is(err, render.ErrForeignTarget) {
		t.Fatalf("other swap chain: %v", err)
	}
}

func TestInitializeRebindsRecreatedSwapChain(t *testing.T) {
	e, dev := newEngine(t, State{})
	if err := e.Initialize(render.Target{SwapChain: 0x9999}, render.WhiteAtlas()); err != nil {
		t.Fatalf("rebind: %v", err)
	}
	if !dev.released {
		t.Fatal("old device binding not released")
	}
	if _, err := e.Surface(render.Target{SwapChain: 0x9999}); err != nil {
		t.Fatalf("new swap chain: %v", err)
	}
	if _, err := e.Surface(render.Target{SwapChain: testSwapChain}); !errors.Is(err, render.ErrForeignTarget) {
		t.Fatalf("old swap chain: %v", err)
	}
}

func TestShutdownReleasesEverythingOnce(t *testing.T) {
	e, dev := newEngine(t, State{})
	if err := e.Render(frame(dev.size)); err != nil {
		t.Fatal(err)
	}
	e.Shutdown()
	e.Shutdown()
	if !dev.released || !dev.pipe.released || !dev.rts[0].released {
		t.Fatal("resources leaked")
	}
	if err := e.Render(frame(dev.size)); !errors.Is(err, render.ErrNotReady) {
		t.Fatalf("render after shutdown: %v", err)
	}
	// Never-initialized engines shut down cleanly too.
	New(nil).Shutdown()
}
