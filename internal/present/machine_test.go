package present

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/breeze-rmm/hudhook/internal/input"
	"github.com/breeze-rmm/hudhook/internal/render"
	"github.com/breeze-rmm/hudhook/internal/ui"
)

type fakeEngine struct {
	mu        sync.Mutex
	initErrs  []error
	renderErr error
	size      render.Size
	window    uintptr
	// bound is the swap chain of the last successful Initialize.
	bound uintptr

	inits, renders, shutdowns int
	resizes                   []render.Size
	atlas                     *render.Atlas
	// onRender runs inside Render.
	onRender func()
}

func (e *fakeEngine) Backend() string { return "fake" }

func (e *fakeEngine) Initialize(t render.Target, atlas *render.Atlas) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inits++
	e.atlas = atlas
	if len(e.initErrs) > 0 {
		err := e.initErrs[0]
		e.initErrs = e.initErrs[1:]
		return err
	}
	e.bound = t.SwapChain
	return nil
}

func (e *fakeEngine) Surface(t render.Target) (render.Surface, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t.SwapChain != e.bound {
		return render.Surface{}, render.ErrForeignTarget
	}
	return render.Surface{Size: e.size, Window: e.window}, nil
}

func (e *fakeEngine) Render(*render.FrameContext) error {
	if e.onRender != nil {
		e.onRender()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.renders++
	return e.renderErr
}

func (e *fakeEngine) OnResize(s render.Size) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resizes = append(e.resizes, s)
}

func (e *fakeEngine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shutdowns++
}

// quadLayer draws one quad per frame and records what it was given.
type quadLayer struct {
	frames []ui.Frame
}

func (l *quadLayer) Atlas() *render.Atlas { return render.WhiteAtlas() }

func (l *quadLayer) Frame(f *ui.Frame) *render.DrawData {
	l.frames = append(l.frames, *f)
	b := ui.NewBuilder(f.Size, 0, 0)
	b.RectFilled(0, 0, 10, 10, ui.RGBA(255, 255, 255, 255))
	return b.DrawData()
}

// stepClock advances 16ms per reading.
func stepClock() func() time.Time {
	clock := time.Unix(0, 0)
	return func() time.Time {
		clock = clock.Add(16 * time.Millisecond)
		return clock
	}
}

func newMachine(e *fakeEngine, l ui.Layer) *Machine {
	return New(Options{Engine: e, Layer: l, Now: stepClock()})
}

func present(m *Machine) (called int) {
	m.Present(render.Target{}, func() uintptr { called++; return 0 })
	return called
}

func TestUnarmedPassesThrough(t *testing.T) {
	e := &fakeEngine{size: render.Size{Width: 640, Height: 480}}
	m := newMachine(e, &quadLayer{})
	if present(m) != 1 || e.inits != 0 {
		t.Fatal("unarmed machine must only forward")
	}
	if !m.Arm() || m.Arm() {
		t.Fatal("Arm should succeed exactly once")
	}
	if m.State() != StateHooked {
		t.Fatalf("state = %v", m.State())
	}
}

func TestInitFailureRetriesNextFrame(t *testing.T) {
	e := &fakeEngine{
		size:     render.Size{Width: 640, Height: 480},
		initErrs: []error{&render.InitError{Backend: "fake", Step: "device", Err: render.ErrDeviceIncompatible}},
	}
	m := newMachine(e, &quadLayer{})
	m.Arm()

	if present(m) != 1 {
		t.Fatal("original must be called when init fails")
	}
	if m.State() != StateHooked || e.renders != 0 {
		t.Fatalf("state = %v renders = %d after failed init", m.State(), e.renders)
	}
	if present(m) != 1 {
		t.Fatal("original not called")
	}
	if m.State() != StateEngineReady || e.inits != 2 || e.renders != 1 {
		t.Fatalf("state = %v inits = %d renders = %d", m.State(), e.inits, e.renders)
	}
	if e.atlas == nil {
		t.Fatal("atlas not handed to engine")
	}
	if st := m.Stats(); st.InitAttempts != 2 || st.Frames != 1 || st.Size.Width != 640 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestRenderErrorStillPresents(t *testing.T) {
	e := &fakeEngine{size: render.Size{Width: 1, Height: 1}, renderErr: errors.New("draw failed")}
	m := newMachine(e, &quadLayer{})
	m.Arm()
	for i := 0; i < 3; i++ {
		if present(m) != 1 {
			t.Fatal("original must be called regardless of render result")
		}
	}
	if e.renders != 3 || m.Halted() {
		t.Fatalf("renders = %d halted = %v", e.renders, m.Halted())
	}
	if st := m.Stats(); st.RenderFailures != 3 || st.LastError != "draw failed" {
		t.Fatalf("stats = %+v", st)
	}
}

type panicLayer struct{ quadLayer }

func (l *panicLayer) Frame(*ui.Frame) *render.DrawData { panic("layer bug") }

func TestPanickingFrameStillPresents(t *testing.T) {
	cases := map[string]struct {
		engine *fakeEngine
		layer  ui.Layer
	}{
		"layer":  {&fakeEngine{size: render.Size{Width: 1, Height: 1}}, &panicLayer{}},
		"engine": {&fakeEngine{size: render.Size{Width: 1, Height: 1}, onRender: func() { panic("engine bug") }}, &quadLayer{}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var fatals []error
			m := New(Options{Engine: tc.engine, Layer: tc.layer, OnFatal: func(err error) { fatals = append(fatals, err) }})
			m.Arm()
			if present(m) != 1 {
				t.Fatal("original present not called after a panic")
			}
			if !m.Halted() || len(fatals) != 1 || !errors.Is(fatals[0], ErrPanic) {
				t.Fatalf("halted = %v fatals = %v", m.Halted(), fatals)
			}
			if m.State() != StateEngineReady {
				t.Fatalf("state = %v", m.State())
			}

			done := make(chan uintptr, 1)
			go func() { done <- m.Resize(render.Size{Width: 2, Height: 2}, func() uintptr { return 5 }) }()
			select {
			case r := <-done:
				if r != 5 {
					t.Fatalf("resize returned %d", r)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("resize blocked: frame lock left held")
			}
			if present(m) != 1 {
				t.Fatal("halted machine must still forward")
			}
		})
	}
}

func TestPanickingResizeStillForwards(t *testing.T) {
	e := &fakeEngine{size: render.Size{Width: 1, Height: 1}}
	m := New(Options{Engine: panicResize{e}, Layer: &quadLayer{}})
	m.Arm()
	present(m)
	if r := m.Resize(render.Size{Width: 2, Height: 2}, func() uintptr { return 9 }); r != 9 {
		t.Fatalf("resize returned %d", r)
	}
	if !m.Halted() {
		t.Fatal("panicking resize should halt the overlay")
	}
	if present(m) != 1 {
		t.Fatal("present after a panicking resize")
	}
}

type panicResize struct{ *fakeEngine }

func (panicResize) OnResize(render.Size) { panic("resize bug") }

func TestStateRestoreFailureHalts(t *testing.T) {
	e := &fakeEngine{
		size:      render.Size{Width: 1, Height: 1},
		renderErr: fmt.Errorf("verify: %w", render.ErrStateRestore),
	}
	var fatals []error
	m := New(Options{Engine: e, Layer: &quadLayer{}, OnFatal: func(err error) { fatals = append(fatals, err) }})
	m.Arm()
	present(m)
	present(m)
	if !m.Halted() || len(fatals) != 1 || e.renders != 1 {
		t.Fatalf("halted = %v fatals = %d renders = %d", m.Halted(), len(fatals), e.renders)
	}
	if present(m) != 1 {
		t.Fatal("halted machine must still forward")
	}
}

func TestResizeBeforeOriginal(t *testing.T) {
	e := &fakeEngine{size: render.Size{Width: 640, Height: 480}}
	m := newMachine(e, &quadLayer{})
	m.Arm()

	// Before the engine exists a resize is a plain forward.
	m.Resize(render.Size{Width: 1, Height: 1}, func() uintptr { return 0 })
	if len(e.resizes) != 0 {
		t.Fatal("OnResize before init")
	}

	present(m)
	var order []string
	m.Resize(render.Size{Width: 800, Height: 600}, func() uintptr {
		e.mu.Lock()
		n := len(e.resizes)
		e.size = render.Size{Width: 800, Height: 600}
		e.mu.Unlock()
		order = append(order, fmt.Sprintf("original after %d", n))
		return 7
	})
	if len(order) != 1 || order[0] != "original after 1" {
		t.Fatalf("order = %v", order)
	}
	present(m)
	if len(e.resizes) != 1 {
		t.Fatalf("resizes = %v, want exactly the explicit one", e.resizes)
	}
	if st := m.Stats(); st.Size != (render.Size{Width: 800, Height: 600}) {
		t.Fatalf("size = %v", st.Size)
	}
}

func TestSizeChangeOnPresentTriggersResize(t *testing.T) {
	e := &fakeEngine{size: render.Size{Width: 640, Height: 480}}
	m := newMachine(e, &quadLayer{})
	m.Arm()
	present(m)
	e.size = render.Size{Width: 1024, Height: 768}
	present(m)
	if len(e.resizes) != 1 || e.resizes[0] != e.size {
		t.Fatalf("resizes = %v", e.resizes)
	}
}

func TestRecreatedSwapChainRebinds(t *testing.T) {
	e := &fakeEngine{size: render.Size{Width: 640, Height: 480}}
	m := newMachine(e, &quadLayer{})
	m.Arm()
	on := func(sc uintptr) (called int) {
		m.Present(render.Target{SwapChain: sc}, func() uintptr { called++; return 0 })
		return called
	}
	if on(0xA) != 1 || e.bound != 0xA || e.renders != 1 {
		t.Fatalf("bound = %#x renders = %d", e.bound, e.renders)
	}
	if on(0xB) != 1 {
		t.Fatal("original not called on the new swap chain")
	}
	if e.bound != 0xB || e.inits != 2 || e.renders != 2 {
		t.Fatalf("bound = %#x inits = %d renders = %d", e.bound, e.inits, e.renders)
	}
	if m.State() != StateEngineReady || len(e.resizes) != 0 {
		t.Fatalf("state = %v resizes = %v", m.State(), e.resizes)
	}
	if st := m.Stats(); st.RenderFailures != 0 {
		t.Fatalf("stats = %+v", st)
	}

	e.initErrs = []error{&render.InitError{Backend: "fake", Step: "device", Err: render.ErrDeviceIncompatible}}
	if on(0xC) != 1 || m.State() != StateHooked || e.renders != 2 {
		t.Fatalf("state = %v renders = %d after failed rebind", m.State(), e.renders)
	}
	if on(0xC) != 1 || e.bound != 0xC || e.renders != 3 {
		t.Fatalf("bound = %#x renders = %d after retry", e.bound, e.renders)
	}
}

func TestWindowReportedOnce(t *testing.T) {
	e := &fakeEngine{size: render.Size{Width: 2, Height: 2}, window: 0x1234}
	var got []uintptr
	m := New(Options{Engine: e, Layer: &quadLayer{}, OnWindow: func(h uintptr) { got = append(got, h) }})
	m.Arm()
	present(m)
	present(m)
	if len(got) != 1 || got[0] != 0x1234 {
		t.Fatalf("OnWindow calls = %v", got)
	}
}

func TestFrameReceivesInputAndDelta(t *testing.T) {
	e := &fakeEngine{size: render.Size{Width: 2, Height: 2}}
	l := &quadLayer{}
	in := input.NewState()
	m := New(Options{Engine: e, Layer: l, Input: in, Now: stepClock()})
	m.Arm()

	in.Apply(input.Event{Kind: input.KindChar, Char: 'x'})
	present(m)
	present(m)
	if len(l.frames) != 2 {
		t.Fatalf("frames = %d", len(l.frames))
	}
	if string(l.frames[0].Input.Chars) != "x" || len(l.frames[1].Input.Chars) != 0 {
		t.Fatal("input not handed over exactly once")
	}
	if l.frames[0].Delta != 0 || l.frames[1].Delta != 16*time.Millisecond {
		t.Fatalf("deltas = %v, %v", l.frames[0].Delta, l.frames[1].Delta)
	}
	if l.frames[1].Index != 2 || l.frames[1].Backend != "fake" {
		t.Fatalf("frame = %+v", l.frames[1])
	}
}

func TestReentrantPresentPassesThrough(t *testing.T) {
	e := &fakeEngine{size: render.Size{Width: 2, Height: 2}}
	m := newMachine(e, &quadLayer{})
	m.Arm()
	inner := 0
	e.onRender = func() {
		if m.State() != StateRendering {
			t.Errorf("state during render = %v", m.State())
		}
		inner += present(m)
	}
	present(m)
	if inner != 1 || e.renders != 1 {
		t.Fatalf("inner = %d renders = %d", inner, e.renders)
	}
	if m.State() != StateEngineReady {
		t.Fatalf("state = %v", m.State())
	}
}

func TestTeardown(t *testing.T) {
	e := &fakeEngine{size: render.Size{Width: 2, Height: 2}}
	m := newMachine(e, &quadLayer{})
	m.Arm()
	present(m)
	m.Teardown()
	m.Teardown()
	if e.shutdowns != 1 || m.State() != StateTornDown {
		t.Fatalf("shutdowns = %d state = %v", e.shutdowns, m.State())
	}
	renders := e.renders
	if present(m) != 1 || e.renders != renders {
		t.Fatal("torn down machine must only forward")
	}
	m.Resize(render.Size{Width: 5, Height: 5}, func() uintptr { return 0 })
	if len(e.resizes) != 0 {
		t.Fatal("resize after teardown reached the engine")
	}
}

func TestEmptyFrameSkipsRender(t *testing.T) {
	e := &fakeEngine{size: render.Size{Width: 2, Height: 2}}
	m := newMachine(e, ui.Empty{})
	m.Arm()
	present(m)
	if e.renders != 0 || m.Stats().Frames != 1 {
		t.Fatalf("renders = %d", e.renders)
	}
}
