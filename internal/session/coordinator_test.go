package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/breeze-rmm/hudhook/internal/config"
	"github.com/breeze-rmm/hudhook/internal/hook"
	"github.com/breeze-rmm/hudhook/internal/hook/hooktest"
	"github.com/breeze-rmm/hudhook/internal/input"
	"github.com/breeze-rmm/hudhook/internal/render"
	"github.com/breeze-rmm/hudhook/internal/ui"
	"github.com/breeze-rmm/hudhook/internal/workerpool"
)

const (
	swapChain     = 0x5000_0000
	swapChainVtbl = 0x5000_1000
	hostWindow    = 0x99
	slotPresent   = 8
	slotResize    = 13
)

type countingEngine struct {
	mu        sync.Mutex
	renderErr error
	renders   int
	resizes   int
	shutdowns int
}

func (e *countingEngine) Backend() string                              { return "session-test" }
func (e *countingEngine) Initialize(render.Target, *render.Atlas) error { return nil }

func (e *countingEngine) Surface(render.Target) (render.Surface, error) {
	return render.Surface{Size: render.Size{Width: 64, Height: 64}, Window: hostWindow}, nil
}

func (e *countingEngine) Render(*render.FrameContext) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.renders++
	return e.renderErr
}

func (e *countingEngine) OnResize(render.Size) {
	e.mu.Lock()
	e.resizes++
	e.mu.Unlock()
}

func (e *countingEngine) Shutdown() {
	e.mu.Lock()
	e.shutdowns++
	e.mu.Unlock()
}

func (e *countingEngine) counts() (renders, resizes, shutdowns int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.renders, e.resizes, e.shutdowns
}

type boxLayer struct{}

func (boxLayer) Atlas() *render.Atlas { return render.WhiteAtlas() }

func (boxLayer) Frame(f *ui.Frame) *render.DrawData {
	b := ui.NewBuilder(f.Size, 0, 0)
	b.RectFilled(0, 0, 8, 8, ui.RGBA(0, 0, 0, 255))
	return b.DrawData()
}

// hoverLayer claims the mouse while hovered is set.
type hoverLayer struct {
	boxLayer
	hovered atomic.Bool
}

func (l *hoverLayer) WantMouse() bool    { return l.hovered.Load() }
func (l *hoverLayer) WantKeyboard() bool { return false }

type fakeInput struct {
	hwnd        uintptr
	uninstalled atomic.Int32
}

func (f *fakeInput) Uninstall(context.Context) error { f.uninstalled.Add(1); return nil }
func (f *fakeInput) RefreshCursor()                  {}

// host is a simulated process with one swap chain whose Present and
// ResizeBuffers the fake backend hooks.
type host struct {
	t     *testing.T
	mem   *hooktest.Memory
	funcs *hooktest.Funcs
	reg   *hook.Registry

	presentOrig, resizeOrig uintptr
	presents, resizeCalls   atomic.Int32

	engine   *countingEngine
	name     string
	released atomic.Int32
	unbound  atomic.Int32
	// badSecond makes the resize spec point at a nil object.
	badSecond bool

	inputs chan *fakeInput
	hooks  chan *input.Hook
}

var hostSeq atomic.Int32

func newHost(t *testing.T) *host {
	t.Helper()
	h := &host{
		t:      t,
		mem:    hooktest.NewMemory(),
		funcs:  hooktest.NewFuncs(),
		engine: &countingEngine{},
		name:   fmt.Sprintf("session-test-%d", hostSeq.Add(1)),
		inputs: make(chan *fakeInput, 1),
		hooks:  make(chan *input.Hook, 1),
	}
	h.presentOrig = h.funcs.Register(func(...uintptr) uintptr { h.presents.Add(1); return 0 })
	h.resizeOrig = h.funcs.Register(func(...uintptr) uintptr { h.resizeCalls.Add(1); return 0 })
	noop := h.funcs.Register(func(...uintptr) uintptr { return 0 })
	vtbl := make([]uintptr, 14)
	for i := range vtbl {
		vtbl[i] = noop
	}
	vtbl[slotPresent] = h.presentOrig
	vtbl[slotResize] = h.resizeOrig
	h.mem.NewObject(swapChain, swapChainVtbl, vtbl...)
	h.reg = hook.NewRegistry(h.mem, h.funcs.Invoke)

	render.Register(render.Descriptor{Name: h.name, Module: h.name + ".dll", New: func() render.Engine { return h.engine }})
	RegisterBackend(Backend{Name: h.name, Resolve: h.resolve})
	t.Cleanup(func() {
		render.Unregister(h.name)
		UnregisterBackend(h.name)
	})
	return h
}

func (h *host) resolve(env Env) (*Resolution, error) {
	var presentSite, resizeSite atomic.Pointer[hook.Site]
	presentDetour := h.funcs.Register(func(args ...uintptr) uintptr {
		site := presentSite.Load()
		site.Enter()
		defer site.Exit()
		return env.Machine.Present(render.Target{SwapChain: args[0]}, func() uintptr { return site.Call(args...) })
	})
	resizeDetour := h.funcs.Register(func(args ...uintptr) uintptr {
		site := resizeSite.Load()
		site.Enter()
		defer site.Exit()
		size := render.Size{Width: uint32(args[2]), Height: uint32(args[3])}
		return env.Machine.Resize(size, func() uintptr { return site.Call(args...) })
	})
	resizeObj := uintptr(swapChain)
	if h.badSecond {
		resizeObj = 0
	}
	return &Resolution{
		Specs: []HookSpec{
			{Name: "Present", Patch: hook.VTableSlot{Object: swapChain, Index: slotPresent}, Replacement: presentDetour, Bind: presentSite.Store},
			{Name: "ResizeBuffers", Patch: hook.VTableSlot{Object: resizeObj, Index: slotResize}, Replacement: resizeDetour, Bind: resizeSite.Store},
		},
		Release: func() { h.released.Add(1) },
		Unbind:  func() { h.unbound.Add(1) },
	}, nil
}

func (h *host) coordinator(pool *workerpool.Pool) *Coordinator {
	cfg := config.Default()
	cfg.Backend = h.name
	cfg.UnhookGraceMs = 1
	cfg.UnhookTimeoutMs = 2000
	return New(Options{
		Config:   cfg,
		Registry: h.reg,
		Pool:     pool,
		Layer:    func(*Coordinator) ui.Layer { return boxLayer{} },
		Input: func(_ *hook.Registry, hwnd uintptr, ih *input.Hook) (InputSite, error) {
			in := &fakeInput{hwnd: hwnd}
			h.hooks <- ih
			h.inputs <- in
			return in, nil
		},
	})
}

func (h *host) present() { h.funcs.CallSlot(h.mem, swapChain, slotPresent) }

func (h *host) resize(w, hgt uintptr) {
	h.funcs.CallSlot(h.mem, swapChain, slotResize, 2, w, hgt, 0, 0)
}

func newPool(t *testing.T) *workerpool.Pool {
	p := workerpool.New(1, 8)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.Shutdown(ctx)
	})
	return p
}

func waitInput(t *testing.T, h *host) *fakeInput {
	t.Helper()
	select {
	case in := <-h.inputs:
		return in
	case <-time.After(5 * time.Second):
		t.Fatal("input hook never installed")
		return nil
	}
}

func TestAttachPresentDetach(t *testing.T) {
	h := newHost(t)
	c := h.coordinator(newPool(t))

	if err := c.Attach(context.Background()); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if c.State() != StateActive || c.Backend() != h.name {
		t.Fatalf("state = %v backend = %q", c.State(), c.Backend())
	}
	if h.released.Load() != 1 {
		t.Fatal("resolution not released after install")
	}
	if h.mem.Slot(swapChain, slotPresent) == h.presentOrig {
		t.Fatal("Present slot not patched")
	}

	h.present()
	h.present()
	if renders, _, _ := h.engine.counts(); renders != 2 || h.presents.Load() != 2 {
		t.Fatalf("renders = %d presents = %d", renders, h.presents.Load())
	}
	in := waitInput(t, h)
	if in.hwnd != hostWindow {
		t.Fatalf("input installed on %#x", in.hwnd)
	}

	h.resize(800, 600)
	if _, resizes, _ := h.engine.counts(); resizes != 1 || h.resizeCalls.Load() != 1 {
		t.Fatalf("resizes = %d host resizes = %d", resizes, h.resizeCalls.Load())
	}

	st := c.Status()
	if st.State != "active" || st.Present == nil || st.Present.Frames != 2 || len(st.Sites) != 2 {
		t.Fatalf("status = %+v", st)
	}

	if err := c.Detach(context.Background()); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if c.State() != StateUninstalled {
		t.Fatalf("state = %v", c.State())
	}
	if h.mem.Slot(swapChain, slotPresent) != h.presentOrig || h.mem.Slot(swapChain, slotResize) != h.resizeOrig {
		t.Fatal("slots not restored")
	}
	if _, _, shutdowns := h.engine.counts(); shutdowns != 1 {
		t.Fatalf("shutdowns = %d", shutdowns)
	}
	if in.uninstalled.Load() != 1 || h.unbound.Load() != 1 {
		t.Fatal("input or detours left bound")
	}
	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed")
	}
	if err := c.Detach(context.Background()); err != nil {
		t.Fatalf("second Detach: %v", err)
	}

	h.present()
	if renders, _, _ := h.engine.counts(); renders != 2 || h.presents.Load() != 3 {
		t.Fatal("host present not forwarded untouched after detach")
	}
}

func TestAttachRollsBackOnInstallError(t *testing.T) {
	h := newHost(t)
	h.badSecond = true
	c := h.coordinator(nil)

	err := c.Attach(context.Background())
	if !errors.Is(err, hook.ErrPatternNotFound) {
		t.Fatalf("err = %v, want ErrPatternNotFound", err)
	}
	if c.State() != StateUninstalled {
		t.Fatalf("state = %v", c.State())
	}
	if h.mem.Slot(swapChain, slotPresent) != h.presentOrig || len(h.reg.Sites()) != 0 {
		t.Fatal("installed site not rolled back")
	}
	if h.released.Load() != 1 || h.unbound.Load() != 1 {
		t.Fatalf("released = %d unbound = %d", h.released.Load(), h.unbound.Load())
	}
	if err := c.Attach(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("re-attach: %v", err)
	}
}

func TestUnknownBackend(t *testing.T) {
	h := newHost(t)
	c := h.coordinator(nil)
	c.opts.Config.Backend = "no-such-backend"
	if err := c.Attach(context.Background()); !errors.Is(err, render.ErrBackendNotAvailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestAutoDetectUsesLoadedModules(t *testing.T) {
	h := newHost(t)
	c := h.coordinator(nil)
	c.opts.Config.Backend = config.BackendAuto
	c.opts.Loaded = func(module string) bool { return module == h.name+".dll" }
	if err := c.Attach(context.Background()); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if c.Backend() != h.name {
		t.Fatalf("backend = %q", c.Backend())
	}
	if err := c.Detach(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestFatalDetachesOffThread(t *testing.T) {
	h := newHost(t)
	h.engine.renderErr = fmt.Errorf("verify: %w", render.ErrStateRestore)
	c := h.coordinator(newPool(t))
	if err := c.Attach(context.Background()); err != nil {
		t.Fatal(err)
	}

	h.present()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("fatal error did not detach; state = %v", c.State())
	}
	if h.presents.Load() != 1 {
		t.Fatal("host frame lost")
	}
	if h.mem.Slot(swapChain, slotPresent) != h.presentOrig {
		t.Fatal("slot not restored after fatal detach")
	}
	if st := c.Status(); st.LastError == "" || st.State != "uninstalled" {
		t.Fatalf("status = %+v", st)
	}
}

func TestRequestDetachFollowsReloadedTimeout(t *testing.T) {
	h := newHost(t)
	c := h.coordinator(newPool(t))
	if err := c.Attach(context.Background()); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			cfg := config.Default()
			cfg.Backend = h.name
			cfg.UnhookGraceMs = 1
			cfg.UnhookTimeoutMs = 3000 + i
			c.ApplyConfig(cfg)
		}
	}()
	for i := 0; i < 50; i++ {
		_ = c.timeout()
	}
	wg.Wait()
	if got := c.timeout(); got != 3049*time.Millisecond {
		t.Fatalf("timeout = %v after reload", got)
	}

	c.RequestDetach("test")
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("requested detach never finished; state = %v", c.State())
	}
	if h.mem.Slot(swapChain, slotPresent) != h.presentOrig {
		t.Fatal("slot not restored")
	}
}

func TestDetachWaitsForInFlightCalls(t *testing.T) {
	h := newHost(t)
	c := h.coordinator(nil)
	if err := c.Attach(context.Background()); err != nil {
		t.Fatal(err)
	}
	site := h.reg.Lookup("Present")
	site.Enter()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := c.Detach(ctx)
	if !errors.Is(err, hook.ErrInFlight) {
		t.Fatalf("err = %v, want ErrInFlight", err)
	}
	if c.State() != StateUnhooking {
		t.Fatalf("state = %v", c.State())
	}
	if _, _, shutdowns := h.engine.counts(); shutdowns != 0 {
		t.Fatal("engine shut down while a call was in flight")
	}
	if h.mem.Slot(swapChain, slotPresent) != h.presentOrig {
		t.Fatal("slot should already be reverted")
	}

	site.Exit()
	if err := c.Detach(context.Background()); err != nil {
		t.Fatalf("resumed Detach: %v", err)
	}
	if c.State() != StateUninstalled {
		t.Fatalf("state = %v", c.State())
	}
}

func TestChainedHookSurvivesDetach(t *testing.T) {
	h := newHost(t)
	c := h.coordinator(nil)
	if err := c.Attach(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Another overlay chains onto Present after us.
	ours := h.mem.Slot(swapChain, slotPresent)
	chained := h.funcs.Register(func(args ...uintptr) uintptr { return h.funcs.Invoke(ours, args...) })
	vtbl, _ := h.mem.ReadPointer(swapChain)
	_ = h.mem.WritePointer(vtbl+slotPresent*8, chained)

	if err := c.Detach(context.Background()); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if c.State() != StateUninstalled {
		t.Fatalf("state = %v", c.State())
	}
	if h.unbound.Load() != 0 {
		t.Fatal("detours unbound under a leaked site")
	}
	if site := h.reg.Lookup("Present"); site == nil || !site.Leaked() {
		t.Fatal("Present site should be kept as leaked")
	}
	if h.mem.Slot(swapChain, slotResize) != h.resizeOrig {
		t.Fatal("unchained slot not restored")
	}

	h.present()
	if renders, _, _ := h.engine.counts(); renders != 0 || h.presents.Load() != 1 {
		t.Fatalf("host present through chain: renders = %d presents = %d", renders, h.presents.Load())
	}

	next := h.coordinator(nil)
	if err := next.Attach(context.Background()); !errors.Is(err, hook.ErrAlreadyHooked) {
		t.Fatalf("attach over a leaked site = %v", err)
	}
	h.present()
	if h.presents.Load() != 2 {
		t.Fatal("failed attach broke the chained present")
	}
}

func TestLayerCaptureClaimsMouse(t *testing.T) {
	h := newHost(t)
	layer := &hoverLayer{}
	c := h.coordinator(newPool(t))
	c.opts.Layer = func(*Coordinator) ui.Layer { return layer }
	if err := c.Attach(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Detach(context.Background())

	h.present()
	waitInput(t, h)
	ih := <-h.hooks

	move := uintptr(10 | 10<<16)
	if ih.Handle(input.WMMouseMove, 0, move) {
		t.Fatal("mouse claimed while nothing is hovered")
	}
	layer.hovered.Store(true)
	if !ih.Handle(input.WMMouseMove, 0, move) {
		t.Fatal("mouse over the layer not claimed")
	}
	if ih.Handle(input.WMKeyDown, 'A', 0) {
		t.Fatal("keyboard claimed without focus")
	}
	if ih.Handle(input.WMKeyDown, input.VKInsert, 0); !c.Focused() {
		t.Fatal("toggle key no longer reaches the toggle")
	}
}
