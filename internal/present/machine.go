// Package present drives a render engine from inside the host's presentation
// and resize calls. The engine is created lazily: the device is only known
// once the host presents its first frame through the detour.
package present

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/hudhook/internal/input"
	"github.com/breeze-rmm/hudhook/internal/logging"
	"github.com/breeze-rmm/hudhook/internal/render"
	"github.com/breeze-rmm/hudhook/internal/ui"
)

var log = logging.L("present")

// State of the presentation hook.
type State int32

const (
	StateUnhooked State = iota
	StateHooked
	StateEngineReady
	StateRendering
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateHooked:
		return "hooked"
	case StateEngineReady:
		return "engine-ready"
	case StateRendering:
		return "rendering"
	case StateTornDown:
		return "torn-down"
	default:
		return "unhooked"
	}
}

// ErrPanic wraps a panic recovered from the layer or the engine.
var ErrPanic = errors.New("present: overlay code panicked")

// Options configures a Machine.
type Options struct {
	Engine render.Engine
	Layer  ui.Layer
	Input  *input.State

	// OnWindow is called once with the host window, from the render thread,
	// the first time the engine reports it.
	OnWindow func(hwnd uintptr)
	// OnFatal is called once when a frame left host state corrupted. It
	// runs on the render thread and must not block.
	OnFatal func(error)
	// BeforeFrame runs before the layer is asked for a frame.
	BeforeFrame func()

	// Log every Nth consecutive init failure; failures are retried on every
	// frame regardless.
	InitFailureLogEvery int

	Now func() time.Time
}

// Machine is the presentation hook state machine. Present and Resize are
// called from detours; Arm and Teardown from the coordinator.
type Machine struct {
	opts Options

	state  atomic.Int32
	halted atomic.Bool
	fatal  sync.Once

	// guarded by mu
	mu           sync.Mutex
	atlas        *render.Atlas
	initialized  bool
	size         render.Size
	window       uintptr
	last         time.Time
	initFailures int

	published      atomic.Uint64 // size as width<<32 | height
	frames         atomic.Uint64
	renderFailures atomic.Uint64
	initAttempts   atomic.Uint64
	lastErr        atomic.Value // string
}

func New(opts Options) *Machine {
	if opts.Layer == nil {
		opts.Layer = ui.Empty{}
	}
	if opts.Input == nil {
		opts.Input = input.NewState()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.InitFailureLogEvery <= 0 {
		opts.InitFailureLogEvery = 120
	}
	m := &Machine{opts: opts}
	m.lastErr.Store("")
	return m
}

func (m *Machine) State() State { return State(m.state.Load()) }

func (m *Machine) Backend() string { return m.opts.Engine.Backend() }

// Engine returns the engine the machine drives. Detours that feed the engine
// host state outside Present, like the D3D12 queue capture, use it.
func (m *Machine) Engine() render.Engine { return m.opts.Engine }

// Halted reports whether a fatal render error stopped the overlay.
func (m *Machine) Halted() bool { return m.halted.Load() }

// Arm moves Unhooked to Hooked once the detours are live.
func (m *Machine) Arm() bool {
	return m.state.CompareAndSwap(int32(StateUnhooked), int32(StateHooked))
}

// Present runs one overlay frame and then calls original, whose result it
// returns. original is always called exactly once. A call that arrives while
// another frame is in progress, including a recursive one from inside the
// host's own present, passes straight through.
func (m *Machine) Present(t render.Target, original func() uintptr) uintptr {
	if m.halted.Load() {
		return original()
	}
	switch m.State() {
	case StateHooked, StateEngineReady:
	default:
		return original()
	}
	if !m.mu.TryLock() {
		return original()
	}
	m.guardedFrame(t)
	return original()
}

// guardedFrame runs one frame under m.mu. A panic from the layer or the
// engine halts the overlay: the engine may have been stopped between
// capturing and restoring host state.
func (m *Machine) guardedFrame(t render.Target) {
	defer m.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			m.state.CompareAndSwap(int32(StateRendering), int32(StateEngineReady))
			m.renderFailures.Add(1)
			log.Error("overlay frame panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			m.halt(fmt.Errorf("%w: frame panicked: %v", ErrPanic, r))
		}
	}()
	m.frame(t)
}

func (m *Machine) frame(t render.Target) {
	if m.State() == StateHooked && !m.initialize(t) {
		return
	}
	if m.State() != StateEngineReady || m.halted.Load() {
		return
	}
	eng := m.opts.Engine

	surf, err := eng.Surface(t)
	if errors.Is(err, render.ErrForeignTarget) {
		if surf, err = m.rebind(t); err != nil {
			return
		}
	}
	if err != nil {
		m.failed("surface", err)
		return
	}
	if surf.Window != 0 && m.window == 0 {
		m.window = surf.Window
		if m.opts.OnWindow != nil {
			m.opts.OnWindow(surf.Window)
		}
	}
	if surf.Size.Empty() {
		return
	}
	if surf.Size != m.size {
		if !m.size.Empty() {
			log.Info("frame size changed", "from", m.size.String(), "to", surf.Size.String())
			eng.OnResize(surf.Size)
		}
		m.size = surf.Size
		m.published.Store(uint64(m.size.Width)<<32 | uint64(m.size.Height))
	}

	now := m.opts.Now()
	var delta time.Duration
	if !m.last.IsZero() {
		delta = now.Sub(m.last)
	}
	m.last = now

	if m.opts.BeforeFrame != nil {
		m.opts.BeforeFrame()
	}
	index := m.frames.Add(1)
	dd := m.opts.Layer.Frame(&ui.Frame{
		Size:    m.size,
		Input:   m.opts.Input.Snapshot(),
		Delta:   delta,
		Backend: eng.Backend(),
		Index:   index,
	})
	if dd.Empty() {
		return
	}

	m.state.Store(int32(StateRendering))
	err = eng.Render(&render.FrameContext{Target: t, Size: m.size, Draw: dd, Delta: delta, Index: index})
	m.state.CompareAndSwap(int32(StateRendering), int32(StateEngineReady))
	if err == nil {
		return
	}
	if render.Fatal(err) {
		m.halt(err)
		return
	}
	m.failed("render", err)
}

func (m *Machine) initialize(t render.Target) bool {
	if m.atlas == nil {
		m.atlas = m.opts.Layer.Atlas()
		if m.atlas == nil {
			m.atlas = render.WhiteAtlas()
		}
	}
	m.initAttempts.Add(1)
	if err := m.opts.Engine.Initialize(t, m.atlas); err != nil {
		m.initFailures++
		m.lastErr.Store(err.Error())
		if m.initFailures == 1 || m.initFailures%m.opts.InitFailureLogEvery == 0 {
			log.Warn("engine init failed, passing frame through",
				logging.KeyBackend, m.Backend(), "attempt", m.initFailures, logging.KeyError, err)
		}
		return false
	}
	m.initialized = true
	m.state.CompareAndSwap(int32(StateHooked), int32(StateEngineReady))
	log.Info("engine ready", logging.KeyBackend, m.Backend(), "attempts", m.initFailures+1)
	m.initFailures = 0
	return true
}

// rebind moves the engine onto a target that replaced the bound one, such as
// a swap chain the host recreated.
func (m *Machine) rebind(t render.Target) (render.Surface, error) {
	log.Info("host presented on a new target, rebinding", logging.KeyBackend, m.Backend())
	m.state.CompareAndSwap(int32(StateEngineReady), int32(StateHooked))
	m.size = render.Size{}
	if !m.initialize(t) {
		return render.Surface{}, render.ErrNotReady
	}
	return m.opts.Engine.Surface(t)
}

func (m *Machine) failed(step string, err error) {
	n := m.renderFailures.Add(1)
	m.lastErr.Store(err.Error())
	if n == 1 || n%uint64(m.opts.InitFailureLogEvery) == 0 {
		log.Warn("overlay frame skipped", "step", step, logging.KeyFrame, m.frames.Load(), "failures", n, logging.KeyError, err)
	}
}

func (m *Machine) halt(err error) {
	m.halted.Store(true)
	m.lastErr.Store(err.Error())
	m.fatal.Do(func() {
		log.Error("host state corrupted, overlay disabled", logging.KeyBackend, m.Backend(), logging.KeyError, err)
		if m.opts.OnFatal != nil {
			m.opts.OnFatal(err)
		}
	})
}

// Resize releases back-buffer-bound resources and then calls original. It
// blocks until an in-progress frame finishes: the host's resize fails while
// the overlay still references its buffers.
func (m *Machine) Resize(size render.Size, original func() uintptr) uintptr {
	m.releaseForResize(size)
	return original()
}

func (m *Machine) releaseForResize(size render.Size) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			log.Error("resize panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			m.halt(fmt.Errorf("%w: resize panicked: %v", ErrPanic, r))
		}
	}()
	if m.initialized && m.State() != StateTornDown {
		log.Debug("resize", "size", size.String())
		m.opts.Engine.OnResize(size)
		// The next present reads the real size; zero means "fit the window".
		m.size = render.Size{}
	}
}

// Teardown shuts the engine down. The coordinator calls it only after the
// presentation sites are quiescent.
func (m *Machine) Teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if State(m.state.Swap(int32(StateTornDown))) == StateTornDown {
		return
	}
	m.opts.Engine.Shutdown()
	m.initialized = false
	log.Info("presentation torn down", logging.KeyBackend, m.Backend(), "frames", m.frames.Load())
}

// Stats is a snapshot for status reporting.
type Stats struct {
	Backend        string      `json:"backend"`
	State          string      `json:"state"`
	Halted         bool        `json:"halted"`
	Frames         uint64      `json:"frames"`
	InitAttempts   uint64      `json:"initAttempts"`
	RenderFailures uint64      `json:"renderFailures"`
	Size           render.Size `json:"size"`
	LastError      string      `json:"lastError,omitempty"`
}

// Stats never blocks on the render thread.
func (m *Machine) Stats() Stats {
	size := m.published.Load()
	return Stats{
		Backend:        m.Backend(),
		State:          m.State().String(),
		Halted:         m.halted.Load(),
		Frames:         m.frames.Load(),
		InitAttempts:   m.initAttempts.Load(),
		RenderFailures: m.renderFailures.Load(),
		Size:           render.Size{Width: uint32(size >> 32), Height: uint32(size)},
		LastError:      m.lastErr.Load().(string),
	}
}
