// Package session owns the overlay's lifecycle inside the host: it picks a
// backend, installs its hooks, wires the presentation state machine and the
// input subclass together, and tears everything down in a safe order.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"strings"
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/hudhook/internal/config"
	"github.com/breeze-rmm/hudhook/internal/health"
	"github.com/breeze-rmm/hudhook/internal/hook"
	"github.com/breeze-rmm/hudhook/internal/input"
	"github.com/breeze-rmm/hudhook/internal/logging"
	"github.com/breeze-rmm/hudhook/internal/present"
	"github.com/breeze-rmm/hudhook/internal/render"
	"github.com/breeze-rmm/hudhook/internal/ui"
	"github.com/breeze-rmm/hudhook/internal/workerpool"
)

var log = logging.L("session")

// ErrInvalidState is returned for a lifecycle call the coordinator cannot
// make from its current state.
var ErrInvalidState = errors.New("session: invalid state transition")

// State of the coordinator.
type State int32

const (
	StateUninitialized State = iota
	StateInstalling
	StateActive
	StateUnhooking
	StateUninstalled
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateActive:
		return "active"
	case StateUnhooking:
		return "unhooking"
	case StateUninstalled:
		return "uninstalled"
	default:
		return "uninitialized"
	}
}

// InputSite is an installed window subclass.
type InputSite interface {
	Uninstall(ctx context.Context) error
	RefreshCursor()
}

// InputInstaller subclasses hwnd so its messages reach h.
type InputInstaller func(reg *hook.Registry, hwnd uintptr, h *input.Hook) (InputSite, error)

// LayerFactory builds the UI layer. It receives the coordinator so the
// layer can report on it.
type LayerFactory func(c *Coordinator) ui.Layer

// Options configures a Coordinator.
type Options struct {
	Config   *config.Config
	Registry *hook.Registry
	Pool     *workerpool.Pool
	Health   *health.Monitor
	Layer    LayerFactory
	Input    InputInstaller
	// Loaded reports whether a system module is loaded, for backend "auto".
	Loaded func(module string) bool
	// OnDetached runs once after a detach completes.
	OnDetached func()
}

type inputBinding struct{ site InputSite }

// Coordinator is the lifecycle coordinator. Attach and Detach must not be
// called from inside a hooked function; Fatal and the eject key hand the
// detach to the worker pool.
type Coordinator struct {
	opts  Options
	cfg   atomic.Pointer[config.Config]
	state atomic.Int32

	// serializes Attach and Detach
	lifecycle sync.Mutex

	backend string
	machine atomic.Pointer[present.Machine]
	res     *Resolution
	sites   []*hook.Site

	toggle *input.Toggle
	hook   *input.Hook

	// guards installing and removing the input subclass
	inputMu sync.Mutex
	input   atomic.Pointer[inputBinding]

	started   time.Time
	lastErr   atomic.Value // string
	done      chan struct{}
	doneOnce  sync.Once
	fatalOnce sync.Once
}

func New(opts Options) *Coordinator {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Health == nil {
		opts.Health = health.NewMonitor()
	}
	c := &Coordinator{opts: opts, done: make(chan struct{})}
	c.cfg.Store(opts.Config)
	c.toggle = input.ToggleKey(0)
	c.lastErr.Store("")
	return c
}

func (c *Coordinator) State() State { return State(c.state.Load()) }

// Backend returns the backend chosen by Attach.
func (c *Coordinator) Backend() string {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	return c.backend
}

// Done is closed when the coordinator reaches Uninstalled.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Focused reports whether the overlay currently claims input.
func (c *Coordinator) Focused() bool {
	return c.toggle.Active()
}

// Health returns the monitor the coordinator reports into.
func (c *Coordinator) Health() *health.Monitor { return c.opts.Health }

// Attach resolves the backend, installs and enables its hooks and arms the
// presentation machine. On any failure the sites already installed are
// removed and the coordinator ends Uninstalled.
func (c *Coordinator) Attach(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if !c.state.CompareAndSwap(int32(StateUninitialized), int32(StateInstalling)) {
		return fmt.Errorf("%w: attach while %s", ErrInvalidState, c.State())
	}
	cfg := c.cfg.Load()
	c.started = time.Now()

	if leaked := c.opts.Registry.Leaked(); len(leaked) > 0 {
		return c.rollback(ctx, fmt.Errorf("%w: %s still chained from a previous session", hook.ErrAlreadyHooked, strings.Join(leaked, ", ")))
	}

	name, err := c.pickBackend()
	if err != nil {
		return c.rollback(ctx, err)
	}
	c.backend = name
	be, ok := LookupBackend(name)
	eng := render.Get(name)
	if !ok || eng == nil {
		return c.rollback(ctx, fmt.Errorf("%w: %s", render.ErrBackendNotAvailable, name))
	}

	c.opts.Registry.SetGrace(time.Duration(cfg.UnhookGraceMs) * time.Millisecond)

	state := input.NewState()
	vk, _ := input.KeyByName(cfg.ToggleKey)
	c.toggle.SetKey(vk)

	var layer ui.Layer = ui.Empty{}
	if c.opts.Layer != nil {
		layer = c.opts.Layer(c)
	}

	var policy input.Policy = c.toggle
	if capt, ok := layer.(ui.Capturer); ok {
		policy = input.Any(c.toggle, input.LayerCapture(capt.WantMouse, capt.WantKeyboard))
	}
	c.hook = input.NewHook(state, policy)
	if eject, ok := input.KeyByName(cfg.EjectKey); ok && cfg.EjectKey != "" {
		c.hook.OnKey(eject, func() { c.RequestDetach("eject key") })
	}
	m := present.New(present.Options{
		Engine:              eng,
		Layer:               layer,
		Input:               state,
		OnWindow:            c.onWindow,
		OnFatal:             c.Fatal,
		BeforeFrame:         c.beforeFrame,
		InitFailureLogEvery: cfg.InitFailureLogEvery,
	})
	c.machine.Store(m)

	res, err := be.Resolve(Env{Machine: m, Config: cfg})
	if err != nil {
		return c.rollback(ctx, fmt.Errorf("resolve %s hooks: %w", name, err))
	}
	c.res = res

	for _, spec := range res.Specs {
		site, err := c.opts.Registry.Install(spec.Name, spec.Patch, spec.Replacement)
		if err != nil {
			return c.rollback(ctx, err)
		}
		c.sites = append(c.sites, site)
		if spec.Bind != nil {
			spec.Bind(site)
		}
	}
	for _, site := range c.sites {
		if err := site.Enable(); err != nil {
			return c.rollback(ctx, err)
		}
	}
	c.release()

	c.state.Store(int32(StateActive))
	m.Arm()
	c.opts.Health.Update("hooks", health.Healthy, fmt.Sprintf("%d sites", len(c.sites)))
	c.opts.Health.Register("engine", c.engineHealth)
	log.Info("overlay attached", logging.KeyBackend, name, "sites", len(c.sites))
	return nil
}

func (c *Coordinator) pickBackend() (string, error) {
	name := c.cfg.Load().Backend
	if name != "" && name != config.BackendAuto {
		return name, nil
	}
	loaded := c.opts.Loaded
	if loaded == nil {
		return "", fmt.Errorf("%w: no module probe for auto detection", render.ErrBackendNotAvailable)
	}
	return render.Detect(loaded)
}

func (c *Coordinator) release() {
	if c.res != nil && c.res.Release != nil {
		c.res.Release()
		c.res.Release = nil
	}
}

// rollback removes whatever Attach installed and reports cause.
func (c *Coordinator) rollback(ctx context.Context, cause error) error {
	errs := []error{cause}
	for i := len(c.sites) - 1; i >= 0; i-- {
		if err := c.opts.Registry.Uninstall(ctx, c.sites[i]); err != nil {
			errs = append(errs, err)
		}
	}
	c.release()
	if len(errs) == 1 && len(c.leaked()) == 0 && c.res != nil && c.res.Unbind != nil {
		c.res.Unbind()
	}
	c.sites = nil
	c.opts.Health.Update("hooks", health.Unhealthy, cause.Error())
	c.lastErr.Store(cause.Error())
	c.finish()
	log.Error("attach failed, rolled back", logging.KeyBackend, c.backend, logging.KeyError, cause)
	return errors.Join(errs...)
}

// leaked names this session's sites that could not be reverted.
func (c *Coordinator) leaked() []string {
	var out []string
	for _, s := range c.sites {
		if s.Leaked() {
			out = append(out, s.Name())
		}
	}
	return out
}

func (c *Coordinator) finish() {
	c.state.Store(int32(StateUninstalled))
	c.doneOnce.Do(func() {
		close(c.done)
		if c.opts.OnDetached != nil {
			c.opts.OnDetached()
		}
	})
}

// onWindow runs on the render thread the first time the engine sees the
// host window.
func (c *Coordinator) onWindow(hwnd uintptr) {
	if c.opts.Input == nil {
		return
	}
	c.submit("install input", func(context.Context) { c.installInput(hwnd) })
}

func (c *Coordinator) installInput(hwnd uintptr) {
	c.inputMu.Lock()
	defer c.inputMu.Unlock()
	if c.State() != StateActive || c.input.Load() != nil {
		return
	}
	site, err := c.opts.Input(c.opts.Registry, hwnd, c.hook)
	if err != nil {
		c.opts.Health.Update("input", health.Degraded, err.Error())
		log.Warn("input hook not installed", logging.KeyError, err)
		return
	}
	c.input.Store(&inputBinding{site: site})
	c.opts.Health.Update("input", health.Healthy, fmt.Sprintf("hwnd %#x", hwnd))
}

func (c *Coordinator) beforeFrame() {
	if b := c.input.Load(); b != nil {
		b.site.RefreshCursor()
	}
}

func (c *Coordinator) engineHealth() (health.Status, string) {
	m := c.machine.Load()
	if m == nil {
		return health.Unknown, ""
	}
	st := m.Stats()
	switch {
	case st.Halted:
		return health.Unhealthy, st.LastError
	case st.State == present.StateTornDown.String():
		return health.Unknown, "torn down"
	case st.Frames == 0:
		return health.Degraded, "no frames yet"
	case st.RenderFailures > 0 && st.LastError != "":
		return health.Degraded, st.LastError
	}
	return health.Healthy, fmt.Sprintf("%d frames", st.Frames)
}

// Fatal reports an error that left the host unsafe to keep drawing into and
// schedules a detach. It never blocks and may be called from a detour.
func (c *Coordinator) Fatal(err error) {
	c.fatalOnce.Do(func() {
		c.lastErr.Store(err.Error())
		c.opts.Health.Update("engine", health.Unhealthy, err.Error())
		log.Error("fatal overlay error, detaching", logging.KeyError, err)
		c.RequestDetach("fatal error")
	})
}

// RequestDetach schedules a detach bounded by the configured unhook timeout
// and returns at once.
func (c *Coordinator) RequestDetach(reason string) {
	c.submit("detach", func(ctx context.Context) {
		log.Info("detach requested", "reason", reason)
		tctx, cancel := context.WithTimeout(ctx, c.timeout())
		defer cancel()
		if err := c.Detach(tctx); err != nil {
			log.Error("detach failed", logging.KeyError, err)
		}
	})
}

func (c *Coordinator) timeout() time.Duration {
	return time.Duration(c.cfg.Load().UnhookTimeoutMs) * time.Millisecond
}

// submit runs fn on the pool, or on a fresh goroutine when there is no pool
// or it is full.
func (c *Coordinator) submit(name string, fn workerpool.Task) {
	if c.opts.Pool != nil && c.opts.Pool.Submit(name, fn) {
		return
	}
	go fn(context.Background())
}

// Detach disables every site, waits for in-flight calls to leave them,
// shuts the engine down and restores the window procedure. If the wait
// times out the coordinator stays Unhooking with the trampolines intact and
// Detach may be called again. Detach on an uninstalled coordinator is a
// no-op.
func (c *Coordinator) Detach(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	switch c.State() {
	case StateActive:
		c.state.Store(int32(StateUnhooking))
	case StateUnhooking:
		log.Info("resuming detach")
	case StateUninstalled:
		return nil
	default:
		return fmt.Errorf("%w: detach while %s", ErrInvalidState, c.State())
	}
	start := time.Now()

	// Disable everything first so no new call enters any site while the
	// barrier waits on the others.
	var errs []error
	for _, s := range c.sites {
		if s.State() == hook.StateEnabled {
			if err := s.Disable(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for _, s := range c.sites {
		if err := c.opts.Registry.Uninstall(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		c.lastErr.Store(err.Error())
		c.opts.Health.Update("hooks", health.Unhealthy, err.Error())
		return err
	}

	c.machine.Load().Teardown()

	c.inputMu.Lock()
	if b := c.input.Swap(nil); b != nil {
		if err := b.site.Uninstall(ctx); err != nil {
			// Put it back so a retry can finish the job.
			c.input.Store(b)
			c.inputMu.Unlock()
			return fmt.Errorf("restore window procedure: %w", err)
		}
	}
	c.inputMu.Unlock()

	// A leaked site's replacement still runs and must keep finding its
	// hooks, so nothing is unbound.
	if leaked := c.leaked(); len(leaked) > 0 {
		log.Warn("hooks left chained under another hook, keeping them as pass-throughs", "sites", strings.Join(leaked, ", "))
		c.opts.Health.Update("hooks", health.Degraded, "leaked: "+strings.Join(leaked, ", "))
	} else {
		if c.res != nil && c.res.Unbind != nil {
			c.res.Unbind()
		}
		c.opts.Health.Update("hooks", health.Healthy, "uninstalled")
	}
	c.sites = nil
	c.finish()
	log.Info("overlay detached", logging.KeyBackend, c.backend, logging.KeyDurationMs, time.Since(start).Milliseconds())
	return nil
}

// ApplyConfig applies the settings that can change while attached.
func (c *Coordinator) ApplyConfig(cfg *config.Config) {
	logging.SetLevel(cfg.LogLevel)
	c.opts.Registry.SetGrace(time.Duration(cfg.UnhookGraceMs) * time.Millisecond)
	c.cfg.Store(cfg)
	if vk, ok := input.KeyByName(cfg.ToggleKey); ok {
		c.toggle.SetKey(vk)
	}
	log.Info("config applied", "logLevel", cfg.LogLevel, "toggleKey", cfg.ToggleKey)
}

// Status is a point-in-time report for the HUD and the control channel.
type Status struct {
	State     string           `json:"state"`
	Backend   string           `json:"backend"`
	Uptime    string           `json:"uptime,omitempty"`
	Focused   bool             `json:"focused"`
	Present   *present.Stats   `json:"present,omitempty"`
	Sites     []hook.Info      `json:"sites"`
	Input     *InputStats      `json:"input,omitempty"`
	Health    map[string]any   `json:"health"`
	Checks    []health.Check   `json:"checks,omitempty"`
	Pool      workerpool.Stats `json:"pool"`
	LastError string           `json:"lastError,omitempty"`
}

type InputStats struct {
	Installed bool   `json:"installed"`
	Handled   uint64 `json:"handled"`
	Consumed  uint64 `json:"consumed"`
}

// Status never blocks on the render thread.
func (c *Coordinator) Status() Status {
	c.opts.Health.Refresh()
	st := Status{
		State:     c.State().String(),
		Focused:   c.Focused(),
		Sites:     c.opts.Registry.Sites(),
		Health:    c.opts.Health.Summary(),
		Checks:    c.opts.Health.All(),
		LastError: c.lastErr.Load().(string),
	}
	if c.opts.Pool != nil {
		st.Pool = c.opts.Pool.Stats()
	}
	if c.State() < StateActive {
		return st
	}
	if m := c.machine.Load(); m != nil {
		st.Backend = m.Backend()
		ps := m.Stats()
		st.Present = &ps
		st.Uptime = time.Since(c.started).Round(time.Second).String()
	}
	if c.hook != nil {
		handled, consumed := c.hook.Stats()
		st.Input = &InputStats{Installed: c.input.Load() != nil, Handled: handled, Consumed: consumed}
	}
	return st
}
