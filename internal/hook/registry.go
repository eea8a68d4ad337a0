package hook

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/breeze-rmm/hudhook/internal/logging"
)

var log = logging.L("hook")

const (
	// DefaultGrace is how long Uninstall waits after the barrier clears before
	// releasing the trampoline. It covers a thread that has jumped to the
	// replacement but not yet reached Enter.
	DefaultGrace = 34 * time.Millisecond

	barrierPoll = time.Millisecond
)

// Registry is the process-wide table of installed sites. Install, Enable,
// Disable and Uninstall serialize on one lock; Site.Call never takes it.
type Registry struct {
	mem    Memory
	invoke Invoker

	mu    sync.Mutex
	sites map[string]*Site
	grace time.Duration
}

// NewRegistry returns an empty registry patching mem and reaching originals
// through invoke.
func NewRegistry(mem Memory, invoke Invoker) *Registry {
	return &Registry{
		mem:    mem,
		invoke: invoke,
		sites:  make(map[string]*Site),
		grace:  DefaultGrace,
	}
}

// SetGrace changes the post-barrier grace period.
func (r *Registry) SetGrace(d time.Duration) {
	if d < 0 {
		d = 0
	}
	r.mu.Lock()
	r.grace = d
	r.mu.Unlock()
}

// Install validates the target, builds any trampoline and registers the site
// in state Installed. The patch is not applied until Site.Enable.
//
// A second Install for the same target returns the existing site together
// with ErrAlreadyHooked, so installation is idempotent for callers that
// accept that error.
func (r *Registry) Install(name string, p Patch, replacement uintptr) (*Site, error) {
	if replacement == 0 {
		return nil, &Error{Site: name, Op: "install", Err: errors.New("nil replacement")}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ps, err := p.prepare(r.mem, replacement)
	if err != nil {
		if errors.Is(err, ErrAlreadyHooked) {
			for _, s := range r.sites {
				if s.replacement == replacement && s.patch.Describe() == p.Describe() {
					return s, &Error{Site: name, Op: "install", Err: err}
				}
			}
		}
		return nil, &Error{Site: name, Op: "install", Err: err}
	}
	if existing, ok := r.sites[ps.key]; ok {
		if rerr := ps.release(); rerr != nil {
			log.Warn("release duplicate trampoline failed", "site", name, "error", rerr)
		}
		return existing, &Error{Site: name, Op: "install", Err: fmt.Errorf("%w by site %s", ErrAlreadyHooked, existing.name)}
	}

	s := &Site{
		name:        name,
		patch:       p,
		replacement: replacement,
		reg:         r,
		ps:          ps,
		call:        ps.call,
	}
	if s.call == nil {
		s.call = r.invoke
	}
	s.original.Store(ps.original)
	s.state.Store(int32(StateInstalled))
	r.sites[ps.key] = s

	log.Info("hook installed", "site", name, "target", p.Describe(), "original", fmt.Sprintf("%#x", ps.original))
	return s, nil
}

// Uninstall restores the original control flow, waits until no call is
// inside the replacement, waits the grace period, then releases the
// trampoline. It must not be called from inside a replacement of s.
//
// A site that another hook has chained onto is leaked rather than
// uninstalled: it stays registered in StateLeaked, still reaching the
// original, and Uninstall returns nil.
//
// If ctx ends first the site is left disabled with its trampoline intact and
// the error wraps ErrInFlight; calling Uninstall again resumes the wait.
func (r *Registry) Uninstall(ctx context.Context, s *Site) error {
	r.mu.Lock()
	if s.State() == StateUninstalled {
		r.mu.Unlock()
		return nil
	}
	if err := s.disableLocked(); err != nil {
		r.mu.Unlock()
		return err
	}
	if s.Leaked() {
		r.mu.Unlock()
		return nil
	}
	grace := r.grace
	r.mu.Unlock()

	start := time.Now()
	if err := waitQuiet(ctx, s); err != nil {
		return &Error{Site: s.name, Op: "uninstall", Err: err}
	}
	if grace > 0 {
		t := time.NewTimer(grace)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return &Error{Site: s.name, Op: "uninstall", Err: fmt.Errorf("%w: %v", ErrInFlight, ctx.Err())}
		}
	}
	// A call may have entered during the grace period through a stale
	// pointer; wait for it too.
	if err := waitQuiet(ctx, s); err != nil {
		return &Error{Site: s.name, Op: "uninstall", Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s.State() == StateUninstalled {
		return nil
	}
	if err := s.ps.release(); err != nil {
		return &Error{Site: s.name, Op: "release", Err: err}
	}
	s.original.Store(0)
	s.state.Store(int32(StateUninstalled))
	delete(r.sites, s.ps.key)

	log.Info("hook uninstalled", "site", s.name, logging.KeyDurationMs, time.Since(start).Milliseconds())
	return nil
}

func waitQuiet(ctx context.Context, s *Site) error {
	if s.InFlight() <= 0 {
		return nil
	}
	ticker := time.NewTicker(barrierPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %d call(s): %v", ErrInFlight, s.InFlight(), ctx.Err())
		case <-ticker.C:
			if s.InFlight() <= 0 {
				return nil
			}
		}
	}
}

// UninstallAll uninstalls every site in name order and joins the errors.
func (r *Registry) UninstallAll(ctx context.Context) error {
	var errs []error
	for _, s := range r.snapshot() {
		if err := r.Uninstall(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Leaked returns the names of the sites left chained under another hook.
func (r *Registry) Leaked() []string {
	var out []string
	for _, s := range r.snapshot() {
		if s.Leaked() {
			out = append(out, s.name)
		}
	}
	return out
}

// Lookup returns the site registered under name, or nil.
func (r *Registry) Lookup(name string) *Site {
	for _, s := range r.snapshot() {
		if s.name == name {
			return s
		}
	}
	return nil
}

// Info is a point-in-time description of a site.
type Info struct {
	Name     string `json:"name"`
	Target   string `json:"target"`
	State    string `json:"state"`
	InFlight int64  `json:"inFlight"`
	Calls    uint64 `json:"calls"`
}

// Sites describes all registered sites, sorted by name.
func (r *Registry) Sites() []Info {
	sites := r.snapshot()
	out := make([]Info, 0, len(sites))
	for _, s := range sites {
		out = append(out, Info{
			Name:     s.name,
			Target:   s.patch.Describe(),
			State:    s.State().String(),
			InFlight: s.InFlight(),
			Calls:    s.Calls(),
		})
	}
	return out
}

func (r *Registry) snapshot() []*Site {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Site, 0, len(r.sites))
	for _, s := range r.sites {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}
