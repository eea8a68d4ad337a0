package hook

import (
	"errors"
	"sync/atomic"
)

// State is the lifecycle of a Site.
type State int32

const (
	StateUninstalled State = iota
	StateInstalled
	StateEnabled
	StateDisabled
	// StateLeaked is a site that could not be reverted because another hook
	// chained onto it. It keeps its original and trampoline for good and its
	// replacement must keep forwarding.
	StateLeaked
)

func (s State) String() string {
	switch s {
	case StateInstalled:
		return "installed"
	case StateEnabled:
		return "enabled"
	case StateDisabled:
		return "disabled"
	case StateLeaked:
		return "leaked"
	default:
		return "uninstalled"
	}
}

// Site is one installed interception point.
//
// Every replacement function must bracket its body with Enter and Exit,
// including the path that only forwards to the original. The in-flight count
// is the quiescence barrier Uninstall waits on.
type Site struct {
	name        string
	patch       Patch
	replacement uintptr
	reg         *Registry

	original atomic.Uintptr
	state    atomic.Int32
	inflight atomic.Int64
	calls    atomic.Uint64

	// set once by Install, before the site is published
	ps   *patchState
	call Invoker
}

func (s *Site) Name() string         { return s.name }
func (s *Site) Patch() Patch         { return s.patch }
func (s *Site) State() State         { return State(s.state.Load()) }
func (s *Site) Replacement() uintptr { return s.replacement }

// Original returns the address that reaches the original behavior: the old
// vtable entry, the trampoline, or the previous window procedure.
func (s *Site) Original() uintptr { return s.original.Load() }

// Active reports whether the patch is currently applied. Replacements should
// pass straight through when it is not.
func (s *Site) Active() bool { return s.State() == StateEnabled }

// Leaked reports whether the site was left in place under another hook.
// Whatever the replacement looks up to find the site must stay bound.
func (s *Site) Leaked() bool { return s.State() == StateLeaked }

// Enter marks a call as inside the replacement.
func (s *Site) Enter() {
	s.inflight.Add(1)
	s.calls.Add(1)
}

// Exit marks a call as having left the replacement.
func (s *Site) Exit() { s.inflight.Add(-1) }

// InFlight returns the number of calls currently inside the replacement.
func (s *Site) InFlight() int64 { return s.inflight.Load() }

// Calls returns the total number of calls that entered the replacement.
func (s *Site) Calls() uint64 { return s.calls.Load() }

// Call invokes the original with args. It takes no locks and may be called
// recursively from inside the replacement. It returns 0 once the site has
// been fully uninstalled; a leaked site never is.
func (s *Site) Call(args ...uintptr) uintptr {
	fn := s.original.Load()
	if fn == 0 {
		return 0
	}
	return s.call(fn, args...)
}

// Enable applies the patch.
func (s *Site) Enable() error {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	switch s.State() {
	case StateEnabled:
		return nil
	case StateInstalled, StateDisabled:
	default:
		return &Error{Site: s.name, Op: "enable", Err: ErrInvalidState}
	}
	if err := s.ps.apply(); err != nil {
		return &Error{Site: s.name, Op: "enable", Err: err}
	}
	s.state.Store(int32(StateEnabled))
	log.Debug("hook enabled", "site", s.name, "target", s.patch.Describe())
	return nil
}

// Disable reverts the patch but keeps the trampoline, so calls already past
// the patch still reach the original.
func (s *Site) Disable() error {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()
	return s.disableLocked()
}

func (s *Site) disableLocked() error {
	switch s.State() {
	case StateDisabled, StateInstalled, StateLeaked:
		return nil
	case StateEnabled:
	default:
		return &Error{Site: s.name, Op: "disable", Err: ErrInvalidState}
	}
	if err := s.ps.revert(); err != nil {
		if errors.Is(err, ErrChained) {
			s.state.Store(int32(StateLeaked))
			log.Warn("hook chained over, leaving it as a pass-through", "site", s.name, "error", err)
			return nil
		}
		return &Error{Site: s.name, Op: "disable", Err: err}
	}
	s.state.Store(int32(StateDisabled))
	log.Debug("hook disabled", "site", s.name)
	return nil
}
