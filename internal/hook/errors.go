package hook

import (
	"errors"
	"fmt"
)

var (
	// ErrPatternNotFound means the target does not have the layout the patch
	// expects: an empty or unexpected vtable slot, or a prologue that cannot be
	// relocated into a trampoline.
	ErrPatternNotFound = errors.New("hook: target layout not recognized")
	// ErrAlreadyHooked means the target is already redirected, either by a
	// site in this registry or because it already points at the replacement.
	ErrAlreadyHooked = errors.New("hook: target already hooked")
	// ErrInvalidState is returned for a transition the site cannot make from
	// its current state.
	ErrInvalidState = errors.New("hook: invalid state transition")
	// ErrInFlight is returned when uninstall gives up waiting for calls to
	// leave the replacement. The site stays disabled and its trampoline is kept.
	ErrInFlight = errors.New("hook: calls still in flight")
	// ErrChained is returned by a revert that finds another hook installed on
	// top of ours. Restoring would cut that hook out, so the site is leaked
	// instead and keeps forwarding to the original.
	ErrChained = errors.New("hook: another hook is chained on top")
)

// Error records the site and operation that failed.
type Error struct {
	Site string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("hook %s: %s: %v", e.Site, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
