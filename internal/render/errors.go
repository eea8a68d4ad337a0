package render

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceIncompatible means the host device lacks a feature the backend
	// needs. Initialization is retried, but a device does not usually gain
	// features, so callers throttle the log.
	ErrDeviceIncompatible = errors.New("device incompatible")
	// ErrResourceAllocation means creating an overlay-private resource failed.
	ErrResourceAllocation = errors.New("resource allocation failed")
	// ErrNotReady means the host has not yet made every handle the backend
	// needs visible, such as the dx12 command queue.
	ErrNotReady = errors.New("host objects not yet observed")
	// ErrForeignTarget means the host presented through an object other than
	// the one the engine is bound to, such as a recreated swap chain. The
	// engine must be initialized again for the new one.
	ErrForeignTarget = fmt.Errorf("%w: presented target is not the bound one", ErrNotReady)
	// ErrStateRestore means host pipeline state differs after the overlay
	// restored it. It ends the overlay for the session.
	ErrStateRestore = errors.New("host state restore failed")
)

// InitError is returned by Engine.Initialize.
type InitError struct {
	Backend string
	Step    string
	Err     error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("%s init: %s: %v", e.Backend, e.Step, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// RenderError is returned by Engine.Render.
type RenderError struct {
	Backend string
	Step    string
	Err     error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("%s render: %s: %v", e.Backend, e.Step, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Fatal reports whether err should end the overlay for the session.
func Fatal(err error) bool { return errors.Is(err, ErrStateRestore) }
