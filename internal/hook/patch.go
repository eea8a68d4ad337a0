package hook

import (
	"fmt"
	"unsafe"
)

const ptrSize = unsafe.Sizeof(uintptr(0))

// Patch describes one interception point.
type Patch interface {
	// Describe returns a short human-readable description of the target.
	Describe() string
	prepare(mem Memory, replacement uintptr) (*patchState, error)
}

// patchState is a validated, ready-to-apply patch. Apply and revert only
// touch the bytes recorded at prepare time.
type patchState struct {
	key      string
	target   uintptr
	original uintptr
	apply    func() error
	revert   func() error
	release  func() error
	// call overrides the registry invoker for reaching the original.
	call Invoker
}

// VTableSlot redirects one entry of a COM object's virtual table. Objects of
// the same class share a vtable, so patching the slot through any instance
// (a throwaway device, for example) intercepts calls on every instance.
type VTableSlot struct {
	Object uintptr // interface pointer; its first word is the vtable address
	Index  int
	// Expect, when non-zero, is the function the slot must currently hold.
	Expect uintptr
}

func (p VTableSlot) Describe() string {
	return fmt.Sprintf("vtable[%d] of %#x", p.Index, p.Object)
}

func (p VTableSlot) prepare(mem Memory, replacement uintptr) (*patchState, error) {
	if p.Object == 0 || p.Index < 0 {
		return nil, fmt.Errorf("%w: nil object or negative index", ErrPatternNotFound)
	}
	vtbl, err := mem.ReadPointer(p.Object)
	if err != nil {
		return nil, fmt.Errorf("%w: read vtable pointer: %v", ErrPatternNotFound, err)
	}
	if vtbl == 0 {
		return nil, fmt.Errorf("%w: object has no vtable", ErrPatternNotFound)
	}

	slot := vtbl + uintptr(p.Index)*ptrSize
	current, err := mem.ReadPointer(slot)
	if err != nil {
		return nil, fmt.Errorf("%w: read slot %d: %v", ErrPatternNotFound, p.Index, err)
	}
	switch {
	case current == replacement:
		return nil, ErrAlreadyHooked
	case current == 0:
		return nil, fmt.Errorf("%w: slot %d is empty", ErrPatternNotFound, p.Index)
	case p.Expect != 0 && current != p.Expect:
		return nil, fmt.Errorf("%w: slot %d holds %#x, expected %#x", ErrPatternNotFound, p.Index, current, p.Expect)
	}

	return &patchState{
		key:      fmt.Sprintf("slot:%#x", slot),
		target:   slot,
		original: current,
		apply: func() error {
			return mem.WritePointer(slot, replacement)
		},
		revert: func() error {
			now, err := mem.ReadPointer(slot)
			if err != nil {
				return err
			}
			if now != replacement {
				return fmt.Errorf("%w: slot %#x holds %#x", ErrChained, slot, now)
			}
			return mem.WritePointer(slot, current)
		},
		release: func() error { return nil },
	}, nil
}
