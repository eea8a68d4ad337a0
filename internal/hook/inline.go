package hook

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

const (
	// jumpLength is the size of "jmp qword ptr [rip+0]" followed by the
	// absolute 64-bit target.
	jumpLength = 14
	// maxPrologue bounds how far the decoder looks for whole instructions
	// covering jumpLength bytes.
	maxPrologue = 32
)

var jumpOpcode = []byte{0xFF, 0x25, 0x00, 0x00, 0x00, 0x00}

func absJump(to uintptr) []byte {
	b := make([]byte, jumpLength)
	copy(b, jumpOpcode)
	binary.LittleEndian.PutUint64(b[6:], uint64(to))
	return b
}

// jumpTarget reports whether code starts with an absolute jump and where it goes.
func jumpTarget(code []byte) (uintptr, bool) {
	if len(code) < jumpLength || !bytes.HasPrefix(code, jumpOpcode) {
		return 0, false
	}
	return uintptr(binary.LittleEndian.Uint64(code[6:jumpLength])), true
}

// Inline redirects a plain exported function by overwriting its prologue
// with an absolute jump. The displaced instructions are copied into a
// trampoline followed by a jump back to the rest of the function.
type Inline struct {
	Func uintptr
}

func (p Inline) Describe() string {
	return fmt.Sprintf("prologue of %#x", p.Func)
}

func (p Inline) prepare(mem Memory, replacement uintptr) (*patchState, error) {
	if p.Func == 0 {
		return nil, fmt.Errorf("%w: nil function", ErrPatternNotFound)
	}
	code, err := mem.ReadBytes(p.Func, maxPrologue)
	if err != nil {
		return nil, fmt.Errorf("%w: read prologue: %v", ErrPatternNotFound, err)
	}
	if to, ok := jumpTarget(code); ok && to == replacement {
		return nil, ErrAlreadyHooked
	}

	n, err := stolenLength(code)
	if err != nil {
		return nil, err
	}
	stolen := append([]byte(nil), code[:n]...)

	tramp, err := mem.AllocExec(n + jumpLength)
	if err != nil {
		return nil, fmt.Errorf("allocate trampoline: %w", err)
	}
	body := append(append([]byte(nil), stolen...), absJump(p.Func+uintptr(n))...)
	if err := mem.WriteCode(tramp, body); err != nil {
		_ = mem.FreeExec(tramp)
		return nil, fmt.Errorf("write trampoline: %w", err)
	}

	detour := absJump(replacement)
	for len(detour) < n {
		detour = append(detour, 0x90) // nop
	}

	return &patchState{
		key:      fmt.Sprintf("inline:%#x", p.Func),
		target:   p.Func,
		original: tramp,
		apply: func() error {
			return mem.WriteCode(p.Func, detour)
		},
		revert: func() error {
			now, err := mem.ReadBytes(p.Func, len(detour))
			if err != nil {
				return err
			}
			if !bytes.Equal(now, detour) {
				return fmt.Errorf("%w: prologue of %#x rewritten", ErrChained, p.Func)
			}
			return mem.WriteCode(p.Func, stolen)
		},
		release: func() error {
			return mem.FreeExec(tramp)
		},
	}, nil
}

// stolenLength returns how many prologue bytes, in whole instructions, must be
// moved to make room for the jump. Instructions whose meaning depends on
// their address cannot be moved and make the target unhookable.
func stolenLength(code []byte) (int, error) {
	n := 0
	for n < jumpLength {
		// An existing absolute jump (another overlay's detour) carries its
		// target inline and moves as a unit.
		if _, ok := jumpTarget(code[n:]); ok {
			n += jumpLength
			continue
		}
		if n >= len(code) {
			return 0, fmt.Errorf("%w: prologue truncated after %d bytes", ErrPatternNotFound, n)
		}
		if code[n] == 0xCC {
			return 0, fmt.Errorf("%w: function shorter than %d bytes", ErrPatternNotFound, jumpLength)
		}
		inst, err := x86asm.Decode(code[n:], 64)
		if err != nil {
			return 0, fmt.Errorf("%w: decode at +%d: %v", ErrPatternNotFound, n, err)
		}
		if err := relocatable(inst); err != nil {
			return 0, fmt.Errorf("%w: %s at +%d: %v", ErrPatternNotFound, inst.Op, n, err)
		}
		n += inst.Len
	}
	return n, nil
}

func relocatable(inst x86asm.Inst) error {
	switch inst.Op {
	case x86asm.RET, x86asm.LRET, x86asm.JMP, x86asm.INT:
		return fmt.Errorf("control flow leaves the prologue")
	}
	for _, arg := range inst.Args {
		switch a := arg.(type) {
		case x86asm.Rel:
			return fmt.Errorf("relative branch")
		case x86asm.Mem:
			if a.Base == x86asm.RIP {
				return fmt.Errorf("rip-relative operand")
			}
		}
	}
	return nil
}
