package hook

// Memory is the view of process memory the hook primitive borrows. Every
// address handed to it belongs to the host; the primitive only ever rewrites
// a single vtable entry or a function prologue and restores exactly the bytes
// it replaced.
type Memory interface {
	// ReadPointer reads one pointer-sized value.
	ReadPointer(addr uintptr) (uintptr, error)
	// WritePointer replaces one pointer-sized value, lifting page protection
	// for the duration of the write.
	WritePointer(addr, value uintptr) error
	// ReadBytes reads up to n bytes. It may return fewer when the range
	// crosses into unreadable memory, but never zero without an error.
	ReadBytes(addr uintptr, n int) ([]byte, error)
	// WriteCode overwrites executable bytes and flushes the instruction cache.
	WriteCode(addr uintptr, code []byte) error
	// AllocExec allocates executable memory for a trampoline.
	AllocExec(size int) (uintptr, error)
	// FreeExec releases memory from AllocExec.
	FreeExec(addr uintptr) error
}

// Invoker calls the native function at fn with args and returns its result.
type Invoker func(fn uintptr, args ...uintptr) uintptr
