// Package hooktest provides a simulated address space and function table so
// the hook primitive and everything built on it can be exercised without a
// real process to patch.
package hooktest

import (
	"encoding/binary"
	"fmt"
	"sync"
	"unsafe"
)

const ptrSize = int(unsafe.Sizeof(uintptr(0)))

// Memory is a sparse byte-addressed memory. Bytes never written are
// unmapped and reading them fails, like touching an unmapped page.
type Memory struct {
	mu     sync.Mutex
	bytes  map[uintptr]byte
	next   uintptr
	allocs map[uintptr]int
	// CodeWrites counts WriteCode calls.
	CodeWrites int
	// FailAlloc makes AllocExec fail.
	FailAlloc bool
}

func NewMemory() *Memory {
	return &Memory{
		bytes:  make(map[uintptr]byte),
		next:   0x7ff0_0000_0000,
		allocs: make(map[uintptr]int),
	}
}

func (m *Memory) ReadPointer(addr uintptr) (uintptr, error) {
	b, err := m.ReadBytes(addr, ptrSize)
	if err != nil {
		return 0, err
	}
	if len(b) < ptrSize {
		return 0, fmt.Errorf("unmapped memory at %#x", addr+uintptr(len(b)))
	}
	return uintptr(binary.LittleEndian.Uint64(b)), nil
}

func (m *Memory) WritePointer(addr, value uintptr) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(value))
	m.Poke(addr, b[:ptrSize])
	return nil
}

func (m *Memory) ReadBytes(addr uintptr, n int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, 0, n)
	for i := 0; i < n; i++ {
		b, ok := m.bytes[addr+uintptr(i)]
		if !ok {
			break
		}
		out = append(out, b)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("unmapped memory at %#x", addr)
	}
	return out, nil
}

func (m *Memory) WriteCode(addr uintptr, code []byte) error {
	m.mu.Lock()
	m.CodeWrites++
	m.mu.Unlock()
	m.Poke(addr, code)
	return nil
}

func (m *Memory) AllocExec(size int) (uintptr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAlloc {
		return 0, fmt.Errorf("simulated allocation failure")
	}
	addr := m.next
	m.next += uintptr((size + 0xFFF) &^ 0xFFF)
	m.allocs[addr] = size
	return addr, nil
}

func (m *Memory) FreeExec(addr uintptr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	size, ok := m.allocs[addr]
	if !ok {
		return fmt.Errorf("free of unallocated %#x", addr)
	}
	for i := 0; i < size; i++ {
		delete(m.bytes, addr+uintptr(i))
	}
	delete(m.allocs, addr)
	return nil
}

// Poke writes raw bytes, mapping them if needed.
func (m *Memory) Poke(addr uintptr, b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, v := range b {
		m.bytes[addr+uintptr(i)] = v
	}
}

// Peek reads n bytes, returning nil if any of them is unmapped.
func (m *Memory) Peek(addr uintptr, n int) []byte {
	b, err := m.ReadBytes(addr, n)
	if err != nil || len(b) < n {
		return nil
	}
	return b
}

// Live returns the number of outstanding executable allocations.
func (m *Memory) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.allocs)
}

// NewObject lays out a COM-style object at obj whose vtable, placed at vtbl,
// holds fns. It returns obj.
func (m *Memory) NewObject(obj, vtbl uintptr, fns ...uintptr) uintptr {
	_ = m.WritePointer(obj, vtbl)
	for i, fn := range fns {
		_ = m.WritePointer(vtbl+uintptr(i*ptrSize), fn)
	}
	return obj
}

// Slot returns the current value of vtable entry idx of obj.
func (m *Memory) Slot(obj uintptr, idx int) uintptr {
	vtbl, err := m.ReadPointer(obj)
	if err != nil {
		return 0
	}
	v, _ := m.ReadPointer(vtbl + uintptr(idx*ptrSize))
	return v
}

// Func is a Go stand-in for a native function.
type Func func(args ...uintptr) uintptr

// Funcs maps fake code addresses to Go functions.
type Funcs struct {
	mu   sync.RWMutex
	fns  map[uintptr]Func
	next uintptr
}

func NewFuncs() *Funcs {
	return &Funcs{fns: make(map[uintptr]Func), next: 0x1000_0000}
}

// Register assigns fn a fresh address.
func (f *Funcs) Register(fn Func) uintptr {
	f.mu.Lock()
	defer f.mu.Unlock()
	addr := f.next
	f.next += 0x100
	f.fns[addr] = fn
	return addr
}

// Bind assigns fn to a specific address, such as a trampoline.
func (f *Funcs) Bind(addr uintptr, fn Func) {
	f.mu.Lock()
	f.fns[addr] = fn
	f.mu.Unlock()
}

// Invoke calls the function registered at addr. It panics on an unknown
// address, the simulated equivalent of jumping into garbage.
func (f *Funcs) Invoke(addr uintptr, args ...uintptr) uintptr {
	f.mu.RLock()
	fn, ok := f.fns[addr]
	f.mu.RUnlock()
	if !ok {
		panic(fmt.Sprintf("hooktest: call to unknown address %#x", addr))
	}
	return fn(args...)
}

// CallSlot calls through vtable entry idx of obj the way a host would,
// passing obj as the first argument.
func (f *Funcs) CallSlot(m *Memory, obj uintptr, idx int, args ...uintptr) uintptr {
	return f.Invoke(m.Slot(obj, idx), append([]uintptr{obj}, args...)...)
}
