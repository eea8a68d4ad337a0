//go:build windows

package hook

import (
	"fmt"
	"sync"
	"sync/atomic"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	kernel32                  = windows.NewLazySystemDLL("kernel32.dll")
	procFlushInstructionCache = kernel32.NewProc("FlushInstructionCache")
)

// processMemory patches the memory of the current process.
type processMemory struct{}

const readableMask = windows.PAGE_READONLY | windows.PAGE_READWRITE | windows.PAGE_WRITECOPY |
	windows.PAGE_EXECUTE_READ | windows.PAGE_EXECUTE_READWRITE | windows.PAGE_EXECUTE_WRITECOPY

// readable returns how many bytes from addr, up to n, lie in committed
// readable pages.
func readable(addr uintptr, n int) (int, error) {
	total := 0
	for total < n {
		var mbi windows.MemoryBasicInformation
		if err := windows.VirtualQuery(addr+uintptr(total), &mbi, unsafe.Sizeof(mbi)); err != nil {
			return total, err
		}
		if mbi.State != windows.MEM_COMMIT || mbi.Protect&readableMask == 0 || mbi.Protect&windows.PAGE_GUARD != 0 {
			break
		}
		end := mbi.BaseAddress + mbi.RegionSize
		total += int(end - (addr + uintptr(total)))
	}
	if total > n {
		total = n
	}
	if total == 0 {
		return 0, fmt.Errorf("address %#x is not readable", addr)
	}
	return total, nil
}

func (processMemory) ReadPointer(addr uintptr) (uintptr, error) {
	if _, err := readable(addr, int(ptrSize)); err != nil {
		return 0, err
	}
	return atomic.LoadUintptr((*uintptr)(unsafe.Pointer(addr))), nil
}

func (processMemory) WritePointer(addr, value uintptr) error {
	var old uint32
	if err := windows.VirtualProtect(addr, ptrSize, windows.PAGE_EXECUTE_READWRITE, &old); err != nil {
		return fmt.Errorf("VirtualProtect %#x: %w", addr, err)
	}
	atomic.StoreUintptr((*uintptr)(unsafe.Pointer(addr)), value)
	if err := windows.VirtualProtect(addr, ptrSize, old, &old); err != nil {
		return fmt.Errorf("VirtualProtect restore %#x: %w", addr, err)
	}
	return nil
}

func (processMemory) ReadBytes(addr uintptr, n int) ([]byte, error) {
	avail, err := readable(addr, n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, avail)
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(addr)), avail))
	return out, nil
}

func (processMemory) WriteCode(addr uintptr, code []byte) error {
	var old uint32
	size := uintptr(len(code))
	if err := windows.VirtualProtect(addr, size, windows.PAGE_EXECUTE_READWRITE, &old); err != nil {
		return fmt.Errorf("VirtualProtect %#x: %w", addr, err)
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(code)), code)
	if err := windows.VirtualProtect(addr, size, old, &old); err != nil {
		return fmt.Errorf("VirtualProtect restore %#x: %w", addr, err)
	}
	procFlushInstructionCache.Call(uintptr(windows.CurrentProcess()), addr, size)
	return nil
}

func (processMemory) AllocExec(size int) (uintptr, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_EXECUTE_READWRITE)
	if err != nil {
		return 0, fmt.Errorf("VirtualAlloc: %w", err)
	}
	return addr, nil
}

func (processMemory) FreeExec(addr uintptr) error {
	if err := windows.VirtualFree(addr, 0, windows.MEM_RELEASE); err != nil {
		return fmt.Errorf("VirtualFree %#x: %w", addr, err)
	}
	return nil
}

// SyscallInvoker calls native code with the platform calling convention.
func SyscallInvoker(fn uintptr, args ...uintptr) uintptr {
	r, _, _ := syscall.SyscallN(fn, args...)
	return r
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the registry that patches the current process.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry(processMemory{}, SyscallInvoker)
	})
	return defaultRegistry
}
