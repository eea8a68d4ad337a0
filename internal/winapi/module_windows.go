//go:build windows

package winapi

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// ModuleLoaded reports whether the process already has name loaded. It never
// loads the module itself.
func ModuleLoaded(name string) bool {
	_, err := ModuleHandle(name)
	return err == nil
}

// ModuleHandle returns the handle of an already loaded module without adding
// a reference to it.
func ModuleHandle(name string) (windows.Handle, error) {
	p, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return 0, err
	}
	var h windows.Handle
	if err := windows.GetModuleHandleEx(windows.GET_MODULE_HANDLE_EX_FLAG_UNCHANGED_REFCOUNT, p, &h); err != nil {
		return 0, fmt.Errorf("%s not loaded: %w", name, err)
	}
	return h, nil
}

// ProcAddress resolves an export of an already loaded module.
func ProcAddress(module, proc string) (uintptr, error) {
	h, err := ModuleHandle(module)
	if err != nil {
		return 0, err
	}
	addr, err := windows.GetProcAddress(h, proc)
	if err != nil {
		return 0, fmt.Errorf("%s!%s: %w", module, proc, err)
	}
	return addr, nil
}
