//go:build windows

package winapi

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32   = windows.NewLazySystemDLL("user32.dll")
	kernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procRegisterClassExW = user32.NewProc("RegisterClassExW")
	procUnregisterClassW = user32.NewProc("UnregisterClassW")
	procCreateWindowExW  = user32.NewProc("CreateWindowExW")
	procDestroyWindow    = user32.NewProc("DestroyWindow")
	procDefWindowProcW   = user32.NewProc("DefWindowProcW")
	procGetClientRect    = user32.NewProc("GetClientRect")
	procWindowFromDC     = user32.NewProc("WindowFromDC")
	procGetModuleHandleW = kernel32.NewProc("GetModuleHandleW")
)

type wndClassEx struct {
	Size       uint32
	Style      uint32
	WndProc    uintptr
	ClsExtra   int32
	WndExtra   int32
	Instance   windows.Handle
	Icon       windows.Handle
	Cursor     windows.Handle
	Background windows.Handle
	MenuName   *uint16
	ClassName  *uint16
	IconSm     windows.Handle
}

const (
	csHRedraw          = 0x0002
	csVRedraw          = 0x0001
	wsOverlappedWindow = 0x00CF0000
)

var defWindowProc = sync.OnceValue(func() uintptr {
	return windows.NewCallback(func(hwnd, msg, wparam, lparam uintptr) uintptr {
		r, _, _ := procDefWindowProcW.Call(hwnd, msg, wparam, lparam)
		return r
	})
})

// DummyWindow is a hidden window used only to create throwaway devices and
// swap chains whose vtables locate the functions to hook.
type DummyWindow struct {
	HWND     windows.HWND
	class    *uint16
	instance uintptr
}

// NewDummyWindow registers a private class and creates a hidden 100x100
// window.
func NewDummyWindow(name string) (*DummyWindow, error) {
	class, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, err
	}
	instance, _, _ := procGetModuleHandleW.Call(0)

	wc := wndClassEx{
		Style:     csHRedraw | csVRedraw,
		WndProc:   defWindowProc(),
		Instance:  windows.Handle(instance),
		ClassName: class,
	}
	wc.Size = uint32(unsafe.Sizeof(wc))
	if atom, _, err := procRegisterClassExW.Call(uintptr(unsafe.Pointer(&wc))); atom == 0 {
		return nil, fmt.Errorf("RegisterClassExW: %w", err)
	}

	hwnd, _, err := procCreateWindowExW.Call(
		0,
		uintptr(unsafe.Pointer(class)),
		uintptr(unsafe.Pointer(class)),
		wsOverlappedWindow,
		0, 0, 100, 100,
		0, 0,
		instance,
		0,
	)
	if hwnd == 0 {
		procUnregisterClassW.Call(uintptr(unsafe.Pointer(class)), instance)
		return nil, fmt.Errorf("CreateWindowExW: %w", err)
	}
	return &DummyWindow{HWND: windows.HWND(hwnd), class: class, instance: instance}, nil
}

// Close destroys the window and unregisters its class.
func (w *DummyWindow) Close() {
	if w.HWND != 0 {
		procDestroyWindow.Call(uintptr(w.HWND))
		w.HWND = 0
	}
	procUnregisterClassW.Call(uintptr(unsafe.Pointer(w.class)), w.instance)
}

// ClientSize returns the size of hwnd's client area.
func ClientSize(hwnd uintptr) (width, height int32, err error) {
	var rc struct{ Left, Top, Right, Bottom int32 }
	if ok, _, err := procGetClientRect.Call(hwnd, uintptr(unsafe.Pointer(&rc))); ok == 0 {
		return 0, 0, fmt.Errorf("GetClientRect: %w", err)
	}
	return rc.Right - rc.Left, rc.Bottom - rc.Top, nil
}

// WindowFromDC returns the window a device context draws into, or 0.
func WindowFromDC(hdc uintptr) uintptr {
	hwnd, _, _ := procWindowFromDC.Call(hdc)
	return hwnd
}
