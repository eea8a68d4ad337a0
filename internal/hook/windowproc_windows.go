//go:build windows

package hook

import (
	"fmt"

	"golang.org/x/sys/windows"
)

var (
	user32                = windows.NewLazySystemDLL("user32.dll")
	procGetWindowLongPtrW = user32.NewProc("GetWindowLongPtrW")
	procSetWindowLongPtrW = user32.NewProc("SetWindowLongPtrW")
	procCallWindowProcW   = user32.NewProc("CallWindowProcW")
	procIsWindow          = user32.NewProc("IsWindow")
)

const gwlpWndProc = ^uintptr(3) // GWLP_WNDPROC (-4)

// WindowProc subclasses a window by replacing its GWLP_WNDPROC. The original
// procedure is reached through CallWindowProcW, which handles ANSI/Unicode
// thunks that a direct call would skip.
type WindowProc struct {
	HWND windows.HWND
}

func (p WindowProc) Describe() string {
	return fmt.Sprintf("wndproc of hwnd %#x", uintptr(p.HWND))
}

func (p WindowProc) prepare(_ Memory, replacement uintptr) (*patchState, error) {
	if ok, _, _ := procIsWindow.Call(uintptr(p.HWND)); ok == 0 {
		return nil, fmt.Errorf("%w: %#x is not a window", ErrPatternNotFound, uintptr(p.HWND))
	}
	current, _, _ := procGetWindowLongPtrW.Call(uintptr(p.HWND), gwlpWndProc)
	switch current {
	case 0:
		return nil, fmt.Errorf("%w: window has no procedure", ErrPatternNotFound)
	case replacement:
		return nil, ErrAlreadyHooked
	}

	hwnd := uintptr(p.HWND)
	return &patchState{
		key:      fmt.Sprintf("wndproc:%#x", hwnd),
		target:   hwnd,
		original: current,
		apply: func() error {
			windows.SetLastError(0)
			prev, _, err := procSetWindowLongPtrW.Call(hwnd, gwlpWndProc, replacement)
			if prev == 0 && err != windows.ERROR_SUCCESS {
				return fmt.Errorf("SetWindowLongPtrW: %w", err)
			}
			return nil
		},
		revert: func() error {
			if ok, _, _ := procIsWindow.Call(hwnd); ok == 0 {
				// Window already destroyed; nothing to restore.
				return nil
			}
			now, _, _ := procGetWindowLongPtrW.Call(hwnd, gwlpWndProc)
			if now != replacement {
				return fmt.Errorf("%w: window procedure is %#x", ErrChained, now)
			}
			windows.SetLastError(0)
			prev, _, err := procSetWindowLongPtrW.Call(hwnd, gwlpWndProc, current)
			if prev == 0 && err != windows.ERROR_SUCCESS {
				return fmt.Errorf("SetWindowLongPtrW: %w", err)
			}
			return nil
		},
		release: func() error { return nil },
		call: func(fn uintptr, args ...uintptr) uintptr {
			all := make([]uintptr, 0, 5)
			all = append(all, fn)
			all = append(all, args...)
			r, _, _ := procCallWindowProcW.Call(all...)
			return r
		},
	}, nil
}
