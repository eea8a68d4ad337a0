//go:build windows

package input

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/breeze-rmm/hudhook/internal/hook"
)

var (
	user32             = windows.NewLazySystemDLL("user32.dll")
	procGetForeground  = user32.NewProc("GetForegroundWindow")
	procIsChild        = user32.NewProc("IsChild")
	procGetCursorPos   = user32.NewProc("GetCursorPos")
	procScreenToClient = user32.NewProc("ScreenToClient")
	procDefWindowProcW = user32.NewProc("DefWindowProcW")
)

// Subclass routes a host window's messages through a Hook.
type Subclass struct {
	hwnd windows.HWND
	hook *Hook
	site *hook.Site
	reg  *hook.Registry
}

var (
	// Only one window is subclassed per process; the callback finds it here.
	current atomic.Pointer[Subclass]
	// Callbacks created by NewCallback are never freed, so create one.
	wndProcCallback = sync.OnceValue(func() uintptr { return windows.NewCallback(wndProc) })
)

// Install subclasses hwnd so its messages reach h first.
func Install(reg *hook.Registry, hwnd windows.HWND, h *Hook) (*Subclass, error) {
	site, err := reg.Install("wndproc", hook.WindowProc{HWND: hwnd}, wndProcCallback())
	if err != nil {
		return nil, err
	}
	sc := &Subclass{hwnd: hwnd, hook: h, site: site, reg: reg}
	current.Store(sc)
	if err := site.Enable(); err != nil {
		current.CompareAndSwap(sc, nil)
		_ = reg.Uninstall(context.Background(), site)
		return nil, err
	}
	log.Info("window subclassed", "hwnd", fmt.Sprintf("%#x", uintptr(hwnd)))
	return sc, nil
}

// Site returns the hook site backing the subclass.
func (sc *Subclass) Site() *hook.Site { return sc.site }

// Uninstall restores the original window procedure once no message is being
// handled. It must not run on the window's thread while that thread is
// inside a message.
func (sc *Subclass) Uninstall(ctx context.Context) error {
	if err := sc.reg.Uninstall(ctx, sc.site); err != nil {
		return err
	}
	// A leaked subclass keeps receiving messages and forwarding them.
	if !sc.site.Leaked() {
		current.CompareAndSwap(sc, nil)
	}
	return nil
}

// RefreshCursor polls the cursor position when the host window, or one of
// its children, is in the foreground. Some hosts capture the mouse so moves
// never arrive as messages.
func (sc *Subclass) RefreshCursor() {
	fg, _, _ := procGetForeground.Call()
	if fg == 0 {
		return
	}
	if fg != uintptr(sc.hwnd) {
		if child, _, _ := procIsChild.Call(fg, uintptr(sc.hwnd)); child == 0 {
			return
		}
	}
	var pt struct{ X, Y int32 }
	if ok, _, _ := procGetCursorPos.Call(uintptr(unsafe.Pointer(&pt))); ok == 0 {
		return
	}
	if ok, _, _ := procScreenToClient.Call(uintptr(sc.hwnd), uintptr(unsafe.Pointer(&pt))); ok == 0 {
		return
	}
	sc.hook.State().SetMouse(float32(pt.X), float32(pt.Y))
}

func wndProc(hwnd, msg, wparam, lparam uintptr) uintptr {
	sc := current.Load()
	if sc == nil {
		r, _, _ := procDefWindowProcW.Call(hwnd, msg, wparam, lparam)
		return r
	}
	sc.site.Enter()
	defer sc.site.Exit()

	if sc.site.Active() && sc.handle(uint32(msg), wparam, lparam) {
		return 1
	}
	return sc.site.Call(hwnd, msg, wparam, lparam)
}

// handle runs the overlay's side of a message. A panic there forwards the
// message instead of unwinding into the host's message loop.
func (sc *Subclass) handle(msg uint32, wparam, lparam uintptr) (consumed bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("input handler panicked", "message", fmt.Sprintf("%#x", msg), "panic", fmt.Sprint(r))
			consumed = false
		}
	}()
	return sc.hook.Handle(msg, wparam, lparam)
}
