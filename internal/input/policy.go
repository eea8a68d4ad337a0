package input

import "sync/atomic"

// Policy decides whether the overlay claims an event. A claimed event is
// consumed and never reaches the host's window procedure.
type Policy interface {
	Captures(ev Event) bool
}

// PolicyFunc adapts a plain predicate to Policy.
type PolicyFunc func(ev Event) bool

func (f PolicyFunc) Captures(ev Event) bool { return f(ev) }

// Always claims every tracked event.
func Always() Policy { return PolicyFunc(func(Event) bool { return true }) }

// Never forwards everything to the host.
func Never() Policy { return PolicyFunc(func(Event) bool { return false }) }

// LayerCapture claims mouse events while wantMouse reports true and keyboard
// events while wantKeyboard reports true. Either func may be nil. This is the
// usual wiring for a UI layer that knows whether a widget is hovered or
// has keyboard focus.
func LayerCapture(wantMouse, wantKeyboard func() bool) Policy {
	return PolicyFunc(func(ev Event) bool {
		switch ev.Kind {
		case KindMouseMove, KindMouseButton, KindWheel:
			return wantMouse != nil && wantMouse()
		case KindKey, KindChar:
			return wantKeyboard != nil && wantKeyboard()
		}
		return false
	})
}

// Any claims an event when at least one of ps does. Every policy sees every
// event, so a Toggle listed after another policy still tracks its key.
func Any(ps ...Policy) Policy {
	return PolicyFunc(func(ev Event) bool {
		claimed := false
		for _, p := range ps {
			if p.Captures(ev) {
				claimed = true
			}
		}
		return claimed
	})
}

// Toggle flips overlay focus each time its key is pressed. While active it
// claims all keyboard and mouse input. The toggle key itself is always
// claimed so the host never sees it.
type Toggle struct {
	vk     atomic.Uint32
	active atomic.Bool
}

// ToggleKey returns a Toggle bound to vk, initially inactive.
func ToggleKey(vk uint16) *Toggle {
	t := &Toggle{}
	t.vk.Store(uint32(vk))
	return t
}

func (t *Toggle) Captures(ev Event) bool {
	if ev.Kind == KindKey && uint32(ev.VK) == t.vk.Load() {
		if ev.Down {
			t.active.Store(!t.active.Load())
		}
		return true
	}
	if ev.Kind == KindFocus {
		return false
	}
	return t.active.Load()
}

// Active reports whether the overlay currently has focus.
func (t *Toggle) Active() bool { return t.active.Load() }

// Set forces the focus state.
func (t *Toggle) Set(active bool) { t.active.Store(active) }

// Key returns the bound virtual-key code.
func (t *Toggle) Key() uint16 { return uint16(t.vk.Load()) }

// SetKey rebinds the toggle, used on config reload.
func (t *Toggle) SetKey(vk uint16) { t.vk.Store(uint32(vk)) }
