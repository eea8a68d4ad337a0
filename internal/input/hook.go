package input

import (
	"sync"
	"sync/atomic"

	"github.com/breeze-rmm/hudhook/internal/logging"
)

var log = logging.L("input")

// Hook is the platform-independent half of the window-procedure detour. The
// platform subclass calls Handle for every message and forwards the message
// unchanged to the original procedure when Handle returns false.
type Hook struct {
	state *State

	mu      sync.RWMutex
	policy  Policy
	hotkeys map[uint16]func()

	handled  atomic.Uint64
	consumed atomic.Uint64
}

// NewHook returns a Hook feeding state. A nil policy forwards everything.
func NewHook(state *State, policy Policy) *Hook {
	if policy == nil {
		policy = Never()
	}
	return &Hook{
		state:   state,
		policy:  policy,
		hotkeys: make(map[uint16]func()),
	}
}

// State returns the state the hook feeds.
func (h *Hook) State() *State { return h.state }

// SetPolicy swaps the capture policy.
func (h *Hook) SetPolicy(p Policy) {
	if p == nil {
		p = Never()
	}
	h.mu.Lock()
	h.policy = p
	h.mu.Unlock()
}

// OnKey registers fn to run on key-down of vk. The key press is consumed.
// fn runs on the window thread and must not block.
func (h *Hook) OnKey(vk uint16, fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if fn == nil {
		delete(h.hotkeys, vk)
		return
	}
	h.hotkeys[vk] = fn
}

// Handle processes one window message and reports whether the overlay
// consumed it. Untracked messages are never consumed. Focus changes are
// recorded but always forwarded.
func (h *Hook) Handle(msg uint32, wparam, lparam uintptr) bool {
	ev, ok := Translate(msg, wparam, lparam)
	if !ok {
		return false
	}
	h.handled.Add(1)
	h.state.Apply(ev)

	h.mu.RLock()
	policy := h.policy
	hotkey := h.hotkeys[ev.VK]
	h.mu.RUnlock()

	if ev.Kind == KindKey && hotkey != nil {
		if ev.Down {
			log.Debug("hotkey pressed", "key", KeyName(ev.VK))
			hotkey()
		}
		h.consumed.Add(1)
		return true
	}

	if ev.Kind == KindFocus {
		return false
	}
	if policy.Captures(ev) {
		h.consumed.Add(1)
		return true
	}
	return false
}

// Stats returns the number of tracked and consumed messages.
func (h *Hook) Stats() (handled, consumed uint64) {
	return h.handled.Load(), h.consumed.Load()
}
