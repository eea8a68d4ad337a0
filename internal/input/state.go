package input

import (
	"sync"
	"unicode/utf16"
)

// Snapshot is a copy of the input state handed to the UI layer once per
// frame. It shares no memory with State.
type Snapshot struct {
	MouseX, MouseY float32
	MouseValid     bool
	Buttons        [NumButtons]bool
	Wheel          float32
	WheelH         float32
	Keys           [256]bool
	Ctrl           bool
	Shift          bool
	Alt            bool
	Super          bool
	Chars          []rune
	Focused        bool
}

// State is the only structure shared between the window-message thread and
// the render thread. Apply copies an event in, Snapshot copies the state out;
// both hold the lock only for the copy.
type State struct {
	mu      sync.Mutex
	cur     Snapshot
	surr    uint16 // pending high surrogate from WM_CHAR
	applied uint64
}

// NewState returns an empty State. The host window is assumed focused until
// told otherwise.
func NewState() *State {
	return &State{cur: Snapshot{Focused: true}}
}

// Apply folds one event into the state.
func (s *State) Apply(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.applied++
	switch ev.Kind {
	case KindMouseMove:
		s.cur.MouseX, s.cur.MouseY = float32(ev.X), float32(ev.Y)
		s.cur.MouseValid = true
	case KindMouseButton:
		s.cur.MouseX, s.cur.MouseY = float32(ev.X), float32(ev.Y)
		s.cur.MouseValid = true
		if int(ev.Button) < NumButtons {
			s.cur.Buttons[ev.Button] = ev.Down
		}
	case KindWheel:
		s.cur.Wheel += ev.Wheel
		s.cur.WheelH += ev.WheelH
	case KindKey:
		s.cur.Keys[ev.VK&0xFF] = ev.Down
		s.updateModifiers()
	case KindChar:
		s.applyChar(ev.Char)
	case KindFocus:
		s.cur.Focused = ev.Down
		if !ev.Down {
			// Key-up messages are not delivered to an unfocused window.
			s.cur.Keys = [256]bool{}
			s.cur.Buttons = [NumButtons]bool{}
			s.updateModifiers()
		}
	}
}

func (s *State) updateModifiers() {
	k := &s.cur.Keys
	s.cur.Ctrl = k[VKControl]
	s.cur.Shift = k[VKShift]
	s.cur.Alt = k[VKMenu]
	s.cur.Super = k[VKLWin] || k[VKRWin]
}

func (s *State) applyChar(c uint16) {
	switch {
	case utf16.IsSurrogate(rune(c)) && c < 0xDC00:
		s.surr = c
	case utf16.IsSurrogate(rune(c)):
		if s.surr != 0 {
			s.cur.Chars = append(s.cur.Chars, utf16.DecodeRune(rune(s.surr), rune(c)))
		}
		s.surr = 0
	default:
		s.surr = 0
		s.cur.Chars = append(s.cur.Chars, rune(c))
	}
}

// SetMouse overrides the mouse position, used when the cursor is polled
// directly instead of tracked through messages.
func (s *State) SetMouse(x, y float32) {
	s.mu.Lock()
	s.cur.MouseX, s.cur.MouseY = x, y
	s.cur.MouseValid = true
	s.mu.Unlock()
}

// Snapshot copies the state out and drains the per-frame accumulators
// (typed characters and wheel deltas).
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.cur
	if len(s.cur.Chars) > 0 {
		out.Chars = make([]rune, len(s.cur.Chars))
		copy(out.Chars, s.cur.Chars)
		s.cur.Chars = s.cur.Chars[:0]
	} else {
		out.Chars = nil
	}
	s.cur.Wheel, s.cur.WheelH = 0, 0
	return out
}

// Applied returns the number of events applied so far.
func (s *State) Applied() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied
}
