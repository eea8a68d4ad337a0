package input

import (
	"sync"
	"testing"
)

func lparamXY(x, y int16) uintptr {
	return uintptr(uint16(x)) | uintptr(uint16(y))<<16
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name   string
		msg    uint32
		wparam uintptr
		lparam uintptr
		want   Event
		ok     bool
	}{
		{"move", WMMouseMove, 0, lparamXY(10, 20), Event{Kind: KindMouseMove, X: 10, Y: 20}, true},
		{"move negative", WMMouseMove, 0, lparamXY(-5, -7), Event{Kind: KindMouseMove, X: -5, Y: -7}, true},
		{"left down", WMLButtonDown, 0, lparamXY(1, 2), Event{Kind: KindMouseButton, Button: ButtonLeft, Down: true, X: 1, Y: 2}, true},
		{"left dbl", WMLButtonDbl, 0, 0, Event{Kind: KindMouseButton, Button: ButtonLeft, Down: true}, true},
		{"right up", WMRButtonUp, 0, 0, Event{Kind: KindMouseButton, Button: ButtonRight}, true},
		{"middle down", WMMButtonDown, 0, 0, Event{Kind: KindMouseButton, Button: ButtonMiddle, Down: true}, true},
		{"x2 down", WMXButtonDown, 2 << 16, 0, Event{Kind: KindMouseButton, Button: ButtonX2, Down: true}, true},
		{"x1 up", WMXButtonUp, 1 << 16, 0, Event{Kind: KindMouseButton, Button: ButtonX1}, true},
		{"wheel up", WMMouseWheel, 120 << 16, 0, Event{Kind: KindWheel, Wheel: 1}, true},
		{"wheel down", WMMouseWheel, uintptr(uint16(0xFF88)) << 16, 0, Event{Kind: KindWheel, Wheel: -1}, true},
		{"hwheel", WMMouseHWheel, 240 << 16, 0, Event{Kind: KindWheel, WheelH: 2}, true},
		{"key down", WMKeyDown, VKInsert, 0, Event{Kind: KindKey, VK: VKInsert, Down: true}, true},
		{"syskey up", WMSysKeyUp, VKMenu, 0, Event{Kind: KindKey, VK: VKMenu}, true},
		{"key out of range", WMKeyDown, 300, 0, Event{}, false},
		{"char", WMChar, 'a', 0, Event{Kind: KindChar, Char: 'a'}, true},
		{"char zero", WMChar, 0, 0, Event{}, false},
		{"focus set", WMSetFocus, 0, 0, Event{Kind: KindFocus, Down: true}, true},
		{"focus kill", WMKillFocus, 0, 0, Event{Kind: KindFocus}, true},
		{"activate app off", WMActivateApp, 0, 0, Event{Kind: KindFocus}, true},
		{"paint", 0x000F, 0, 0, Event{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Translate(tt.msg, tt.wparam, tt.lparam)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("Translate = %+v, %v; want %+v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestStateSnapshotDrains(t *testing.T) {
	s := NewState()
	s.Apply(Event{Kind: KindMouseMove, X: 3, Y: 4})
	s.Apply(Event{Kind: KindWheel, Wheel: 1})
	s.Apply(Event{Kind: KindWheel, Wheel: 0.5})
	s.Apply(Event{Kind: KindChar, Char: 'h'})
	s.Apply(Event{Kind: KindChar, Char: 'i'})
	s.Apply(Event{Kind: KindKey, VK: VKControl, Down: true})

	snap := s.Snapshot()
	if snap.MouseX != 3 || snap.MouseY != 4 || !snap.MouseValid {
		t.Fatalf("mouse = %v,%v valid=%v", snap.MouseX, snap.MouseY, snap.MouseValid)
	}
	if snap.Wheel != 1.5 {
		t.Fatalf("wheel = %v, want 1.5", snap.Wheel)
	}
	if string(snap.Chars) != "hi" {
		t.Fatalf("chars = %q, want hi", string(snap.Chars))
	}
	if !snap.Ctrl || !snap.Keys[VKControl] {
		t.Fatal("ctrl not tracked")
	}

	next := s.Snapshot()
	if next.Wheel != 0 || len(next.Chars) != 0 {
		t.Fatalf("accumulators not drained: %+v", next)
	}
	if !next.Ctrl || next.MouseX != 3 {
		t.Fatal("held state must persist across snapshots")
	}

	// The snapshot owns its chars.
	snap.Chars[0] = 'x'
	s.Apply(Event{Kind: KindChar, Char: 'z'})
	if got := s.Snapshot(); string(got.Chars) != "z" {
		t.Fatalf("chars = %q, want z", string(got.Chars))
	}
}

func TestStateSurrogatePairs(t *testing.T) {
	s := NewState()
	// U+1F600 as UTF-16: D83D DE00.
	s.Apply(Event{Kind: KindChar, Char: 0xD83D})
	s.Apply(Event{Kind: KindChar, Char: 0xDE00})
	// A lone low surrogate is dropped.
	s.Apply(Event{Kind: KindChar, Char: 0xDE00})
	got := s.Snapshot().Chars
	if len(got) != 1 || got[0] != 0x1F600 {
		t.Fatalf("chars = %U", got)
	}
}

func TestStateFocusLossClearsHeldInput(t *testing.T) {
	s := NewState()
	s.Apply(Event{Kind: KindKey, VK: VKShift, Down: true})
	s.Apply(Event{Kind: KindMouseButton, Button: ButtonLeft, Down: true})
	s.Apply(Event{Kind: KindFocus, Down: false})
	snap := s.Snapshot()
	if snap.Focused || snap.Shift || snap.Keys[VKShift] || snap.Buttons[ButtonLeft] {
		t.Fatalf("held input survived focus loss: %+v", snap)
	}
}

func TestStateConcurrentApplySnapshot(t *testing.T) {
	s := NewState()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			s.Apply(Event{Kind: KindChar, Char: 'a'})
		}
	}()
	total := 0
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			total += len(s.Snapshot().Chars)
		}
	}()
	wg.Wait()
	total += len(s.Snapshot().Chars)
	if total != 1000 {
		t.Fatalf("chars seen = %d, want 1000", total)
	}
}

func TestKeyByName(t *testing.T) {
	tests := []struct {
		name string
		vk   uint16
		ok   bool
	}{
		{"INSERT", VKInsert, true},
		{"insert", VKInsert, true},
		{" Home ", VKHome, true},
		{"F1", VKF1, true},
		{"f12", VKF12, true},
		{"F13", 0, false},
		{"k", 'K', true},
		{"7", '7', true},
		{"#", 0, false},
		{"", 0, false},
		{"nope", 0, false},
	}
	for _, tt := range tests {
		vk, ok := KeyByName(tt.name)
		if vk != tt.vk || ok != tt.ok {
			t.Errorf("KeyByName(%q) = %#x, %v; want %#x, %v", tt.name, vk, ok, tt.vk, tt.ok)
		}
	}
	if KeyName(VKInsert) != "INSERT" || KeyName(VKF1+10) != "F11" || KeyName('Q') != "Q" {
		t.Errorf("KeyName mismatch: %s %s %s", KeyName(VKInsert), KeyName(VKF1+10), KeyName('Q'))
	}
	if KeyName(VKReturn) != "RETURN" {
		t.Errorf("KeyName(VKReturn) = %s", KeyName(VKReturn))
	}
}

func TestToggleConsumption(t *testing.T) {
	toggle := ToggleKey(VKInsert)
	h := NewHook(NewState(), toggle)

	move := lparamXY(5, 5)
	if h.Handle(WMMouseMove, 0, move) {
		t.Fatal("move consumed while overlay unfocused")
	}
	if !h.Handle(WMKeyDown, VKInsert, 0) {
		t.Fatal("toggle key press must be consumed")
	}
	if !toggle.Active() {
		t.Fatal("toggle did not activate")
	}
	if !h.Handle(WMKeyUp, VKInsert, 0) {
		t.Fatal("toggle key release must be consumed")
	}
	if !h.Handle(WMMouseMove, 0, move) || !h.Handle(WMKeyDown, 'A', 0) {
		t.Fatal("input should be consumed while overlay focused")
	}
	if h.Handle(WMSetFocus, 0, 0) {
		t.Fatal("focus messages are never consumed")
	}
	if h.Handle(0x000F, 0, 0) {
		t.Fatal("untracked messages are never consumed")
	}

	h.Handle(WMKeyDown, VKInsert, 0)
	if toggle.Active() || h.Handle(WMMouseMove, 0, move) {
		t.Fatal("second press should release focus")
	}

	// Events are recorded regardless of who gets them.
	if snap := h.State().Snapshot(); snap.MouseX != 5 {
		t.Fatalf("state not updated: %+v", snap.MouseX)
	}
}

func TestPolicies(t *testing.T) {
	ev := Event{Kind: KindMouseMove}
	key := Event{Kind: KindKey, VK: 'A', Down: true}
	if !Always().Captures(ev) || Never().Captures(ev) {
		t.Fatal("Always/Never")
	}

	mouse, keyboard := false, true
	p := LayerCapture(func() bool { return mouse }, func() bool { return keyboard })
	if p.Captures(ev) || !p.Captures(key) {
		t.Fatal("LayerCapture mismatch")
	}
	mouse = true
	if !p.Captures(ev) {
		t.Fatal("LayerCapture should follow wantMouse")
	}
	if LayerCapture(nil, nil).Captures(key) {
		t.Fatal("nil funcs capture nothing")
	}
}

func TestAnyKeepsToggleTracking(t *testing.T) {
	toggle := ToggleKey(VKInsert)
	hovered := false
	h := NewHook(NewState(), Any(LayerCapture(func() bool { return hovered }, nil), toggle))

	move := lparamXY(5, 5)
	if h.Handle(WMMouseMove, 0, move) {
		t.Fatal("move consumed with nothing hovered")
	}
	hovered = true
	if !h.Handle(WMMouseMove, 0, move) {
		t.Fatal("move over the layer should be consumed")
	}
	if h.Handle(WMKeyDown, 'A', 0) {
		t.Fatal("layer without keyboard focus claimed a key")
	}
	// The toggle sits second and must still see its key.
	h.Handle(WMKeyDown, VKInsert, 0)
	if !toggle.Active() || !h.Handle(WMKeyDown, 'A', 0) {
		t.Fatal("toggle behind another policy lost its key")
	}
}

func TestHotkey(t *testing.T) {
	h := NewHook(NewState(), nil)
	fired := 0
	h.OnKey(VKEnd, func() { fired++ })
	if !h.Handle(WMKeyDown, VKEnd, 0) || !h.Handle(WMKeyUp, VKEnd, 0) {
		t.Fatal("hotkey should be consumed")
	}
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	h.OnKey(VKEnd, nil)
	if h.Handle(WMKeyDown, VKEnd, 0) {
		t.Fatal("removed hotkey still consumed")
	}
	handled, consumed := h.Stats()
	if handled != 3 || consumed != 2 {
		t.Fatalf("stats = %d/%d, want 3/2", handled, consumed)
	}
}

func TestSetKeyRebindsToggle(t *testing.T) {
	toggle := ToggleKey(VKInsert)
	toggle.SetKey(VKF1)
	h := NewHook(NewState(), toggle)
	if h.Handle(WMKeyDown, VKInsert, 0) {
		t.Fatal("old key should pass through")
	}
	h.Handle(WMKeyDown, VKF1, 0)
	if !toggle.Active() || toggle.Key() != VKF1 {
		t.Fatal("rebound key did not toggle")
	}
}
