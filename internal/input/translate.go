package input

// Window messages handled by Translate.
const (
	WMSetFocus    = 0x0007
	WMKillFocus   = 0x0008
	WMActivateApp = 0x001C
	WMKeyDown     = 0x0100
	WMKeyUp       = 0x0101
	WMChar        = 0x0102
	WMSysKeyDown  = 0x0104
	WMSysKeyUp    = 0x0105
	WMMouseMove   = 0x0200
	WMLButtonDown = 0x0201
	WMLButtonUp   = 0x0202
	WMLButtonDbl  = 0x0203
	WMRButtonDown = 0x0204
	WMRButtonUp   = 0x0205
	WMRButtonDbl  = 0x0206
	WMMButtonDown = 0x0207
	WMMButtonUp   = 0x0208
	WMMButtonDbl  = 0x0209
	WMMouseWheel  = 0x020A
	WMXButtonDown = 0x020B
	WMXButtonUp   = 0x020C
	WMXButtonDbl  = 0x020D
	WMMouseHWheel = 0x020E
)

const wheelDelta = 120

func loword(v uintptr) uint16 { return uint16(v & 0xFFFF) }
func hiword(v uintptr) uint16 { return uint16((v >> 16) & 0xFFFF) }

// pointFromLParam unpacks signed client coordinates (GET_X_LPARAM/GET_Y_LPARAM).
func pointFromLParam(lparam uintptr) (int32, int32) {
	return int32(int16(loword(lparam))), int32(int16(hiword(lparam)))
}

// Translate decodes a window message into an Event. ok is false for messages
// the overlay does not track; those are always forwarded to the host.
func Translate(msg uint32, wparam, lparam uintptr) (ev Event, ok bool) {
	switch msg {
	case WMMouseMove:
		x, y := pointFromLParam(lparam)
		return Event{Kind: KindMouseMove, X: x, Y: y}, true

	case WMLButtonDown, WMLButtonDbl, WMLButtonUp:
		return buttonEvent(ButtonLeft, msg != WMLButtonUp, lparam), true
	case WMRButtonDown, WMRButtonDbl, WMRButtonUp:
		return buttonEvent(ButtonRight, msg != WMRButtonUp, lparam), true
	case WMMButtonDown, WMMButtonDbl, WMMButtonUp:
		return buttonEvent(ButtonMiddle, msg != WMMButtonUp, lparam), true
	case WMXButtonDown, WMXButtonDbl, WMXButtonUp:
		btn := ButtonX1
		if hiword(wparam) == 2 {
			btn = ButtonX2
		}
		return buttonEvent(btn, msg != WMXButtonUp, lparam), true

	case WMMouseWheel:
		return Event{Kind: KindWheel, Wheel: float32(int16(hiword(wparam))) / wheelDelta}, true
	case WMMouseHWheel:
		return Event{Kind: KindWheel, WheelH: float32(int16(hiword(wparam))) / wheelDelta}, true

	case WMKeyDown, WMSysKeyDown:
		if wparam >= 256 {
			return Event{}, false
		}
		return Event{Kind: KindKey, VK: uint16(wparam), Down: true}, true
	case WMKeyUp, WMSysKeyUp:
		if wparam >= 256 {
			return Event{}, false
		}
		return Event{Kind: KindKey, VK: uint16(wparam), Down: false}, true

	case WMChar:
		if wparam == 0 || wparam >= 0x10000 {
			return Event{}, false
		}
		return Event{Kind: KindChar, Char: uint16(wparam)}, true

	case WMSetFocus:
		return Event{Kind: KindFocus, Down: true}, true
	case WMKillFocus:
		return Event{Kind: KindFocus, Down: false}, true
	case WMActivateApp:
		return Event{Kind: KindFocus, Down: wparam != 0}, true
	}
	return Event{}, false
}

func buttonEvent(btn Button, down bool, lparam uintptr) Event {
	x, y := pointFromLParam(lparam)
	return Event{Kind: KindMouseButton, Button: btn, Down: down, X: x, Y: y}
}
