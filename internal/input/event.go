package input

// Kind classifies a translated window message.
type Kind uint8

const (
	KindNone Kind = iota
	KindMouseMove
	KindMouseButton
	KindWheel
	KindKey
	KindChar
	KindFocus
)

func (k Kind) String() string {
	switch k {
	case KindMouseMove:
		return "mouse_move"
	case KindMouseButton:
		return "mouse_button"
	case KindWheel:
		return "wheel"
	case KindKey:
		return "key"
	case KindChar:
		return "char"
	case KindFocus:
		return "focus"
	default:
		return "none"
	}
}

// Button identifies a mouse button.
type Button uint8

const (
	ButtonLeft Button = iota
	ButtonRight
	ButtonMiddle
	ButtonX1
	ButtonX2

	NumButtons = 5
)

// Event is one input change decoded from a window message.
type Event struct {
	Kind Kind

	// Mouse position in client coordinates (KindMouseMove, KindMouseButton).
	X, Y int32

	Button Button
	// Down is the new state for buttons and keys; for KindFocus it is true
	// when focus was gained.
	Down bool

	// Wheel deltas in notches (KindWheel).
	Wheel  float32
	WheelH float32

	VK uint16 // KindKey
	// Char is a UTF-16 code unit (KindChar); surrogate pairs are joined by State.
	Char uint16
}
