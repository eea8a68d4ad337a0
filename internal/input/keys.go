package input

import (
	"fmt"
	"strings"
)

// Virtual-key codes used by the overlay. Values are the Win32 VK_* codes.
const (
	VKLButton  = 0x01
	VKRButton  = 0x02
	VKMButton  = 0x04
	VKBack     = 0x08
	VKTab      = 0x09
	VKReturn   = 0x0D
	VKShift    = 0x10
	VKControl  = 0x11
	VKMenu     = 0x12 // Alt
	VKPause    = 0x13
	VKEscape   = 0x1B
	VKSpace    = 0x20
	VKPrior    = 0x21
	VKNext     = 0x22
	VKEnd      = 0x23
	VKHome     = 0x24
	VKLeft     = 0x25
	VKUp       = 0x26
	VKRight    = 0x27
	VKDown     = 0x28
	VKSnapshot = 0x2C
	VKInsert   = 0x2D
	VKDelete   = 0x2E
	VKLWin     = 0x5B
	VKRWin     = 0x5C
	VKF1       = 0x70
	VKF12      = 0x7B
	VKScroll   = 0x91
	VKOem3     = 0xC0 // `~ on US layouts
)

var keyNames = map[string]uint16{
	"backspace":   VKBack,
	"tab":         VKTab,
	"enter":       VKReturn,
	"return":      VKReturn,
	"pause":       VKPause,
	"escape":      VKEscape,
	"esc":         VKEscape,
	"space":       VKSpace,
	"pageup":      VKPrior,
	"pagedown":    VKNext,
	"end":         VKEnd,
	"home":        VKHome,
	"left":        VKLeft,
	"up":          VKUp,
	"right":       VKRight,
	"down":        VKDown,
	"printscreen": VKSnapshot,
	"insert":      VKInsert,
	"ins":         VKInsert,
	"delete":      VKDelete,
	"del":         VKDelete,
	"scrolllock":  VKScroll,
	"grave":       VKOem3,
	"tilde":       VKOem3,
}

// KeyByName resolves a key name such as "INSERT", "F11" or "K" to its
// virtual-key code. Names are case-insensitive.
func KeyByName(name string) (uint16, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return 0, false
	}
	if vk, ok := keyNames[key]; ok {
		return vk, true
	}

	if len(key) == 1 {
		c := strings.ToUpper(key)[0]
		if (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			return uint16(c), true
		}
		return 0, false
	}

	if key[0] == 'f' {
		n := 0
		for _, r := range key[1:] {
			if r < '0' || r > '9' {
				return 0, false
			}
			n = n*10 + int(r-'0')
		}
		if n >= 1 && n <= 12 {
			return uint16(VKF1 + n - 1), true
		}
	}
	return 0, false
}

// KeyName returns a display name for vk, the inverse of KeyByName for the
// names it accepts.
func KeyName(vk uint16) string {
	switch {
	case vk >= VKF1 && vk <= VKF12:
		return fmt.Sprintf("F%d", vk-VKF1+1)
	case (vk >= 'A' && vk <= 'Z') || (vk >= '0' && vk <= '9'):
		return string(rune(vk))
	}
	best := ""
	for name, code := range keyNames {
		// Longest alias wins ("insert" over "ins"), ties broken by name.
		if code == vk && (len(name) > len(best) || (len(name) == len(best) && name < best)) {
			best = name
		}
	}
	if best == "" {
		return fmt.Sprintf("VK_0x%02X", vk)
	}
	return strings.ToUpper(best)
}
