package monitor

// Typing-key classification. Only keys that produce or remove text
// restart the pause window; modifiers, navigation, and function keys
// never count, so chorded shortcuts and caret movement cannot suppress
// a pause.
//
// Both tables live here rather than in the platform files so the
// classification is testable everywhere.

// Windows virtual-key codes.
const (
	vkBack    = 0x08
	vkTab     = 0x09
	vkReturn  = 0x0D
	vkSpace   = 0x20
	vkDelete  = 0x2E
	vkDigit0  = 0x30
	vkDigit9  = 0x39
	vkLetterA = 0x41
	vkLetterZ = 0x5A
	vkNumpad0 = 0x60
	vkNumpad9 = 0x69
	vkOEM1    = 0xBA
	vkOEM8    = 0xDF
)

// typingVirtualKey classifies a Windows virtual-key code.
// The OEM span covers the punctuation keys on every layout; the few
// reserved codes inside it are never delivered for real keys.
func typingVirtualKey(vk uint32) bool {
	switch {
	case vk >= vkLetterA && vk <= vkLetterZ:
		return true
	case vk >= vkDigit0 && vk <= vkDigit9:
		return true
	case vk >= vkNumpad0 && vk <= vkNumpad9:
		return true
	case vk >= vkOEM1 && vk <= vkOEM8:
		return true
	}
	switch vk {
	case vkSpace, vkReturn, vkBack, vkDelete, vkTab:
		return true
	}
	return false
}

// Linux evdev key codes (input-event-codes.h).
const (
	codeDigit1     = 2
	codeEqual      = 13
	codeBackspace  = 14
	codeTab        = 15
	codeQ          = 16
	codeRightBrace = 27
	codeEnter      = 28
	codeA          = 30
	codeLeftShift  = 42
	codeBackslash  = 43
	codeZ          = 44
	codeSlash      = 53
	codeSpace      = 57
	codeKP7        = 71
	codeKPMinus    = 74
	codeKPPlus     = 78
	codeKP0        = 82
	codeKPEnter    = 96
	codeDelete     = 111
)

// typingKeyCode classifies an evdev key code, mirroring the virtual-key
// table above: letters, digits, numpad digits, punctuation, space,
// enter, backspace, delete, and tab.
func typingKeyCode(code uint16) bool {
	switch {
	case code >= codeDigit1 && code <= codeEqual:
		// Digit row including - and =.
		return true
	case code >= codeQ && code <= codeRightBrace:
		// Top letter row including [ and ].
		return true
	case code >= codeA && code <= codeBackslash:
		// Home row including ; ' ` and backslash. Left shift sits in
		// this span and is not a typing key.
		return code != codeLeftShift
	case code >= codeZ && code <= codeSlash:
		// Bottom letter row including , . and /.
		return true
	case code >= codeKP7 && code <= codeKP0:
		// Numpad digits; the interleaved - and + operators do not count,
		// matching the virtual-key table which takes numpad digits only.
		return code != codeKPMinus && code != codeKPPlus
	}
	switch code {
	case codeSpace, codeEnter, codeKPEnter, codeBackspace, codeDelete, codeTab:
		return true
	}
	return false
}
