package session

import "strings"

// Modifier bits toggled by keydown/keyup.
type Modifier uint8

const (
	ModCtrl Modifier = 1 << iota
	ModAlt
	ModShift
	ModMeta
)

// modifierKeys maps keydown/keyup key names to the modifier bit they
// affect. Any other key name is InvalidKey for keydown/keyup, since those
// operations are state-only (they never write to the PTY).
var modifierKeys = map[string]Modifier{
	"Ctrl":  ModCtrl,
	"Alt":   ModAlt,
	"Shift": ModShift,
	"Meta":  ModMeta,
}

// namedKeySequences maps keystroke names to the byte sequence written to
// the PTY, following the standard xterm/VT220 escape sequences for
// cursor and function keys.
var namedKeySequences = map[string]string{
	"Enter":     "\r",
	"Tab":       "\t",
	"Backspace": "\x7f",
	"Escape":    "\x1b",
	"Space":     " ",
	"ArrowUp":   "\x1b[A",
	"ArrowDown": "\x1b[B",
	"ArrowRight": "\x1b[C",
	"ArrowLeft": "\x1b[D",
	"Home":      "\x1b[H",
	"End":       "\x1b[F",
	"PageUp":    "\x1b[5~",
	"PageDown":  "\x1b[6~",
	"Insert":    "\x1b[2~",
	"Delete":    "\x1b[3~",
	"F1":        "\x1bOP",
	"F2":        "\x1bOQ",
	"F3":        "\x1bOR",
	"F4":        "\x1bOS",
	"F5":        "\x1b[15~",
	"F6":        "\x1b[17~",
	"F7":        "\x1b[18~",
	"F8":        "\x1b[19~",
	"F9":        "\x1b[20~",
	"F10":       "\x1b[21~",
	"F11":       "\x1b[23~",
	"F12":       "\x1b[24~",
}

// resolveKeystroke maps a key name (optionally combined with a "Ctrl+"
// prefix) to the literal bytes to write to the PTY. Returns InvalidKey
// for unrecognized names.
func resolveKeystroke(key string) (string, error) {
	if seq, ok := namedKeySequences[key]; ok {
		return seq, nil
	}

	if rest, ok := strings.CutPrefix(key, "Ctrl+"); ok {
		if len(rest) == 1 {
			c := rest[0]
			upper := c
			if c >= 'a' && c <= 'z' {
				upper = c - ('a' - 'A')
			}
			if upper >= 'A' && upper <= '_' {
				return string([]byte{upper - 'A' + 1}), nil
			}
		}
		return "", ErrInvalidKey
	}

	if len(key) == 1 {
		return key, nil
	}

	return "", ErrInvalidKey
}

// resolveModifier maps a keydown/keyup key name to its Modifier bit.
func resolveModifier(key string) (Modifier, error) {
	m, ok := modifierKeys[key]
	if !ok {
		return 0, ErrInvalidKey
	}
	return m, nil
}
