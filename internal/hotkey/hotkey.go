// Package hotkey registers global keyboard shortcuts.
package hotkey

import (
	"fmt"
	"strings"
)

// Manager defines the interface for global hotkey management
type Manager interface {
	Register(accel string, callback func(pressed bool)) error
	Unregister(accel string) error
	Close() error
}

// Modifier is a bit set of modifier keys.
type Modifier uint8

const (
	ModShift Modifier = 1 << iota
	ModCtrl
	ModAlt
	ModSuper
)

// Accelerator is a parsed shortcut such as "Alt+Space".
type Accelerator struct {
	Modifiers Modifier
	// Key is the canonical key name: "space", "a".."z", "0".."9", "f1".."f12".
	Key string
}

func (a Accelerator) String() string {
	var parts []string
	for _, m := range []struct {
		mod  Modifier
		name string
	}{{ModCtrl, "Ctrl"}, {ModAlt, "Alt"}, {ModShift, "Shift"}, {ModSuper, "Super"}} {
		if a.Modifiers&m.mod != 0 {
			parts = append(parts, m.name)
		}
	}
	return strings.Join(append(parts, strings.ToUpper(a.Key[:1])+a.Key[1:]), "+")
}

// ParseAccelerator parses "Mod+Mod+Key". Modifier and key names are case
// insensitive; Option, Cmd and Control are accepted as aliases.
func ParseAccelerator(accel string) (Accelerator, error) {
	var a Accelerator
	parts := strings.Split(accel, "+")
	if len(parts) == 0 || strings.TrimSpace(accel) == "" {
		return a, fmt.Errorf("empty accelerator")
	}

	for _, p := range parts[:len(parts)-1] {
		switch strings.ToLower(strings.TrimSpace(p)) {
		case "shift":
			a.Modifiers |= ModShift
		case "ctrl", "control":
			a.Modifiers |= ModCtrl
		case "alt", "option":
			a.Modifiers |= ModAlt
		case "super", "cmd", "command", "meta":
			a.Modifiers |= ModSuper
		default:
			return Accelerator{}, fmt.Errorf("unknown modifier %q in %q", p, accel)
		}
	}

	key := strings.ToLower(strings.TrimSpace(parts[len(parts)-1]))
	if !validKey(key) {
		return Accelerator{}, fmt.Errorf("unsupported key %q in %q", key, accel)
	}
	a.Key = key
	return a, nil
}

func validKey(key string) bool {
	switch {
	case key == "space", key == "return", key == "escape", key == "tab":
		return true
	case len(key) == 1 && (key[0] >= 'a' && key[0] <= 'z' || key[0] >= '0' && key[0] <= '9'):
		return true
	case len(key) >= 2 && key[0] == 'f':
		var n int
		if _, err := fmt.Sscanf(key[1:], "%d", &n); err == nil && n >= 1 && n <= 12 && fmt.Sprint(n) == key[1:] {
			return true
		}
	}
	return false
}
