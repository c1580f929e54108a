// Package permissions answers, synchronously, whether the OS currently lets
// this process use the camera or the microphone. The request/grant UI flow
// belongs to the OS; callers only ever check before touching hardware.
package permissions

import (
	"fmt"

	"github.com/petems/tile-lens/internal/capture"
)

// Kind identifies a capture permission.
type Kind int

const (
	Camera Kind = iota
	Microphone
)

func (k Kind) String() string {
	switch k {
	case Camera:
		return "camera"
	case Microphone:
		return "microphone"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Checker reports the current grant state. Implementations must not block on
// user interaction.
type Checker interface {
	Granted(k Kind) bool
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(k Kind) bool

func (f CheckerFunc) Granted(k Kind) bool { return f(k) }

// Require returns capture.ErrPermissionDenied when k is not granted.
func Require(c Checker, k Kind) error {
	if c == nil || !c.Granted(k) {
		return fmt.Errorf("%s: %w", k, capture.ErrPermissionDenied)
	}
	return nil
}
