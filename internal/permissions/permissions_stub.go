//go:build !darwin

package permissions

type openChecker struct{}

// System returns a checker that always grants: these platforms gate capture
// devices through file permissions, which surface as open errors instead.
func System() Checker {
	return openChecker{}
}

func (openChecker) Granted(Kind) bool { return true }

// Prompt is a no-op on non-macOS platforms.
func Prompt(Kind) {}
