package hotkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAccelerator(t *testing.T) {
	tests := []struct {
		in   string
		mods Modifier
		key  string
	}{
		{"Alt+Space", ModAlt, "space"},
		{"alt+p", ModAlt, "p"},
		{"Ctrl+Shift+F5", ModCtrl | ModShift, "f5"},
		{"Control+Option+Cmd+7", ModCtrl | ModAlt | ModSuper, "7"},
		{"Escape", 0, "escape"},
		{" Super + Return ", ModSuper, "return"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			a, err := ParseAccelerator(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.mods, a.Modifiers)
			assert.Equal(t, tt.key, a.Key)
		})
	}
}

func TestParseAcceleratorRejects(t *testing.T) {
	for _, in := range []string{"", "Alt+", "Hyper+Space", "Alt+PageUp", "F13", "F01", "Alt+ab"} {
		_, err := ParseAccelerator(in)
		assert.Error(t, err, in)
	}
}

func TestAcceleratorString(t *testing.T) {
	a, err := ParseAccelerator("shift+ctrl+space")
	require.NoError(t, err)
	assert.Equal(t, "Ctrl+Shift+Space", a.String())
}
