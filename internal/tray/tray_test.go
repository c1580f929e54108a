package tray

import (
	"testing"

	"github.com/petems/tile-lens/internal/app"
	"github.com/petems/tile-lens/internal/config"
	"github.com/petems/tile-lens/internal/upload"
)

func TestVisibleActions(t *testing.T) {
	tests := []struct {
		name    string
		mode    app.Mode
		visible []app.Action
		hidden  []app.Action
	}{
		{
			name:    "idle",
			mode:    app.Idle,
			visible: []app.Action{app.StartSession},
			hidden:  []app.Action{app.EndSession, app.OpenCamera, app.Shutter, app.RecordPress},
		},
		{
			name:    "active",
			mode:    app.Active,
			visible: []app.Action{app.EndSession, app.OpenCamera, app.RecordPress},
			hidden:  []app.Action{app.StartSession, app.Shutter, app.SendPhoto},
		},
		{
			name:    "camera preview",
			mode:    app.CameraPreview,
			visible: []app.Action{app.Shutter, app.CancelCamera},
			hidden:  []app.Action{app.EndSession, app.RecordPress, app.Retake},
		},
		{
			name:    "photo review",
			mode:    app.PhotoReview,
			visible: []app.Action{app.SendPhoto, app.Retake},
			hidden:  []app.Action{app.Shutter, app.CancelCamera, app.RecordPress},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			visible := visibleActions(tt.mode)
			for _, act := range tt.visible {
				if !visible[act] {
					t.Errorf("expected %s to be visible in %s", act, tt.mode)
				}
			}
			for _, act := range tt.hidden {
				if visible[act] {
					t.Errorf("expected %s to be hidden in %s", act, tt.mode)
				}
			}
		})
	}
}

func TestEmojiForStatus(t *testing.T) {
	tests := []struct {
		mode      app.Mode
		recording bool
		expected  string
	}{
		{app.Idle, false, "⚪️"},
		{app.Active, false, "🟢"},
		{app.Active, true, "🔴"},
		{app.CameraPreview, false, "📷"},
		{app.PhotoReview, false, "🖼️"},
	}

	for _, tt := range tests {
		if got := emojiForStatus(tt.mode, tt.recording); got != tt.expected {
			t.Errorf("emojiForStatus(%s, %v) = %s, want %s", tt.mode, tt.recording, got, tt.expected)
		}
	}
}

func TestModeTitle(t *testing.T) {
	if got := modeTitle(config.ModeToggle); got != "Mode: Toggle" {
		t.Errorf("unexpected title %q", got)
	}
	if got := modeTitle(config.ModePushToTalk); got != "Mode: Push-to-Talk" {
		t.Errorf("unexpected title %q", got)
	}
}

func TestFormatHand(t *testing.T) {
	tests := []struct {
		name     string
		res      *upload.HandAnalysis
		expected string
	}{
		{"nil", nil, ""},
		{
			name:     "full",
			res:      &upload.HandAnalysis{UserHand: []string{"1m", "2m"}, MeldedTiles: []string{"5p"}, SuggestedPlay: "discard 2m"},
			expected: "Hand: 1m 2m | Melds: 5p | Play: discard 2m",
		},
		{
			name:     "play only",
			res:      &upload.HandAnalysis{SuggestedPlay: "riichi"},
			expected: "Play: riichi",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatHand(tt.res); got != tt.expected {
				t.Errorf("formatHand() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestFormatTranscript(t *testing.T) {
	if got := formatTranscript(&upload.AudioResult{}); got != "" {
		t.Errorf("expected empty transcript to format as empty, got %q", got)
	}
	got := formatTranscript(&upload.AudioResult{Transcript: "pon", Events: []map[string]any{{"type": "pon"}}})
	if got != "Heard: pon (1 events)" {
		t.Errorf("unexpected %q", got)
	}
}

func TestAboutText(t *testing.T) {
	got := aboutText("1.2.0", "abc123")
	want := "tile-lens 1.2.0 (abc123) - tile capture assistant"
	if got != want {
		t.Errorf("aboutText() = %q, want %q", got, want)
	}
}
