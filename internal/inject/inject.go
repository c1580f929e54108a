// Package inject hands result text to the user through the system clipboard.
package inject

import (
	"context"
	"fmt"
	"sync"

	"github.com/atotto/clipboard"
	"github.com/rs/zerolog"
)

// Clipboard is the subset of the clipboard the sharer needs.
type Clipboard interface {
	ReadAll() (string, error)
	WriteAll(text string) error
}

type systemClipboard struct{}

func (systemClipboard) ReadAll() (string, error) { return clipboard.ReadAll() }
func (systemClipboard) WriteAll(text string) error { return clipboard.WriteAll(text) }

// Sharer copies analysis and transcript text to the clipboard.
type Sharer struct {
	clip Clipboard
	log  zerolog.Logger

	mu   sync.Mutex
	last string
}

// New returns a Sharer on the system clipboard, or nil when no clipboard
// utility is available (xclip, xsel or wl-copy on Linux).
func New(log zerolog.Logger) *Sharer {
	if clipboard.Unsupported {
		log.Warn().Msg("No clipboard utility found, results will not be copied")
		return nil
	}
	return NewWithClipboard(systemClipboard{}, log)
}

func NewWithClipboard(clip Clipboard, log zerolog.Logger) *Sharer {
	return &Sharer{clip: clip, log: log}
}

// Share writes text to the clipboard. Empty text and a repeat of the last
// shared text are skipped so a user's own copy is not clobbered twice.
func (s *Sharer) Share(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if text == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if text == s.last {
		if current, err := s.clip.ReadAll(); err == nil && current == text {
			return nil
		}
	}
	if err := s.clip.WriteAll(text); err != nil {
		return fmt.Errorf("failed to write clipboard: %w", err)
	}
	s.last = text
	s.log.Debug().Int("chars", len(text)).Msg("Result copied to clipboard")
	return nil
}
