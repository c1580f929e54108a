package portaudio

import (
	"errors"
	"testing"

	pa "github.com/gordonklaus/portaudio"

	"github.com/petems/tile-lens/internal/capture"
)

func TestClassify(t *testing.T) {
	if err := classify(pa.InputOverflowed); !errors.Is(err, capture.ErrTransientRead) {
		t.Fatalf("expected overflow to be transient, got %v", err)
	}
	if err := classify(pa.StreamIsStopped); !capture.IsFatalRead(err) {
		t.Fatalf("expected stopped stream to be fatal, got %v", err)
	}
}
