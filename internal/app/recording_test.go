package app

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petems/tile-lens/internal/audio"
	"github.com/petems/tile-lens/internal/capture"
	"github.com/petems/tile-lens/internal/config"
	"github.com/petems/tile-lens/internal/permissions"
	"github.com/petems/tile-lens/internal/recorder"
)

// pcmInput hands out the queued reads, then blocks until stopped. With fail
// set, the read after the queue reports a fatal error instead of blocking.
type pcmInput struct {
	mu    sync.Mutex
	reads []int
	fail  bool

	once    sync.Once
	stopped chan struct{}
}

func newPCMInput(reads ...int) *pcmInput {
	return &pcmInput{reads: reads, stopped: make(chan struct{})}
}

func (in *pcmInput) Start() error { return nil }

func (in *pcmInput) Read(p []byte) (int, error) {
	in.mu.Lock()
	if len(in.reads) > 0 {
		n := in.reads[0]
		in.reads = in.reads[1:]
		in.mu.Unlock()
		return n, nil
	}
	fail := in.fail
	in.mu.Unlock()

	if !fail {
		<-in.stopped
	}
	return 0, fmt.Errorf("stream gone: %w", capture.ErrFatalRead)
}

func (in *pcmInput) Stop() error {
	in.once.Do(func() { close(in.stopped) })
	return nil
}

func (in *pcmInput) Close() error { return nil }

type pcmOpener struct {
	mu     sync.Mutex
	inputs []*pcmInput
}

// MinBufferSize covers the largest queued read.
func (o *pcmOpener) MinBufferSize(audio.Format) int { return 16000 }

func (o *pcmOpener) Open(string, audio.Format, int) (audio.Input, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	in := o.inputs[0]
	o.inputs = o.inputs[1:]
	return in, nil
}

func (o *pcmOpener) ListDevices() ([]audio.Device, error) { return nil, nil }
func (o *pcmOpener) Close() error                          { return nil }

// newRecordingHarness wires the app to a real chunker so final chunks are
// flushed from inside the app's handlers.
func newRecordingHarness(t *testing.T, inputs ...*pcmInput) *harness {
	t.Helper()
	h := newHarness(t, config.ModePushToTalk)

	var application *App
	chunker := recorder.New(recorder.Config{
		Opener:       &pcmOpener{inputs: inputs},
		Permissions:  permissions.CheckerFunc(func(permissions.Kind) bool { return true }),
		ChunkSeconds: 1,
		Dir:          t.TempDir(),
		OnChunk:      func(a recorder.Artifact) { application.HandleChunk(a) },
		OnFailed:     func(err error) { application.HandleRecorderFailure(err) },
		Logger:       zerolog.Nop(),
		JoinTimeout:  time.Second,
	})
	application = New(Config{
		Camera:        h.cam,
		Recorder:      chunker,
		Photos:        h.photos,
		Service:       h.svc,
		Config:        h.app.cfg,
		Logger:        zerolog.Nop(),
		StatusUpdater: h.status,
		NewSessionID:  func() string { return "session-rec" },
	})
	h.app = application
	return h
}

// dispatchWithin fails the test instead of hanging when a handler never returns.
func (h *harness) dispatchWithin(t *testing.T, act Action) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- h.app.Dispatch(act) }()
	select {
	case err := <-done:
		require.NoError(t, err, act.String())
	case <-time.After(3 * time.Second):
		t.Fatalf("%s did not return", act)
	}
}

func audioCalls(h *harness) []string {
	calls, _ := h.svc.snapshot()
	var out []string
	for _, c := range calls {
		if len(c) > 6 && c[:6] == "audio:" {
			out = append(out, c)
		}
	}
	return out
}

func TestRecordReleaseUploadsPartialChunk(t *testing.T) {
	h := newRecordingHarness(t, newPCMInput(8000))
	h.dispatchWithin(t, StartSession)
	h.dispatchWithin(t, RecordPress)
	require.True(t, h.app.IsRecording())

	// let the capture goroutine buffer the partial chunk
	time.Sleep(50 * time.Millisecond)
	h.dispatchWithin(t, RecordRelease)
	h.waitIdle()

	assert.False(t, h.app.IsRecording())
	require.Len(t, audioCalls(h), 1)
	_, sessions := h.svc.snapshot()
	assert.Contains(t, sessions, "session-rec")
}

func TestLeavingActiveWhileRecordingUploadsFinalChunk(t *testing.T) {
	tests := []struct {
		name string
		act  Action
	}{
		{"end session", EndSession},
		{"open camera", OpenCamera},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newRecordingHarness(t, newPCMInput(8000))
			h.dispatchWithin(t, StartSession)
			h.dispatchWithin(t, RecordPress)
			time.Sleep(50 * time.Millisecond)

			h.dispatchWithin(t, tt.act)
			h.waitIdle()

			assert.False(t, h.app.IsRecording())
			require.Len(t, audioCalls(h), 1)
			_, sessions := h.svc.snapshot()
			for _, s := range sessions {
				assert.Equal(t, "session-rec", s, "the final chunk belongs to the session it was recorded in")
			}
		})
	}
}

func TestFullChunkDuringReleaseIsNotLost(t *testing.T) {
	// one full chunk flushed by the capture goroutine, then a partial one
	h := newRecordingHarness(t, newPCMInput(16000, 16000, 8000))
	h.dispatchWithin(t, StartSession)
	h.dispatchWithin(t, RecordPress)
	time.Sleep(50 * time.Millisecond)

	h.dispatchWithin(t, RecordRelease)
	h.waitIdle()

	assert.Len(t, audioCalls(h), 2)
}

func TestFatalReadClearsRecordingState(t *testing.T) {
	in := newPCMInput(8000)
	in.fail = true
	h := newRecordingHarness(t, in, newPCMInput())
	h.dispatchWithin(t, StartSession)
	h.dispatchWithin(t, RecordPress)

	require.Eventually(t, func() bool { return !h.app.IsRecording() }, time.Second, 5*time.Millisecond)
	h.waitIdle()

	h.status.mu.Lock()
	require.NotEmpty(t, h.status.recording)
	assert.False(t, h.status.recording[len(h.status.recording)-1])
	require.NotEmpty(t, h.status.messages)
	assert.Contains(t, h.status.messages[len(h.status.messages)-1], "Recording stopped")
	h.status.mu.Unlock()

	// a new press records again and the failed recording's audio is uploaded
	h.dispatchWithin(t, RecordPress)
	assert.True(t, h.app.IsRecording())
	h.dispatchWithin(t, RecordRelease)
	h.waitIdle()
	assert.Len(t, audioCalls(h), 1)
}
