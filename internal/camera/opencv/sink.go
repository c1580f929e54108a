package opencv

import (
	"sync"

	"gocv.io/x/gocv"

	"github.com/petems/tile-lens/internal/camera"
)

type stillSink struct {
	max int

	mu       sync.Mutex
	frames   []*frame
	listener func()
	released bool
}

func newStillSink(maxImages int) *stillSink {
	if maxImages < 1 {
		maxImages = 1
	}
	return &stillSink{max: maxImages}
}

func (s *stillSink) Name() string { return "still" }

func (s *stillSink) SetOnFrameAvailable(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = fn
}

func (s *stillSink) AcquireLatest() (camera.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil, nil
	}
	latest := s.frames[len(s.frames)-1]
	for _, f := range s.frames[:len(s.frames)-1] {
		f.Close()
	}
	s.frames = nil
	return latest, nil
}

func (s *stillSink) deliver(f *frame) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		f.Close()
		return
	}
	if len(s.frames) == s.max {
		s.frames[0].Close()
		s.frames = s.frames[1:]
	}
	s.frames = append(s.frames, f)
	fn := s.listener
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (s *stillSink) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	for _, f := range s.frames {
		f.Close()
	}
	s.frames = nil
	s.listener = nil
	return nil
}

// frame owns a native JPEG buffer until Close.
type frame struct {
	buf  *gocv.NativeByteBuffer
	once sync.Once
}

func (f *frame) Bytes() []byte { return f.buf.GetBytes() }

func (f *frame) Close() error {
	f.once.Do(f.buf.Close)
	return nil
}

// window is a preview surface drawn by the session goroutine.
type window struct {
	name     string
	mu       sync.Mutex
	released bool
}

func (w *window) Name() string { return w.name }

func (w *window) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.released = true
	return nil
}

func (w *window) isReleased() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.released
}
