package opencv

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/petems/tile-lens/internal/camera"
)

// session streams frames on one OS-locked goroutine. HighGUI windows must be
// created, drawn and destroyed on the goroutine that pumps them.
type session struct {
	device  *device
	sink    *stillSink
	windows []*window
	stills  chan struct{}

	mu      sync.Mutex
	running bool
	quit    chan struct{}
	done    chan struct{}
}

func (s *session) SetRepeating(req camera.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("session already streaming")
	}

	fps := req.FPSMax
	if fps <= 0 {
		fps = 30
	}
	s.device.vc.Set(gocv.VideoCaptureFPS, float64(fps))

	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true
	go s.loop(time.Second/time.Duration(fps), s.quit, s.done)
	return nil
}

func (s *session) Capture(req camera.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return errors.New("session not streaming")
	}
	// No EXIF is written; the rotation hint is left to the photo pipeline.
	s.device.log.Debug().Int("orientation", req.JPEGOrientation).Msg("Still requested")
	select {
	case s.stills <- struct{}{}:
	default:
	}
	return nil
}

func (s *session) Close() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.quit)
	done := s.done
	s.mu.Unlock()

	<-done
	return nil
}

func (s *session) loop(interval time.Duration, quit, done chan struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(done)

	img := gocv.NewMat()
	defer img.Close()

	shown := make([]*gocv.Window, len(s.windows))
	defer func() {
		for _, w := range shown {
			if w != nil {
				w.Close()
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	misses := 0
	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
		}

		if ok := s.device.vc.Read(&img); !ok || img.Empty() {
			misses++
			if misses == 30 {
				s.device.log.Error().Str("camera", s.device.id).Msg("Camera stopped delivering frames")
				go s.device.lost(s.device)
				return
			}
			continue
		}
		misses = 0

		for i, w := range s.windows {
			if w.isReleased() {
				continue
			}
			if shown[i] == nil {
				shown[i] = gocv.NewWindow(w.name)
			}
			shown[i].IMShow(img)
		}
		if w := firstShown(shown); w != nil {
			w.WaitKey(1)
		}

		select {
		case <-s.stills:
			if err := s.deliverStill(img); err != nil {
				s.device.log.Error().Err(err).Msg("Failed to encode still")
			}
		default:
		}
	}
}

// firstShown returns the first window that has been drawn, if any. Windows
// released before their first frame are never created.
func firstShown(shown []*gocv.Window) *gocv.Window {
	for _, w := range shown {
		if w != nil {
			return w
		}
	}
	return nil
}

func (s *session) deliverStill(img gocv.Mat) error {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	s.sink.deliver(&frame{buf: buf})
	return nil
}
