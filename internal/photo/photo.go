// Package photo turns a still frame into the cropped, upright JPEG that is
// sent for hand analysis.
package photo

import (
	"bytes"
	"fmt"
	"image"
	"os"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"github.com/petems/tile-lens/internal/camera"
	"github.com/petems/tile-lens/internal/capture"
	"github.com/petems/tile-lens/internal/metrics"
)

const (
	jpegQuality = 100
	nameLayout  = "2006-01-02-15-04-05"
)

// Artifact is a JPEG written by the pipeline.
type Artifact struct {
	Path   string
	Width  int
	Height int
}

type Config struct {
	Dir      string
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
	OnSaved  func(Artifact)
	OnFailed func(error)
}

// Pipeline is safe for concurrent use; each Process call handles one frame.
type Pipeline struct {
	cfg Config
	log zerolog.Logger

	mu      sync.Mutex
	current Artifact
	has     bool
}

func New(cfg Config) *Pipeline {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pipeline{cfg: cfg, log: cfg.Logger}
}

// Current returns the most recently saved photo.
func (p *Pipeline) Current() (Artifact, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, p.has
}

// Process copies the frame's bytes, releases the frame, then decodes,
// rotates 90° clockwise, keeps the bottom half and writes a JPEG. A nil frame
// is ignored.
func (p *Pipeline) Process(f camera.Frame) (Artifact, error) {
	if f == nil {
		return Artifact{}, nil
	}
	data := copyAndRelease(f, p.log)

	artifact, err := p.process(data)
	if err != nil {
		p.log.Error().Err(err).Msg("Photo processing failed")
		if se, ok := err.(*capture.StageError); ok {
			p.cfg.Metrics.PhotoFailed(string(se.Stage))
		}
		if p.cfg.OnFailed != nil {
			p.cfg.OnFailed(err)
		}
		return Artifact{}, err
	}

	p.mu.Lock()
	p.current = artifact
	p.has = true
	p.mu.Unlock()

	p.cfg.Metrics.PhotoSaved()
	p.log.Info().Str("path", artifact.Path).Int("width", artifact.Width).Int("height", artifact.Height).Msg("Photo saved")
	if p.cfg.OnSaved != nil {
		p.cfg.OnSaved(artifact)
	}
	return artifact, nil
}

func (p *Pipeline) process(data []byte) (Artifact, error) {
	var img image.Image

	err := stage(capture.StageDecode, func() error {
		var err error
		img, err = imaging.Decode(bytes.NewReader(data))
		return err
	})
	if err != nil {
		return Artifact{}, err
	}

	err = stage(capture.StageRotate, func() error {
		img = imaging.Rotate270(img)
		return nil
	})
	if err != nil {
		return Artifact{}, err
	}

	err = stage(capture.StageCrop, func() error {
		b := img.Bounds()
		y, h := CropBounds(b.Dy())
		if h == 0 || b.Dx() == 0 {
			return fmt.Errorf("nothing left to keep from %dx%d", b.Dx(), b.Dy())
		}
		img = imaging.Crop(img, image.Rect(b.Min.X, b.Min.Y+y, b.Max.X, b.Min.Y+y+h))
		return nil
	})
	if err != nil {
		return Artifact{}, err
	}

	var encoded bytes.Buffer
	err = stage(capture.StageEncode, func() error {
		return imaging.Encode(&encoded, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality))
	})
	if err != nil {
		return Artifact{}, err
	}

	name := capture.Stamp(p.cfg.Now(), nameLayout, "-")
	path := capture.UniquePath(p.cfg.Dir, name, ".jpg")
	err = stage(capture.StageWrite, func() error {
		return capture.WriteFileAtomic(path, func(out *os.File) error {
			_, err := out.Write(encoded.Bytes())
			return err
		})
	})
	if err != nil {
		return Artifact{}, err
	}

	return Artifact{Path: path, Width: img.Bounds().Dx(), Height: img.Bounds().Dy()}, nil
}

// CropBounds returns the top and height of the bottom half of an image h
// pixels tall. top+height never exceeds h.
func CropBounds(h int) (top, height int) {
	if h <= 0 {
		return 0, 0
	}
	top = min(max(int(float64(h)*0.5), 0), h)
	height = min(int(float64(h)*0.5), h-top)
	return top, height
}

// stage runs fn and attributes any error or panic to s.
func stage(s capture.Stage, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &capture.StageError{Stage: s, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := fn(); err != nil {
		return &capture.StageError{Stage: s, Err: err}
	}
	return nil
}

// copyAndRelease copies the encoded bytes out and closes the frame exactly
// once, even if reading the bytes panics.
func copyAndRelease(f camera.Frame, log zerolog.Logger) []byte {
	defer func() {
		if err := f.Close(); err != nil {
			log.Warn().Err(err).Msg("Frame release failed")
		}
	}()
	src := f.Bytes()
	data := make([]byte, len(src))
	copy(data, src)
	return data
}
