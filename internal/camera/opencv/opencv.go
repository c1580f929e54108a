// Package opencv implements camera.Backend on OpenCV video capture devices.
package opencv

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/petems/tile-lens/internal/camera"
)

// probeSizes are asked of the driver; whatever it actually settles on is
// reported as supported.
var probeSizes = []camera.Resolution{
	{Width: 640, Height: 480},
	{Width: 1280, Height: 720},
	{Width: 1280, Height: 960},
	{Width: 1600, Height: 1200},
	{Width: 1920, Height: 1080},
	{Width: 1920, Height: 1440},
	{Width: 2592, Height: 1944},
	{Width: 3840, Height: 2160},
}

type Backend struct {
	log        zerolog.Logger
	maxDevices int
	// preferred is tried first when scanning.
	preferred int
}

// New returns a backend that scans up to five device indices, starting at
// preferred.
func New(log zerolog.Logger, preferred int) *Backend {
	return &Backend{log: log, maxDevices: 5, preferred: preferred}
}

func (b *Backend) CameraIDs() ([]string, error) {
	var ids []string
	for _, idx := range b.scanOrder() {
		vc, err := gocv.OpenVideoCapture(idx)
		if err != nil {
			continue
		}
		if vc.IsOpened() {
			ids = append(ids, strconv.Itoa(idx))
		}
		vc.Close()
	}
	return ids, nil
}

func (b *Backend) scanOrder() []int {
	order := []int{b.preferred}
	for i := 0; i < b.maxDevices; i++ {
		if i != b.preferred {
			order = append(order, i)
		}
	}
	return order
}

func (b *Backend) StillSizes(id string) ([]camera.Resolution, error) {
	idx, err := strconv.Atoi(id)
	if err != nil {
		return nil, fmt.Errorf("invalid camera id %q", id)
	}
	vc, err := gocv.OpenVideoCapture(idx)
	if err != nil {
		return nil, fmt.Errorf("error opening camera %s: %v", id, err)
	}
	defer vc.Close()

	var sizes []camera.Resolution
	seen := make(map[camera.Resolution]bool)
	for _, want := range probeSizes {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(want.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(want.Height))
		got := camera.Resolution{
			Width:  int(vc.Get(gocv.VideoCaptureFrameWidth)),
			Height: int(vc.Get(gocv.VideoCaptureFrameHeight)),
		}
		if got.Width <= 0 || got.Height <= 0 || seen[got] {
			continue
		}
		seen[got] = true
		sizes = append(sizes, got)
	}
	b.log.Debug().Str("camera", id).Interface("sizes", sizes).Msg("Probed still sizes")
	return sizes, nil
}

// Open opens the device on its own goroutine and reports through cb.
func (b *Backend) Open(id string, cb camera.DeviceCallbacks) error {
	idx, err := strconv.Atoi(id)
	if err != nil {
		return fmt.Errorf("invalid camera id %q", id)
	}

	go func() {
		vc, err := gocv.OpenVideoCapture(idx)
		if err != nil {
			cb.Error(nil, fmt.Errorf("error opening camera %s: %w", id, err))
			return
		}
		if !vc.IsOpened() {
			vc.Close()
			cb.Error(nil, fmt.Errorf("camera %s is not open", id))
			return
		}
		cb.Opened(&device{id: id, vc: vc, log: b.log, lost: cb.Disconnected})
	}()
	return nil
}

type device struct {
	id   string
	vc   *gocv.VideoCapture
	log  zerolog.Logger
	lost func(camera.Device)

	mu      sync.Mutex
	session *session
	closed  bool
}

func (d *device) ID() string { return d.id }

func (d *device) NewStillSink(res camera.Resolution, maxImages int) (camera.StillSink, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errors.New("device closed")
	}
	d.vc.Set(gocv.VideoCaptureFrameWidth, float64(res.Width))
	d.vc.Set(gocv.VideoCaptureFrameHeight, float64(res.Height))
	return newStillSink(maxImages), nil
}

func (d *device) NewPreview(index int) (camera.Surface, error) {
	return &window{name: fmt.Sprintf("tile-lens preview %d", index)}, nil
}

func (d *device) CreateSession(targets []camera.Surface, cb camera.SessionCallbacks) error {
	var (
		sink    *stillSink
		windows []*window
	)
	for _, t := range targets {
		switch t := t.(type) {
		case *stillSink:
			sink = t
		case *window:
			windows = append(windows, t)
		default:
			return fmt.Errorf("unsupported target %s", t.Name())
		}
	}

	go func() {
		d.mu.Lock()
		if d.closed || sink == nil {
			d.mu.Unlock()
			cb.ConfigureFailed(errors.New("device closed or no still target"))
			return
		}
		s := &session{device: d, sink: sink, windows: windows, stills: make(chan struct{}, 1)}
		d.session = s
		d.mu.Unlock()
		cb.Configured(s)
	}()
	return nil
}

func (d *device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	s := d.session
	d.session = nil
	d.mu.Unlock()

	if s != nil {
		s.Close()
	}
	return d.vc.Close()
}
