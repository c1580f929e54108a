package camera

import (
	"errors"
	"fmt"
	"sync"
)

type fakeBackend struct {
	mu      sync.Mutex
	ids     []string
	sizes   []Resolution
	idErr   error
	openErr error
	// manual leaves Open pending until the test calls the callbacks itself.
	manual bool

	opens     int
	callbacks []DeviceCallbacks
	devices   []*fakeDevice
	newDevice func(id string) *fakeDevice
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		ids:   []string{"0", "1"},
		sizes: []Resolution{{640, 480}, {1280, 960}, {1920, 1440}},
	}
}

func (b *fakeBackend) CameraIDs() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ids, b.idErr
}

func (b *fakeBackend) StillSizes(string) ([]Resolution, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sizes, nil
}

func (b *fakeBackend) Open(id string, cb DeviceCallbacks) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opens++
	if b.openErr != nil {
		return b.openErr
	}
	b.callbacks = append(b.callbacks, cb)
	if b.manual {
		return nil
	}
	d := b.makeDevice(id)
	go cb.Opened(d)
	return nil
}

func (b *fakeBackend) makeDevice(id string) *fakeDevice {
	d := &fakeDevice{id: id}
	if b.newDevice != nil {
		d = b.newDevice(id)
	}
	b.devices = append(b.devices, d)
	return d
}

// device creates a device for manual tests.
func (b *fakeBackend) device(id string) *fakeDevice {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.makeDevice(id)
}

func (b *fakeBackend) lastCallbacks() DeviceCallbacks {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.callbacks[len(b.callbacks)-1]
}

func (b *fakeBackend) lastDevice() *fakeDevice {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.devices) == 0 {
		return nil
	}
	return b.devices[len(b.devices)-1]
}

func (b *fakeBackend) openCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens
}

type fakeDevice struct {
	id         string
	sinkErr    error
	sessionErr error

	mu       sync.Mutex
	closes   int
	sinkRes  Resolution
	sink     *fakeSink
	previews []*fakeSurface
	session  *fakeSession
	targets  []Surface
}

func (d *fakeDevice) ID() string { return d.id }

func (d *fakeDevice) NewStillSink(res Resolution, maxImages int) (StillSink, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sinkErr != nil {
		return nil, d.sinkErr
	}
	d.sinkRes = res
	d.sink = &fakeSink{fakeSurface: fakeSurface{name: "still"}, max: maxImages}
	return d.sink, nil
}

func (d *fakeDevice) NewPreview(index int) (Surface, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := &fakeSurface{name: fmt.Sprintf("preview-%d", index)}
	d.previews = append(d.previews, p)
	return p, nil
}

func (d *fakeDevice) CreateSession(targets []Surface, cb SessionCallbacks) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.targets = targets
	if d.sessionErr != nil {
		go cb.ConfigureFailed(d.sessionErr)
		return nil
	}
	d.session = &fakeSession{sink: d.sink}
	go cb.Configured(d.session)
	return nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	return nil
}

func (d *fakeDevice) closeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

func (d *fakeDevice) stillSink() *fakeSink {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sink
}

func (d *fakeDevice) currentSession() *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session
}

type fakeSurface struct {
	name     string
	mu       sync.Mutex
	releases int
}

func (s *fakeSurface) Name() string { return s.name }

func (s *fakeSurface) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases++
	return nil
}

func (s *fakeSurface) releaseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releases
}

type fakeSink struct {
	fakeSurface
	max      int
	frames   []*fakeFrame
	listener func()
}

func (s *fakeSink) SetOnFrameAvailable(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = fn
}

func (s *fakeSink) AcquireLatest() (Frame, error) {
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

// deliver queues a frame and fires the listener like a hardware callback.
func (s *fakeSink) deliver(f *fakeFrame) {
	s.mu.Lock()
	if len(s.frames) == s.max {
		s.frames = s.frames[1:]
	}
	s.frames = append(s.frames, f)
	fn := s.listener
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type fakeFrame struct {
	data   []byte
	mu     sync.Mutex
	closes int
}

func (f *fakeFrame) Bytes() []byte { return f.data }

func (f *fakeFrame) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

type fakeSession struct {
	sink       *fakeSink
	captureErr error

	mu        sync.Mutex
	repeating []Request
	captures  []Request
	closes    int
}

func (s *fakeSession) SetRepeating(req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repeating = append(s.repeating, req)
	return nil
}

func (s *fakeSession) Capture(req Request) error {
	s.mu.Lock()
	if s.captureErr != nil {
		s.mu.Unlock()
		return s.captureErr
	}
	s.captures = append(s.captures, req)
	s.mu.Unlock()

	go s.sink.deliver(&fakeFrame{data: []byte("jpeg")})
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSession) snapshot() (repeating, captures []Request, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.repeating...), append([]Request(nil), s.captures...), s.closes
}

var errBoom = errors.New("boom")
