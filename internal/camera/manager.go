// Package camera owns the camera device lifecycle: open, settle, configure a
// still sink plus preview surfaces, stream preview, capture stills, close.
package camera

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/tile-lens/internal/capture"
	"github.com/petems/tile-lens/internal/metrics"
	"github.com/petems/tile-lens/internal/permissions"
)

const (
	// JPEGOrientation is the rotation hint attached to every still request.
	JPEGOrientation = 90
	stillMaxImages  = 2
)

type Config struct {
	Backend     Backend
	Permissions permissions.Checker
	// PreviewTargets is the number of preview surfaces bound to the session:
	// 0 for headless, 1 for a single display, 2 for a stereo pair.
	PreviewTargets int
	SettleDelay    time.Duration
	FPSMin         int
	FPSMax         int
	// OnFrame receives each still frame on the camera executor. It owns the
	// frame and must not block.
	OnFrame func(Frame)
	// OnError reports asynchronous failures (lost device, configuration
	// failure) on the camera executor. It must not block.
	OnError func(error)
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Snapshot is a read-only view of the camera state, safe to read from any
// goroutine.
type Snapshot struct {
	DeviceID   string
	Resolution Resolution
	// Open is true while a device handle is held.
	Open bool
	// Ready is true once the session and still sink are live.
	Ready bool
}

// Manager serializes every camera operation and callback onto one executor
// goroutine. Only that goroutine touches st.
type Manager struct {
	cfg  Config
	log  zerolog.Logger
	exec *executor
	snap atomic.Pointer[Snapshot]
	st   state
}

type state struct {
	// gen changes on every Open and Close; callbacks from older generations
	// are stale.
	gen      uint64
	res      Resolution
	device   Device
	session  Session
	sink     StillSink
	previews []Surface
	settle   *task
	// armed is the device a still capture was issued against.
	armed Device
}

func New(cfg Config) *Manager {
	if cfg.FPSMin <= 0 {
		cfg.FPSMin = 15
	}
	if cfg.FPSMax < cfg.FPSMin {
		cfg.FPSMax = 30
	}
	m := &Manager{
		cfg:  cfg,
		log:  cfg.Logger,
		exec: newExecutor(),
	}
	m.snap.Store(&Snapshot{})
	return m
}

// Snapshot returns the last published camera state.
func (m *Manager) Snapshot() Snapshot {
	return *m.snap.Load()
}

// Open picks the first camera, selects the still resolution closest to
// targetWidth x targetHeight and starts opening the device. The session is
// configured asynchronously once the device reports opened.
func (m *Manager) Open(targetWidth, targetHeight int) error {
	if err := permissions.Require(m.cfg.Permissions, permissions.Camera); err != nil {
		return err
	}
	return m.exec.do(func() error {
		if m.st.device != nil || !m.st.res.IsZero() {
			m.log.Warn().Msg("Camera already open, closing it first")
			m.cleanup()
		}
		m.st.gen++

		ids, err := m.cfg.Backend.CameraIDs()
		if err != nil {
			m.cfg.Metrics.CameraOpened("unavailable")
			return fmt.Errorf("failed to list cameras: %v: %w", err, capture.ErrDeviceUnavailable)
		}
		if len(ids) == 0 {
			m.cfg.Metrics.CameraOpened("unavailable")
			return fmt.Errorf("no cameras reported: %w", capture.ErrDeviceUnavailable)
		}
		id := ids[0]

		sizes, err := m.cfg.Backend.StillSizes(id)
		if err != nil {
			m.cfg.Metrics.CameraOpened("configuration_failed")
			return fmt.Errorf("failed to read sizes of camera %s: %v: %w", id, err, capture.ErrConfigurationFailed)
		}
		res, err := ChooseOptimal(sizes, targetWidth, targetHeight)
		if err != nil {
			m.cfg.Metrics.CameraOpened("configuration_failed")
			return fmt.Errorf("camera %s: %w", id, err)
		}
		m.st.res = res

		gen := m.st.gen
		err = m.cfg.Backend.Open(id, DeviceCallbacks{
			Opened: func(d Device) {
				if !m.exec.post(func() { m.onOpened(gen, d) }) {
					closeQuietly(m.log, d)
				}
			},
			Disconnected: func(d Device) {
				m.exec.post(func() { m.onLost(gen, d, nil) })
			},
			Error: func(d Device, err error) {
				m.exec.post(func() { m.onLost(gen, d, err) })
			},
		})
		if err != nil {
			m.st.res = Resolution{}
			m.cfg.Metrics.CameraOpened("unavailable")
			return fmt.Errorf("failed to open camera %s: %v: %w", id, err, capture.ErrDeviceUnavailable)
		}

		m.log.Info().Str("camera", id).Stringer("resolution", res).Msg("Opening camera")
		m.publish(id)
		return nil
	})
}

// Capture issues a single still capture. The frame arrives through OnFrame.
func (m *Manager) Capture() error {
	err := m.exec.do(func() error {
		if m.st.device == nil || m.st.session == nil || m.st.sink == nil {
			return capture.ErrNotReady
		}

		req := Request{
			Template:        TemplateStill,
			Targets:         append([]Surface{m.st.sink}, m.st.previews...),
			AutoExposure:    true,
			Focus:           FocusContinuousPicture,
			JPEGOrientation: JPEGOrientation,
		}
		m.st.armed = m.st.device
		if err := m.st.session.Capture(req); err != nil {
			m.st.armed = nil
			return fmt.Errorf("still capture failed: %w", err)
		}
		m.log.Debug().Msg("Still capture issued")
		return nil
	})
	if errors.Is(err, errExecutorStopped) {
		return capture.ErrNotReady
	}
	return err
}

// Close releases the session, device, still sink and previews, and forgets
// the resolution. It returns once everything is released. Idempotent.
func (m *Manager) Close() {
	_ = m.exec.do(func() error {
		m.st.gen++
		m.cleanup()
		return nil
	})
}

// Shutdown closes the camera and stops the executor. The Manager is unusable
// afterwards.
func (m *Manager) Shutdown() {
	m.Close()
	m.exec.stop()
}

func (m *Manager) onOpened(gen uint64, d Device) {
	if gen != m.st.gen || m.st.device != nil {
		m.log.Debug().Str("camera", d.ID()).Msg("Discarding stale camera open")
		closeQuietly(m.log, d)
		return
	}

	m.st.device = d
	m.publish(d.ID())
	m.st.settle = m.exec.schedule(m.cfg.SettleDelay, func() {
		m.st.settle = nil
		m.configure(d)
	})
}

// configure runs after the settle delay. d must still be the live handle.
func (m *Manager) configure(d Device) {
	if m.st.device != d {
		return
	}

	sink, err := d.NewStillSink(m.st.res, stillMaxImages)
	if err != nil {
		m.fail(fmt.Errorf("failed to create still sink: %v: %w", err, capture.ErrConfigurationFailed))
		return
	}
	m.st.sink = sink
	sink.SetOnFrameAvailable(func() {
		m.exec.post(func() { m.onFrameAvailable(d, sink) })
	})

	for i := 0; i < m.cfg.PreviewTargets; i++ {
		p, err := d.NewPreview(i)
		if err != nil {
			m.fail(fmt.Errorf("failed to create preview %d: %v: %w", i, err, capture.ErrConfigurationFailed))
			return
		}
		m.st.previews = append(m.st.previews, p)
	}

	targets := append([]Surface{sink}, m.st.previews...)
	err = d.CreateSession(targets, SessionCallbacks{
		Configured: func(s Session) {
			if !m.exec.post(func() { m.onConfigured(d, s) }) {
				closeQuietly(m.log, s)
			}
		},
		ConfigureFailed: func(err error) {
			m.exec.post(func() {
				if m.st.device == d {
					m.fail(fmt.Errorf("%v: %w", err, capture.ErrConfigurationFailed))
				}
			})
		},
	})
	if err != nil {
		m.fail(fmt.Errorf("failed to create session: %v: %w", err, capture.ErrConfigurationFailed))
	}
}

func (m *Manager) onConfigured(d Device, s Session) {
	if m.st.device != d || m.st.session != nil {
		closeQuietly(m.log, s)
		return
	}
	m.st.session = s

	err := s.SetRepeating(Request{
		Template:     TemplatePreview,
		Targets:      m.st.previews,
		AutoExposure: true,
		Focus:        FocusContinuousPicture,
		FPSMin:       m.cfg.FPSMin,
		FPSMax:       m.cfg.FPSMax,
	})
	if err != nil {
		m.fail(fmt.Errorf("failed to start preview: %v: %w", err, capture.ErrConfigurationFailed))
		return
	}

	m.cfg.Metrics.CameraOpened("success")
	m.publish(d.ID())
	m.log.Info().
		Str("camera", d.ID()).
		Stringer("resolution", m.st.res).
		Int("previews", len(m.st.previews)).
		Msg("Camera session started")
}

func (m *Manager) onFrameAvailable(d Device, sink StillSink) {
	if m.st.device != d || m.st.sink != sink || m.st.armed != d {
		m.log.Debug().Msg("Ignoring frame from a stale or unarmed camera")
		return
	}
	m.st.armed = nil

	frame, err := sink.AcquireLatest()
	if err != nil {
		m.log.Error().Err(err).Msg("Failed to acquire still frame")
		return
	}
	if frame == nil {
		return
	}
	if m.cfg.OnFrame == nil {
		closeQuietly(m.log, frame)
		return
	}
	m.cfg.OnFrame(frame)
}

func (m *Manager) onLost(gen uint64, d Device, cause error) {
	// Stale handles were already released by onOpened or cleanup.
	if gen != m.st.gen || (m.st.device != nil && m.st.device != d) {
		return
	}

	if m.st.device == nil && d != nil {
		closeQuietly(m.log, d)
	}
	if cause == nil {
		m.fail(fmt.Errorf("camera disconnected: %w", capture.ErrDeviceUnavailable))
		return
	}
	m.fail(fmt.Errorf("camera error: %v: %w", cause, capture.ErrDeviceUnavailable))
}

// fail tears down the current attempt. The caller may retry with Open.
func (m *Manager) fail(err error) {
	m.log.Error().Err(err).Msg("Camera failure")
	switch {
	case errors.Is(err, capture.ErrConfigurationFailed):
		m.cfg.Metrics.CameraOpened("configuration_failed")
	default:
		m.cfg.Metrics.CameraOpened("error")
	}
	m.st.gen++
	m.cleanup()
	if m.cfg.OnError != nil {
		m.cfg.OnError(err)
	}
}

func (m *Manager) cleanup() {
	if m.st.settle != nil {
		m.st.settle.cancel()
		m.st.settle = nil
	}
	if s := m.st.session; s != nil {
		m.st.session = nil
		closeQuietly(m.log, s)
	}
	if d := m.st.device; d != nil {
		m.st.device = nil
		closeQuietly(m.log, d)
	}
	if k := m.st.sink; k != nil {
		m.st.sink = nil
		releaseQuietly(m.log, k)
	}
	for _, p := range m.st.previews {
		releaseQuietly(m.log, p)
	}
	m.st.previews = nil
	m.st.armed = nil
	m.st.res = Resolution{}
	m.publish("")
}

func (m *Manager) publish(id string) {
	if id == "" && m.st.device != nil {
		id = m.st.device.ID()
	}
	m.snap.Store(&Snapshot{
		DeviceID:   id,
		Resolution: m.st.res,
		Open:       m.st.device != nil,
		Ready:      m.st.device != nil && m.st.session != nil && m.st.sink != nil,
	})
}

type closer interface{ Close() error }

func closeQuietly(log zerolog.Logger, c closer) {
	if err := c.Close(); err != nil {
		log.Warn().Err(err).Msg("Camera release failed")
	}
}

func releaseQuietly(log zerolog.Logger, s Surface) {
	if err := s.Release(); err != nil {
		log.Warn().Err(err).Str("surface", s.Name()).Msg("Surface release failed")
	}
}
