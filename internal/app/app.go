package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/petems/tile-lens/internal/audio"
	"github.com/petems/tile-lens/internal/camera"
	"github.com/petems/tile-lens/internal/config"
	"github.com/petems/tile-lens/internal/metrics"
	"github.com/petems/tile-lens/internal/photo"
	"github.com/petems/tile-lens/internal/recorder"
	"github.com/petems/tile-lens/internal/upload"
)

// StatusUpdater is an interface for presenting state (e.g., tray icon and menu)
type StatusUpdater interface {
	SetMode(m Mode)
	SetRecording(on bool)
	ShowMessage(msg string)
	ShutterEffect()
	ShowHand(res *upload.HandAnalysis)
	ShowTranscript(res *upload.AudioResult)
}

// Camera is the part of camera.Manager the state machine drives.
type Camera interface {
	Open(targetWidth, targetHeight int) error
	Capture() error
	Close()
	Snapshot() camera.Snapshot
}

// Recorder is the part of recorder.Chunker the state machine drives.
type Recorder interface {
	Start() error
	Stop() error
	IsRecording() bool
	SetDevice(id string)
}

// Photos turns still frames into photo artifacts.
type Photos interface {
	Process(f camera.Frame) (photo.Artifact, error)
	Current() (photo.Artifact, bool)
}

// Sharer publishes result text somewhere the user can paste it from.
type Sharer interface {
	Share(ctx context.Context, text string) error
}

type Config struct {
	Camera        Camera
	Recorder      Recorder
	Photos        Photos
	Service       upload.Service
	Inputs        audio.Opener // Optional - used to list microphones
	Sharer        Sharer       // Optional - can be nil
	Config        *config.Config
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
	StatusUpdater StatusUpdater // Optional - can be nil
	NewSessionID  func() string
}

// App is the capture state machine. It owns the current Mode and commands the
// camera and recorder; it never holds hardware objects itself.
type App struct {
	cam      Camera
	rec      Recorder
	photos   Photos
	svc      upload.Service
	inputs   audio.Opener
	share    Sharer
	cfg      *config.Config
	log      zerolog.Logger
	metrics  *metrics.Metrics
	status   StatusUpdater
	newID    func() string
	inflight *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// session holds the current session id. It is written under mu but read
	// without it, because recorder callbacks run while a handler holds mu.
	session atomic.Value

	mu   sync.Mutex
	mode Mode
}

func New(cfg Config) *App {
	if cfg.NewSessionID == nil {
		cfg.NewSessionID = uuid.NewString
	}
	maxInFlight := int64(cfg.Config.Server.MaxInFlight)
	if maxInFlight <= 0 {
		maxInFlight = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		cam:      cfg.Camera,
		rec:      cfg.Recorder,
		photos:   cfg.Photos,
		svc:      cfg.Service,
		inputs:   cfg.Inputs,
		share:    cfg.Sharer,
		cfg:      cfg.Config,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		status:   cfg.StatusUpdater,
		newID:    cfg.NewSessionID,
		inflight: semaphore.NewWeighted(maxInFlight),
		ctx:      ctx,
		cancel:   cancel,
		mode:     Idle,
	}
	a.session.Store("")
	a.metrics.SetMode(Idle.String(), modeNames())
	return a
}

// SetStatusUpdater sets the presenter (for circular dependency resolution)
func (a *App) SetStatusUpdater(s StatusUpdater) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = s
}

func (a *App) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

func (a *App) SessionID() string {
	return a.session.Load().(string)
}

// Dispatch runs the handler for act in the current mode. Actions that have no
// handler in the current mode are ignored.
func (a *App) Dispatch(act Action) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	handler, ok := actions[a.mode][act]
	if !ok {
		a.log.Debug().Stringer("action", act).Stringer("mode", a.mode).Msg("Action not available")
		return nil
	}
	a.log.Debug().Stringer("action", act).Stringer("mode", a.mode).Msg("Action")

	err := handler(a)
	if err != nil {
		a.log.Error().Err(err).Stringer("action", act).Msg("Action failed")
		a.messageLocked(describe(act, err))
	}
	return err
}

// OnHotkey maps the record key to RecordPress/RecordRelease.
func (a *App) OnHotkey(pressed bool) {
	act := RecordRelease
	if pressed {
		act = RecordPress
	}
	_ = a.Dispatch(act)
}

// OnShutterKey advances the photo flow: open the camera, take the photo, send it.
func (a *App) OnShutterKey() {
	var act Action
	switch a.Mode() {
	case Idle:
		return
	case Active:
		act = OpenCamera
	case CameraPreview:
		act = Shutter
	case PhotoReview:
		act = SendPhoto
	}
	_ = a.Dispatch(act)
}

// transitionLocked moves to the next mode. Resources the next mode does not
// allow are released before the mode changes.
func (a *App) transitionLocked(to Mode) error {
	from := a.mode
	if from == to {
		return nil
	}
	if !transitions[from][to] {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}

	if (from == CameraPreview && to != PhotoReview) || from == PhotoReview {
		a.cam.Close()
	}
	if !policies[to].audio && a.rec.IsRecording() {
		if err := a.rec.Stop(); err != nil {
			a.log.Warn().Err(err).Msg("Recorder stop failed")
		}
		a.recordingChangedLocked()
	}

	if to == CameraPreview {
		if err := a.cam.Open(a.cfg.Camera.TargetWidth, a.cfg.Camera.TargetHeight); err != nil {
			a.setModeLocked(Active)
			return fmt.Errorf("failed to open camera: %w", err)
		}
	}

	a.setModeLocked(to)
	return nil
}

func (a *App) setModeLocked(m Mode) {
	if a.mode == m {
		return
	}
	a.log.Info().Stringer("from", a.mode).Stringer("to", m).Msg("Mode changed")
	a.mode = m
	a.metrics.SetMode(m.String(), modeNames())
	if a.status != nil {
		a.status.SetMode(m)
	}
}

func (a *App) recordingChangedLocked() {
	if a.status != nil {
		a.status.SetRecording(a.rec.IsRecording())
	}
}

func (a *App) messageLocked(msg string) {
	if a.status != nil {
		a.status.ShowMessage(msg)
	}
}

// HandleFrame runs the photo pipeline for a still frame off the camera
// executor. It is the camera.Config.OnFrame hook.
func (a *App) HandleFrame(f camera.Frame) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		artifact, err := a.photos.Process(f)
		if err != nil {
			a.mu.Lock()
			a.messageLocked("Photo failed: " + err.Error())
			a.mu.Unlock()
			return
		}
		if artifact.Path != "" {
			a.photoReady(artifact)
		}
	}()
}

func (a *App) photoReady(artifact photo.Artifact) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.mode != CameraPreview {
		a.log.Debug().Str("path", artifact.Path).Stringer("mode", a.mode).Msg("Photo arrived outside preview")
		return
	}
	if a.status != nil {
		a.status.ShutterEffect()
	}
	if err := a.transitionLocked(PhotoReview); err != nil {
		a.log.Error().Err(err).Msg("Failed to enter photo review")
	}
}

// HandleCameraError is the camera.Config.OnError hook. It runs on the camera
// executor, so the transition happens on another goroutine.
func (a *App) HandleCameraError(err error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.mu.Lock()
		defer a.mu.Unlock()

		a.messageLocked("Camera failed: " + err.Error())
		if a.mode == CameraPreview || a.mode == PhotoReview {
			if err := a.transitionLocked(Active); err != nil {
				a.log.Error().Err(err).Msg("Failed to leave camera mode")
			}
		}
	}()
}

// HandleChunk uploads a finished audio chunk. It is the recorder.Config.OnChunk
// hook. It runs on the capture goroutine, or inside a handler that is stopping
// the recorder with mu held, so it must not take mu.
func (a *App) HandleChunk(chunk recorder.Artifact) {
	sessionID := a.SessionID()
	if sessionID == "" {
		a.log.Warn().Str("path", chunk.Path).Msg("Audio chunk outside a session, not uploading")
		return
	}
	a.uploadAsync("audio", func(ctx context.Context) error {
		res, err := a.svc.ProcessAudio(ctx, chunk.Path, sessionID)
		if err != nil {
			return err
		}
		a.present(func(s StatusUpdater) { s.ShowTranscript(res) })
		if res.Transcript != "" {
			a.shareResult(ctx, res.Transcript)
		}
		return nil
	})
}

// HandleRecorderFailure is the recorder.Config.OnFailed hook. It runs on the
// capture goroutine, so the status update happens on another goroutine.
func (a *App) HandleRecorderFailure(err error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.mu.Lock()
		defer a.mu.Unlock()
		a.messageLocked("Recording stopped: " + err.Error())
		a.recordingChangedLocked()
	}()
}

// uploadAsync runs fn on its own goroutine, bounded by the in-flight limit.
// Failures are shown once and never retried.
func (a *App) uploadAsync(kind string, fn func(ctx context.Context) error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.inflight.Acquire(a.ctx, 1); err != nil {
			return
		}
		defer a.inflight.Release(1)

		err := fn(a.ctx)
		a.metrics.Upload(kind, err)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Error().Err(err).Str("kind", kind).Msg("Upload failed")
			a.present(func(s StatusUpdater) { s.ShowMessage(fmt.Sprintf("Upload failed (%s): %v", kind, err)) })
		}
	}()
}

func (a *App) present(fn func(StatusUpdater)) {
	a.mu.Lock()
	s := a.status
	a.mu.Unlock()
	if s != nil {
		fn(s)
	}
}

func (a *App) shareResult(ctx context.Context, text string) {
	if a.share == nil || !a.cfg.CopyResults {
		return
	}
	if err := a.share.Share(ctx, text); err != nil {
		a.log.Warn().Err(err).Msg("Failed to share result")
	}
}

// Shutdown leaves any session, releases hardware and waits for in-flight
// uploads until ctx expires.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if a.mode != Idle {
		if a.mode == CameraPreview || a.mode == PhotoReview {
			_ = a.transitionLocked(Active)
		}
		if err := a.endSessionLocked(); err != nil {
			a.log.Error().Err(err).Msg("Failed to end session")
		}
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("uploads still in flight: %w", ctx.Err())
	}
	a.cancel()
	return err
}

// Tray actions

func (a *App) SetRecordMode(mode string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if mode != config.ModePushToTalk && mode != config.ModeToggle {
		return fmt.Errorf("unknown record mode %q", mode)
	}
	a.cfg.Hotkeys.Mode = mode
	return a.cfg.Save()
}

func (a *App) SetDevice(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.rec.IsRecording() {
		return fmt.Errorf("cannot change while recording")
	}

	a.rec.SetDevice(id)
	a.cfg.Audio.DeviceID = id
	return a.cfg.Save()
}

func (a *App) IsRecording() bool {
	return a.rec.IsRecording()
}

func (a *App) ListDevices() ([]audio.Device, error) {
	if a.inputs == nil {
		return nil, nil
	}
	return a.inputs.ListDevices()
}
