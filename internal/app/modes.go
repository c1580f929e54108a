package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/petems/tile-lens/internal/capture"
	"github.com/petems/tile-lens/internal/config"
)

// ErrIllegalTransition is returned for a mode change the table does not allow.
var ErrIllegalTransition = errors.New("illegal mode transition")

type Mode int

const (
	Idle Mode = iota
	Active
	CameraPreview
	PhotoReview
)

var allModes = []Mode{Idle, Active, CameraPreview, PhotoReview}

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case CameraPreview:
		return "camera_preview"
	case PhotoReview:
		return "photo_review"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func modeNames() []string {
	names := make([]string, len(allModes))
	for i, m := range allModes {
		names[i] = m.String()
	}
	return names
}

// policy is what a mode lets run.
type policy struct {
	camera bool
	audio  bool
}

var policies = map[Mode]policy{
	Idle:          {},
	Active:        {audio: true},
	CameraPreview: {camera: true},
	PhotoReview:   {camera: true},
}

// CameraAllowed reports whether the camera may be open in m.
func CameraAllowed(m Mode) bool { return policies[m].camera }

// AudioAllowed reports whether the microphone may record in m.
func AudioAllowed(m Mode) bool { return policies[m].audio }

var transitions = map[Mode]map[Mode]bool{
	Idle:          {Active: true},
	Active:        {Idle: true, CameraPreview: true},
	CameraPreview: {Active: true, PhotoReview: true},
	PhotoReview:   {Active: true, CameraPreview: true},
}

type Action int

const (
	StartSession Action = iota
	EndSession
	OpenCamera
	CancelCamera
	Shutter
	SendPhoto
	Retake
	RecordPress
	RecordRelease
)

func (a Action) String() string {
	switch a {
	case StartSession:
		return "start_session"
	case EndSession:
		return "end_session"
	case OpenCamera:
		return "open_camera"
	case CancelCamera:
		return "cancel_camera"
	case Shutter:
		return "shutter"
	case SendPhoto:
		return "send_photo"
	case Retake:
		return "retake"
	case RecordPress:
		return "record_press"
	case RecordRelease:
		return "record_release"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Available lists the actions that have a handler in m.
func Available(m Mode) []Action {
	var out []Action
	for act := StartSession; act <= RecordRelease; act++ {
		if _, ok := actions[m][act]; ok {
			out = append(out, act)
		}
	}
	return out
}

// actions is the mode -> action -> handler table. Handlers run with a.mu held.
var actions = map[Mode]map[Action]func(*App) error{
	Idle: {
		StartSession: (*App).startSessionLocked,
	},
	Active: {
		EndSession:    (*App).endSessionLocked,
		OpenCamera:    func(a *App) error { return a.transitionLocked(CameraPreview) },
		RecordPress:   (*App).recordPressLocked,
		RecordRelease: (*App).recordReleaseLocked,
	},
	CameraPreview: {
		CancelCamera: func(a *App) error { return a.transitionLocked(Active) },
		Shutter:      (*App).shutterLocked,
	},
	PhotoReview: {
		SendPhoto: (*App).sendPhotoLocked,
		Retake:    func(a *App) error { return a.transitionLocked(CameraPreview) },
	},
}

func (a *App) startSessionLocked() error {
	if err := a.transitionLocked(Active); err != nil {
		return err
	}
	id := a.newID()
	a.session.Store(id)
	a.log.Info().Str("session_id", id).Msg("Starting session")

	a.uploadAsync("start_session", func(ctx context.Context) error {
		return a.svc.StartSession(ctx, id)
	})
	return nil
}

func (a *App) endSessionLocked() error {
	if err := a.transitionLocked(Idle); err != nil {
		return err
	}
	id := a.SessionID()
	a.session.Store("")
	a.log.Info().Str("session_id", id).Msg("Ending session")

	a.uploadAsync("end_session", func(ctx context.Context) error {
		return a.svc.EndSession(ctx, id)
	})
	return nil
}

func (a *App) recordPressLocked() error {
	defer a.recordingChangedLocked()
	if a.cfg.Hotkeys.Mode == config.ModeToggle && a.rec.IsRecording() {
		return a.rec.Stop()
	}
	return a.rec.Start()
}

func (a *App) recordReleaseLocked() error {
	if a.cfg.Hotkeys.Mode == config.ModeToggle {
		return nil
	}
	defer a.recordingChangedLocked()
	return a.rec.Stop()
}

func (a *App) shutterLocked() error {
	return a.cam.Capture()
}

func (a *App) sendPhotoLocked() error {
	artifact, ok := a.photos.Current()
	if !ok {
		return fmt.Errorf("no photo to send: %w", capture.ErrNotReady)
	}
	if err := a.transitionLocked(Active); err != nil {
		return err
	}

	id := a.SessionID()
	a.uploadAsync("analyze_hand", func(ctx context.Context) error {
		res, err := a.svc.AnalyzeHand(ctx, artifact.Path, id)
		if err != nil {
			return err
		}
		a.present(func(s StatusUpdater) { s.ShowHand(res) })
		if res.SuggestedPlay != "" {
			a.shareResult(ctx, res.SuggestedPlay)
		}
		return nil
	})
	return nil
}

func describe(act Action, err error) string {
	switch {
	case errors.Is(err, capture.ErrPermissionDenied):
		return "Permission needed: " + err.Error()
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return "Device unavailable, try again"
	case errors.Is(err, capture.ErrConfigurationFailed):
		return "Camera setup failed, try again"
	default:
		return fmt.Sprintf("%s failed: %v", act, err)
	}
}
