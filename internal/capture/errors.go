// Package capture holds the error taxonomy shared by the camera, photo and
// audio subsystems.
package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied means the OS has not granted camera or microphone access.
	ErrPermissionDenied = errors.New("capture permission not granted")
	// ErrDeviceUnavailable means no camera was reported or the audio input failed to initialize.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrNotReady means a capture was requested without a live session.
	ErrNotReady = errors.New("capture session not ready")
	// ErrConfigurationFailed means the capture session could not be configured.
	ErrConfigurationFailed = errors.New("capture session configuration failed")
	// ErrProcessingFailed means a single frame could not be turned into a photo.
	ErrProcessingFailed = errors.New("photo processing failed")
	// ErrTransientRead is a recoverable audio read failure; the read loop retries.
	ErrTransientRead = errors.New("transient audio read error")
	// ErrFatalRead ends the audio read loop (dead device, invalid operation).
	ErrFatalRead = errors.New("fatal audio read error")
)

// IsFatalRead reports whether err should terminate an audio read loop.
func IsFatalRead(err error) bool {
	return errors.Is(err, ErrFatalRead)
}

// Stage names a step of the photo pipeline.
type Stage string

const (
	StageDecode Stage = "decode"
	StageRotate Stage = "rotate"
	StageCrop   Stage = "crop"
	StageEncode Stage = "encode"
	StageWrite  Stage = "write"
)

// StageError records which pipeline step failed for one frame.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("photo %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() []error {
	return []error{ErrProcessingFailed, e.Err}
}
