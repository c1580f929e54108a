package camera

// Backend, Device, Session and StillSink model an asynchronous camera API.
// Callbacks may arrive on any goroutine; Manager re-posts them onto its own
// executor before touching state.

// Backend enumerates cameras and opens them.
type Backend interface {
	CameraIDs() ([]string, error)
	// StillSizes lists the sizes the camera can deliver still frames at.
	StillSizes(id string) ([]Resolution, error)
	// Open starts opening id. The outcome arrives through cb.
	Open(id string, cb DeviceCallbacks) error
}

// DeviceCallbacks report the outcome of Backend.Open and later device loss.
type DeviceCallbacks struct {
	Opened       func(Device)
	Disconnected func(Device)
	Error        func(Device, error)
}

// Device is an open camera handle.
type Device interface {
	ID() string
	// NewStillSink creates a queue that receives encoded still frames at res,
	// holding at most maxImages unacquired frames.
	NewStillSink(res Resolution, maxImages int) (StillSink, error)
	// NewPreview creates a preview surface for this device. index is 0 for a
	// single display and 0 or 1 for a stereo pair.
	NewPreview(index int) (Surface, error)
	// CreateSession binds targets to the device. The outcome arrives through cb.
	CreateSession(targets []Surface, cb SessionCallbacks) error
	Close() error
}

// SessionCallbacks report the outcome of Device.CreateSession.
type SessionCallbacks struct {
	Configured      func(Session)
	ConfigureFailed func(error)
}

// Session is a configured binding between a device and its targets.
type Session interface {
	SetRepeating(req Request) error
	Capture(req Request) error
	Close() error
}

// Surface is an output target a session can render into.
type Surface interface {
	Name() string
	Release() error
}

// StillSink is the surface that still captures are delivered to.
type StillSink interface {
	Surface
	// SetOnFrameAvailable registers fn to be called whenever a frame arrives.
	SetOnFrameAvailable(fn func())
	// AcquireLatest returns the newest frame and discards older ones. It returns
	// a nil Frame when the queue is empty.
	AcquireLatest() (Frame, error)
}

// Frame is one encoded still image owned by the backend until Close.
type Frame interface {
	Bytes() []byte
	Close() error
}

type Template int

const (
	TemplatePreview Template = iota
	TemplateStill
)

func (t Template) String() string {
	if t == TemplateStill {
		return "still"
	}
	return "preview"
}

type FocusMode int

const (
	FocusAuto FocusMode = iota
	FocusContinuousPicture
)

// Request describes one capture (or a repeating stream of them).
type Request struct {
	Template        Template
	Targets         []Surface
	AutoExposure    bool
	Focus           FocusMode
	JPEGOrientation int
	FPSMin          int
	FPSMax          int
}
