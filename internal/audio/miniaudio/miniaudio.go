// Package miniaudio implements audio.Opener on malgo. miniaudio delivers
// capture data through a callback; Input turns that into blocking reads.
package miniaudio

import (
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"

	"github.com/petems/tile-lens/internal/audio"
	"github.com/petems/tile-lens/internal/capture"
)

// periodsQueued bounds how many callback periods may wait for a reader.
const periodsQueued = 64

type opener struct {
	ctx *malgo.AllocatedContext
	log zerolog.Logger
}

// New initializes a miniaudio context on the platform's native backend.
func New(log zerolog.Logger) (audio.Opener, error) {
	var backends []malgo.Backend
	switch runtime.GOOS {
	case "linux":
		backends = []malgo.Backend{malgo.BackendAlsa}
	case "windows":
		backends = []malgo.Backend{malgo.BackendWasapi}
	case "darwin":
		backends = []malgo.Backend{malgo.BackendCoreaudio}
	}

	ctx, err := malgo.InitContext(backends, malgo.ContextConfig{}, func(message string) {
		log.Debug().Str("miniaudio", strings.TrimSpace(message)).Msg("Backend message")
	})
	if err != nil {
		return nil, fmt.Errorf("context init failed: %w", err)
	}
	return &opener{ctx: ctx, log: log}, nil
}

// MinBufferSize is one 10 ms miniaudio period.
func (o *opener) MinBufferSize(f audio.Format) int {
	return f.SampleRate / 100 * f.FrameBytes()
}

func (o *opener) Open(deviceID string, f audio.Format, bufferBytes int) (audio.Input, error) {
	if f.BitDepth != 16 {
		return nil, fmt.Errorf("unsupported bit depth %d: %w", f.BitDepth, capture.ErrDeviceUnavailable)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(f.Channels)
	deviceConfig.SampleRate = uint32(f.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(bufferBytes / f.FrameBytes())
	deviceConfig.Alsa.NoMMap = 1

	if deviceID != "" {
		infos, err := o.ctx.Devices(malgo.Capture)
		if err != nil {
			return nil, fmt.Errorf("failed to get devices: %v: %w", err, capture.ErrDeviceUnavailable)
		}
		found := false
		for _, info := range infos {
			if info.ID.String() == deviceID || strings.Contains(info.Name(), deviceID) {
				deviceConfig.Capture.DeviceID = info.ID.Pointer()
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("device not found: %s: %w", deviceID, capture.ErrDeviceUnavailable)
		}
	}

	in := &input{
		periods: make(chan []byte, periodsQueued),
		stopped: make(chan struct{}),
		log:     o.log,
	}
	device, err := malgo.InitDevice(o.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: in.onData,
		Stop: in.onStop,
	})
	if err != nil {
		return nil, fmt.Errorf("device init failed: %v: %w", err, capture.ErrDeviceUnavailable)
	}
	in.device = device
	return in, nil
}

func (o *opener) ListDevices() ([]audio.Device, error) {
	infos, err := o.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}
	devices := make([]audio.Device, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, audio.Device{
			ID:      info.ID.String(),
			Name:    info.Name(),
			Default: info.IsDefault == 1,
		})
	}
	return devices, nil
}

func (o *opener) Close() error {
	if err := o.ctx.Uninit(); err != nil {
		return err
	}
	o.ctx.Free()
	return nil
}

type input struct {
	device  *malgo.Device
	periods chan []byte
	pending []byte
	log     zerolog.Logger

	stopOnce sync.Once
	stopped  chan struct{}
}

// onData runs on the miniaudio thread; it must not block.
func (in *input) onData(_, pInput []byte, _ uint32) {
	period := make([]byte, len(pInput))
	copy(period, pInput)
	select {
	case in.periods <- period:
	default:
		in.log.Warn().Int("bytes", len(period)).Msg("Capture queue full, dropping period")
	}
}

func (in *input) onStop() {
	in.markStopped()
}

func (in *input) markStopped() {
	in.stopOnce.Do(func() { close(in.stopped) })
}

func (in *input) Start() error {
	return in.device.Start()
}

func (in *input) Read(p []byte) (int, error) {
	if len(in.pending) == 0 {
		select {
		case period := <-in.periods:
			in.pending = period
		case <-in.stopped:
			return 0, fmt.Errorf("device stopped: %w", capture.ErrFatalRead)
		}
	}
	n := copy(p, in.pending)
	in.pending = in.pending[n:]
	return n, nil
}

func (in *input) Stop() error {
	in.markStopped()
	return in.device.Stop()
}

func (in *input) Close() error {
	in.device.Uninit()
	return nil
}
