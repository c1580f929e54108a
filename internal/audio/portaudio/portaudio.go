// Package portaudio implements audio.Opener on PortAudio blocking streams.
package portaudio

import (
	"errors"
	"fmt"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/petems/tile-lens/internal/audio"
	"github.com/petems/tile-lens/internal/capture"
)

type opener struct{}

// New initializes PortAudio and returns an Opener backed by it
func New() (audio.Opener, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &opener{}, nil
}

// MinBufferSize derives the minimum read size from the default device's low
// input latency.
func (o *opener) MinBufferSize(f audio.Format) int {
	device, err := pa.DefaultInputDevice()
	if err != nil || device == nil {
		return audio.MinReadBuffer
	}
	frames := int(device.DefaultLowInputLatency.Seconds() * float64(f.SampleRate))
	return frames * f.FrameBytes()
}

func (o *opener) Open(deviceID string, f audio.Format, bufferBytes int) (audio.Input, error) {
	if f.BitDepth != 16 {
		return nil, fmt.Errorf("unsupported bit depth %d: %w", f.BitDepth, capture.ErrDeviceUnavailable)
	}

	device, err := findDevice(deviceID)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, capture.ErrDeviceUnavailable)
	}

	frames := bufferBytes / f.FrameBytes()
	buffer := make([]int16, frames*f.Channels)
	stream, err := pa.OpenStream(pa.StreamParameters{
		Input: pa.StreamDeviceParameters{
			Device:   device,
			Channels: f.Channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(f.SampleRate),
		FramesPerBuffer: frames,
	}, buffer)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio stream: %v: %w", err, capture.ErrDeviceUnavailable)
	}

	return &input{
		stream:  stream,
		samples: buffer,
		encoded: make([]byte, 2*len(buffer)),
	}, nil
}

func (o *opener) ListDevices() ([]audio.Device, error) {
	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]audio.Device, 0, len(devices))
	defaultDevice, _ := pa.DefaultInputDevice()

	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			result = append(result, audio.Device{
				ID:      d.Name,
				Name:    d.Name,
				Default: d == defaultDevice,
			})
		}
	}

	return result, nil
}

func (o *opener) Close() error {
	return pa.Terminate()
}

func findDevice(deviceID string) (*pa.DeviceInfo, error) {
	if deviceID == "" {
		device, err := pa.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
		return device, nil
	}

	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == deviceID && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", deviceID)
}

// input adapts a PortAudio blocking stream to audio.Input. Each stream.Read
// fills samples; the encoded bytes are handed out across one or more Reads.
type input struct {
	stream  *pa.Stream
	samples []int16
	encoded []byte
	pending []byte

	stopOnce sync.Once
}

func (in *input) Start() error {
	return in.stream.Start()
}

func (in *input) Read(p []byte) (int, error) {
	if len(in.pending) == 0 {
		if err := in.stream.Read(); err != nil {
			return 0, classify(err)
		}
		n := audio.PutInt16LE(in.encoded, in.samples)
		in.pending = in.encoded[:n]
	}
	n := copy(p, in.pending)
	in.pending = in.pending[n:]
	return n, nil
}

// Stop aborts rather than drains so a Read blocked in the driver returns now.
func (in *input) Stop() error {
	var err error
	in.stopOnce.Do(func() {
		err = in.stream.Abort()
	})
	return err
}

func (in *input) Close() error {
	return in.stream.Close()
}

func classify(err error) error {
	if errors.Is(err, pa.InputOverflowed) {
		return fmt.Errorf("%v: %w", err, capture.ErrTransientRead)
	}
	return fmt.Errorf("%v: %w", err, capture.ErrFatalRead)
}
