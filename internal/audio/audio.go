// Package audio describes microphone inputs as blocking byte readers. The
// portaudio and miniaudio subpackages provide the hardware implementations.
package audio

import "encoding/binary"

// MinReadBuffer is the floor applied to the platform-reported minimum buffer.
const MinReadBuffer = 4096

// Format is a PCM capture configuration. Samples are signed little-endian.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// Speech is the fixed 16 kHz mono 16-bit format the chunker records in.
var Speech = Format{SampleRate: 16000, Channels: 1, BitDepth: 16}

// FrameBytes is the size of one sample across all channels.
func (f Format) FrameBytes() int {
	return f.Channels * f.BitDepth / 8
}

// BytesPerSecond is the PCM byte rate.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.FrameBytes()
}

// Input is an opened hardware input. Read blocks until data is available; a
// call to Stop must make a blocked Read return promptly. Read errors wrap
// capture.ErrTransientRead or capture.ErrFatalRead.
type Input interface {
	Start() error
	Read(p []byte) (int, error)
	Stop() error
	Close() error
}

// Opener creates Inputs for a capture backend.
type Opener interface {
	// MinBufferSize is the smallest read buffer, in bytes, the backend supports for f.
	MinBufferSize(f Format) int
	Open(deviceID string, f Format, bufferBytes int) (Input, error)
	ListDevices() ([]Device, error)
	Close() error
}

// Device represents an audio input device
type Device struct {
	ID      string
	Name    string
	Default bool
}

// BufferSize returns the negotiated read buffer size for f on o.
func BufferSize(o Opener, f Format) int {
	return max(o.MinBufferSize(f), MinReadBuffer)
}

// PutInt16LE encodes samples into dst and returns the number of bytes written.
// dst must hold at least 2*len(samples) bytes.
func PutInt16LE(dst []byte, samples []int16) int {
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[2*i:], uint16(s))
	}
	return 2 * len(samples)
}
