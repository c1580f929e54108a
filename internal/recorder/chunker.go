// Package recorder turns continuous microphone capture into fixed-duration
// WAV chunks.
package recorder

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/tile-lens/internal/audio"
	"github.com/petems/tile-lens/internal/capture"
	"github.com/petems/tile-lens/internal/metrics"
	"github.com/petems/tile-lens/internal/permissions"
)

const defaultJoinTimeout = time.Second

// Artifact is one persisted WAV chunk.
type Artifact struct {
	Path     string
	Bytes    int
	Duration time.Duration
}

type Config struct {
	Opener       audio.Opener
	Permissions  permissions.Checker
	DeviceID     string
	ChunkSeconds int
	Dir          string
	// OnChunk is called after each chunk is written, on the capture goroutine
	// or, for the final chunk, on the goroutine calling Stop. It must not block
	// and must not wait on locks the Stop caller holds.
	OnChunk     func(Artifact)
	// OnFailed is called on the capture goroutine when a fatal read ends the
	// recording. The partial chunk is kept for Stop. It must not block.
	OnFailed    func(error)
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
	JoinTimeout time.Duration
	Now         func() time.Time
}

// Chunker owns one capture goroutine per recording. Start and Stop may be
// called from any goroutine; the chunk buffer is only touched by the capture
// goroutine, or by Stop after that goroutine has exited.
type Chunker struct {
	cfg    Config
	format audio.Format
	log    zerolog.Logger

	mu        sync.Mutex
	input     audio.Input
	done      chan struct{}
	ring      *RingChunker
	recording atomic.Bool
}

func New(cfg Config) *Chunker {
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = defaultJoinTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ChunkSeconds <= 0 {
		cfg.ChunkSeconds = 10
	}
	return &Chunker{
		cfg:    cfg,
		format: audio.Speech,
		log:    cfg.Logger,
	}
}

// ChunkBytes is the buffer capacity: ChunkSeconds of 16 kHz mono 16-bit PCM.
func (c *Chunker) ChunkBytes() int {
	return c.cfg.ChunkSeconds * c.format.BytesPerSecond()
}

// SetDevice selects the input used by the next Start.
func (c *Chunker) SetDevice(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.DeviceID = id
}

// IsRecording reports whether a recording is in progress.
func (c *Chunker) IsRecording() bool {
	return c.recording.Load()
}

// Start opens the microphone and spawns the capture goroutine. It is a no-op
// while already recording.
func (c *Chunker) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recording.Load() {
		return nil
	}
	if c.input != nil {
		// The last recording ended on a fatal read and was never stopped.
		if err := c.stopLocked(); err != nil {
			c.log.Warn().Err(err).Msg("Releasing failed recording")
		}
	}
	if err := permissions.Require(c.cfg.Permissions, permissions.Microphone); err != nil {
		return err
	}

	bufSize := audio.BufferSize(c.cfg.Opener, c.format)
	in, err := c.cfg.Opener.Open(c.cfg.DeviceID, c.format, bufSize)
	if err != nil {
		c.log.Error().Err(err).Msg("Audio input init failed")
		return asUnavailable(err)
	}

	if c.ring == nil {
		c.ring = NewRingChunker(c.ChunkBytes(), c.writeChunk, c.log)
	}
	c.ring.Reset()

	if err := in.Start(); err != nil {
		in.Close()
		c.log.Error().Err(err).Msg("Audio input start failed")
		return asUnavailable(err)
	}

	c.input = in
	c.done = make(chan struct{})
	c.recording.Store(true)
	go c.readLoop(in, c.ring, bufSize, c.done)

	c.log.Info().Int("buffer_bytes", bufSize).Int("chunk_bytes", c.ChunkBytes()).Msg("Recording started")
	return nil
}

// Stop ends the recording: it clears the recording flag, stops the input so a
// blocked read returns, waits up to JoinTimeout for the capture goroutine,
// releases the input and flushes whatever partial chunk is left. Idempotent.
func (c *Chunker) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked()
}

func (c *Chunker) stopLocked() error {
	if c.input == nil {
		return nil
	}

	c.recording.Store(false)
	if err := c.input.Stop(); err != nil {
		c.log.Warn().Err(err).Msg("Audio input stop failed")
	}

	joined := false
	select {
	case <-c.done:
		joined = true
	case <-time.After(c.cfg.JoinTimeout):
		c.log.Error().Dur("timeout", c.cfg.JoinTimeout).Msg("Capture goroutine did not exit, abandoning it")
	}

	var closeErr error
	if err := c.input.Close(); err != nil {
		closeErr = fmt.Errorf("failed to release audio input: %w", err)
	}
	c.input = nil

	if joined {
		c.ring.Flush()
	} else {
		// The wedged goroutine still holds the old buffer.
		c.ring = nil
	}

	c.log.Info().Msg("Recording stopped")
	return closeErr
}

func (c *Chunker) readLoop(in audio.Input, ring *RingChunker, bufSize int, done chan struct{}) {
	defer close(done)

	buf := make([]byte, bufSize)
	for c.recording.Load() {
		n, err := in.Read(buf)
		if err != nil {
			if !c.recording.Load() {
				return
			}
			fatal := capture.IsFatalRead(err)
			c.cfg.Metrics.ReadError(fatal)
			if fatal {
				c.log.Error().Err(err).Msg("Audio read failed, ending capture")
				c.recording.Store(false)
				if c.cfg.OnFailed != nil {
					c.cfg.OnFailed(err)
				}
				return
			}
			c.log.Warn().Err(err).Msg("Audio read error")
			continue
		}
		if n > 0 {
			ring.Append(buf[:n])
		}
	}
}

func (c *Chunker) writeChunk(chunk []byte) error {
	name := "audio_" + capture.Stamp(c.cfg.Now(), "20060102_150405", "_")
	path := capture.UniquePath(c.cfg.Dir, name, ".wav")

	if err := WriteWAV(path, chunk, c.format); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	c.cfg.Metrics.ChunkFlushed()

	artifact := Artifact{
		Path:     path,
		Bytes:    len(chunk),
		Duration: time.Duration(len(chunk)) * time.Second / time.Duration(c.format.BytesPerSecond()),
	}
	c.log.Debug().Str("path", path).Dur("duration", artifact.Duration).Msg("Chunk written")

	if c.cfg.OnChunk != nil {
		c.cfg.OnChunk(artifact)
	}
	return nil
}

func asUnavailable(err error) error {
	if errors.Is(err, capture.ErrDeviceUnavailable) {
		return err
	}
	return fmt.Errorf("%v: %w", err, capture.ErrDeviceUnavailable)
}
