package recorder

import (
	"github.com/rs/zerolog"
	"github.com/smallnest/ringbuffer"
)

// FlushFunc receives one chunk of buffered bytes. The slice is owned by the callee.
type FlushFunc func(chunk []byte) error

// RingChunker is a fixed-capacity byte buffer that hands its contents to a
// FlushFunc every time it fills. It is not safe for concurrent use: the audio
// capture goroutine is its only writer.
type RingChunker struct {
	ring     *ringbuffer.RingBuffer
	capacity int
	flush    FlushFunc
	log      zerolog.Logger
}

// NewRingChunker allocates a chunker holding exactly capacity bytes.
func NewRingChunker(capacity int, flush FlushFunc, log zerolog.Logger) *RingChunker {
	return &RingChunker{
		ring:     ringbuffer.New(capacity),
		capacity: capacity,
		flush:    flush,
		log:      log,
	}
}

// Capacity returns the chunk size in bytes.
func (c *RingChunker) Capacity() int {
	return c.capacity
}

// Len returns the number of buffered bytes.
func (c *RingChunker) Len() int {
	return c.ring.Length()
}

// Reset discards buffered bytes without flushing them.
func (c *RingChunker) Reset() {
	c.ring.Reset()
}

// Append buffers p, flushing whenever the buffer becomes full, and returns
// the number of flushes performed. Bytes that would overflow are placed in
// the emptied buffer after the flush. When the overflow alone exceeds the
// capacity, only the first capacity bytes of it are kept.
func (c *RingChunker) Append(p []byte) int {
	if len(p) == 0 {
		return 0
	}

	flushes := 0
	remaining := c.ring.Free()
	if len(p) <= remaining {
		c.write(p)
		if c.ring.Free() == 0 && c.Flush() {
			flushes++
		}
		return flushes
	}

	c.write(p[:remaining])
	if c.Flush() {
		flushes++
	}

	overflow := p[remaining:]
	if len(overflow) > c.capacity {
		c.log.Error().
			Int("read_bytes", len(p)).
			Int("capacity", c.capacity).
			Int("dropped_bytes", len(overflow)-c.capacity).
			Msg("Read larger than the whole chunk buffer, dropping excess")
		overflow = overflow[:c.capacity]
	}
	c.write(overflow)
	if c.ring.Free() == 0 && c.Flush() {
		flushes++
	}
	return flushes
}

// Flush hands the buffered bytes to the FlushFunc and empties the buffer. It
// reports false, without calling the FlushFunc, when nothing is buffered.
func (c *RingChunker) Flush() bool {
	n := c.ring.Length()
	if n == 0 {
		return false
	}

	chunk := make([]byte, n)
	if _, err := c.ring.Read(chunk); err != nil {
		c.log.Error().Err(err).Msg("Failed to drain chunk buffer")
		c.ring.Reset()
		return false
	}
	c.ring.Reset()

	if err := c.flush(chunk); err != nil {
		c.log.Error().Err(err).Int("bytes", n).Msg("Chunk flush failed")
	}
	return true
}

func (c *RingChunker) write(p []byte) {
	if len(p) == 0 {
		return
	}
	if _, err := c.ring.Write(p); err != nil {
		// Append never writes more than Free(), so this is a broken invariant.
		c.log.Error().Err(err).Int("bytes", len(p)).Int("free", c.ring.Free()).Msg("Chunk buffer write failed")
	}
}
