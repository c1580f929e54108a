package recorder

import (
	"encoding/binary"
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/petems/tile-lens/internal/audio"
	"github.com/petems/tile-lens/internal/capture"
)

// wavPCMFormat is the WAVE format tag for uncompressed PCM.
const wavPCMFormat = 1

// WriteWAV writes pcm, 16-bit little-endian samples, as a canonical 44-byte
// header RIFF/WAVE file at path.
func WriteWAV(path string, pcm []byte, f audio.Format) error {
	if f.BitDepth != 16 {
		return fmt.Errorf("unsupported bit depth %d", f.BitDepth)
	}

	return capture.WriteFileAtomic(path, func(out *os.File) error {
		enc := wav.NewEncoder(out, f.SampleRate, f.BitDepth, f.Channels, wavPCMFormat)

		buf := &goaudio.IntBuffer{
			Data:           pcm16ToInts(pcm),
			Format:         &goaudio.Format{SampleRate: f.SampleRate, NumChannels: f.Channels},
			SourceBitDepth: f.BitDepth,
		}
		if err := enc.Write(buf); err != nil {
			return fmt.Errorf("failed to write to WAV encoder: %w", err)
		}

		// Close finalizes the RIFF and data chunk sizes.
		if err := enc.Close(); err != nil {
			return fmt.Errorf("failed to finalize WAV header: %w", err)
		}
		return nil
	})
}

// pcm16ToInts converts little-endian 16-bit samples to ints. A trailing odd
// byte is not a whole sample and is ignored.
func pcm16ToInts(pcm []byte) []int {
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}
	return samples
}
