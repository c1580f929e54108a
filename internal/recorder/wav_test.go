package recorder

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petems/tile-lens/internal/audio"
)

func TestWriteWAVHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunk.wav")
	payload := make([]byte, 3200)
	for i := range payload {
		payload[i] = byte(i)
	}

	require.NoError(t, WriteWAV(path, payload, audio.Speech))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, data, 44+len(payload))

	le := binary.LittleEndian
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, uint32(len(payload)+36), le.Uint32(data[4:8]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, "fmt ", string(data[12:16]))
	assert.Equal(t, uint32(16), le.Uint32(data[16:20]))
	assert.Equal(t, uint16(1), le.Uint16(data[20:22]), "PCM format tag")
	assert.Equal(t, uint16(1), le.Uint16(data[22:24]), "mono")
	assert.Equal(t, uint32(16000), le.Uint32(data[24:28]))
	assert.Equal(t, uint32(32000), le.Uint32(data[28:32]), "byte rate")
	assert.Equal(t, uint16(2), le.Uint16(data[32:34]), "block align")
	assert.Equal(t, uint16(16), le.Uint16(data[34:36]))
	assert.Equal(t, "data", string(data[36:40]))
	assert.Equal(t, uint32(len(payload)), le.Uint32(data[40:44]))
	assert.Equal(t, payload, data[44:])
}

func TestWriteWAVDecodes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunk.wav")
	require.NoError(t, WriteWAV(path, make([]byte, 640), audio.Speech))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile())
	assert.Equal(t, uint32(16000), dec.SampleRate)
	assert.Equal(t, uint16(1), dec.NumChans)
	assert.Equal(t, uint16(16), dec.BitDepth)
}

func TestWriteWAVRejectsOtherDepths(t *testing.T) {
	err := WriteWAV(filepath.Join(t.TempDir(), "x.wav"), []byte{0, 0}, audio.Format{SampleRate: 16000, Channels: 1, BitDepth: 24})
	assert.Error(t, err)
}

func TestPCM16ToInts(t *testing.T) {
	assert.Equal(t, []int{1, -1}, pcm16ToInts([]byte{0x01, 0x00, 0xff, 0xff, 0x07}))
}
