package opencv

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/petems/tile-lens/internal/camera"
)

func encodedFrame(t *testing.T) *frame {
	t.Helper()
	img := gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC3)
	defer img.Close()
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	require.NoError(t, err)
	return &frame{buf: buf}
}

func TestScanOrderStartsAtPreferred(t *testing.T) {
	b := New(zerolog.Nop(), 2)
	assert.Equal(t, []int{2, 0, 1, 3, 4}, b.scanOrder())

	b = New(zerolog.Nop(), 0)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, b.scanOrder())
}

func TestStillSinkKeepsNewest(t *testing.T) {
	s := newStillSink(2)
	calls := 0
	s.SetOnFrameAvailable(func() { calls++ })

	first, second, third := encodedFrame(t), encodedFrame(t), encodedFrame(t)
	s.deliver(first)
	s.deliver(second)
	s.deliver(third)
	assert.Equal(t, 3, calls)

	got, err := s.AcquireLatest()
	require.NoError(t, err)
	assert.Same(t, third, got)
	assert.NotEmpty(t, got.Bytes())
	require.NoError(t, got.Close())
	require.NoError(t, got.Close(), "frames close once")

	got, err = s.AcquireLatest()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStillSinkDropsAfterRelease(t *testing.T) {
	s := newStillSink(2)
	s.deliver(encodedFrame(t))
	require.NoError(t, s.Release())

	s.deliver(encodedFrame(t))
	got, err := s.AcquireLatest()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCreateSessionRejectsForeignTargets(t *testing.T) {
	d := &device{id: "0", log: zerolog.Nop()}
	err := d.CreateSession([]camera.Surface{foreign{}}, camera.SessionCallbacks{})
	assert.Error(t, err)
}

type foreign struct{}

func (foreign) Name() string   { return "foreign" }
func (foreign) Release() error { return nil }

func TestFirstShownSkipsUndrawnWindows(t *testing.T) {
	assert.Nil(t, firstShown(nil))
	assert.Nil(t, firstShown([]*gocv.Window{nil, nil}), "left preview released before its first frame")

	right := &gocv.Window{}
	assert.Same(t, right, firstShown([]*gocv.Window{nil, right}))
}
