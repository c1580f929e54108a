package camera

import (
	"fmt"

	"github.com/petems/tile-lens/internal/capture"
)

// Resolution is a capture size in device pixels. The zero value means none.
type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) Area() int {
	return r.Width * r.Height
}

func (r Resolution) IsZero() bool {
	return r.Width == 0 && r.Height == 0
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// ChooseOptimal picks the smallest supported size that covers minWidth x
// minHeight. When nothing covers the target it picks the largest size instead.
// Ties go to the earliest entry.
func ChooseOptimal(sizes []Resolution, minWidth, minHeight int) (Resolution, error) {
	if len(sizes) == 0 {
		return Resolution{}, fmt.Errorf("no supported sizes: %w", capture.ErrConfigurationFailed)
	}

	var (
		smallest    Resolution
		haveCovered bool
		largest     Resolution
		haveOther   bool
	)
	for _, s := range sizes {
		if s.Width >= minWidth && s.Height >= minHeight {
			if !haveCovered || s.Area() < smallest.Area() {
				smallest = s
				haveCovered = true
			}
			continue
		}
		if !haveOther || s.Area() > largest.Area() {
			largest = s
			haveOther = true
		}
	}
	if haveCovered {
		return smallest, nil
	}
	return largest, nil
}
