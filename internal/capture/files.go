package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Stamp formats t with layout and appends milliseconds as "<sep>SSS".
func Stamp(t time.Time, layout, sep string) string {
	return fmt.Sprintf("%s%s%03d", t.Format(layout), sep, t.Nanosecond()/int(time.Millisecond))
}

// UniquePath returns dir/name+ext, or dir/name-N+ext when that file already
// exists, so two artifacts stamped in the same millisecond never collide.
func UniquePath(dir, name, ext string) string {
	path := filepath.Join(dir, name+ext)
	for i := 1; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(dir, fmt.Sprintf("%s-%d%s", name, i, ext))
	}
}

// WriteFileAtomic writes through a temp file in the same directory and renames
// it into place, so readers never observe a partially written artifact.
func WriteFileAtomic(path string, write func(f *os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to move file into place: %w", err)
	}
	return nil
}
