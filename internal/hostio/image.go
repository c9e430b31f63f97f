package hostio

import (
	"fmt"
	"os"
)

// OpenImageFile opens the read-only source image at path, per channel
// lifecycle §4.6: O_RDONLY, plus O_DIRECT when directio is requested.
func OpenImageFile(path string, directio bool) (*os.File, int64, error) {
	flags := os.O_RDONLY
	if directio {
		flags |= directIOFlag
	}
	f, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, 0, fmt.Errorf("hostio: open image %q: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("hostio: stat image %q: %w", path, err)
	}
	return f, info.Size(), nil
}
