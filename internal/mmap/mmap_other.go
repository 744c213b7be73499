//go:build !unix

package mmap

import (
	"fmt"
	"io"
)

// Fallback for platforms without a usable mmap: a positional read into a
// heap buffer. Same contract, one extra copy.
func osMapRange(f File, offset int64, length int) ([]byte, int, func([]byte) error, error) {
	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
		return nil, 0, nil, fmt.Errorf("mmap: read %d bytes at %d: %w", length, offset, err)
	}
	return buf, 0, nil, nil
}
