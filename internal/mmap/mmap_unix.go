//go:build unix

package mmap

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func osMapRange(f File, offset int64, length int) ([]byte, int, func([]byte) error, error) {
	// mmap(2) requires the file offset to be a multiple of the allocation
	// granularity; align down and widen the mapping by the padding.
	gran := int64(unix.Getpagesize())
	base := offset - offset%gran
	pad := int(offset - base)

	data, err := unix.Mmap(int(f.Fd()), base, pad+length, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("mmap: map %d bytes at %d: %w", pad+length, base, err)
	}

	return data, pad, unix.Munmap, nil
}
