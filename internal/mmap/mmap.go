package mmap

import (
	"errors"
	"io"
	"sync/atomic"
)

var (
	// ErrClosed is returned when attempting to access a closed mapping.
	ErrClosed = errors.New("mmap: mapping is closed")
	// ErrInvalidSize is returned when the requested length is negative.
	ErrInvalidSize = errors.New("mmap: invalid size")
	// ErrInvalidOffset is returned when the offset is negative.
	ErrInvalidOffset = errors.New("mmap: invalid offset")
)

// File is the handle MapRange needs: a descriptor for mapping plus a
// positional reader for platforms without mmap support.
type File interface {
	io.ReaderAt
	Fd() uintptr
}

// Mapping represents a read-only view of a byte range of a file.
// It owns the underlying mapping and is responsible for releasing it.
type Mapping struct {
	data   []byte // platform mapping, including alignment padding
	off    int    // start of the requested range within data
	length int
	closed atomic.Bool
	unmap  func([]byte) error
}

// MapRange maps length bytes of f starting at offset for reading.
// The offset does not need to be aligned; the underlying mapping is aligned
// to the platform allocation granularity internally and the returned view
// starts exactly at offset.
func MapRange(f File, offset int64, length int) (*Mapping, error) {
	if offset < 0 {
		return nil, ErrInvalidOffset
	}
	if length < 0 {
		return nil, ErrInvalidSize
	}
	if length == 0 {
		return &Mapping{}, nil
	}

	data, off, unmap, err := osMapRange(f, offset, length)
	if err != nil {
		return nil, err
	}

	return &Mapping{
		data:   data,
		off:    off,
		length: length,
		unmap:  unmap,
	}, nil
}

// Bytes returns the mapped byte range.
// Warning: the slice is valid only until Close() is called.
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data[m.off : m.off+m.length]
}

// Len returns the length of the mapped range in bytes.
func (m *Mapping) Len() int {
	return m.length
}

// Close releases the mapping. It is idempotent.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) {
		return nil // Already closed
	}
	if m.unmap != nil && m.data != nil {
		return m.unmap(m.data)
	}
	return nil
}
