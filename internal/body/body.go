// Package body implements the append-only payload file of a docmap store.
//
// Payloads are concatenated without framing; byte ranges are recovered
// entirely from header entries. Writes are sequential appends, reads go
// through one transient memory mapping per call.
package body

import (
	"fmt"
	"os"

	"github.com/hupe1980/docmap/internal/fs"
	"github.com/hupe1980/docmap/internal/mmap"
)

// Store is the append-only body file.
type Store struct {
	f        fs.File
	pageSize int64
	next     int64 // next write offset, monotonically non-decreasing
}

// Open opens or creates the body file at path. resume is the write offset
// derived from the header; a negative value means the header could not
// provide one (last entry tombstoned) and the file size is used instead,
// so regions claimed by earlier appends are never reused.
func Open(fsys fs.FileSystem, path string, pageSize, resume int64) (*Store, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("body: invalid page size %d", pageSize)
	}

	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("body: open %s: %w", path, err)
	}

	if resume < 0 {
		info, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("body: stat %s: %w", path, err)
		}
		resume = info.Size()
	}

	return &Store{f: f, pageSize: pageSize, next: resume}, nil
}

// Write appends payload at the current write offset and returns the
// page-aligned mapping base plus the payload's byte range relative to it.
// The next write offset advances to pageOffset+end.
func (s *Store) Write(payload []byte) (pageOffset, start, end int64, err error) {
	pageOffset = s.next / s.pageSize * s.pageSize
	start = s.next - pageOffset
	end = start + int64(len(payload))

	if _, err := s.f.WriteAt(payload, s.next); err != nil {
		return 0, 0, 0, fmt.Errorf("body: write %d bytes at %d: %w", len(payload), s.next, err)
	}
	s.next = pageOffset + end

	return pageOffset, start, end, nil
}

// Read memory-maps the range [pageOffset, pageOffset+end) and copies out
// the payload slice [start:end]. The mapping is released before returning.
func (s *Store) Read(pageOffset, start, end int64) ([]byte, error) {
	if end == start {
		return []byte{}, nil
	}

	m, err := mmap.MapRange(s.f, pageOffset, int(end))
	if err != nil {
		return nil, fmt.Errorf("body: map range at %d: %w", pageOffset, err)
	}
	defer m.Close()

	payload := make([]byte, end-start)
	copy(payload, m.Bytes()[start:end])

	return payload, nil
}

// NextWriteOffset returns the offset the next append will claim.
func (s *Store) NextWriteOffset() int64 {
	return s.next
}

// Size returns the current size of the body file in bytes.
func (s *Store) Size() (int64, error) {
	info, err := s.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("body: stat: %w", err)
	}
	return info.Size(), nil
}

// Flush forces buffered appends to stable storage.
func (s *Store) Flush() error {
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("body: sync: %w", err)
	}
	return nil
}

// Close closes the body file handle.
func (s *Store) Close() error {
	return s.f.Close()
}
