// Package mmap provides transient memory-mapped reads of file ranges.
//
// # Overview
//
// Memory mapping allows direct access to file contents without copying data
// through kernel buffers. Docmap maps one byte range per read, copies the
// payload out, and releases the mapping immediately; no mapping outlives a
// single read.
//
// # Usage
//
//	m, err := mmap.MapRange(f, offset, length)
//	if err != nil { ... }
//	defer m.Close()
//
//	payload := m.Bytes()
//
// # Alignment
//
// Mapping offsets must be multiples of the platform allocation granularity.
// MapRange handles this itself: it aligns the underlying mapping down to the
// granularity and returns a view that starts at the requested offset, so
// callers may pass arbitrary offsets.
//
// # Platform Support
//
//   - Unix (Linux, macOS, BSD): mmap(2) via golang.org/x/sys/unix
//   - Other platforms: positional read fallback (same API, one copy)
package mmap
