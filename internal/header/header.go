package header

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/docmap/internal/fs"
	"github.com/hupe1980/docmap/model"
)

var (
	// ErrSlotOutOfRange is returned for ordinals outside the physical
	// entry array.
	ErrSlotOutOfRange = errors.New("header: slot out of range")
	// ErrKeyTooLong is returned when a key exceeds the fixed key width.
	ErrKeyTooLong = errors.New("header: key exceeds fixed width")
)

// tombstoneOffset is the sentinel written into all three offset fields of a
// deleted slot. A slot is never removed or shifted, only marked dead.
const tombstoneOffset int64 = -1

// Index is the in-memory mirror of the header file: an insertion-ordered
// mapping from document key to body location, plus the file handle used to
// append and tombstone entries in place.
//
// Each on-disk entry is 4*keyLength+24 bytes: the key as UTF-32LE code
// units zero-padded to keyLength runes, followed by three little-endian
// int64 values (pageOffset, start, end).
type Index struct {
	f         fs.File
	keyLength int
	entrySize int

	slots      int // physical entries on disk
	live       map[string]model.Location
	order      []string // live keys in insertion order
	tombstones *roaring.Bitmap
}

// Open opens or creates the header file at path and parses it into a live
// index. The second return value is the body resume offset derived from the
// last physical entry; it is -1 when that entry is a tombstone and the
// extent information is lost, in which case the caller must fall back to
// the body file size so claimed regions are never reused.
func Open(fsys fs.FileSystem, path string, keyLength int) (*Index, int64, error) {
	if keyLength <= 0 {
		return nil, 0, fmt.Errorf("header: invalid key length %d", keyLength)
	}

	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, 0, fmt.Errorf("header: open %s: %w", path, err)
	}

	data, err := io.ReadAll(f)
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("header: read %s: %w", path, err)
	}

	ix := &Index{
		f:          f,
		keyLength:  keyLength,
		entrySize:  4*keyLength + 24,
		live:       make(map[string]model.Location),
		tombstones: roaring.New(),
	}

	// A trailing partial entry is a torn write from a crash mid-append; it
	// is ignored and the next append overwrites it.
	n := len(data) / ix.entrySize
	resume := int64(0)

	for i := 0; i < n; i++ {
		key, pageOffset, start, end := ix.decodeEntry(data[i*ix.entrySize:])

		if pageOffset == tombstoneOffset && start == tombstoneOffset && end == tombstoneOffset {
			ix.tombstones.Add(uint32(i))
			resume = -1
			continue
		}

		resume = pageOffset + end

		if _, ok := ix.live[key]; !ok {
			ix.order = append(ix.order, key)
		}
		ix.live[key] = model.Location{Ordinal: i, PageOffset: pageOffset, Start: start, End: end}
	}

	ix.slots = n

	return ix, resume, nil
}

// Append serializes one entry at the end of the header file and inserts key
// into the live mapping. The recorded ordinal is the live-mapping size at
// insertion time; after mid-array deletions it can differ from the entry's
// physical slot until the next load.
func (ix *Index) Append(key string, pageOffset, start, end int64, flush bool) error {
	buf, err := ix.encodeEntry(key, pageOffset, start, end)
	if err != nil {
		return err
	}

	if _, err := ix.f.WriteAt(buf, int64(ix.slots)*int64(ix.entrySize)); err != nil {
		return fmt.Errorf("header: append entry: %w", err)
	}
	ix.slots++

	ordinal := len(ix.live)
	if _, ok := ix.live[key]; !ok {
		ix.order = append(ix.order, key)
	}
	ix.live[key] = model.Location{Ordinal: ordinal, PageOffset: pageOffset, Start: start, End: end}

	if flush {
		return ix.Flush()
	}
	return nil
}

// Tombstone rewrites the physical slot for ordinal with the sentinel
// offsets and removes key from the live mapping. The slot keeps its key
// field so KeyAt still resolves it.
func (ix *Index) Tombstone(ordinal int, key string) error {
	if ordinal < 0 || ordinal >= ix.slots {
		return fmt.Errorf("%w: %d (have %d slots)", ErrSlotOutOfRange, ordinal, ix.slots)
	}

	buf, err := ix.encodeEntry(key, tombstoneOffset, tombstoneOffset, tombstoneOffset)
	if err != nil {
		return err
	}

	if _, err := ix.f.WriteAt(buf, int64(ordinal)*int64(ix.entrySize)); err != nil {
		return fmt.Errorf("header: tombstone slot %d: %w", ordinal, err)
	}
	if err := ix.Flush(); err != nil {
		return err
	}

	ix.tombstones.Add(uint32(ordinal))
	delete(ix.live, key)
	if i := slices.Index(ix.order, key); i >= 0 {
		ix.order = slices.Delete(ix.order, i, i+1)
	}

	return nil
}

// KeyAt reads the fixed-width key field of the given physical slot without
// touching the live mapping. It works for live and tombstoned slots alike.
func (ix *Index) KeyAt(ordinal int) (string, error) {
	if ordinal < 0 || ordinal >= ix.slots {
		return "", fmt.Errorf("%w: %d (have %d slots)", ErrSlotOutOfRange, ordinal, ix.slots)
	}

	buf := make([]byte, 4*ix.keyLength)
	if _, err := ix.f.ReadAt(buf, int64(ordinal)*int64(ix.entrySize)); err != nil {
		return "", fmt.Errorf("header: read slot %d: %w", ordinal, err)
	}

	return decodeKey(buf), nil
}

// Lookup returns the live location for key.
func (ix *Index) Lookup(key string) (model.Location, bool) {
	loc, ok := ix.live[key]
	return loc, ok
}

// Keys returns a snapshot of the live keys in insertion order. A key that
// is overwritten keeps its original position.
func (ix *Index) Keys() []string {
	return slices.Clone(ix.order)
}

// Len returns the number of live entries.
func (ix *Index) Len() int {
	return len(ix.live)
}

// Slots returns the number of physical entries on disk, tombstones included.
func (ix *Index) Slots() int {
	return ix.slots
}

// DeletedSlots returns the number of tombstoned physical slots.
func (ix *Index) DeletedSlots() int {
	return int(ix.tombstones.GetCardinality())
}

// EntrySize returns the fixed width of one on-disk entry in bytes.
func (ix *Index) EntrySize() int {
	return ix.entrySize
}

// Flush forces buffered entry writes to stable storage.
func (ix *Index) Flush() error {
	if err := ix.f.Sync(); err != nil {
		return fmt.Errorf("header: sync: %w", err)
	}
	return nil
}

// Close closes the header file handle.
func (ix *Index) Close() error {
	return ix.f.Close()
}

func (ix *Index) encodeEntry(key string, pageOffset, start, end int64) ([]byte, error) {
	runes := []rune(key)
	if len(runes) > ix.keyLength {
		return nil, fmt.Errorf("%w: %q is %d runes, max %d", ErrKeyTooLong, key, len(runes), ix.keyLength)
	}

	buf := make([]byte, ix.entrySize)
	for i, r := range runes {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(r))
	}
	off := 4 * ix.keyLength
	binary.LittleEndian.PutUint64(buf[off:], uint64(pageOffset))
	binary.LittleEndian.PutUint64(buf[off+8:], uint64(start))
	binary.LittleEndian.PutUint64(buf[off+16:], uint64(end))

	return buf, nil
}

func (ix *Index) decodeEntry(buf []byte) (key string, pageOffset, start, end int64) {
	key = decodeKey(buf[:4*ix.keyLength])
	off := 4 * ix.keyLength
	pageOffset = int64(binary.LittleEndian.Uint64(buf[off:]))
	start = int64(binary.LittleEndian.Uint64(buf[off+8:]))
	end = int64(binary.LittleEndian.Uint64(buf[off+16:]))
	return key, pageOffset, start, end
}

// decodeKey decodes a zero-padded UTF-32LE key field.
func decodeKey(buf []byte) string {
	runes := make([]rune, 0, len(buf)/4)
	for i := 0; i+4 <= len(buf); i += 4 {
		r := rune(binary.LittleEndian.Uint32(buf[i:]))
		if r == 0 {
			break
		}
		runes = append(runes, r)
	}
	return string(runes)
}
