package docmap

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/docmap/codec"
	"github.com/hupe1980/docmap/internal/fs"
)

// Compression selects how snapshot archives are compressed. The name is
// recorded in the archive header, so Restore picks the matching reader
// without configuration.
type Compression string

const (
	// CompressionZstd compresses with zstd (the default).
	CompressionZstd Compression = "zstd"
	// CompressionLZ4 compresses with lz4, trading ratio for speed.
	CompressionLZ4 Compression = "lz4"
	// CompressionNone stores the files uncompressed.
	CompressionNone Compression = "none"
)

var snapshotMagic = [4]byte{'D', 'M', 'S', '0'}

const snapshotVersion = uint16(1)

// SnapshotOptions configure Snapshot.
type SnapshotOptions struct {
	Compression Compression
}

// Snapshot writes the entire store into w as a single self-describing,
// optionally compressed archive. Staged documents are flushed first, so
// the archive reflects the canonical state.
func (s *Store) Snapshot(ctx context.Context, w io.Writer, optFns ...func(o *SnapshotOptions)) error {
	opts := SnapshotOptions{Compression: CompressionZstd}
	for _, fn := range optFns {
		fn(&opts)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.pool.Flush(); err != nil {
		return err
	}

	if err := writeSnapshotHeader(w, opts.Compression, s.opts.KeyLength, s.opts.Codec.Name()); err != nil {
		return err
	}

	cw, err := compressorFor(w, opts.Compression)
	if err != nil {
		return err
	}

	for _, path := range []string{s.headerPath, s.bodyPath} {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writeSnapshotSection(cw, s.opts.FS, path); err != nil {
			return err
		}
	}

	if err := cw.Close(); err != nil {
		return fmt.Errorf("finish snapshot stream: %w", err)
	}

	s.logger.Debug("snapshot written", "compression", string(opts.Compression))

	return nil
}

// Restore rebuilds a store directory from an archive written by Snapshot
// and opens it. Key length and codec are taken from the archive header;
// options may override everything else.
func Restore(path string, r io.Reader, optFns ...func(o *Options)) (*Store, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.applyDefaults()

	compression, keyLength, codecName, err := readSnapshotHeader(r)
	if err != nil {
		return nil, err
	}

	selected, ok := codec.ByName(codecName)
	if !ok {
		return nil, fmt.Errorf("restore: unknown codec %q", codecName)
	}

	cr, err := decompressorFor(r, compression)
	if err != nil {
		return nil, err
	}
	defer cr.Close()

	if err := opts.FS.MkdirAll(path, 0750); err != nil {
		return nil, fmt.Errorf("create store directory %s: %w", path, err)
	}

	for _, name := range []string{headerFileName, bodyFileName} {
		if err := readSnapshotSection(cr, opts.FS, filepath.Join(path, name)); err != nil {
			return nil, err
		}
	}

	return New(path, func(o *Options) {
		*o = opts
		o.KeyLength = keyLength
		o.Codec = selected
	})
}

func writeSnapshotHeader(w io.Writer, compression Compression, keyLength int, codecName string) error {
	buf := make([]byte, 0, 12+len(compression)+len(codecName))
	buf = append(buf, snapshotMagic[:]...)
	buf = binary.LittleEndian.AppendUint16(buf, snapshotVersion)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(keyLength))
	buf = append(buf, byte(len(compression)))
	buf = append(buf, compression...)
	buf = append(buf, byte(len(codecName)))
	buf = append(buf, codecName...)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write snapshot header: %w", err)
	}
	return nil
}

func readSnapshotHeader(r io.Reader) (Compression, int, string, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return "", 0, "", fmt.Errorf("read snapshot magic: %w", err)
	}
	if magic != snapshotMagic {
		return "", 0, "", fmt.Errorf("unsupported snapshot format: invalid magic")
	}

	var fixed [6]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return "", 0, "", fmt.Errorf("read snapshot header: %w", err)
	}
	if v := binary.LittleEndian.Uint16(fixed[0:2]); v != snapshotVersion {
		return "", 0, "", fmt.Errorf("unsupported snapshot version: %d", v)
	}
	keyLength := int(binary.LittleEndian.Uint32(fixed[2:6]))

	readString := func() (string, error) {
		var n [1]byte
		if _, err := io.ReadFull(r, n[:]); err != nil {
			return "", err
		}
		b := make([]byte, n[0])
		if _, err := io.ReadFull(r, b); err != nil {
			return "", err
		}
		return string(b), nil
	}

	compression, err := readString()
	if err != nil {
		return "", 0, "", fmt.Errorf("read snapshot compression name: %w", err)
	}
	codecName, err := readString()
	if err != nil {
		return "", 0, "", fmt.Errorf("read snapshot codec name: %w", err)
	}

	return Compression(compression), keyLength, codecName, nil
}

// writeSnapshotSection streams one file into the archive as an 8-byte
// little-endian length followed by the raw bytes.
func writeSnapshotSection(w io.Writer, fsys fs.FileSystem, path string) error {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	var size [8]byte
	binary.LittleEndian.PutUint64(size[:], uint64(info.Size()))
	if _, err := w.Write(size[:]); err != nil {
		return fmt.Errorf("write section size: %w", err)
	}

	if _, err := io.CopyN(w, f, info.Size()); err != nil {
		return fmt.Errorf("write section %s: %w", path, err)
	}

	return nil
}

func readSnapshotSection(r io.Reader, fsys fs.FileSystem, path string) error {
	var size [8]byte
	if _, err := io.ReadFull(r, size[:]); err != nil {
		return fmt.Errorf("read section size: %w", err)
	}
	n := int64(binary.LittleEndian.Uint64(size[:]))

	f, err := fsys.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := io.CopyN(f, r, n); err != nil {
		return fmt.Errorf("restore section %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}

	return nil
}

func compressorFor(w io.Writer, compression Compression) (io.WriteCloser, error) {
	switch compression {
	case CompressionZstd, "":
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("create zstd writer: %w", err)
		}
		return zw, nil
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	case CompressionNone:
		return nopWriteCloser{w}, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", compression)
	}
}

func decompressorFor(r io.Reader, compression Compression) (io.ReadCloser, error) {
	switch compression {
	case CompressionZstd, "":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("create zstd reader: %w", err)
		}
		return zr.IOReadCloser(), nil
	case CompressionLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case CompressionNone:
		return io.NopCloser(r), nil
	default:
		return nil, fmt.Errorf("unknown compression %q", compression)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
