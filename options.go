package docmap

import (
	"os"

	"github.com/hupe1980/docmap/codec"
	"github.com/hupe1980/docmap/internal/fs"
)

// Options configure a Store at construction time. The key width and page
// size shape the on-disk format: a store must be reopened with the same
// KeyLength it was created with, and with a PageSize for which every
// recorded page offset is a valid mapping base (the creation value, or a
// divisor of it).
type Options struct {
	// KeyLength is the fixed key width in runes. Longer keys fail with
	// ErrKeyTooLong; they are never truncated.
	KeyLength int

	// BufferPoolCapacity is the maximum number of documents held in the
	// write-back cache before eviction.
	BufferPoolCapacity int

	// PageSize is the allocation granularity used for page-aligned body
	// offsets. Zero selects the system page size. Tests may inject a
	// small deterministic value.
	PageSize int

	// Codec encodes documents to body payloads. Defaults to codec.Default.
	Codec codec.Codec

	// Logger receives structured debug/info logs. Defaults to a noop logger.
	Logger *Logger

	// FS abstracts file system access for testing. Defaults to the local
	// file system.
	FS fs.FileSystem
}

// DefaultOptions are the defaults used by New.
var DefaultOptions = Options{
	KeyLength:          36, // fits canonical UUID strings
	BufferPoolCapacity: 1000,
}

func (o *Options) applyDefaults() {
	if o.KeyLength <= 0 {
		o.KeyLength = DefaultOptions.KeyLength
	}
	if o.BufferPoolCapacity <= 0 {
		o.BufferPoolCapacity = DefaultOptions.BufferPoolCapacity
	}
	if o.PageSize <= 0 {
		o.PageSize = os.Getpagesize()
	}
	if o.Codec == nil {
		o.Codec = codec.Default
	}
	if o.Logger == nil {
		o.Logger = NoopLogger()
	}
	if o.FS == nil {
		o.FS = fs.Default
	}
}
