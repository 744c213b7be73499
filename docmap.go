package docmap

import (
	"fmt"
	"iter"
	"path/filepath"
	"sync"

	"github.com/hupe1980/docmap/internal/body"
	"github.com/hupe1980/docmap/internal/bufferpool"
	"github.com/hupe1980/docmap/internal/header"
	"github.com/hupe1980/docmap/model"
)

const (
	headerFileName = "header.bin"
	bodyFileName   = "body.bin"
)

// Store is a disk-backed, append-oriented document array. The header index
// stays in memory while payload bytes live in a memory-mapped body file, so
// a process can hold and randomly access collections far larger than RAM.
//
// A Store assumes single-writer access to its directory. Methods are safe
// for concurrent use from multiple goroutines within that writer process;
// mutation by another process is only observed via an explicit Reload.
type Store struct {
	mu sync.Mutex

	path       string
	headerPath string
	bodyPath   string

	opts   Options
	logger *Logger

	header *header.Index
	body   *body.Store
	pool   *bufferpool.Pool
}

// storeSink adapts the store's durable append path to the buffer pool's
// write-back capability without handing the pool the whole store.
type storeSink struct {
	s *Store
}

func (ss storeSink) AppendDurable(doc *model.Document, flush bool) error {
	return ss.s.append(doc, flush, false)
}

func (ss storeSink) FlushFiles() error {
	return ss.s.flushFiles()
}

// New opens or creates a store in the given directory. The directory is
// created if absent; existing header entries are loaded into memory.
func New(path string, optFns ...func(o *Options)) (*Store, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.applyDefaults()

	if err := opts.FS.MkdirAll(path, 0750); err != nil {
		return nil, fmt.Errorf("create store directory %s: %w", path, err)
	}

	s := &Store{
		path:       path,
		headerPath: filepath.Join(path, headerFileName),
		bodyPath:   filepath.Join(path, bodyFileName),
		opts:       opts,
		logger:     opts.Logger.WithPath(path),
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	s.pool = bufferpool.New(opts.BufferPoolCapacity, storeSink{s})

	s.logger.Debug("store opened", "live", s.header.Len(), "slots", s.header.Slots())

	return s, nil
}

// load (re)opens the header and body files and parses the header. Existing
// handles are closed first.
func (s *Store) load() error {
	if s.header != nil {
		_ = s.header.Close()
	}
	if s.body != nil {
		_ = s.body.Close()
	}

	ix, resume, err := header.Open(s.opts.FS, s.headerPath, s.opts.KeyLength)
	if err != nil {
		return err
	}

	b, err := body.Open(s.opts.FS, s.bodyPath, int64(s.opts.PageSize), resume)
	if err != nil {
		_ = ix.Close()
		return err
	}

	s.header = ix
	s.body = b

	return nil
}

// Reload re-parses the header file and resets the buffer pool, discarding
// any staged state. Use it when on-disk state was mutated out from under
// this instance; only the header is re-read, body content is not
// revalidated.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return err
	}
	s.pool.Clear()

	return nil
}

// Clear truncates the store to empty, dropping all documents and staged
// state.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.header.Close()
	_ = s.body.Close()
	s.header = nil
	s.body = nil

	if err := s.opts.FS.Truncate(s.headerPath, 0); err != nil {
		return fmt.Errorf("truncate header: %w", err)
	}
	if err := s.opts.FS.Truncate(s.bodyPath, 0); err != nil {
		return fmt.Errorf("truncate body: %w", err)
	}

	if err := s.load(); err != nil {
		return err
	}
	s.pool.Clear()

	return nil
}

// Close flushes staged documents and releases the file handles.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.pool.Flush(); err != nil {
		return err
	}

	if err := s.header.Close(); err != nil {
		return err
	}
	return s.body.Close()
}

// Path returns the store directory.
func (s *Store) Path() string {
	return s.path
}

// Len returns the number of live documents. Tombstoned entries are excluded.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.header.Len()
}

// Contains reports whether key is present in the live index. Documents
// staged in the buffer pool but not yet flushed are not visible here.
func (s *Store) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.header.Lookup(key)
	return ok
}

// Keys returns the live keys in insertion order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.header.Keys()
}

// Append adds a document to the end of the array and makes it durable.
func (s *Store) Append(doc *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.append(doc, true, true)
}

// Extend appends every document, batching durability into a single flush
// at the end. This is an optimization, not a transaction: a crash mid-way
// can leave a prefix of the documents durable and the rest absent.
func (s *Store) Extend(docs []*model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, doc := range docs {
		if err := s.append(doc, false, true); err != nil {
			return err
		}
	}

	if err := s.flushFiles(); err != nil {
		return err
	}

	s.logger.Debug("extend completed", "count", len(docs))

	return nil
}

// append is the durable write path. It encodes the document, appends the
// payload to the body, records the header entry and optionally updates the
// buffer pool. The caller holds s.mu.
func (s *Store) append(doc *model.Document, flush, updateBuffer bool) error {
	if err := s.validateKey(doc.ID); err != nil {
		return err
	}

	payload, err := s.opts.Codec.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document %q: %w", doc.ID, err)
	}

	pageOffset, start, end, err := s.body.Write(payload)
	if err != nil {
		return err
	}

	if err := s.header.Append(doc.ID, pageOffset, start, end, false); err != nil {
		return err
	}

	if flush {
		if err := s.flushFiles(); err != nil {
			return err
		}
	}

	if updateBuffer {
		if err := s.pool.AddOrUpdate(doc.ID, doc); err != nil {
			return err
		}
	}

	s.logger.Debug("document appended", "key", doc.ID, "bytes", len(payload))

	return nil
}

func (s *Store) flushFiles() error {
	if err := s.header.Flush(); err != nil {
		return err
	}
	return s.body.Flush()
}

func (s *Store) validateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if n := len([]rune(key)); n > s.opts.KeyLength {
		return &ErrKeyTooLong{Key: key, KeyLength: s.opts.KeyLength}
	}
	return nil
}

// Get returns the document for key, consulting the buffer pool first and
// falling back to a transient memory-mapped read of the body file.
func (s *Store) Get(key string) (*model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.get(key)
}

func (s *Store) get(key string) (*model.Document, error) {
	if doc, ok := s.pool.Get(key); ok {
		return doc, nil
	}

	loc, ok := s.header.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}

	payload, err := s.body.Read(loc.PageOffset, loc.Start, loc.End)
	if err != nil {
		return nil, err
	}

	doc := &model.Document{}
	if err := s.opts.Codec.Unmarshal(payload, doc); err != nil {
		return nil, fmt.Errorf("decode document %q: %w", key, err)
	}

	if err := s.pool.AddOrUpdate(key, doc); err != nil {
		return nil, err
	}

	return doc, nil
}

// GetAt returns the document at the given physical slot. Slot positions
// are assigned in append order and keep their gaps after deletions: a
// tombstoned slot fails with ErrNotFound until the next Prune rebuilds
// the array densely.
func (s *Store) GetAt(ordinal int) (*model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := s.header.KeyAt(ordinal)
	if err != nil {
		return nil, translateError(err)
	}

	return s.get(key)
}

// Slice returns the documents in the slot range [start, stop), resolved in
// range order. Bounds follow Go slice conventions against Len.
func (s *Store) Slice(start, stop int) ([]*model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if start < 0 || stop < start || stop > s.header.Len() {
		return nil, fmt.Errorf("%w: [%d:%d) with length %d", ErrOutOfRange, start, stop, s.header.Len())
	}

	docs := make([]*model.Document, 0, stop-start)
	for i := start; i < stop; i++ {
		key, err := s.header.KeyAt(i)
		if err != nil {
			return nil, translateError(err)
		}
		doc, err := s.get(key)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	return docs, nil
}

// Set stores doc as the new version of key. The document's ID is
// overwritten with key and the new version claims a fresh physical slot;
// the previous payload bytes stay on disk until Prune.
func (s *Store) Set(key string, doc *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc.ID = key

	return s.append(doc, true, true)
}

// SetAt overwrites the slot at ordinal with doc. This is a two-step
// operation, not an in-place mutation: the new document is appended into a
// fresh physical slot under its own key, and when that key differs from
// the one previously at ordinal, the old key is tombstoned.
func (s *Store) SetAt(ordinal int, doc *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ordinal < 0 || ordinal >= s.header.Len() {
		return fmt.Errorf("%w: %d with length %d", ErrOutOfRange, ordinal, s.header.Len())
	}

	oldKey, err := s.header.KeyAt(ordinal)
	if err != nil {
		return translateError(err)
	}

	if err := s.append(doc, true, true); err != nil {
		return err
	}

	if oldKey != doc.ID {
		if _, ok := s.header.Lookup(oldKey); ok {
			if err := s.delete(oldKey); err != nil {
				return err
			}
		}
	}

	return nil
}

// Delete tombstones the document for key. The header slot is rewritten
// with the sentinel offsets; body bytes remain on disk until Prune.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.delete(key)
}

func (s *Store) delete(key string) error {
	loc, ok := s.header.Lookup(key)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, key)
	}

	if err := s.header.Tombstone(loc.Ordinal, key); err != nil {
		return translateError(err)
	}
	s.pool.DeleteIfExists(key)

	s.logger.Debug("document deleted", "key", key, "slot", loc.Ordinal)

	return nil
}

// DeleteAt tombstones the document at the given physical slot.
func (s *Store) DeleteAt(ordinal int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := s.header.KeyAt(ordinal)
	if err != nil {
		return translateError(err)
	}

	return s.delete(key)
}

// DeleteRange tombstones every document in the slot range [start, stop).
// The affected keys are resolved up front, then deleted one by one; a
// failure part-way leaves the earlier deletions in place.
func (s *Store) DeleteRange(start, stop int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if start < 0 || stop < start || stop > s.header.Len() {
		return fmt.Errorf("%w: [%d:%d) with length %d", ErrOutOfRange, start, stop, s.header.Len())
	}

	keys := make([]string, 0, stop-start)
	for i := start; i < stop; i++ {
		key, err := s.header.KeyAt(i)
		if err != nil {
			return translateError(err)
		}
		keys = append(keys, key)
	}

	for _, key := range keys {
		if err := s.delete(key); err != nil {
			return err
		}
	}

	return nil
}

// Documents returns an iterator over the live documents in insertion
// order. The key order is snapshotted when iteration starts; mutations
// during iteration affect the fetched values but not the sequence of keys.
func (s *Store) Documents() iter.Seq2[*model.Document, error] {
	return func(yield func(*model.Document, error) bool) {
		for _, key := range s.Keys() {
			doc, err := s.Get(key)
			if !yield(doc, err) {
				return
			}
			if err != nil {
				return
			}
		}
	}
}

// Stage caches doc in the buffer pool ahead of durability. The staged
// version is served by Get but stays invisible to Contains and other
// stores until Save (or a write-back eviction) persists it.
func (s *Store) Stage(doc *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validateKey(doc.ID); err != nil {
		return err
	}

	return s.pool.Stage(doc.ID, doc)
}

// Save persists every staged document in the buffer pool.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pool.Flush()
}

// Stats describe the store's live and reclaimable state.
type Stats struct {
	// Live is the number of live documents.
	Live int
	// DeletedSlots is the number of tombstoned header slots awaiting Prune.
	DeletedSlots int
	// PhysicalSlots is the total number of header slots on disk.
	PhysicalSlots int
	// HeaderBytes and BodyBytes are the on-disk file sizes.
	HeaderBytes int64
	BodyBytes   int64
}

// Stats returns size and tombstone counters for the store.
func (s *Store) Stats() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stats()
}

func (s *Store) stats() (Stats, error) {
	headerInfo, err := s.opts.FS.Stat(s.headerPath)
	if err != nil {
		return Stats{}, fmt.Errorf("stat header: %w", err)
	}
	bodyBytes, err := s.body.Size()
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		Live:          s.header.Len(),
		DeletedSlots:  s.header.DeletedSlots(),
		PhysicalSlots: s.header.Slots(),
		HeaderBytes:   headerInfo.Size(),
		BodyBytes:     bodyBytes,
	}, nil
}

// Prune rewrites the store without tombstones and stale payload versions,
// reclaiming their disk space. The live documents are copied into a fresh
// store in a temporary sibling directory, the compacted files are renamed
// into place, and the store reloads. This is the only operation that
// shrinks the on-disk footprint.
func (s *Store) Prune() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Staged documents live only in the buffer pool; push them to disk so
	// the compacted copy includes them.
	if err := s.pool.Flush(); err != nil {
		return err
	}

	before, err := s.stats()
	if err != nil {
		return err
	}

	tmpDir, err := s.opts.FS.MkdirTemp(s.path, "prune-")
	if err != nil {
		return fmt.Errorf("create prune directory: %w", err)
	}
	defer func() {
		_ = s.opts.FS.RemoveAll(tmpDir)
	}()

	compact, err := New(tmpDir, func(o *Options) {
		*o = s.opts
		o.Logger = NoopLogger()
	})
	if err != nil {
		return fmt.Errorf("open prune store: %w", err)
	}

	for _, key := range s.header.Keys() {
		doc, err := s.get(key)
		if err != nil {
			_ = compact.Close()
			return err
		}
		if err := compact.append(doc, false, false); err != nil {
			_ = compact.Close()
			return err
		}
	}

	if err := compact.Close(); err != nil {
		return err
	}

	// Swap in the compacted files. Rename is atomic within the directory
	// tree; the old files are replaced in place.
	_ = s.header.Close()
	_ = s.body.Close()
	s.header = nil
	s.body = nil

	if err := s.opts.FS.Rename(filepath.Join(tmpDir, headerFileName), s.headerPath); err != nil {
		return fmt.Errorf("swap header: %w", err)
	}
	if err := s.opts.FS.Rename(filepath.Join(tmpDir, bodyFileName), s.bodyPath); err != nil {
		return fmt.Errorf("swap body: %w", err)
	}

	if err := s.load(); err != nil {
		return err
	}
	s.pool.Clear()

	after, err := s.stats()
	if err != nil {
		return err
	}

	s.logger.Info("store pruned",
		"live", after.Live,
		"reclaimed_slots", before.PhysicalSlots-after.PhysicalSlots,
		"reclaimed_bytes", (before.HeaderBytes+before.BodyBytes)-(after.HeaderBytes+after.BodyBytes),
	)

	return nil
}
