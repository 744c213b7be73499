package docmap

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/docmap/codec"
	"github.com/hupe1980/docmap/internal/fs"
	"github.com/hupe1980/docmap/model"
)

func newTestStore(t *testing.T, optFns ...func(o *Options)) *Store {
	t.Helper()

	store, err := New(t.TempDir(), optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func testDoc(key, content string) *model.Document {
	return &model.Document{
		ID:       key,
		Content:  []byte(content),
		Metadata: map[string]any{"lang": "en"},
	}
}

func TestAppendGet(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Append(testDoc("doc-1", "hello")))

	doc, err := store.Get("doc-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", doc.ID)
	assert.Equal(t, []byte("hello"), doc.Content)
	assert.Equal(t, "en", doc.Metadata["lang"])

	assert.Equal(t, 1, store.Len())
	assert.True(t, store.Contains("doc-1"))
	assert.False(t, store.Contains("doc-2"))
}

func TestGetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendInvalidKey(t *testing.T) {
	store := newTestStore(t, func(o *Options) {
		o.KeyLength = 4
	})

	err := store.Append(testDoc("", "x"))
	assert.ErrorIs(t, err, ErrEmptyKey)

	err = store.Append(testDoc("too-long-key", "x"))
	var keyErr *ErrKeyTooLong
	require.ErrorAs(t, err, &keyErr)
	assert.Equal(t, "too-long-key", keyErr.Key)
	assert.Equal(t, 4, keyErr.KeyLength)
}

func TestReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, store.Append(testDoc("a", "alpha")))
	require.NoError(t, store.Append(testDoc("b", "beta")))
	require.NoError(t, store.Close())

	reopened, err := New(dir)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 2, reopened.Len())
	assert.Equal(t, []string{"a", "b"}, reopened.Keys())

	doc, err := reopened.Get("b")
	require.NoError(t, err)
	assert.Equal(t, []byte("beta"), doc.Content)
}

func TestExtend(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Extend([]*model.Document{
		testDoc("a", "alpha"),
		testDoc("b", "beta"),
		testDoc("c", "gamma"),
	}))

	assert.Equal(t, 3, store.Len())
	assert.Equal(t, []string{"a", "b", "c"}, store.Keys())
}

func TestExtendPartialFailure(t *testing.T) {
	dir := t.TempDir()

	payload, err := codec.Default.Marshal(testDoc("a", "alpha"))
	require.NoError(t, err)

	faulty := fs.NewFaultyFS(nil)
	// The body file accepts exactly one payload, the second write fails.
	faulty.AddRule(bodyFileName, fs.Fault{FailAfterBytes: int64(len(payload))})

	store, err := New(dir, func(o *Options) {
		o.FS = faulty
	})
	require.NoError(t, err)

	err = store.Extend([]*model.Document{
		testDoc("a", "alpha"),
		testDoc("b", "bravo"),
	})
	require.Error(t, err)

	// The durable prefix survives a reopen, the failed tail is absent.
	reopened, err := New(dir)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 1, reopened.Len())
	assert.True(t, reopened.Contains("a"))
	assert.False(t, reopened.Contains("b"))
}

func TestGetAt(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Append(testDoc("a", "alpha")))
	require.NoError(t, store.Append(testDoc("b", "beta")))

	doc, err := store.GetAt(1)
	require.NoError(t, err)
	assert.Equal(t, "b", doc.ID)

	_, err = store.GetAt(5)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestGetAtTombstonedSlot(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Append(testDoc("a", "alpha")))
	require.NoError(t, store.Append(testDoc("b", "beta")))
	require.NoError(t, store.Append(testDoc("c", "gamma")))
	require.NoError(t, store.Delete("b"))

	// The slot keeps its position but its key no longer resolves.
	_, err := store.GetAt(1)
	assert.ErrorIs(t, err, ErrNotFound)

	doc, err := store.GetAt(2)
	require.NoError(t, err)
	assert.Equal(t, "c", doc.ID)
}

func TestSlice(t *testing.T) {
	store := newTestStore(t)

	for i := range 5 {
		require.NoError(t, store.Append(testDoc(fmt.Sprintf("doc-%d", i), "x")))
	}

	docs, err := store.Slice(1, 4)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "doc-1", docs[0].ID)
	assert.Equal(t, "doc-3", docs[2].ID)

	_, err = store.Slice(0, 6)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = store.Slice(3, 2)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestSetOverwritesKey(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Append(testDoc("a", "alpha")))
	require.NoError(t, store.Append(testDoc("b", "beta")))

	require.NoError(t, store.Set("a", testDoc("ignored", "alpha-v2")))

	assert.Equal(t, 2, store.Len())
	// An overwritten key keeps its insertion position.
	assert.Equal(t, []string{"a", "b"}, store.Keys())

	doc, err := store.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha-v2"), doc.Content)

	// The stale version still occupies a physical slot until Prune.
	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.PhysicalSlots)
	assert.Equal(t, 2, stats.Live)
}

func TestSetAt(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Append(testDoc("a", "alpha")))
	require.NoError(t, store.Append(testDoc("b", "beta")))

	require.NoError(t, store.SetAt(0, testDoc("z", "zeta")))

	assert.False(t, store.Contains("a"))
	assert.True(t, store.Contains("z"))
	assert.Equal(t, 2, store.Len())

	err := store.SetAt(9, testDoc("x", "x"))
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Append(testDoc("a", "alpha")))
	require.NoError(t, store.Delete("a"))

	assert.False(t, store.Contains("a"))
	assert.Equal(t, 0, store.Len())

	_, err := store.Get("a")
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.Delete("a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, store.Append(testDoc("a", "alpha")))
	require.NoError(t, store.Append(testDoc("b", "beta")))
	require.NoError(t, store.Delete("a"))
	require.NoError(t, store.Close())

	reopened, err := New(dir)
	require.NoError(t, err)
	defer reopened.Close()

	assert.False(t, reopened.Contains("a"))
	assert.True(t, reopened.Contains("b"))
	assert.Equal(t, 1, reopened.Len())
}

func TestDeleteAt(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Append(testDoc("a", "alpha")))
	require.NoError(t, store.Append(testDoc("b", "beta")))

	require.NoError(t, store.DeleteAt(0))
	assert.Equal(t, []string{"b"}, store.Keys())

	err := store.DeleteAt(9)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestDeleteRange(t *testing.T) {
	store := newTestStore(t)

	for i := range 5 {
		require.NoError(t, store.Append(testDoc(fmt.Sprintf("doc-%d", i), "x")))
	}

	require.NoError(t, store.DeleteRange(1, 4))
	assert.Equal(t, []string{"doc-0", "doc-4"}, store.Keys())

	err := store.DeleteRange(0, 9)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestDocumentsIterator(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Extend([]*model.Document{
		testDoc("a", "alpha"),
		testDoc("b", "beta"),
		testDoc("c", "gamma"),
	}))

	var keys []string
	for doc, err := range store.Documents() {
		require.NoError(t, err)
		keys = append(keys, doc.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestStageAndSave(t *testing.T) {
	dir := t.TempDir()

	store, err := New(dir)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Stage(testDoc("a", "alpha")))

	// Staged documents are readable but not yet durable.
	doc, err := store.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha"), doc.Content)
	assert.False(t, store.Contains("a"))
	assert.Equal(t, 0, store.Len())

	require.NoError(t, store.Save())
	assert.True(t, store.Contains("a"))
	assert.Equal(t, 1, store.Len())
}

func TestCloseFlushesStaged(t *testing.T) {
	dir := t.TempDir()

	store, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, store.Stage(testDoc("a", "alpha")))
	require.NoError(t, store.Close())

	reopened, err := New(dir)
	require.NoError(t, err)
	defer reopened.Close()

	assert.True(t, reopened.Contains("a"))
}

func TestStageEvictionWritesBack(t *testing.T) {
	store := newTestStore(t, func(o *Options) {
		o.BufferPoolCapacity = 2
	})

	require.NoError(t, store.Stage(testDoc("a", "alpha")))
	require.NoError(t, store.Stage(testDoc("b", "beta")))
	require.NoError(t, store.Stage(testDoc("c", "gamma")))

	// Capacity forced the oldest staged document to disk.
	assert.True(t, store.Contains("a"))
	assert.False(t, store.Contains("c"))
}

func TestPruneReclaimsSpace(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Append(testDoc("a", "alpha")))
	require.NoError(t, store.Append(testDoc("b", "beta")))
	require.NoError(t, store.Append(testDoc("c", "gamma")))
	require.NoError(t, store.Delete("b"))

	before, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, before.Live)
	assert.Equal(t, 1, before.DeletedSlots)
	assert.Equal(t, 3, before.PhysicalSlots)

	require.NoError(t, store.Prune())

	after, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, after.Live)
	assert.Equal(t, 0, after.DeletedSlots)
	assert.Equal(t, 2, after.PhysicalSlots)

	// Exactly two fixed-width entries remain in the header file.
	entrySize := int64(4*store.opts.KeyLength + 24)
	assert.Equal(t, 2*entrySize, after.HeaderBytes)
	assert.Less(t, after.BodyBytes, before.BodyBytes)

	doc, err := store.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha"), doc.Content)

	_, err = store.Get("b")
	assert.ErrorIs(t, err, ErrNotFound)

	// After compaction the slot array is dense again.
	doc, err = store.GetAt(1)
	require.NoError(t, err)
	assert.Equal(t, "c", doc.ID)
}

func TestPruneIncludesStaged(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Append(testDoc("a", "alpha")))
	require.NoError(t, store.Stage(testDoc("b", "beta")))

	require.NoError(t, store.Prune())

	assert.True(t, store.Contains("b"))
	assert.Equal(t, 2, store.Len())
}

func TestAppendAfterPrune(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Append(testDoc("a", "alpha")))
	require.NoError(t, store.Append(testDoc("b", "beta")))
	require.NoError(t, store.Delete("a"))
	require.NoError(t, store.Prune())

	require.NoError(t, store.Append(testDoc("c", "gamma")))

	assert.Equal(t, []string{"b", "c"}, store.Keys())

	doc, err := store.Get("c")
	require.NoError(t, err)
	assert.Equal(t, []byte("gamma"), doc.Content)
}

func TestReloadDropsStaged(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Append(testDoc("a", "alpha")))
	require.NoError(t, store.Stage(testDoc("b", "beta")))

	require.NoError(t, store.Reload())

	assert.True(t, store.Contains("a"))
	_, err := store.Get("b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClear(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Append(testDoc("a", "alpha")))
	require.NoError(t, store.Clear())

	assert.Equal(t, 0, store.Len())
	assert.Empty(t, store.Keys())

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.HeaderBytes)
	assert.Equal(t, int64(0), stats.BodyBytes)

	require.NoError(t, store.Append(testDoc("b", "beta")))
	assert.True(t, store.Contains("b"))
}

func TestNonASCIIKeys(t *testing.T) {
	store := newTestStore(t)

	key := "résumé-世界"
	require.NoError(t, store.Append(testDoc(key, "payload")))

	doc, err := store.Get(key)
	require.NoError(t, err)
	assert.Equal(t, key, doc.ID)
}

func TestCustomPageSize(t *testing.T) {
	dir := t.TempDir()

	store, err := New(dir, func(o *Options) {
		o.PageSize = 64
	})
	require.NoError(t, err)
	defer store.Close()

	for i := range 10 {
		require.NoError(t, store.Append(testDoc(fmt.Sprintf("doc-%d", i), "0123456789abcdef0123456789abcdef")))
	}

	for i := range 10 {
		doc, err := store.Get(fmt.Sprintf("doc-%d", i))
		require.NoError(t, err)
		assert.Equal(t, []byte("0123456789abcdef0123456789abcdef"), doc.Content)
	}
}

func TestSyncFailureSurfaces(t *testing.T) {
	faulty := fs.NewFaultyFS(nil)

	store, err := New(t.TempDir(), func(o *Options) {
		o.FS = faulty
	})
	require.NoError(t, err)

	faulty.AddRule(headerFileName, fs.Fault{FailAfterBytes: -1, FailOnSync: true})

	// The already-open handle is unaffected; reopen to pick up the rule.
	require.NoError(t, store.Reload())

	err = store.Append(testDoc("a", "alpha"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}
