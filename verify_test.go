package docmap

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/docmap/model"
)

func TestVerifyHealthyStore(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Extend([]*model.Document{
		testDoc("a", "alpha"),
		testDoc("b", "beta"),
		testDoc("c", "gamma"),
	}))
	require.NoError(t, store.Delete("b"))

	assert.NoError(t, store.Verify(context.Background()))
}

func TestVerifyEmptyStore(t *testing.T) {
	store := newTestStore(t)

	assert.NoError(t, store.Verify(context.Background()))
}

func TestVerifyDetectsCorruption(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Append(testDoc("a", "alpha")))

	// Clobber the start of the payload on disk. Verify bypasses the buffer
	// pool, so the damage is visible even though the document is cached.
	f, err := os.OpenFile(store.bodyPath, os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0x00, 0x00, 0x00, 0x00}, 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	err = store.Verify(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `verify "a"`)
}
