package merkle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pwrlabs/go-merkletree-db/kvstore/memorydb"
)

func TestOpeningTheSameNameTwiceConflicts(t *testing.T) {
	cfg := Config{PathPrefix: t.TempDir(), Open: memorydb.Open}
	first, err := Open(cfg, "dup")
	require.NoError(t, err)
	defer first.Close()

	_, err = Open(cfg, "dup")
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, Conflict, kind)
}

func TestReopeningAfterCloseSucceeds(t *testing.T) {
	cfg := Config{PathPrefix: t.TempDir(), Open: memorydb.Open}
	first, err := Open(cfg, "reopen")
	require.NoError(t, err)
	require.NoError(t, first.Put([]byte("k"), []byte("v")))
	require.NoError(t, first.Flush())
	require.NoError(t, first.Close())

	second, err := Open(cfg, "reopen")
	require.NoError(t, err)
	defer second.Close()

	v, err := second.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}

func TestOperationsAfterCloseFailWithTreeClosed(t *testing.T) {
	tr := openTestTree(t)
	require.NoError(t, tr.Close())

	_, err := tr.Get([]byte("k"))
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, TreeClosed, kind)

	require.NoError(t, tr.Close(), "a second Close must be a no-op, not an error")
}

func TestFlushPersistsAcrossCloseAndReopen(t *testing.T) {
	cfg := Config{PathPrefix: t.TempDir(), Open: memorydb.Open}
	tr, err := Open(cfg, "persist")
	require.NoError(t, err)

	require.NoError(t, tr.Put([]byte("k1"), []byte("v1")))
	require.NoError(t, tr.Put([]byte("k2"), []byte("v2")))
	rootBeforeFlush, err := tr.RootHash()
	require.NoError(t, err)
	require.NoError(t, tr.Flush())
	require.False(t, tr.HasUnsavedChanges())
	require.NoError(t, tr.Close())

	reopened, err := Open(cfg, "persist")
	require.NoError(t, err)
	defer reopened.Close()

	onDisk, err := reopened.RootHashOnDisk()
	require.NoError(t, err)
	require.Equal(t, *rootBeforeFlush, *onDisk)

	keys, values, err := reopened.KeysAndValues()
	require.NoError(t, err)
	require.Len(t, keys, 2)
	require.Len(t, values, 2)

	nodes, err := reopened.AllNodes()
	require.NoError(t, err)
	require.NotEmpty(t, nodes)
}

func TestCloseFlushesUnflushedWrites(t *testing.T) {
	cfg := Config{PathPrefix: t.TempDir(), Open: memorydb.Open}
	tr, err := Open(cfg, "close-flushes")
	require.NoError(t, err)

	require.NoError(t, tr.Put([]byte("k1"), []byte("v1")))
	root, err := tr.RootHash()
	require.NoError(t, err)
	require.NoError(t, tr.Close(), "Close must flush committed-but-unflushed writes, not discard them")

	reopened, err := Open(cfg, "close-flushes")
	require.NoError(t, err)
	defer reopened.Close()

	onDisk, err := reopened.RootHashOnDisk()
	require.NoError(t, err)
	require.Equal(t, *root, *onDisk)

	v, err := reopened.Get([]byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v)
}

func TestRevertDiscardsUnflushedWrites(t *testing.T) {
	cfg := Config{PathPrefix: t.TempDir(), Open: memorydb.Open}
	tr, err := Open(cfg, "revert")
	require.NoError(t, err)
	defer tr.Close()

	require.NoError(t, tr.Put([]byte("k1"), []byte("v1")))
	require.NoError(t, tr.Flush())

	require.NoError(t, tr.Put([]byte("k2"), []byte("v2")))
	_, err = tr.RootHash()
	require.NoError(t, err)

	require.NoError(t, tr.Revert())

	v, err := tr.Get([]byte("k2"))
	require.NoError(t, err)
	require.Nil(t, v, "reverted write must disappear")

	v, err = tr.Get([]byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v, "flushed write must survive a revert")
}
