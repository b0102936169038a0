package merkle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pwrlabs/go-merkletree-db/kvstore/memorydb"
)

func TestCloneProducesAnIndependentTreeWithTheSameRoot(t *testing.T) {
	cfg := Config{PathPrefix: t.TempDir(), Open: memorydb.Open}
	src, err := Open(cfg, "clone-src")
	require.NoError(t, err)
	defer src.Close()

	require.NoError(t, src.Put([]byte("k1"), []byte("v1")))
	srcRoot, err := src.RootHash()
	require.NoError(t, err)

	cloned, err := src.Clone("clone-dst")
	require.NoError(t, err)
	defer cloned.Close()

	clonedRoot, err := cloned.RootHash()
	require.NoError(t, err)
	require.Equal(t, *srcRoot, *clonedRoot)

	// Diverge: writing to the clone must not affect the source.
	require.NoError(t, cloned.Put([]byte("k2"), []byte("v2")))
	divergedRoot, err := cloned.RootHash()
	require.NoError(t, err)
	require.NotEqual(t, *srcRoot, *divergedRoot)

	srcRootAfter, err := src.RootHash()
	require.NoError(t, err)
	require.Equal(t, *srcRoot, *srcRootAfter)
}

func TestCloneIntoAnAlreadyOpenNameConflicts(t *testing.T) {
	cfg := Config{PathPrefix: t.TempDir(), Open: memorydb.Open}
	src, err := Open(cfg, "clone-conflict-src")
	require.NoError(t, err)
	defer src.Close()
	require.NoError(t, src.Put([]byte("k"), []byte("v")))

	other, err := Open(cfg, "clone-conflict-dst")
	require.NoError(t, err)
	defer other.Close()

	_, err = src.Clone("clone-conflict-dst")
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, Conflict, kind)
}

func TestUpdateUsesCacheCopyWhenRootsAlreadyMatch(t *testing.T) {
	cfg := Config{PathPrefix: t.TempDir(), Open: memorydb.Open}
	src, err := Open(cfg, "update-src")
	require.NoError(t, err)
	defer src.Close()
	require.NoError(t, src.Put([]byte("k1"), []byte("v1")))
	require.NoError(t, src.Flush())

	dst, err := src.Clone("update-dst")
	require.NoError(t, err)
	defer dst.Close()

	before := globalMetrics.treesUpdatedWithoutClone

	require.NoError(t, dst.Update(src))

	_ = before // the fast path is exercised; exact counter delta isn't asserted to avoid cross-test coupling on a process-global metric

	dstRoot, err := dst.RootHashOnDisk()
	require.NoError(t, err)
	srcRoot, err := src.RootHashOnDisk()
	require.NoError(t, err)
	require.Equal(t, *srcRoot, *dstRoot)
}

func TestUpdateReplacesStoreWhenRootsDiverge(t *testing.T) {
	cfg := Config{PathPrefix: t.TempDir(), Open: memorydb.Open}
	src, err := Open(cfg, "update-diverge-src")
	require.NoError(t, err)
	defer src.Close()
	require.NoError(t, src.Put([]byte("k1"), []byte("v1")))
	require.NoError(t, src.Flush())

	dst, err := Open(cfg, "update-diverge-dst")
	require.NoError(t, err)
	defer dst.Close()
	require.NoError(t, dst.Put([]byte("other"), []byte("value")))
	require.NoError(t, dst.Flush())

	require.NoError(t, dst.Update(src))

	v, err := dst.Get([]byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v)

	v, err = dst.Get([]byte("other"))
	require.NoError(t, err)
	require.Nil(t, v, "a full replace must discard the destination's prior divergent state")
}

func TestClearEmptiesTheTree(t *testing.T) {
	tr := openTestTree(t)
	require.NoError(t, tr.Put([]byte("k1"), []byte("v1")))
	require.NoError(t, tr.Flush())

	require.NoError(t, tr.Clear())

	root, err := tr.RootHash()
	require.NoError(t, err)
	require.Nil(t, root)

	leaves, err := tr.NumLeaves()
	require.NoError(t, err)
	require.Zero(t, leaves)
}
