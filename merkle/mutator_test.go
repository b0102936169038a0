package merkle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pwrlabs/go-merkletree-db/hash"
	"github.com/pwrlabs/go-merkletree-db/kvstore/memorydb"
)

func openTestTree(t *testing.T) *Tree {
	t.Helper()
	cfg := Config{PathPrefix: t.TempDir(), Open: memorydb.Open}
	tr, err := Open(cfg, t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func rootHash(t *testing.T, tr *Tree) *hash.H256 {
	t.Helper()
	h, err := tr.RootHash()
	require.NoError(t, err)
	return h
}

func TestEmptyTreeHasNoRoot(t *testing.T) {
	tr := openTestTree(t)
	require.Nil(t, rootHash(t, tr))
	n, err := tr.NumLeaves()
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestSingleLeafRootIsItsHash(t *testing.T) {
	tr := openTestTree(t)
	require.NoError(t, tr.Put([]byte("k1"), []byte("v1")))

	root := rootHash(t, tr)
	require.NotNil(t, root)
	require.Equal(t, hash.LeafHash([]byte("k1"), []byte("v1")), *root)

	depth, err := tr.Depth()
	require.NoError(t, err)
	require.Zero(t, depth)
}

func TestTwoLeavesRootIsPair(t *testing.T) {
	tr := openTestTree(t)
	require.NoError(t, tr.Put([]byte("k1"), []byte("v1")))
	require.NoError(t, tr.Put([]byte("k2"), []byte("v2")))

	l1 := hash.LeafHash([]byte("k1"), []byte("v1"))
	l2 := hash.LeafHash([]byte("k2"), []byte("v2"))
	want := hash.Sum256Pair(l1[:], l2[:])

	root := rootHash(t, tr)
	require.NotNil(t, root)
	require.Equal(t, want, *root)

	depth, err := tr.Depth()
	require.NoError(t, err)
	require.EqualValues(t, 1, depth)
}

func TestThreeLeavesOddArityDuplicatesLastLeaf(t *testing.T) {
	tr := openTestTree(t)
	require.NoError(t, tr.Put([]byte("k1"), []byte("v1")))
	require.NoError(t, tr.Put([]byte("k2"), []byte("v2")))
	require.NoError(t, tr.Put([]byte("k3"), []byte("v3")))

	l1 := hash.LeafHash([]byte("k1"), []byte("v1"))
	l2 := hash.LeafHash([]byte("k2"), []byte("v2"))
	l3 := hash.LeafHash([]byte("k3"), []byte("v3"))

	left := hash.Sum256Pair(l1[:], l2[:])
	right := hash.Sum256Pair(l3[:], l3[:])
	want := hash.Sum256Pair(left[:], right[:])

	root := rootHash(t, tr)
	require.NotNil(t, root)
	require.Equal(t, want, *root)

	depth, err := tr.Depth()
	require.NoError(t, err)
	require.EqualValues(t, 2, depth)

	leaves, err := tr.NumLeaves()
	require.NoError(t, err)
	require.EqualValues(t, 3, leaves)
}

func TestUpdatingAKeyRecomputesRoot(t *testing.T) {
	tr := openTestTree(t)
	require.NoError(t, tr.Put([]byte("k1"), []byte("v1")))
	require.NoError(t, tr.Put([]byte("k2"), []byte("v2")))
	firstRoot := rootHash(t, tr)

	require.NoError(t, tr.Put([]byte("k1"), []byte("v1-updated")))
	secondRoot := rootHash(t, tr)
	require.NotEqual(t, *firstRoot, *secondRoot)

	l1 := hash.LeafHash([]byte("k1"), []byte("v1-updated"))
	l2 := hash.LeafHash([]byte("k2"), []byte("v2"))
	want := hash.Sum256Pair(l1[:], l2[:])
	require.Equal(t, want, *secondRoot)

	v, err := tr.Get([]byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1-updated"), v)

	leaves, err := tr.NumLeaves()
	require.NoError(t, err)
	require.EqualValues(t, 2, leaves, "updating an existing key must not grow the leaf count")
}

func TestGetMissingKeyReturnsNilNotError(t *testing.T) {
	tr := openTestTree(t)
	v, err := tr.Get([]byte("nope"))
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestPutRejectsEmptyKeyOrValue(t *testing.T) {
	tr := openTestTree(t)
	require.Error(t, tr.Put(nil, []byte("v")))
	require.Error(t, tr.Put([]byte("k"), nil))
}
