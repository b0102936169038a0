package merkle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pwrlabs/go-merkletree-db/hash"
)

func TestNodeEncodeDecodeLeaf(t *testing.T) {
	n := &Node{Hash: hash.Sum256([]byte("leaf"))}
	decoded, err := DecodeNode(n.Encode())
	require.NoError(t, err)
	require.Equal(t, n.Hash, decoded.Hash)
	require.Nil(t, decoded.Left)
	require.Nil(t, decoded.Right)
	require.Nil(t, decoded.Parent)
}

func TestNodeEncodeDecodeFull(t *testing.T) {
	left := hash.Sum256([]byte("l"))
	right := hash.Sum256([]byte("r"))
	parent := hash.Sum256([]byte("p"))
	n := &Node{Hash: hash.Sum256([]byte("self")), Left: &left, Right: &right, Parent: &parent}

	decoded, err := DecodeNode(n.Encode())
	require.NoError(t, err)
	require.Equal(t, n.Hash, decoded.Hash)
	require.Equal(t, *n.Left, *decoded.Left)
	require.Equal(t, *n.Right, *decoded.Right)
	require.Equal(t, *n.Parent, *decoded.Parent)
}

func TestDecodeNodeRejectsTruncatedBuffer(t *testing.T) {
	_, err := DecodeNode([]byte{1, 2, 3})
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, CorruptState, kind)
}

func TestDecodeNodeRejectsWrongLength(t *testing.T) {
	left := hash.Sum256([]byte("l"))
	n := &Node{Hash: hash.Sum256([]byte("self")), Left: &left}
	buf := n.Encode()
	buf = buf[:len(buf)-1] // truncate the declared-present left hash

	_, err := DecodeNode(buf)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, CorruptState, kind)
}

func TestRecomputeHashOddArity(t *testing.T) {
	left := hash.Sum256([]byte("only-child"))
	n := &Node{Hash: hash.Sum256([]byte("parent")), Left: &left}
	got := n.recomputeHash()
	want := hash.Sum256Pair(left[:], left[:])
	require.Equal(t, want, got)
}
