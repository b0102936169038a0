package guardedkv

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pwrlabs/go-merkletree-db/kvstore"
	"github.com/pwrlabs/go-merkletree-db/kvstore/memorydb"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	backing, err := memorydb.Open(t.TempDir(), []kvstore.CF{cf})
	require.NoError(t, err)
	return New(backing)
}

func TestPutThenGetRoundTrips(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put([]byte("k"), []byte("hello")))

	v, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), v)
}

func TestGetMissingKeyReportsNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get([]byte("missing"))
	require.Error(t, err)
	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, NotFound, e.Kind)
}

func TestCorruptedFramingReportsCorruptState(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put([]byte("k"), []byte("hello")))

	// Tamper with the stored bytes directly, bypassing Put's framing,
	// to simulate a bit-flip on disk.
	raw, err := s.backing.Get(cf, []byte("k"))
	require.NoError(t, err)
	tampered := append([]byte(nil), raw...)
	tampered[0] ^= 0xFF
	batch := s.backing.NewBatch()
	batch.Put(cf, []byte("k"), tampered)
	require.NoError(t, batch.Commit())

	_, err = s.Get([]byte("k"))
	require.Error(t, err)
	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, CorruptState, e.Kind)
}

func TestDeleteRemovesKey(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put([]byte("k"), []byte("v")))
	require.NoError(t, s.Delete([]byte("k")))

	_, err := s.Get([]byte("k"))
	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, NotFound, e.Kind)
}

func TestAllKeys(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put([]byte("a"), []byte("1")))
	require.NoError(t, s.Put([]byte("b"), []byte("2")))

	keys, err := s.AllKeys()
	require.NoError(t, err)
	require.Len(t, keys, 2)
}

func TestCloneAndUpdate(t *testing.T) {
	src := openTestStore(t)
	require.NoError(t, src.Put([]byte("a"), []byte("1")))

	cloned, err := Clone(src, memorydb.Open, t.TempDir()+"/clone")
	require.NoError(t, err)

	v, err := cloned.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)

	require.NoError(t, src.Put([]byte("b"), []byte("2")))
	require.NoError(t, Update(cloned, src, [][]byte{[]byte("b")}))

	v, err = cloned.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), v)
}
