package merkle

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pwrlabs/go-merkletree-db/hash"
	"github.com/pwrlabs/go-merkletree-db/kvstore"
)

// Column families used by a tree (spec §6.1). cfDefault exists only
// because the underlying engine reserves it; the core never reads or
// writes it.
const (
	cfDefault  = kvstore.CF("default")
	cfMetadata = kvstore.CF("metaData")
	cfNodes    = kvstore.CF("nodes")
	cfKeyData  = kvstore.CF("keyData")
)

const (
	metaKeyRootHash = "rootHash"
	metaKeyNumLeafs = "numLeaves"
	metaKeyDepth    = "depth"
	metaKeyHanging  = "hangingNode" // + level, decimal
)

func hangingKey(level uint32) string {
	return fmt.Sprintf("%s%d", metaKeyHanging, level)
}

// metadata is the RAM-resident mirror of the persisted metadata
// record: root hash (absent for an empty tree), leaf count, depth, and
// the hanging-node table.
type metadata struct {
	mu sync.RWMutex

	rootHash *hash.H256
	numLeafs uint32
	depth    uint32
	hanging  map[uint32]hash.H256 // level -> hash of the single hanging node at that level
}

func newMetadata() *metadata {
	return &metadata{hanging: make(map[uint32]hash.H256)}
}

// loadMetadata reads the metadata record from the metaData CF. A
// missing record (first open of a fresh tree) yields an empty
// metadata, not an error.
func loadMetadata(store kvstore.Store) (*metadata, error) {
	m := newMetadata()

	if v, err := store.Get(cfMetadata, []byte(metaKeyRootHash)); err == nil {
		h := hash.BytesToH256(v)
		m.rootHash = &h
	} else if err != kvstore.ErrNotFound {
		return nil, newErr(IoFailure, err)
	}

	if v, err := store.Get(cfMetadata, []byte(metaKeyNumLeafs)); err == nil {
		m.numLeafs = binary.BigEndian.Uint32(v)
	} else if err != kvstore.ErrNotFound {
		return nil, newErr(IoFailure, err)
	}

	if v, err := store.Get(cfMetadata, []byte(metaKeyDepth)); err == nil {
		m.depth = binary.BigEndian.Uint32(v)
	} else if err != kvstore.ErrNotFound {
		return nil, newErr(IoFailure, err)
	}

	it := store.NewIterator(cfMetadata)
	defer it.Close()
	prefix := []byte(metaKeyHanging)
	for it.Next() {
		k := it.Key()
		if len(k) <= len(prefix) || string(k[:len(prefix)]) != metaKeyHanging {
			continue
		}
		var level uint32
		if _, err := fmt.Sscanf(string(k[len(prefix):]), "%d", &level); err != nil {
			continue
		}
		m.hanging[level] = hash.BytesToH256(it.Value())
	}
	if err := it.Err(); err != nil {
		return nil, newErr(IoFailure, err)
	}
	return m, nil
}

// writeTo queues the full rewrite of the metadata record into batch:
// every existing key is deleted first, then the current fields are
// put (spec §4.4 step 1-2).
func (m *metadata) writeTo(batch kvstore.Batch) {
	batch.DeleteRange(cfMetadata, nil, nil)

	if m.rootHash != nil {
		batch.Put(cfMetadata, []byte(metaKeyRootHash), m.rootHash.Bytes())
	}

	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], m.numLeafs)
	batch.Put(cfMetadata, []byte(metaKeyNumLeafs), append([]byte(nil), buf[:]...))

	binary.BigEndian.PutUint32(buf[:], m.depth)
	batch.Put(cfMetadata, []byte(metaKeyDepth), append([]byte(nil), buf[:]...))

	for level, h := range m.hanging {
		batch.Put(cfMetadata, []byte(hangingKey(level)), h.Bytes())
	}
}

func (m *metadata) clone() *metadata {
	cp := &metadata{numLeafs: m.numLeafs, depth: m.depth, hanging: make(map[uint32]hash.H256, len(m.hanging))}
	if m.rootHash != nil {
		h := *m.rootHash
		cp.rootHash = &h
	}
	for k, v := range m.hanging {
		cp.hanging[k] = v
	}
	return cp
}
