package merkle

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pwrlabs/go-merkletree-db/hash"
	"github.com/pwrlabs/go-merkletree-db/kvstore"
)

// readCacheSize bounds the clean (disk-backed) node cache. The
// teacher's own TrieDB promised but never implemented this ("No read
// cache is created, so all data retrievals will hit the underlying
// disk database") — nodeStore wires it up.
const readCacheSize = 4096

// nodeStore is the column-family-backed hash->Node map with an
// in-memory write-through dirty cache, grounded on the teacher's
// TrieDB dirty-map-then-disk lookup shape (trie_db.go), with the
// multi-owner reference counting dropped: this tree has exactly one
// owner per node.
type nodeStore struct {
	store kvstore.Store

	mu     sync.RWMutex
	dirty  map[hash.H256]*Node
	clean  *lru.Cache[hash.H256, *Node]
}

func newNodeStore(store kvstore.Store) *nodeStore {
	clean, _ := lru.New[hash.H256, *Node](readCacheSize)
	return &nodeStore{
		store: store,
		dirty: make(map[hash.H256]*Node),
		clean: clean,
	}
}

// get resolves a node by hash: dirty cache, then clean cache, then
// durable store.
func (ns *nodeStore) get(h hash.H256) (*Node, error) {
	ns.mu.RLock()
	if n, ok := ns.dirty[h]; ok {
		ns.mu.RUnlock()
		return n, nil
	}
	ns.mu.RUnlock()

	if n, ok := ns.clean.Get(h); ok {
		return n, nil
	}

	blob, err := ns.store.Get(cfNodes, h[:])
	if err == kvstore.ErrNotFound {
		return nil, newErr(NotFound, nil)
	}
	if err != nil {
		return nil, newErr(IoFailure, err)
	}
	n, err := DecodeNode(blob)
	if err != nil {
		return nil, err
	}
	ns.clean.Add(h, n)
	return n, nil
}

// put inserts or overwrites a node in the dirty cache under its
// current hash.
func (ns *nodeStore) put(n *Node) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.dirty[n.Hash] = n
}

// rehash moves n from oldHash to n.Hash in the dirty cache. Used by
// updateNodeHash, which mutates n.Hash in place after recording
// oldHash as n.PendingOldHash.
func (ns *nodeStore) rehash(oldHash hash.H256, n *Node) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	delete(ns.dirty, oldHash)
	ns.dirty[n.Hash] = n
	ns.clean.Remove(oldHash)
}

// dirtyNodes returns a stable snapshot of every currently dirty node,
// for the flush batch.
func (ns *nodeStore) dirtyNodes() []*Node {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	out := make([]*Node, 0, len(ns.dirty))
	for _, n := range ns.dirty {
		out = append(out, n)
	}
	return out
}

// clearDirty empties the dirty cache after a successful flush.
func (ns *nodeStore) clearDirty() {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.dirty = make(map[hash.H256]*Node)
}

// reset clears both tiers (revert/clear).
func (ns *nodeStore) reset() {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.dirty = make(map[hash.H256]*Node)
	ns.clean.Purge()
}

// allNodes scans the durable nodes CF. Callers must flush first so the
// scan reflects every node (spec: "requires a prior flush").
func (ns *nodeStore) allNodes() ([]*Node, error) {
	it := ns.store.NewIterator(cfNodes)
	defer it.Close()

	var out []*Node
	for it.Next() {
		n, err := DecodeNode(it.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := it.Err(); err != nil {
		return nil, newErr(IoFailure, err)
	}
	return out, nil
}
