package merkle

import (
	"sync"

	"github.com/pwrlabs/go-merkletree-db/kvstore"
)

// kvCache is the externally visible key->value map, split into the
// pending (accepted, not yet folded into the tree), committed (folded
// into the tree, not yet flushed), and durable (flushed) tiers of
// spec §3. Lookup order is always pending, then committed, then
// durable.
type kvCache struct {
	store kvstore.Store

	mu        sync.RWMutex
	pending   map[string][]byte
	committed map[string][]byte
}

func newKVCache(store kvstore.Store) *kvCache {
	return &kvCache{
		store:     store,
		pending:   make(map[string][]byte),
		committed: make(map[string][]byte),
	}
}

// putPending accepts a write into the pending tier, overwriting any
// prior pending entry for key.
func (c *kvCache) putPending(key, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[string(key)] = value
}

// pendingLen reports the number of entries waiting on the commit
// worker.
func (c *kvCache) pendingLen() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pending)
}

// commit moves key->value from pending into committed. If the pending
// tier still maps key to this exact value (no newer write raced in),
// the pending entry is removed; otherwise it's left for a later
// commit pass to process.
func (c *kvCache) commit(key, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committed[string(key)] = value
	if cur, ok := c.pending[string(key)]; ok && string(cur) == string(value) {
		delete(c.pending, string(key))
	}
}

// get implements the pending -> committed -> durable lookup order.
func (c *kvCache) get(key []byte) ([]byte, bool, error) {
	c.mu.RLock()
	if v, ok := c.pending[string(key)]; ok {
		c.mu.RUnlock()
		return v, true, nil
	}
	if v, ok := c.committed[string(key)]; ok {
		c.mu.RUnlock()
		return v, true, nil
	}
	c.mu.RUnlock()
	return c.getDurable(key)
}

// getCommitted skips the pending tier.
func (c *kvCache) getCommitted(key []byte) ([]byte, bool, error) {
	c.mu.RLock()
	if v, ok := c.committed[string(key)]; ok {
		c.mu.RUnlock()
		return v, true, nil
	}
	c.mu.RUnlock()
	return c.getDurable(key)
}

func (c *kvCache) getDurable(key []byte) ([]byte, bool, error) {
	v, err := c.store.Get(cfKeyData, key)
	if err == kvstore.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, newErr(IoFailure, err)
	}
	return v, true, nil
}

// committedEntries returns a stable snapshot of the committed tier,
// for the flush batch.
func (c *kvCache) committedEntries() map[string][]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string][]byte, len(c.committed))
	for k, v := range c.committed {
		out[k] = v
	}
	return out
}

// clearCommitted empties the committed tier after a successful flush.
func (c *kvCache) clearCommitted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committed = make(map[string][]byte)
}

// reset clears both RAM tiers (revert/clear).
func (c *kvCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = make(map[string][]byte)
	c.committed = make(map[string][]byte)
}

// allKeys, allValues, keysAndValues scan the durable keyData CF.
func (c *kvCache) allKeys() ([][]byte, error) {
	it := c.store.NewIterator(cfKeyData)
	defer it.Close()
	var out [][]byte
	for it.Next() {
		k := it.Key()
		cp := make([]byte, len(k))
		copy(cp, k)
		out = append(out, cp)
	}
	if err := it.Err(); err != nil {
		return nil, newErr(IoFailure, err)
	}
	return out, nil
}

func (c *kvCache) allValues() ([][]byte, error) {
	it := c.store.NewIterator(cfKeyData)
	defer it.Close()
	var out [][]byte
	for it.Next() {
		v := it.Value()
		cp := make([]byte, len(v))
		copy(cp, v)
		out = append(out, cp)
	}
	if err := it.Err(); err != nil {
		return nil, newErr(IoFailure, err)
	}
	return out, nil
}

func (c *kvCache) keysAndValues() ([][]byte, [][]byte, error) {
	it := c.store.NewIterator(cfKeyData)
	defer it.Close()
	var keys, values [][]byte
	for it.Next() {
		k, v := it.Key(), it.Value()
		kc, vc := make([]byte, len(k)), make([]byte, len(v))
		copy(kc, k)
		copy(vc, v)
		keys = append(keys, kc)
		values = append(values, vc)
	}
	if err := it.Err(); err != nil {
		return nil, nil, newErr(IoFailure, err)
	}
	return keys, values, nil
}
