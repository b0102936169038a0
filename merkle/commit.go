package merkle

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pwrlabs/go-merkletree-db/hash"
)

// startWorker launches the single background goroutine that folds
// queued writes into the tree in arrival order. Grounded on the
// teacher's async commit goroutine (trie_committer.go's Commit runs
// synchronously under the caller's goroutine there; the spec moves
// that work off Put's caller, so this file — not the teacher — is the
// source of the worker's shape).
func (t *Tree) startWorker() {
	var eg errgroup.Group
	t.eg = &eg
	t.eg.Go(func() error {
		t.runCommitWorker()
		return nil
	})
}

func (t *Tree) runCommitWorker() {
	for {
		item, ok := t.queue.pop()
		if !ok {
			return
		}

		if !t.poisoned.Load() {
			if err := t.processItem(item); err != nil {
				t.poison(err)
			}
		}

		remaining := t.pendingCount.Add(-1)
		t.metrics.pendingQueueDepth.Set(float64(remaining))
		if remaining == 0 {
			t.pendingProcessed.signal()
		}
	}
}

// processItem folds one (key, value) write into the tree: it decides
// whether key is new (addLeaf) or changing (updateLeaf) by comparing
// against the committed tier, then records the write in the committed
// tier itself.
func (t *Tree) processItem(item writeItem) error {
	oldValue, existed, err := t.kv.getCommitted(item.key)
	if err != nil {
		return err
	}

	newLeafHash := hash.LeafHash(item.key, item.value)

	if !existed {
		if err := t.addLeaf(newLeafHash); err != nil {
			return err
		}
	} else {
		oldLeafHash := hash.LeafHash(item.key, oldValue)
		if oldLeafHash != newLeafHash {
			if err := t.updateLeaf(oldLeafHash, newLeafHash); err != nil {
				return err
			}
		}
	}

	t.kv.commit(item.key, item.value)
	return nil
}

// poison marks the tree unusable for further mutation, per the
// resolved Open Question (SPEC_FULL.md §7): a commit-worker failure is
// logged and the tree stops accepting new writes. The failed item, and
// any items already queued behind it, are dequeued without being
// applied.
func (t *Tree) poison(err error) {
	t.poisonMu.Lock()
	t.poisonErr = err
	t.poisonMu.Unlock()
	t.poisoned.Store(true)
	t.metrics.poisoned.Inc()
	t.logger.Error("commit worker poisoned tree", zap.Error(err))
}

// waitForPending blocks until every write accepted by Put so far has
// been folded into the tree (successfully or not — a poisoned tree
// still counts as "processed"). Returns Interrupted if the tree closes
// first.
func (t *Tree) waitForPending() error {
	if t.pendingCount.Load() == 0 {
		return nil
	}
	if !t.pendingProcessed.wait(t.stopCh) {
		return newErr(Interrupted, fmt.Errorf("tree closed while waiting for pending writes"))
	}
	return nil
}

// RootHash returns the current root hash, blocking until every
// previously accepted Put has been folded into the tree. A never-
// written tree has no root and returns (nil, nil).
func (t *Tree) RootHash() (*hash.H256, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	if err := t.waitForPending(); err != nil {
		return nil, err
	}
	if err := t.checkOpen(); err != nil {
		return nil, err
	}

	t.meta.mu.RLock()
	defer t.meta.mu.RUnlock()
	if t.meta.rootHash == nil {
		return nil, nil
	}
	h := *t.meta.rootHash
	return &h, nil
}

// Flush blocks until pending writes are folded in, then atomically
// persists every dirty node, every committed key/value pair, and the
// metadata record in a single batch (spec §4.4). On success the dirty
// and committed in-memory tiers are cleared.
func (t *Tree) Flush() error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if err := t.waitForPending(); err != nil {
		return err
	}
	if err := t.checkWritable(); err != nil {
		return err
	}

	t.writeLock.Lock()
	defer t.writeLock.Unlock()
	return t.flushLocked()
}

// flushLocked is Flush's actual persistence step, factored out so Close
// can run it directly: by the time Close calls this, the worker has
// already exited (queue.close + eg.Wait), so there is nothing left
// pending and no concurrent writer to guard against, and t.closed is
// already true, which would make checkWritable reject the call.
func (t *Tree) flushLocked() error {
	start := time.Now()
	defer func() { t.metrics.flushDuration.Observe(time.Since(start).Seconds()) }()

	batch := t.kvStore.NewBatch()

	t.meta.mu.RLock()
	t.meta.writeTo(batch)
	t.meta.mu.RUnlock()

	for _, n := range t.nodes.dirtyNodes() {
		if n.PendingOldHash != nil {
			batch.Delete(cfNodes, n.PendingOldHash[:])
		}
		batch.Put(cfNodes, n.Hash[:], n.Encode())
	}

	for k, v := range t.kv.committedEntries() {
		batch.Put(cfKeyData, []byte(k), v)
	}

	if err := batch.Commit(); err != nil {
		return newErr(IoFailure, err)
	}

	t.nodes.clearDirty()
	t.kv.clearCommitted()
	t.hasUnsavedChanges.Store(false)
	t.logger.Info("flush complete", zap.Duration("took", time.Since(start)))
	return nil
}

// Revert discards every unflushed write: queued-but-unprocessed Puts,
// folded-but-unflushed tree structure, and the committed key/value
// tier. The tree reverts to exactly its last Flush.
func (t *Tree) Revert() error {
	if err := t.checkOpen(); err != nil {
		return err
	}

	t.writeLock.Lock()
	defer t.writeLock.Unlock()

	if err := t.waitForPending(); err != nil {
		return err
	}

	t.queue.drain()
	t.nodes.reset()
	t.kv.reset()

	meta, err := loadMetadata(t.kvStore)
	if err != nil {
		return err
	}
	t.meta = meta

	t.poisoned.Store(false)
	t.poisonMu.Lock()
	t.poisonErr = nil
	t.poisonMu.Unlock()
	t.hasUnsavedChanges.Store(false)
	return nil
}

// HasUnsavedChanges reports whether any write accepted since the last
// Flush (or Revert) has not yet been persisted.
func (t *Tree) HasUnsavedChanges() bool {
	return t.hasUnsavedChanges.Load()
}
