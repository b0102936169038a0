package merkle

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pwrlabs/go-merkletree-db/kvstore"
)

// Clone flushes self, takes a filesystem-level checkpoint of its
// underlying store, and opens the checkpoint as a brand-new tree
// named newName. Grounded on the teacher's snapshot-export shape
// (accdb memorydb supports a similar "dump everything" operation);
// the checkpoint mechanism itself comes from kvstore.Store.Checkpoint,
// which every concrete engine implements natively (RocksDB
// checkpoints are hardlink-based, so this is cheap even for a large
// tree).
func (t *Tree) Clone(newName string) (*Tree, error) {
	if err := t.checkWritable(); err != nil {
		return nil, err
	}
	if _, open := defaultRegistry.lookup(newName); open {
		return nil, newErr(Conflict, fmt.Errorf("clone: tree %q is already open", newName))
	}

	if err := t.Flush(); err != nil {
		return nil, err
	}

	t.writeLock.Lock()
	defer t.writeLock.Unlock()

	// A name that isn't registered open may still have a directory left
	// over from an earlier clone under the same name (the tree was
	// later closed without being removed); that stale directory is
	// overwritten, not a conflict (spec §4.5 — the only Conflict case
	// is a currently-open target name, checked above via the registry).
	newDir := filepath.Join(t.cfg.pathPrefix(), newName)
	if _, err := os.Stat(newDir); err == nil {
		if err := os.RemoveAll(newDir); err != nil {
			return nil, newErr(IoFailure, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, newErr(IoFailure, err)
	}

	if err := t.kvStore.Checkpoint(newDir); err != nil {
		return nil, newErr(IoFailure, err)
	}

	cloned, err := Open(t.cfg, newName)
	if err != nil {
		return nil, err
	}

	globalMetrics.treesCloned.Inc()
	t.logger.Info("cloned tree", zap.String("into", newName))
	return cloned, nil
}

// Update folds src's durable state into t, as of src's last Flush.
// Three cases, in order of preference (spec §4.5 / SPEC_FULL.md):
//
//  1. src has no root (never written to): t is cleared.
//  2. t's on-disk root already equals src's on-disk root: a cheap
//     in-memory cache copy, no filesystem I/O.
//  3. otherwise: t's entire underlying store is replaced by a fresh
//     checkpoint of src.
func (t *Tree) Update(src *Tree) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if err := src.checkOpen(); err != nil {
		return err
	}
	if err := src.Flush(); err != nil {
		return err
	}

	t.writeLock.Lock()
	defer t.writeLock.Unlock()
	src.writeLock.Lock()
	defer src.writeLock.Unlock()

	srcRoot, err := src.RootHashOnDisk()
	if err != nil {
		return err
	}
	if srcRoot == nil {
		t.clearLocked()
		return nil
	}

	dstRoot, err := t.RootHashOnDisk()
	if err != nil {
		return err
	}
	if dstRoot != nil && *dstRoot == *srcRoot {
		t.cacheCopyFrom(src)
		globalMetrics.treesUpdatedWithoutClone.Inc()
		t.logger.Info("update served from cache copy", zap.String("from", src.name))
		return nil
	}

	if err := t.replaceStoreWithCheckpointOf(src); err != nil {
		return err
	}
	t.logger.Info("update replaced store via checkpoint", zap.String("from", src.name))
	return nil
}

// cacheCopyFrom deep-copies src's in-memory metadata/node/kv state
// into t without touching the filesystem — valid only when both
// trees' on-disk roots already agree, so there is nothing new to
// persist, only RAM-resident convenience state to mirror.
func (t *Tree) cacheCopyFrom(src *Tree) {
	old := t.meta
	old.mu.Lock()
	src.meta.mu.RLock()
	t.meta = src.meta.clone()
	src.meta.mu.RUnlock()
	old.mu.Unlock()

	t.nodes.reset()
	for _, n := range src.nodes.dirtyNodes() {
		t.nodes.put(n.copy())
	}
	t.kv.clearCommitted()
	for k, v := range src.kv.committedEntries() {
		t.kv.commit([]byte(k), append([]byte(nil), v...))
	}
	t.hasUnsavedChanges.Store(src.hasUnsavedChanges.Load())
}

// replaceStoreWithCheckpointOf closes t's underlying store and reopens
// it from a fresh checkpoint of src. The checkpoint is written to a
// uuid-named staging directory first and only renamed over t.dir once
// it's complete, so a process crash mid-checkpoint never leaves t.dir
// half-written.
func (t *Tree) replaceStoreWithCheckpointOf(src *Tree) error {
	staging := filepath.Join(filepath.Dir(t.dir), ".staging-"+uuid.NewString())
	if err := src.kvStore.Checkpoint(staging); err != nil {
		return newErr(IoFailure, err)
	}

	if err := t.kvStore.Close(); err != nil {
		os.RemoveAll(staging)
		return newErr(IoFailure, err)
	}
	if err := os.RemoveAll(t.dir); err != nil {
		os.RemoveAll(staging)
		return newErr(IoFailure, err)
	}
	if err := os.Rename(staging, t.dir); err != nil {
		return newErr(IoFailure, err)
	}

	store, err := t.cfg.Open(t.dir, []kvstore.CF{cfMetadata, cfNodes, cfKeyData})
	if err != nil {
		return newErr(IoFailure, err)
	}
	meta, err := loadMetadata(store)
	if err != nil {
		store.Close()
		return err
	}

	t.kvStore = store
	t.nodes = newNodeStore(store)
	t.kv = newKVCache(store)
	t.meta = meta
	return nil
}

// Clear empties the tree: every column family is range-deleted in one
// atomic batch, and in-memory state is reset to empty. The tree's name
// and underlying store remain open.
func (t *Tree) Clear() error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if err := t.waitForPending(); err != nil {
		return err
	}

	t.writeLock.Lock()
	defer t.writeLock.Unlock()
	t.clearLocked()
	return nil
}

// clearLocked assumes t.writeLock is already held.
func (t *Tree) clearLocked() {
	batch := t.kvStore.NewBatch()
	batch.DeleteRange(cfMetadata, nil, nil)
	batch.DeleteRange(cfNodes, nil, nil)
	batch.DeleteRange(cfKeyData, nil, nil)
	if err := batch.Commit(); err != nil {
		t.poison(newErr(IoFailure, err))
		return
	}

	t.queue.drain()
	t.nodes.reset()
	t.kv.reset()
	t.meta = newMetadata()
	t.hasUnsavedChanges.Store(false)
}
