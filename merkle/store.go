// Package merkle implements a persistent authenticated key->value
// store: a Merkle tree whose leaves are hashes of (key, value) pairs,
// backed by an embedded ordered KV engine (see package kvstore).
package merkle

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pwrlabs/go-merkletree-db/hash"
	"github.com/pwrlabs/go-merkletree-db/kvstore"
)

// DefaultPathPrefix is the directory tree data lives under when a
// Config doesn't override it (spec §6.4).
const DefaultPathPrefix = "merkleTree/"

// Config is the process-wide configuration a Tree is opened with.
type Config struct {
	// PathPrefix is the parent directory for every tree's data
	// directory: <PathPrefix>/<name>/.
	PathPrefix string
	// Open constructs the underlying kvstore.Store for a tree's data
	// directory. Required — pick kvstore/rocksdb.Open for production
	// or kvstore/memorydb.Open for tests.
	Open kvstore.OpenFunc
	// Logger receives structured logs from the commit worker, flush,
	// and clone/update. Defaults to zap.NewNop() if nil.
	Logger *zap.Logger
}

func (c Config) pathPrefix() string {
	if c.PathPrefix == "" {
		return DefaultPathPrefix
	}
	return c.PathPrefix
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// Tree is one authenticated key->value store. It is safe for
// concurrent use by multiple goroutines, per spec §5.
type Tree struct {
	name string
	dir  string
	cfg  Config

	kvStore kvstore.Store
	nodes   *nodeStore
	kv      *kvCache
	meta    *metadata

	queue            *pendingQueue
	pendingProcessed *latch
	pendingCount     atomic.Int32

	writeLock sync.Mutex

	closed            atomic.Bool
	poisoned          atomic.Bool
	poisonMu          sync.Mutex
	poisonErr         error
	hasUnsavedChanges atomic.Bool

	stopCh chan struct{}
	eg     *errgroup.Group

	logger  *zap.Logger
	metrics *metricsSet
}

// Open opens (creating if necessary) the tree named name under
// cfg.PathPrefix, loads its metadata, and starts its commit worker.
// Opening a tree name that already has a live instance in this
// process fails with Conflict.
func Open(cfg Config, name string) (*Tree, error) {
	if cfg.Open == nil {
		return nil, newErr(InvalidArgument, fmt.Errorf("open: cfg.Open is required"))
	}
	if err := defaultRegistry.reserve(name); err != nil {
		return nil, err
	}

	t, err := open(cfg, name)
	if err != nil {
		defaultRegistry.release(name)
		return nil, err
	}

	defaultRegistry.register(name, t)
	return t, nil
}

func open(cfg Config, name string) (*Tree, error) {
	dir := filepath.Join(cfg.pathPrefix(), name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, newErr(IoFailure, err)
	}

	store, err := cfg.Open(dir, []kvstore.CF{cfMetadata, cfNodes, cfKeyData})
	if err != nil {
		return nil, newErr(IoFailure, err)
	}

	meta, err := loadMetadata(store)
	if err != nil {
		store.Close()
		return nil, err
	}

	t := &Tree{
		name:             name,
		dir:              dir,
		cfg:              cfg,
		kvStore:          store,
		nodes:            newNodeStore(store),
		kv:               newKVCache(store),
		meta:             meta,
		queue:            newPendingQueue(),
		pendingProcessed: newLatch(),
		stopCh:           make(chan struct{}),
		logger:           cfg.logger().With(zap.String("tree", name)),
		metrics:          globalMetrics,
	}
	// A freshly loaded tree has nothing pending, so a rootHash() caller
	// that arrives before any Put never waits on the latch at all:
	// waitForPending returns at once while pendingCount is zero. This
	// signal() only swaps in a fresh channel; the latch is unsignalled
	// again afterwards.
	t.pendingProcessed.signal()

	t.startWorker()
	return t, nil
}

func (t *Tree) checkOpen() error {
	if t.closed.Load() {
		return newErr(TreeClosed, nil)
	}
	return nil
}

func (t *Tree) checkWritable() error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if t.poisoned.Load() {
		t.poisonMu.Lock()
		err := t.poisonErr
		t.poisonMu.Unlock()
		return newErr(CorruptState, fmt.Errorf("tree %q is poisoned: %w", t.name, err))
	}
	return nil
}

// Put accepts (key, value) for eventual incorporation into the tree.
// Both key and value must be non-empty.
func (t *Tree) Put(key, value []byte) error {
	if len(key) == 0 || len(value) == 0 {
		return newErr(InvalidArgument, fmt.Errorf("put: key and value must be non-empty"))
	}
	if err := t.checkWritable(); err != nil {
		return err
	}

	t.writeLock.Lock()
	t.queue.push(writeItem{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
	t.kv.putPending(key, value)
	t.hasUnsavedChanges.Store(true)
	t.writeLock.Unlock()

	t.pendingCount.Add(1)
	t.metrics.pendingQueueDepth.Set(float64(t.pendingCount.Load()))
	t.metrics.puts.Inc()
	return nil
}

// Get checks pending, then committed, then durable state.
func (t *Tree) Get(key []byte) ([]byte, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	v, ok, err := t.kv.get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return v, nil
}

// GetCommitted skips the pending tier.
func (t *Tree) GetCommitted(key []byte) ([]byte, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	v, ok, err := t.kv.getCommitted(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return v, nil
}

// Contains reports whether key is present in any tier (pending,
// committed, or durable).
func (t *Tree) Contains(key []byte) (bool, error) {
	v, err := t.Get(key)
	if err != nil {
		return false, err
	}
	return v != nil, nil
}

// NumLeaves returns the number of distinct keys ever committed into
// the tree.
func (t *Tree) NumLeaves() (uint32, error) {
	if err := t.checkOpen(); err != nil {
		return 0, err
	}
	t.meta.mu.RLock()
	defer t.meta.mu.RUnlock()
	return t.meta.numLeafs, nil
}

// Depth returns ⌈log2(max(1, numLeaves))⌉.
func (t *Tree) Depth() (uint32, error) {
	if err := t.checkOpen(); err != nil {
		return 0, err
	}
	t.meta.mu.RLock()
	defer t.meta.mu.RUnlock()
	return t.meta.depth, nil
}

// RootHashOnDisk reads the metadata CF directly, without blocking on
// the pending queue.
func (t *Tree) RootHashOnDisk() (*hash.H256, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	v, err := t.kvStore.Get(cfMetadata, []byte(metaKeyRootHash))
	if err == kvstore.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, newErr(IoFailure, err)
	}
	h := hash.BytesToH256(v)
	return &h, nil
}

// AllKeys, AllValues, KeysAndValues scan the durable keyData CF.
func (t *Tree) AllKeys() ([][]byte, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	return t.kv.allKeys()
}

func (t *Tree) AllValues() ([][]byte, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	return t.kv.allValues()
}

func (t *Tree) KeysAndValues() ([][]byte, [][]byte, error) {
	if err := t.checkOpen(); err != nil {
		return nil, nil, err
	}
	return t.kv.keysAndValues()
}

// AllNodes scans the durable nodes CF. Requires a prior Flush to
// reflect every node.
func (t *Tree) AllNodes() ([]*Node, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	return t.nodes.allNodes()
}

// IsClosed reports whether Close has been called on this instance.
func (t *Tree) IsClosed() bool {
	return t.closed.Load()
}

// Name returns the tree's name, as passed to Open.
func (t *Tree) Name() string { return t.name }
