// Package memorydb is an ephemeral, column-family-aware key-value
// store used by the Merkle core's tests. Checkpoints are persisted as
// a small gob snapshot so that clone/update tests can exercise the
// same directory-handoff protocol production (RocksDB-backed) stores
// use, without requiring cgo.
package memorydb

import (
	"bytes"
	"encoding/gob"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pwrlabs/go-merkletree-db/kvstore"
)

const snapshotFile = "memorydb.snapshot"

// DB is an in-memory key-value store with basic column family,
// iterator, batch, and checkpoint support.
type DB struct {
	mu   sync.RWMutex
	data map[kvstore.CF]map[string][]byte
	dir  string // empty for a purely transient store
}

// Open creates (or reopens, if a snapshot exists at dir) a memory
// store. dir may be empty for a transient store that loads no
// snapshot; Checkpoint still works on such a store.
func Open(dir string, cfs []kvstore.CF) (kvstore.Store, error) {
	db := &DB{data: make(map[kvstore.CF]map[string][]byte), dir: dir}
	for _, cf := range cfs {
		db.data[cf] = make(map[string][]byte)
	}
	if dir == "" {
		return db, nil
	}
	snap := filepath.Join(dir, snapshotFile)
	if f, err := os.Open(snap); err == nil {
		defer f.Close()
		var loaded map[kvstore.CF]map[string][]byte
		if err := gob.NewDecoder(f).Decode(&loaded); err != nil {
			return nil, err
		}
		for cf, m := range loaded {
			db.data[cf] = m
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	return db, nil
}

func (db *DB) cf(name kvstore.CF) map[string][]byte {
	m, ok := db.data[name]
	if !ok {
		m = make(map[string][]byte)
		db.data[name] = m
	}
	return m
}

// Get implements kvstore.Store.
func (db *DB) Get(cf kvstore.CF, key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	v, ok := db.cf(cf)[string(key)]
	if !ok {
		return nil, kvstore.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Has implements kvstore.Store.
func (db *DB) Has(cf kvstore.CF, key []byte) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.cf(cf)[string(key)]
	return ok, nil
}

// NewIterator implements kvstore.Store. It takes a point-in-time,
// sorted snapshot of the column family.
func (db *DB) NewIterator(cf kvstore.CF) kvstore.Iterator {
	db.mu.RLock()
	defer db.mu.RUnlock()

	m := db.cf(cf)
	keys := make([]string, 0, len(m))
	values := make(map[string][]byte, len(m))
	for k, v := range m {
		keys = append(keys, k)
		values[k] = v
	}
	sort.Strings(keys)

	return &iterator{keys: keys, values: values, pos: -1}
}

type iterator struct {
	keys   []string
	values map[string][]byte
	pos    int
}

func (it *iterator) Next() bool {
	it.pos++
	return it.pos < len(it.keys)
}

func (it *iterator) Key() []byte   { return []byte(it.keys[it.pos]) }
func (it *iterator) Value() []byte { return it.values[it.keys[it.pos]] }
func (it *iterator) Err() error    { return nil }
func (it *iterator) Close() error  { return nil }

// NewBatch implements kvstore.Store.
func (db *DB) NewBatch() kvstore.Batch {
	return &batch{db: db}
}

type op struct {
	cf         kvstore.CF
	key        []byte
	value      []byte // nil means delete
	deleteFrom []byte
	deleteTo   []byte
	isRange    bool
}

type batch struct {
	db  *DB
	ops []op
}

func (b *batch) Put(cf kvstore.CF, key, value []byte) {
	kk, vv := append([]byte(nil), key...), append([]byte(nil), value...)
	b.ops = append(b.ops, op{cf: cf, key: kk, value: vv})
}

func (b *batch) Delete(cf kvstore.CF, key []byte) {
	kk := append([]byte(nil), key...)
	b.ops = append(b.ops, op{cf: cf, key: kk, value: nil})
}

func (b *batch) DeleteRange(cf kvstore.CF, start, end []byte) {
	b.ops = append(b.ops, op{cf: cf, deleteFrom: start, deleteTo: end, isRange: true})
}

func (b *batch) Len() int { return len(b.ops) }

func (b *batch) Commit() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()

	for _, o := range b.ops {
		m := b.db.cf(o.cf)
		switch {
		case o.isRange:
			for k := range m {
				if rangeContains(o.deleteFrom, o.deleteTo, []byte(k)) {
					delete(m, k)
				}
			}
		case o.value == nil:
			delete(m, string(o.key))
		default:
			m[string(o.key)] = o.value
		}
	}
	return nil
}

func rangeContains(start, end, key []byte) bool {
	if start != nil && bytes.Compare(key, start) < 0 {
		return false
	}
	if end != nil && bytes.Compare(key, end) >= 0 {
		return false
	}
	return true
}

// Checkpoint writes a gob snapshot of the whole store to dir, which
// must not already exist.
func (db *DB) Checkpoint(dir string) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if _, err := os.Stat(dir); err == nil {
		return os.ErrExist
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(dir, snapshotFile))
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(db.data)
}

// Compact is a no-op for the in-memory backend.
func (db *DB) Compact(kvstore.CF, []byte, []byte) error { return nil }

// Close is a no-op for the in-memory backend.
func (db *DB) Close() error { return nil }
