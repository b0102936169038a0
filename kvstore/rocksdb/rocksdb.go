// Package rocksdb is the production kvstore.Store backend: an
// embedded, ordered, column-family-capable LSM engine with atomic
// write batches and cheap filesystem checkpoints, via RocksDB's Go
// bindings.
package rocksdb

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/tecbot/gorocksdb"

	"github.com/pwrlabs/go-merkletree-db/kvstore"
)

// defaultCF is RocksDB's always-present column family. The Merkle
// core never writes to it (§6.1), but every column family set must
// include it or RocksDB refuses to open.
const defaultCF = kvstore.CF("default")

// DB wraps a RocksDB handle opened over a fixed set of column
// families.
type DB struct {
	db      *gorocksdb.DB
	handles map[kvstore.CF]*gorocksdb.ColumnFamilyHandle
	ro      *gorocksdb.ReadOptions
	wo      *gorocksdb.WriteOptions
	opts    *gorocksdb.Options
}

// Open opens (creating if necessary) a RocksDB instance at dir with
// cfs plus the reserved default CF.
func Open(dir string, cfs []kvstore.CF) (kvstore.Store, error) {
	opts := gorocksdb.NewDefaultOptions()
	opts.SetCreateIfMissing(true)
	opts.SetCreateIfMissingColumnFamilies(true)

	names := []string{string(defaultCF)}
	for _, cf := range cfs {
		names = append(names, string(cf))
	}
	cfOpts := make([]*gorocksdb.Options, len(names))
	for i := range cfOpts {
		cfOpts[i] = opts
	}

	rdb, handleSlice, err := gorocksdb.OpenDbColumnFamilies(opts, dir, names, cfOpts)
	if err != nil {
		return nil, errors.Wrapf(err, "open rocksdb at %s", dir)
	}

	handles := make(map[kvstore.CF]*gorocksdb.ColumnFamilyHandle, len(names))
	for i, name := range names {
		handles[kvstore.CF(name)] = handleSlice[i]
	}

	return &DB{
		db:      rdb,
		handles: handles,
		ro:      gorocksdb.NewDefaultReadOptions(),
		wo:      gorocksdb.NewDefaultWriteOptions(),
		opts:    opts,
	}, nil
}

func (d *DB) handle(cf kvstore.CF) *gorocksdb.ColumnFamilyHandle {
	h, ok := d.handles[cf]
	if !ok {
		// Unknown CFs are a programming error in the caller, not a
		// runtime condition worth a typed error: the set of CFs is
		// fixed at Open time by the Merkle core itself.
		panic("rocksdb: unknown column family " + string(cf))
	}
	return h
}

// Get implements kvstore.Store.
func (d *DB) Get(cf kvstore.CF, key []byte) ([]byte, error) {
	slice, err := d.db.GetCF(d.ro, d.handle(cf), key)
	if err != nil {
		return nil, errors.Wrap(err, "rocksdb get")
	}
	defer slice.Free()
	if !slice.Exists() {
		return nil, kvstore.ErrNotFound
	}
	out := make([]byte, slice.Size())
	copy(out, slice.Data())
	return out, nil
}

// Has implements kvstore.Store.
func (d *DB) Has(cf kvstore.CF, key []byte) (bool, error) {
	_, err := d.Get(cf, key)
	if errors.Cause(err) == kvstore.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// NewIterator implements kvstore.Store.
func (d *DB) NewIterator(cf kvstore.CF) kvstore.Iterator {
	it := d.db.NewIteratorCF(d.ro, d.handle(cf))
	it.SeekToFirst()
	return &iterator{it: it, started: false}
}

type iterator struct {
	it      *gorocksdb.Iterator
	started bool
}

func (i *iterator) Next() bool {
	if !i.started {
		i.started = true
	} else {
		i.it.Next()
	}
	return i.it.Valid()
}

func (i *iterator) Key() []byte {
	k := i.it.Key()
	defer k.Free()
	out := make([]byte, k.Size())
	copy(out, k.Data())
	return out
}

func (i *iterator) Value() []byte {
	v := i.it.Value()
	defer v.Free()
	out := make([]byte, v.Size())
	copy(out, v.Data())
	return out
}

func (i *iterator) Err() error   { return i.it.Err() }
func (i *iterator) Close() error { i.it.Close(); return nil }

// NewBatch implements kvstore.Store.
func (d *DB) NewBatch() kvstore.Batch {
	return &batch{db: d, wb: gorocksdb.NewWriteBatch()}
}

type batch struct {
	db  *DB
	wb  *gorocksdb.WriteBatch
	len int
}

func (b *batch) Put(cf kvstore.CF, key, value []byte) {
	b.wb.PutCF(b.db.handle(cf), key, value)
	b.len++
}

func (b *batch) Delete(cf kvstore.CF, key []byte) {
	b.wb.DeleteCF(b.db.handle(cf), key)
	b.len++
}

func (b *batch) DeleteRange(cf kvstore.CF, start, end []byte) {
	if end == nil {
		// RocksDB's native DeleteRangeCF needs a concrete upper bound,
		// and no fixed-width sentinel is safe here: keyData holds
		// arbitrary-length user keys, so an open-ended delete is
		// implemented by individually deleting every key currently in
		// cf from start onward, rather than bounding by byte width.
		it := b.db.db.NewIteratorCF(b.db.ro, b.db.handle(cf))
		defer it.Close()
		for it.Seek(start); it.Valid(); it.Next() {
			key := it.Key()
			k := make([]byte, key.Size())
			copy(k, key.Data())
			key.Free()
			b.wb.DeleteCF(b.db.handle(cf), k)
			b.len++
		}
		return
	}
	b.wb.DeleteRangeCF(b.db.handle(cf), start, end)
	b.len++
}

func (b *batch) Len() int { return b.len }

func (b *batch) Commit() error {
	return errors.Wrap(b.db.db.Write(b.db.wo, b.wb), "rocksdb batch commit")
}

// Checkpoint implements kvstore.Store via RocksDB's native checkpoint
// (hardlinks where the filesystem allows it).
func (d *DB) Checkpoint(dir string) error {
	if _, err := os.Stat(dir); err == nil {
		return os.ErrExist
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return err
	}
	cp, err := d.db.NewCheckpoint()
	if err != nil {
		return errors.Wrap(err, "create checkpoint object")
	}
	defer cp.Destroy()
	return errors.Wrapf(cp.CreateCheckpoint(dir, 0), "checkpoint to %s", dir)
}

// Compact implements kvstore.Store.
func (d *DB) Compact(cf kvstore.CF, start, end []byte) error {
	d.db.CompactRangeCF(d.handle(cf), gorocksdb.Range{Start: start, Limit: end})
	return nil
}

// Close implements kvstore.Store.
func (d *DB) Close() error {
	for _, h := range d.handles {
		h.Destroy()
	}
	d.db.Close()
	d.ro.Destroy()
	d.wo.Destroy()
	d.opts.Destroy()
	return nil
}
