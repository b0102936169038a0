// Package guardedkv is the adjunct corruption-guarded key->value
// wrapper: a plain KV namespace (not a Merkle tree) where every stored
// value is framed with a checksum suffix so a bit-flip or truncated
// write is caught on read instead of silently returned to the caller.
package guardedkv

import (
	"bytes"
	"fmt"

	"github.com/pwrlabs/go-merkletree-db/hash"
	"github.com/pwrlabs/go-merkletree-db/kvstore"
)

// cf is the single column family this wrapper uses.
const cf = kvstore.CF("guardedkv")

// ErrorKind mirrors the core package's sum type so guardedkv doesn't
// need its own callers to import two different error shapes.
type ErrorKind int

const (
	NotFound ErrorKind = iota
	CorruptState
	IoFailure
)

// Error is guardedkv's single error type.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		switch e.Kind {
		case NotFound:
			return "guardedkv: not found"
		case CorruptState:
			return "guardedkv: corrupt value"
		default:
			return "guardedkv: io failure"
		}
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Store wraps a kvstore.Store, framing every value as value ||
// H224(value) on write and verifying the suffix on every read. A
// mismatch is reported as CorruptState rather than acted on silently
// — unlike the source implementation this is distilled from, which
// exits the process outright on a checksum mismatch, a library has no
// business terminating its host.
type Store struct {
	backing kvstore.Store
}

func New(backing kvstore.Store) *Store {
	return &Store{backing: backing}
}

func frame(value []byte) []byte {
	sum := hash.Sum224(value)
	out := make([]byte, 0, len(value)+hash.Size224)
	out = append(out, value...)
	out = append(out, sum.Bytes()...)
	return out
}

func unframe(framed []byte) ([]byte, error) {
	if len(framed) < hash.Size224 {
		return nil, &Error{Kind: CorruptState, Err: fmt.Errorf("guardedkv: value too short to carry a checksum: %d bytes", len(framed))}
	}
	value := framed[:len(framed)-hash.Size224]
	wantSum := framed[len(framed)-hash.Size224:]
	gotSum := hash.Sum224(value)
	if !bytes.Equal(gotSum.Bytes(), wantSum) {
		return nil, &Error{Kind: CorruptState, Err: fmt.Errorf("guardedkv: checksum mismatch")}
	}
	return value, nil
}

// Put stores value under key, framed with its checksum.
func (s *Store) Put(key, value []byte) error {
	batch := s.backing.NewBatch()
	batch.Put(cf, key, frame(value))
	if err := batch.Commit(); err != nil {
		return &Error{Kind: IoFailure, Err: err}
	}
	return nil
}

// Get returns the value stored under key, verifying its checksum.
// Returns (nil, NotFound-kind *Error) if key is absent.
func (s *Store) Get(key []byte) ([]byte, error) {
	framed, err := s.backing.Get(cf, key)
	if err == kvstore.ErrNotFound {
		return nil, &Error{Kind: NotFound}
	}
	if err != nil {
		return nil, &Error{Kind: IoFailure, Err: err}
	}
	return unframe(framed)
}

// Delete removes key.
func (s *Store) Delete(key []byte) error {
	batch := s.backing.NewBatch()
	batch.Delete(cf, key)
	if err := batch.Commit(); err != nil {
		return &Error{Kind: IoFailure, Err: err}
	}
	return nil
}

// AllKeys returns every key currently stored, in key order.
func (s *Store) AllKeys() ([][]byte, error) {
	it := s.backing.NewIterator(cf)
	defer it.Close()
	var out [][]byte
	for it.Next() {
		k := it.Key()
		cp := make([]byte, len(k))
		copy(cp, k)
		out = append(out, cp)
	}
	if err := it.Err(); err != nil {
		return nil, &Error{Kind: IoFailure, Err: err}
	}
	return out, nil
}

// Clone checkpoints src's entire underlying store into a fresh Store
// rooted at dir, mirroring the Merkle tree's own checkpoint-based
// Clone.
func Clone(src *Store, open kvstore.OpenFunc, dir string) (*Store, error) {
	if err := src.backing.Checkpoint(dir); err != nil {
		return nil, &Error{Kind: IoFailure, Err: err}
	}
	backing, err := open(dir, []kvstore.CF{cf})
	if err != nil {
		return nil, &Error{Kind: IoFailure, Err: err}
	}
	return New(backing), nil
}

// Update copies every key in keys from src into dst, verifying each
// value's checksum as it's read (a corrupt source value aborts the
// whole update and is reported, rather than propagated).
func Update(dst, src *Store, keys [][]byte) error {
	batch := dst.backing.NewBatch()
	for _, k := range keys {
		v, err := src.Get(k)
		if err != nil {
			return err
		}
		batch.Put(cf, k, frame(v))
	}
	if err := batch.Commit(); err != nil {
		return &Error{Kind: IoFailure, Err: err}
	}
	return nil
}
