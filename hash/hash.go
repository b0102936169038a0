// Package hash provides the two digest primitives the Merkle core is
// built on: a 256-bit hash used for every node and leaf, and a 224-bit
// hash used only by the adjunct corruption-guarded KV wrapper.
package hash

import "golang.org/x/crypto/sha3"

// Size256 is the length in bytes of an H256 digest.
const Size256 = 32

// Size224 is the length in bytes of an H224 digest.
const Size224 = 28

// H256 is the node/leaf digest type used throughout the tree.
type H256 [Size256]byte

// H224 is the digest suffix used by the corruption-guarded KV wrapper.
type H224 [Size224]byte

// IsZero reports whether h is the all-zero digest. The tree itself
// represents an absent hash (a root's parent, an empty tree's root) as
// a nil *H256, not as the zero digest.
func (h H256) IsZero() bool {
	return h == H256{}
}

// Bytes returns a copy of h as a plain slice.
func (h H256) Bytes() []byte {
	b := make([]byte, Size256)
	copy(b, h[:])
	return b
}

// BytesToH256 copies b into an H256. b must be exactly Size256 bytes.
func BytesToH256(b []byte) H256 {
	var h H256
	copy(h[:], b)
	return h
}

// Sum256 computes the 256-bit digest of a single buffer.
func Sum256(data []byte) H256 {
	return H256(sha3.Sum256(data))
}

// Sum256Pair computes H256(a || b), the two-argument form required by
// the hashing contract (leaf hashes and odd-arity node hashes).
func Sum256Pair(a, b []byte) H256 {
	buf := make([]byte, 0, len(a)+len(b))
	buf = append(buf, a...)
	buf = append(buf, b...)
	return Sum256(buf)
}

// LeafHash computes the leaf hash for a user (key, value) pair:
// H256(key, value).
func LeafHash(key, value []byte) H256 {
	return Sum256Pair(key, value)
}

// Sum224 computes the 224-bit digest used to frame adjunct KV values.
func Sum224(data []byte) H224 {
	return H224(sha3.Sum224(data))
}

// Bytes returns a copy of h as a plain slice.
func (h H224) Bytes() []byte {
	b := make([]byte, Size224)
	copy(b, h[:])
	return b
}
