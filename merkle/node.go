package merkle

import (
	"fmt"

	"github.com/pwrlabs/go-merkletree-db/hash"
)

// Node is one vertex of the Merkle tree. Children and parent are
// referenced by hash only, never by pointer — the snapshot-based clone
// depends on node identity being a pure byte value (Design Notes §9).
type Node struct {
	Hash   hash.H256
	Left   *hash.H256
	Right  *hash.H256
	Parent *hash.H256

	// PendingOldHash, when set, is the hash this node was stored under
	// on disk before its most recent rehash. The flush batch deletes
	// the entry under this hash in the same write that puts the node
	// under its current hash.
	PendingOldHash *hash.H256
}

// IsLeaf reports whether n has no children.
func (n *Node) IsLeaf() bool {
	return n.Left == nil && n.Right == nil
}

// IsRoot reports whether n has no parent.
func (n *Node) IsRoot() bool {
	return n.Parent == nil
}

// copy returns a deep copy of n — used by the clone fast path, which
// must not let the destination share hash pointers with the source.
func (n *Node) copy() *Node {
	cp := &Node{Hash: n.Hash}
	if n.Left != nil {
		h := *n.Left
		cp.Left = &h
	}
	if n.Right != nil {
		h := *n.Right
		cp.Right = &h
	}
	if n.Parent != nil {
		h := *n.Parent
		cp.Parent = &h
	}
	if n.PendingOldHash != nil {
		h := *n.PendingOldHash
		cp.PendingOldHash = &h
	}
	return cp
}

// recomputeHash applies the odd-arity hashing rule: when only one
// child exists, it stands in for the other when hashing.
func (n *Node) recomputeHash() hash.H256 {
	if n.Left == nil && n.Right == nil {
		// Leaves never recompute — their hash is supplied externally.
		return n.Hash
	}
	l, r := n.Left, n.Right
	if l == nil {
		l = r
	}
	if r == nil {
		r = l
	}
	return hash.Sum256Pair(l[:], r[:])
}

// --- fixed-layout codec (spec §4.1) ---
//
//	hash:   32 B
//	flags:  3 separate bytes, in order: hasLeft, hasRight, hasParent
//	left:   32 B if hasLeft
//	right:  32 B if hasRight
//	parent: 32 B if hasParent
//
// The three-byte flag layout wastes space versus a single bitfield
// byte, but is preserved for on-disk compatibility (Design Notes §9)
// rather than "fixed" into something more compact.

const (
	flagTrue  byte = 1
	flagFalse byte = 0
)

// Encode renders n into its fixed on-disk layout.
func (n *Node) Encode() []byte {
	size := hash.Size256 + 3
	if n.Left != nil {
		size += hash.Size256
	}
	if n.Right != nil {
		size += hash.Size256
	}
	if n.Parent != nil {
		size += hash.Size256
	}

	buf := make([]byte, 0, size)
	buf = append(buf, n.Hash[:]...)
	buf = append(buf, boolFlag(n.Left != nil), boolFlag(n.Right != nil), boolFlag(n.Parent != nil))
	if n.Left != nil {
		buf = append(buf, n.Left[:]...)
	}
	if n.Right != nil {
		buf = append(buf, n.Right[:]...)
	}
	if n.Parent != nil {
		buf = append(buf, n.Parent[:]...)
	}
	return buf
}

func boolFlag(b bool) byte {
	if b {
		return flagTrue
	}
	return flagFalse
}

// DecodeNode parses the fixed on-disk layout produced by Encode. Any
// size mismatch is reported as CorruptState.
func DecodeNode(buf []byte) (*Node, error) {
	if len(buf) < hash.Size256+3 {
		return nil, newErr(CorruptState, fmt.Errorf("node blob too short: %d bytes", len(buf)))
	}
	n := &Node{}
	copy(n.Hash[:], buf[:hash.Size256])
	off := hash.Size256

	hasLeft := buf[off] != flagFalse
	hasRight := buf[off+1] != flagFalse
	hasParent := buf[off+2] != flagFalse
	off += 3

	want := off
	if hasLeft {
		want += hash.Size256
	}
	if hasRight {
		want += hash.Size256
	}
	if hasParent {
		want += hash.Size256
	}
	if len(buf) != want {
		return nil, newErr(CorruptState, fmt.Errorf("node blob length %d, want %d", len(buf), want))
	}

	if hasLeft {
		h := hash.BytesToH256(buf[off : off+hash.Size256])
		n.Left = &h
		off += hash.Size256
	}
	if hasRight {
		h := hash.BytesToH256(buf[off : off+hash.Size256])
		n.Right = &h
		off += hash.Size256
	}
	if hasParent {
		h := hash.BytesToH256(buf[off : off+hash.Size256])
		n.Parent = &h
		off += hash.Size256
	}
	return n, nil
}
