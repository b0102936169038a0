package merkle

import (
	"fmt"

	"github.com/pwrlabs/go-merkletree-db/hash"
)

// This file is the structural heart of the tree: addLeaf/addNode grow
// it one leaf at a time using at most one "hanging" node per level,
// and updateLeaf/updateNodeHash recompute hashes up to the root when a
// leaf changes. Grounded on the teacher's trie.go insert/delete shape
// (resolve -> mutate -> relink parent), though the branching itself is
// the spec's binary hanging-node construction, not Patricia matching.
//
// addLeaf and updateLeaf take t.meta.mu for the duration of a
// mutation; addNodeLocked and updateNodeHash expect it already held.
// Only the commit worker calls into this file, so the lock exists as a
// safety net rather than a real contention point (spec §5).

func hPtr(h hash.H256) *hash.H256 { return &h }

// updateChild rewrites whichever of p.Left/p.Right currently equals
// oldHash to newHash. Used both when a leaf's hash changes and when an
// internal node's hash changes (the spec names this "updateLeaf" at
// the node level, which is a different operation from the tree-level
// updateLeaf below despite the shared name).
func (n *Node) updateChild(oldHash, newHash hash.H256) {
	if n.Left != nil && *n.Left == oldHash {
		n.Left = hPtr(newHash)
		return
	}
	if n.Right != nil && *n.Right == oldHash {
		n.Right = hPtr(newHash)
	}
}

// addLeaf is the ℓ=0 entry point: increments num_leaves, then behaves
// per addNode.
func (t *Tree) addLeaf(leafHash hash.H256) error {
	t.meta.mu.Lock()
	defer t.meta.mu.Unlock()

	leaf := &Node{Hash: leafHash}
	t.nodes.put(leaf)
	t.meta.numLeafs++
	return t.addNodeLocked(0, leaf)
}

// addNodeLocked attaches n at level, growing the hanging-node chain
// upward as needed. t.meta.mu must already be held.
func (t *Tree) addNodeLocked(level uint32, n *Node) error {
	hangingHash, hasHanging := t.meta.hanging[level]

	if !hasHanging {
		t.meta.hanging[level] = n.Hash
		if level == t.meta.depth {
			t.meta.rootHash = hPtr(n.Hash)
			return nil
		}
		// Create a parent via the odd-arity rule (this node duplicated
		// as both hash inputs) and recurse.
		p := &Node{Hash: n.recomputeHashAsOnlyChild(), Left: hPtr(n.Hash)}
		t.nodes.put(p)

		n.Parent = hPtr(p.Hash)
		return t.addNodeLocked(level+1, p)
	}

	hNode, err := t.nodes.get(hangingHash)
	if err != nil {
		return err
	}

	if hNode.Parent == nil {
		// hNode is also the current root: pair it with n directly.
		p := &Node{
			Hash:  hash.Sum256Pair(hNode.Hash[:], n.Hash[:]),
			Left:  hPtr(hNode.Hash),
			Right: hPtr(n.Hash),
		}
		t.nodes.put(p)

		hNode.Parent = hPtr(p.Hash)
		n.Parent = hPtr(p.Hash)
		t.nodes.put(hNode)

		delete(t.meta.hanging, level)
		t.meta.depth = level + 1
		return t.addNodeLocked(level+1, p)
	}

	// hNode has a parent G: attach n as G's missing child.
	g, err := t.nodes.get(*hNode.Parent)
	if err != nil {
		return err
	}
	if g.Left != nil && g.Right != nil {
		return newErr(CorruptState, fmt.Errorf("addLeaf: node %x already has two children", g.Hash))
	}
	if g.Left == nil {
		g.Left = hPtr(n.Hash)
	} else {
		g.Right = hPtr(n.Hash)
	}
	n.Parent = hPtr(g.Hash)
	t.nodes.put(n)

	delete(t.meta.hanging, level)

	newGHash := g.recomputeHash()
	return t.updateNodeHash(g, newGHash)
}

// recomputeHashAsOnlyChild is the odd-arity rule applied to a node
// being duplicated as its own sibling when its new parent has no
// other child yet.
func (n *Node) recomputeHashAsOnlyChild() hash.H256 {
	return hash.Sum256Pair(n.Hash[:], n.Hash[:])
}

// updateLeaf (tree level) locates the node currently stored under
// oldHash and rehashes it to newHash, cascading up to the root.
func (t *Tree) updateLeaf(oldHash, newHash hash.H256) error {
	if oldHash == newHash {
		return newErr(InvalidArgument, fmt.Errorf("updateLeaf: old and new hash are equal"))
	}
	t.meta.mu.Lock()
	defer t.meta.mu.Unlock()

	n, err := t.nodes.get(oldHash)
	if err != nil {
		if kind, ok := KindOf(err); ok && kind == NotFound {
			return newErr(NotFound, fmt.Errorf("updateLeaf: no node under hash %x", oldHash))
		}
		return err
	}
	return t.updateNodeHash(n, newHash)
}

// updateNodeHash is the recursive rehash: it moves node from its
// current hash to newHash, fixes the hanging table and node cache, and
// propagates the change to node's parent (or, if node is the root, to
// its children's parent pointers). t.meta.mu must already be held.
func (t *Tree) updateNodeHash(node *Node, newHash hash.H256) error {
	if node.PendingOldHash == nil {
		old := node.Hash
		node.PendingOldHash = &old
	}
	oldHash := node.Hash
	node.Hash = newHash

	for level, h := range t.meta.hanging {
		if h == oldHash {
			t.meta.hanging[level] = newHash
			break
		}
	}

	t.nodes.rehash(oldHash, node)

	if node.Parent == nil {
		t.meta.rootHash = hPtr(newHash)
		return t.relinkChildren(node, newHash)
	}

	if node.IsLeaf() {
		parent, err := t.nodes.get(*node.Parent)
		if err != nil {
			return err
		}
		parent.updateChild(oldHash, newHash)
		newParentHash := parent.recomputeHash()
		return t.updateNodeHash(parent, newParentHash)
	}

	// Internal, non-root: fix downward links, then propagate upward.
	if err := t.relinkChildren(node, newHash); err != nil {
		return err
	}
	parent, err := t.nodes.get(*node.Parent)
	if err != nil {
		return err
	}
	parent.updateChild(oldHash, newHash)
	newParentHash := parent.recomputeHash()
	return t.updateNodeHash(parent, newParentHash)
}

// relinkChildren points every existing child of node at node's new
// hash.
func (t *Tree) relinkChildren(node *Node, newHash hash.H256) error {
	if node.Left != nil {
		child, err := t.nodes.get(*node.Left)
		if err != nil {
			return err
		}
		child.Parent = hPtr(newHash)
		t.nodes.put(child)
	}
	if node.Right != nil {
		child, err := t.nodes.get(*node.Right)
		if err != nil {
			return err
		}
		child.Parent = hPtr(newHash)
		t.nodes.put(child)
	}
	return nil
}
