// Package merkle implements the balanced binary SHA-256 Merkle tree over a file's
// 16-KiB leaf blocks used by BitTorrent v2 (spec §4.2, component C2). Layout and update
// order are ported from original_source/include/dottorrent/merkle_tree.hpp.
package merkle

import (
	"fmt"

	"github.com/omnicloud/torrentbuild/internal/hashutil"
)

// LeafSize is the fixed v2 leaf block size (16 KiB).
const LeafSize = 16 * 1024

// Tree is a complete balanced binary tree of hashutil.Hash values stored in
// breadth-first (flat) order: node 0 is the root, node i's children are at 2i+1 and
// 2i+2.
type Tree struct {
	height int // tree_height(): leaves live at this layer
	fn     hashutil.Function
	nodes  []hashutil.Hash
}

func nodesInLayer(layer int) int { return 1 << uint(layer) }

func totalNodeCount(height int) int { return (1 << uint(height+1)) - 1 }

func flatIndex(layer, index int) int { return (1 << uint(layer)) - 1 + index }

func log2Ceil(n int) int {
	h := 0
	for (1 << uint(h)) < n {
		h++
	}
	return h
}

// WithLeaves allocates a tree for n leaves (n must be >= 1; zero leaves is forbidden per
// spec §4.2), padding up to the next power of two. Padding leaves (and every node,
// pending update()) are initialized to fill.
func WithLeaves(fn hashutil.Function, n int, fill hashutil.Hash) (*Tree, error) {
	if n < 1 {
		return nil, fmt.Errorf("merkle: zero leaves is forbidden")
	}
	height := log2Ceil(n)
	count := totalNodeCount(height)
	nodes := make([]hashutil.Hash, count)
	for i := range nodes {
		nodes[i] = fill
	}
	return &Tree{height: height, fn: fn, nodes: nodes}, nil
}

// LeafCount returns the padded leaf count (2^tree_height).
func (t *Tree) LeafCount() int { return nodesInLayer(t.height) }

// NodeCount returns the total number of nodes (2*LeafCount - 1).
func (t *Tree) NodeCount() int { return len(t.nodes) }

// TreeHeight returns the depth of the leaf layer; the root is at depth 0.
func (t *Tree) TreeHeight() int { return t.height }

// SetLeaf sets leaf i to h. Safe to call concurrently for distinct i.
func (t *Tree) SetLeaf(i int, h hashutil.Hash) {
	t.nodes[flatIndex(t.height, i)] = h
}

// GetLeaf returns leaf i.
func (t *Tree) GetLeaf(i int) hashutil.Hash {
	return t.nodes[flatIndex(t.height, i)]
}

// GetNode returns the node at (layer, index).
func (t *Tree) GetNode(layer, index int) hashutil.Hash {
	return t.nodes[flatIndex(layer, index)]
}

// Root returns node 0. Not meaningful until Update has run (or the tree has one leaf,
// in which case the root equals that leaf and Update is a no-op).
func (t *Tree) Root() hashutil.Hash {
	return t.nodes[0]
}

// Layer returns the contiguous slice of nodes at depth (0 == root layer).
func (t *Tree) Layer(depth int) []hashutil.Hash {
	start := flatIndex(depth, 0)
	return t.nodes[start : start+nodesInLayer(depth)]
}

// Update recomputes every interior node from the leaves upward, pairing
// (node[2i], node[2i+1]) at each layer with hasher. Not re-entrant: callers must not
// call Update concurrently with SetLeaf or another Update on the same tree, but every
// SetLeaf that happened-before this call is reflected in the result.
func (t *Tree) Update(hasher *hashutil.SingleBufferHasher) {
	for layer := t.height; layer > 0; layer-- {
		n := nodesInLayer(layer)
		for i := 0; i < n; i += 2 {
			left := t.GetNode(layer, i)
			right := t.GetNode(layer, i+1)
			hasher.Update(left.Bytes)
			hasher.Update(right.Bytes)
			parent := hasher.FinalizeTo(nil)
			t.nodes[flatIndex(layer-1, i/2)] = parent
		}
	}
}

// PieceLayerDepth returns the tree depth whose nodes each cover exactly pieceSize bytes
// of original leaf content, given the fixed 16-KiB leaf size (spec §4.2). pieceSize must
// be a power of two >= LeafSize.
func PieceLayerDepth(height int, pieceSize int64) int {
	shift := 0
	for (int64(LeafSize) << uint(shift)) < pieceSize {
		shift++
	}
	depth := height - shift
	if depth < 0 {
		depth = 0
	}
	return depth
}

// PieceLayer extracts the piece layer for a file of fileSize bytes hashed with
// pieceSize: the layer at PieceLayerDepth, truncated to ceil(fileSize/pieceSize)
// entries. A file that fits in a single piece returns an empty layer (the root alone
// suffices), matching spec §4.2.
func (t *Tree) PieceLayer(fileSize, pieceSize int64) []hashutil.Hash {
	if fileSize <= pieceSize {
		return nil
	}
	depth := PieceLayerDepth(t.height, pieceSize)
	layer := t.Layer(depth)
	n := int((fileSize + pieceSize - 1) / pieceSize)
	if n > len(layer) {
		n = len(layer)
	}
	return layer[:n]
}
