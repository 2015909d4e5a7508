package merkle

import (
	"bytes"
	"errors"
)

// ErrLeafNotFound is returned when a proof is requested for data that is not
// in the tree.
var ErrLeafNotFound = errors.New("leaf not found")

// Tree is an immutable Merkle tree.
type Tree struct {
	levels [][][]byte
}

// New builds a tree over the items, hashing each one into a leaf.
func New(items [][]byte) *Tree {
	leaves := make([][]byte, len(items))
	for i, it := range items {
		leaves[i] = LeafHash(it)
	}
	return NewFromLeaves(leaves)
}

// NewFromLeaves builds a tree over leaf hashes computed with LeafHash.
func NewFromLeaves(leaves [][]byte) *Tree {
	t := &Tree{}
	if len(leaves) == 0 {
		return t
	}

	level := make([][]byte, len(leaves))
	copy(level, leaves)
	t.levels = append(t.levels, level)

	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, InnerHash(level[i], level[i+1]))
		}
		t.levels = append(t.levels, next)
		level = next
	}

	return t
}

// Root returns the root hash, and false if the tree is empty.
func (t *Tree) Root() ([]byte, bool) {
	if len(t.levels) == 0 {
		return nil, false
	}
	return t.levels[len(t.levels)-1][0], true
}

// Len returns the number of leaves.
func (t *Tree) Len() int {
	if len(t.levels) == 0 {
		return 0
	}
	return len(t.levels[0])
}

// Leaf returns the i-th leaf hash.
func (t *Tree) Leaf(i int) []byte {
	return t.levels[0][i]
}

// Proof returns the inclusion proof for the first occurrence of item.
func (t *Tree) Proof(item []byte) (*Proof, error) {
	return t.ProofForLeaf(LeafHash(item))
}

// ProofForLeaf returns the inclusion proof for the first leaf equal to
// leafHash.
func (t *Tree) ProofForLeaf(leafHash []byte) (*Proof, error) {
	if len(t.levels) == 0 {
		return nil, ErrLeafNotFound
	}
	for i, l := range t.levels[0] {
		if bytes.Equal(l, leafHash) {
			return t.ProofForIndex(i)
		}
	}
	return nil, ErrLeafNotFound
}

// ProofForIndex returns the inclusion proof of the i-th leaf.
func (t *Tree) ProofForIndex(i int) (*Proof, error) {
	if i < 0 || i >= t.Len() {
		return nil, ErrLeafNotFound
	}

	proof := &Proof{
		Leaf: t.levels[0][i],
	}

	idx := i
	for _, level := range t.levels[:len(t.levels)-1] {
		if idx%2 == 1 {
			proof.Steps = append(proof.Steps, Step{Hash: level[idx-1], Side: Left})
		} else if idx+1 < len(level) {
			proof.Steps = append(proof.Steps, Step{Hash: level[idx+1], Side: Right})
		}
		// an unpaired trailing node is promoted and adds no step
		idx /= 2
	}

	proof.Root, _ = t.Root()

	return proof, nil
}

// Verify checks the proof against the root of this tree.
func (t *Tree) Verify(p *Proof) bool {
	root, ok := t.Root()
	if !ok {
		return false
	}
	return VerifyProof(root, p)
}
