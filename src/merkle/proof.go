package merkle

import (
	"bytes"
)

// Side tells on which side of the running hash a sibling sits.
type Side int

const (
	// Left means the sibling is hashed before the running hash.
	Left Side = iota
	// Right means the sibling is hashed after the running hash.
	Right
)

func (s Side) String() string {
	if s == Left {
		return "left"
	}
	return "right"
}

// Step is one sibling hash on the path from a leaf to the root.
type Step struct {
	Hash []byte
	Side Side
}

// Proof is an ordered path from a leaf to the root it claims.
type Proof struct {
	Leaf  []byte
	Steps []Step
	Root  []byte
}

// ComputeRoot folds the steps over the leaf.
func (p *Proof) ComputeRoot() []byte {
	h := p.Leaf
	for _, s := range p.Steps {
		if s.Side == Left {
			h = InnerHash(s.Hash, h)
		} else {
			h = InnerHash(h, s.Hash)
		}
	}
	return h
}

// VerifyProof reports whether the proof leads exactly to root. Any deviation,
// including a mismatch with the root recorded in the proof, fails.
func VerifyProof(root []byte, p *Proof) bool {
	if p == nil || len(p.Leaf) == 0 || len(root) == 0 {
		return false
	}
	if p.Root != nil && !bytes.Equal(p.Root, root) {
		return false
	}
	return bytes.Equal(p.ComputeRoot(), root)
}

// VerifyItem is VerifyProof for a proof that must also be about item.
func VerifyItem(root, item []byte, p *Proof) bool {
	if p == nil || !bytes.Equal(p.Leaf, LeafHash(item)) {
		return false
	}
	return VerifyProof(root, p)
}
