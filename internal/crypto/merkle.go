// Package crypto implements the three signature schemes spec §4.1 names:
// per-message RSA over a Merkle-batched root, TPM-bound session signatures,
// and threshold signatures over quorum objects. Batched-root construction is
// grounded on other_examples' massifs.RootSigner (a signature committing to
// an accumulator of recent digests rather than one digest at a time); the
// accumulator here is a straightforward binary Merkle tree rather than an
// MMR, since spec §4.1 batches a bounded window of pending messages, not an
// append-only log.
package crypto

import (
	"crypto/sha256"
	"fmt"
)

// MerkleTree is a binary tree over a fixed list of leaf digests, built once
// a signing batch closes. Odd levels duplicate the final node, matching the
// common Bitcoin-style convention.
type MerkleTree struct {
	leaves [][32]byte
	levels [][][32]byte
}

// BuildMerkleTree constructs the tree for a non-empty set of leaf digests.
// The leaf order is the batch order; InclusionPath indexes against it.
func BuildMerkleTree(leaves [][32]byte) (*MerkleTree, error) {
	if len(leaves) == 0 {
		return nil, fmt.Errorf("crypto: cannot build a merkle tree with zero leaves")
	}
	level := make([][32]byte, len(leaves))
	copy(level, leaves)
	levels := [][][32]byte{level}

	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		levels = append(levels, next)
		level = next
	}

	return &MerkleTree{leaves: append([][32]byte(nil), leaves...), levels: levels}, nil
}

// Root returns the tree's root digest — the value the batch's RSA signature
// actually covers.
func (t *MerkleTree) Root() [32]byte {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// InclusionPath is a Merkle_Index's path to the root: one sibling digest per
// level plus whether that sibling sits on the right.
type InclusionPath struct {
	Index    int
	Siblings []PathStep
}

type PathStep struct {
	Digest  [32]byte
	IsRight bool
}

// Path returns the inclusion path for leaf index idx.
func (t *MerkleTree) Path(idx int) (InclusionPath, error) {
	if idx < 0 || idx >= len(t.leaves) {
		return InclusionPath{}, fmt.Errorf("crypto: leaf index %d out of range [0,%d)", idx, len(t.leaves))
	}
	path := InclusionPath{Index: idx}
	pos := idx
	for level := 0; level < len(t.levels)-1; level++ {
		nodes := t.levels[level]
		var sibling [32]byte
		var isRight bool
		if pos%2 == 0 {
			if pos+1 < len(nodes) {
				sibling = nodes[pos+1]
			} else {
				sibling = nodes[pos]
			}
			isRight = true
		} else {
			sibling = nodes[pos-1]
			isRight = false
		}
		path.Siblings = append(path.Siblings, PathStep{Digest: sibling, IsRight: isRight})
		pos /= 2
	}
	return path, nil
}

// VerifyInclusion recomputes the root from a leaf digest and its path,
// reporting whether it matches root. Used by a receiver that holds only the
// batch's signed root plus the one message's path (spec §4.1: a receiver
// need not fetch every message in a signing batch to verify one of them).
func VerifyInclusion(leaf [32]byte, path InclusionPath, root [32]byte) bool {
	cur := leaf
	for _, step := range path.Siblings {
		if step.IsRight {
			cur = hashPair(cur, step.Digest)
		} else {
			cur = hashPair(step.Digest, cur)
		}
	}
	return cur == root
}

func hashPair(left, right [32]byte) [32]byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return sha256.Sum256(buf)
}
