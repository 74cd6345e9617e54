// Package merkle implements a sorted-pair Merkle accumulator:
// insert-only, direction-free proofs, lazy root recomputation. Hashing
// goes through pkg/sig.Keccak256Packed for bit-exact leaf and node
// digests.
package merkle

import (
	"bytes"
	"sync"

	"github.com/x402-foundation/x402-channel/pkg/sig"
)

// Digest is a 32-byte keccak256 output.
type Digest = sig.Digest

// Accumulator builds a binary Merkle tree over inserted leaves in
// insertion order, using the sorted-pair fold: at every internal node the
// pair of children is ordered by byte value before hashing, so proofs
// carry no direction bit.
//
// Tree instances are transient and owned by their callers; an off-chain
// accumulator of receipts builds one, the adjudicator only ever sees
// roots and sibling paths.
type Accumulator struct {
	mu     sync.Mutex
	leaves []Digest
	levels [][]Digest // levels[0] == leaves; cached, invalidated on Insert
	dirty  bool
}

// New returns an empty accumulator. Root() on an empty accumulator is the
// all-zero digest.
func New() *Accumulator {
	return &Accumulator{dirty: true}
}

// Insert appends a leaf. Duplicate leaves are allowed — membership is
// still provable for either occurrence — because duplicate-suppression is
// the proven-call set's job, not the tree's.
func (a *Accumulator) Insert(leaf Digest) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.leaves = append(a.leaves, leaf)
	a.dirty = true
}

// Len returns the number of inserted leaves.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.leaves)
}

// Root returns the current root, rebuilding the cached level structure if
// a prior Insert invalidated it. The empty tree's root is the all-zero
// digest.
func (a *Accumulator) Root() Digest {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rebuildLocked()
	if len(a.levels) == 0 {
		return Digest{}
	}
	top := a.levels[len(a.levels)-1]
	if len(top) == 0 {
		return Digest{}
	}
	return top[0]
}

// Proof returns the ordered list of sibling digests needed to verify the
// leaf at index against Root(). The list is direction-free: Verify folds
// each sibling in using the same sorted-pair rule used to build the tree.
func (a *Accumulator) Proof(index int) ([]Digest, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rebuildLocked()

	if index < 0 || index >= len(a.leaves) {
		return nil, errIndexOutOfRange
	}

	var proof []Digest
	idx := index
	for level := 0; level < len(a.levels)-1; level++ {
		nodes := a.levels[level]
		siblingIdx := idx ^ 1
		if siblingIdx >= len(nodes) {
			// odd count at this level: the last node was duplicated to
			// pair with itself.
			siblingIdx = idx
		}
		proof = append(proof, nodes[siblingIdx])
		idx /= 2
	}
	return proof, nil
}

// rebuildLocked recomputes a.levels from a.leaves if dirty. Must be called
// with a.mu held.
func (a *Accumulator) rebuildLocked() {
	if !a.dirty {
		return
	}
	a.levels = buildLevels(a.leaves)
	a.dirty = false
}

func buildLevels(leaves []Digest) [][]Digest {
	if len(leaves) == 0 {
		return [][]Digest{{}}
	}
	levels := [][]Digest{append([]Digest(nil), leaves...)}
	current := levels[0]
	for len(current) > 1 {
		current = foldLevel(current)
		levels = append(levels, current)
	}
	return levels
}

// foldLevel produces the parent level from current, duplicating the final
// node if the count is odd.
func foldLevel(current []Digest) []Digest {
	padded := current
	if len(padded)%2 != 0 {
		padded = append(append([]Digest(nil), current...), current[len(current)-1])
	}
	next := make([]Digest, 0, len(padded)/2)
	for i := 0; i < len(padded); i += 2 {
		next = append(next, sortedPairHash(padded[i], padded[i+1]))
	}
	return next
}

// sortedPairHash hashes (a, b) after ordering them by byte value, making
// the internal node commutative and proofs direction-free.
func sortedPairHash(a, b Digest) Digest {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return sig.Keccak256Packed(sig.PackDigest(a), sig.PackDigest(b))
}

// Verify reports whether leaf folds up to root through proof using the
// sorted-pair rule used to build the tree.
func Verify(leaf Digest, proof []Digest, root Digest) bool {
	current := leaf
	for _, sibling := range proof {
		current = sortedPairHash(current, sibling)
	}
	return current == root
}

type merkleError string

func (e merkleError) Error() string { return string(e) }

const errIndexOutOfRange = merkleError("merkle: index out of range")
