package htlc

import (
	"fmt"
	"math/bits"

	"github.com/bits-and-blooms/bitset"

	"swapchain/crypto"
)

// MaxParts bounds the number of fills a single escrow may be split into.
const MaxParts = 1 << 16

// LeafHash returns the Merkle leaf committed for a part secret.
func LeafHash(h crypto.Hasher, secret []byte) [32]byte {
	return h.Sum(secret)
}

// ProofDepth returns the proof length expected for a tree of parts leaves.
func ProofDepth(parts uint32) int {
	if parts <= 1 {
		return 0
	}
	return bits.Len32(parts - 1)
}

// VerifyProof folds leaf with the sibling hashes in proof and compares the
// result with root. Bit i of index selects the concatenation order at level i:
// a set bit places the sibling on the left. It never panics and returns false
// on any mismatch.
func VerifyProof(h crypto.Hasher, proof [][32]byte, root, leaf [32]byte, index uint32) bool {
	if h == nil || len(proof) > 32 {
		return false
	}
	if len(proof) < 32 && uint64(index) >= uint64(1)<<len(proof) {
		return false
	}
	node := leaf
	for level, sibling := range proof {
		if (index>>uint(level))&1 == 1 {
			node = h.Sum(sibling[:], node[:])
		} else {
			node = h.Sum(node[:], sibling[:])
		}
	}
	return node == root
}

// BuildMerkleTree commits leaves to a root and returns the proof of every
// leaf. Leaves are padded with zero hashes up to the next power of two.
func BuildMerkleTree(h crypto.Hasher, leaves [][32]byte) ([32]byte, [][][32]byte, error) {
	if len(leaves) == 0 {
		return [32]byte{}, nil, fmt.Errorf("%w: no leaves", ErrValidation)
	}
	if len(leaves) > MaxParts {
		return [32]byte{}, nil, fmt.Errorf("%w: %d leaves exceeds %d", ErrValidation, len(leaves), MaxParts)
	}
	width := 1 << ProofDepth(uint32(len(leaves)))
	level := make([][32]byte, width)
	copy(level, leaves)

	proofs := make([][][32]byte, len(leaves))
	positions := make([]int, len(leaves))
	for i := range positions {
		positions[i] = i
	}
	for len(level) > 1 {
		for i, pos := range positions {
			proofs[i] = append(proofs[i], level[pos^1])
			positions[i] = pos / 2
		}
		next := make([][32]byte, len(level)/2)
		for i := range next {
			next[i] = h.Sum(level[2*i][:], level[2*i+1][:])
		}
		level = next
	}
	return level[0], proofs, nil
}

// UsedParts is the fixed-size record of which fills have been consumed.
type UsedParts struct {
	set *bitset.BitSet
}

// NewUsedParts returns an all-false set of the given length.
func NewUsedParts(parts uint32) UsedParts {
	return UsedParts{set: bitset.New(uint(parts))}
}

// UsedPartsFromWords restores a set persisted with Words.
func UsedPartsFromWords(parts uint32, words []uint64) (UsedParts, error) {
	need := int((uint64(parts) + 63) / 64)
	if len(words) != need {
		return UsedParts{}, fmt.Errorf("%w: used-parts words %d, want %d", ErrValidation, len(words), need)
	}
	set := bitset.From(append([]uint64(nil), words...))
	out := NewUsedParts(parts)
	for i, ok := set.NextSet(0); ok; i, ok = set.NextSet(i + 1) {
		if i >= uint(parts) {
			return UsedParts{}, fmt.Errorf("%w: used-parts bit %d out of range", ErrValidation, i)
		}
		out.set.Set(i)
	}
	return out, nil
}

func (u UsedParts) Len() uint32 {
	if u.set == nil {
		return 0
	}
	return uint32(u.set.Len())
}

func (u UsedParts) Test(i uint32) bool {
	return u.set != nil && u.set.Test(uint(i))
}

func (u UsedParts) Count() uint32 {
	if u.set == nil {
		return 0
	}
	return uint32(u.set.Count())
}

// Mark flags part i as used. It panics when i is out of range; callers check
// bounds first.
func (u UsedParts) Mark(i uint32) {
	if i >= u.Len() {
		panic(fmt.Sprintf("htlc: part %d out of range", i))
	}
	u.set.Set(uint(i))
}

// All reports whether every part has been used.
func (u UsedParts) All() bool {
	return u.Len() > 0 && u.Count() == u.Len()
}

// Words returns the backing words for persistence.
func (u UsedParts) Words() []uint64 {
	if u.set == nil {
		return nil
	}
	return append([]uint64(nil), u.set.Bytes()...)
}

func (u UsedParts) Clone() UsedParts {
	if u.set == nil {
		return UsedParts{}
	}
	return UsedParts{set: u.set.Clone()}
}

// Bools expands the set into one flag per part.
func (u UsedParts) Bools() []bool {
	out := make([]bool, u.Len())
	for i := range out {
		out[i] = u.Test(uint32(i))
	}
	return out
}
