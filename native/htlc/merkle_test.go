package htlc

import (
	"fmt"
	"testing"

	"swapchain/crypto"
)

func buildLeaves(h crypto.Hasher, n int) [][32]byte {
	leaves := make([][32]byte, n)
	for i := range leaves {
		leaves[i] = LeafHash(h, []byte(fmt.Sprintf("secret-%d", i)))
	}
	return leaves
}

func TestMerkleProofsVerify(t *testing.T) {
	for _, hasher := range []crypto.Hasher{crypto.Keccak256(), crypto.Blake3()} {
		for _, n := range []int{1, 2, 3, 4, 5, 8, 13} {
			leaves := buildLeaves(hasher, n)
			root, proofs, err := BuildMerkleTree(hasher, leaves)
			if err != nil {
				t.Fatalf("%s/%d: build: %v", hasher.Name(), n, err)
			}
			for i, leaf := range leaves {
				if len(proofs[i]) != ProofDepth(uint32(n)) {
					t.Fatalf("%s/%d: proof %d has length %d", hasher.Name(), n, i, len(proofs[i]))
				}
				if !VerifyProof(hasher, proofs[i], root, leaf, uint32(i)) {
					t.Fatalf("%s/%d: proof %d rejected", hasher.Name(), n, i)
				}
			}
		}
	}
}

func TestMerkleRejectsSingleBitChanges(t *testing.T) {
	h := crypto.Keccak256()
	leaves := buildLeaves(h, 8)
	root, proofs, err := BuildMerkleTree(h, leaves)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	const index = 5
	leaf, proof := leaves[index], proofs[index]

	for bit := 0; bit < 256; bit++ {
		mutated := leaf
		mutated[bit/8] ^= 1 << (bit % 8)
		if VerifyProof(h, proof, root, mutated, index) {
			t.Fatalf("leaf with bit %d flipped verified", bit)
		}
	}
	for level := range proof {
		for bit := 0; bit < 256; bit += 7 {
			mutated := append([][32]byte(nil), proof...)
			mutated[level][bit/8] ^= 1 << (bit % 8)
			if VerifyProof(h, mutated, root, leaf, index) {
				t.Fatalf("proof level %d bit %d flipped verified", level, bit)
			}
		}
	}
	for bit := 0; bit < 32; bit++ {
		if VerifyProof(h, proof, root, leaf, index^(1<<bit)) {
			t.Fatalf("index with bit %d flipped verified", bit)
		}
	}
	if VerifyProof(h, proof[:2], root, leaf, index) {
		t.Fatalf("truncated proof verified")
	}
}

func TestProofDepth(t *testing.T) {
	for parts, want := range map[uint32]int{0: 0, 1: 0, 2: 1, 3: 2, 4: 2, 5: 3, 8: 3, 9: 4, MaxParts: 16} {
		if got := ProofDepth(parts); got != want {
			t.Fatalf("ProofDepth(%d) = %d, want %d", parts, got, want)
		}
	}
}

func TestBuildMerkleTreeBounds(t *testing.T) {
	if _, _, err := BuildMerkleTree(crypto.Keccak256(), nil); err == nil {
		t.Fatalf("expected error for empty tree")
	}
}

func TestUsedPartsPersistence(t *testing.T) {
	used := NewUsedParts(70)
	used.Mark(0)
	used.Mark(69)
	restored, err := UsedPartsFromWords(70, used.Words())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Len() != 70 || !restored.Test(0) || !restored.Test(69) || restored.Test(1) || restored.Count() != 2 {
		t.Fatalf("unexpected restored set %v", restored.Bools())
	}
	if _, err := UsedPartsFromWords(70, []uint64{0}); err == nil {
		t.Fatalf("expected word count error")
	}
	if _, err := UsedPartsFromWords(3, []uint64{1 << 5}); err == nil {
		t.Fatalf("expected out of range bit error")
	}
	clone := restored.Clone()
	clone.Mark(1)
	if restored.Test(1) {
		t.Fatalf("clone shares storage")
	}
}
