package crypto

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"lukechampine.com/blake3"
)

// Hasher is the collision-resistant 32-byte hash used for hashlocks, Merkle
// nodes and order hashes. A chain must never switch hashers once escrows
// exist, as stored commitments would no longer verify.
type Hasher interface {
	Name() string
	Sum(parts ...[]byte) [32]byte
}

const (
	HasherKeccak256 = "keccak256"
	HasherBlake3    = "blake3"
)

type keccakHasher struct{}

func (keccakHasher) Name() string { return HasherKeccak256 }

func (keccakHasher) Sum(parts ...[]byte) [32]byte {
	return crypto.Keccak256Hash(parts...)
}

type blake3Hasher struct{}

func (blake3Hasher) Name() string { return HasherBlake3 }

func (blake3Hasher) Sum(parts ...[]byte) [32]byte {
	h := blake3.New(32, nil)
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Keccak256 returns the default hasher.
func Keccak256() Hasher { return keccakHasher{} }

// Blake3 returns the blake3-256 hasher.
func Blake3() Hasher { return blake3Hasher{} }

// HasherByName resolves a configured hasher name. The empty string selects
// keccak256.
func HasherByName(name string) (Hasher, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", HasherKeccak256:
		return keccakHasher{}, nil
	case HasherBlake3:
		return blake3Hasher{}, nil
	default:
		return nil, fmt.Errorf("crypto: unsupported hasher %q", name)
	}
}
