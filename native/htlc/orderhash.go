package htlc

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"swapchain/crypto"
)

// OrderParams are the escrow parameters committed to by the order hash.
type OrderParams struct {
	Maker      [20]byte
	Taker      [20]byte
	Asset      string
	Amount     *big.Int
	HashLock   [32]byte
	Offsets    []uint64
	Side       Side
	Parts      uint32
	MerkleRoot [32]byte
}

// OrderHash derives the deterministic identifier of an escrow. Every field is
// written at a fixed width in a fixed order:
//
//	maker(20) | taker(20) | H(asset)(32) | amount(32) | hashlock(32) |
//	offset count(1) | offsets(8 each) | side(1) | parts(4) | merkle root(32)
//
// Offsets are hashed as supplied rather than as absolute deadlines so the
// value can be computed before the escrow exists.
func OrderHash(h crypto.Hasher, p OrderParams) ([32]byte, error) {
	if h == nil {
		h = crypto.Keccak256()
	}
	amount, overflow := uint256.FromBig(amountOrZero(p.Amount))
	if overflow || p.Amount != nil && p.Amount.Sign() < 0 {
		return [32]byte{}, fmt.Errorf("%w: amount out of range", ErrAmountOverflow)
	}
	if len(p.Offsets) > 0xff {
		return [32]byte{}, fmt.Errorf("%w: too many offsets", ErrValidation)
	}
	asset := h.Sum([]byte(NormalizeAsset(p.Asset)))
	amountBytes := amount.Bytes32()

	offsets := make([]byte, 1+8*len(p.Offsets))
	offsets[0] = byte(len(p.Offsets))
	for i, off := range p.Offsets {
		binary.BigEndian.PutUint64(offsets[1+8*i:], off)
	}
	var tail [5]byte
	tail[0] = byte(p.Side)
	binary.BigEndian.PutUint32(tail[1:], p.Parts)

	return h.Sum(
		p.Maker[:],
		p.Taker[:],
		asset[:],
		amountBytes[:],
		p.HashLock[:],
		offsets,
		tail[:],
		p.MerkleRoot[:],
	), nil
}

func amountOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
