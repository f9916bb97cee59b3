package htlc

import (
	"fmt"
	"math/big"
)

// The methods below form the read-only view other modules consume to
// cross-check an escrow. None of them mutate state.

// Info returns the escrow's parameters, absolute deadlines and flags.
func (e *Engine) Info(orderHash [32]byte) (*EscrowInfo, error) {
	esc, err := e.Get(orderHash)
	if err != nil {
		return nil, err
	}
	return newEscrowInfo(esc), nil
}

// Token returns the asset held by the escrow.
func (e *Engine) Token(orderHash [32]byte) (string, error) {
	esc, err := e.Get(orderHash)
	if err != nil {
		return "", err
	}
	return esc.Asset, nil
}

// SafetyDeposit returns the safety deposit posted at creation.
func (e *Engine) SafetyDeposit(orderHash [32]byte) (*big.Int, error) {
	esc, err := e.Get(orderHash)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(esc.SafetyDeposit), nil
}

// RecomputeOrderHash derives the order hash from the parameters recorded in
// info using the engine's hasher.
func (e *Engine) RecomputeOrderHash(info *EscrowInfo) ([32]byte, error) {
	if info == nil {
		return [32]byte{}, fmt.Errorf("%w: nil escrow info", ErrValidation)
	}
	return OrderHash(e.hasher, info.Params())
}

// Now returns the engine clock in unix seconds.
func (e *Engine) Now() int64 { return e.now() }
