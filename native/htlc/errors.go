package htlc

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("htlc: invalid parameters")
	ErrAlreadyExists      = errors.New("htlc: already exists")
	ErrNotFound           = errors.New("htlc: not found")
	ErrAlreadyFinalized   = errors.New("htlc: escrow already finalized")
	ErrUnauthorized       = errors.New("htlc: unauthorized")
	ErrStageNotReached    = errors.New("htlc: stage not reached")
	ErrStageExpired       = errors.New("htlc: stage expired")
	ErrInvalidPreimage    = errors.New("htlc: invalid preimage")
	ErrInvalidMerkleProof = errors.New("htlc: invalid merkle proof")
	ErrInvalidFillIndex   = errors.New("htlc: invalid fill index")
	ErrPartAlreadyUsed    = errors.New("htlc: part already used")
	ErrAmountOverflow     = errors.New("htlc: amount overflow")
	ErrInsufficientFunds  = errors.New("htlc: insufficient funds")

	// ErrTimelockOverflow is returned when an offset or timestamp does not fit
	// the packed timelock word.
	ErrTimelockOverflow = fmt.Errorf("htlc: timelock overflow: %w", ErrValidation)
	ErrAlreadyStamped   = errors.New("htlc: deployment time already stamped")

	errNilState = errors.New("htlc engine: state not configured")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrValidation, "validation"},
	{ErrAlreadyExists, "already_exists"},
	{ErrNotFound, "not_found"},
	{ErrAlreadyFinalized, "already_finalized"},
	{ErrUnauthorized, "unauthorized"},
	{ErrStageNotReached, "stage_not_reached"},
	{ErrStageExpired, "stage_expired"},
	{ErrInvalidPreimage, "invalid_preimage"},
	{ErrInvalidMerkleProof, "invalid_merkle_proof"},
	{ErrInvalidFillIndex, "invalid_fill_index"},
	{ErrPartAlreadyUsed, "part_already_used"},
	{ErrAmountOverflow, "amount_overflow"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrAlreadyStamped, "already_stamped"},
}

// ErrorCode returns a stable identifier for the error class of err, or
// "internal" when err does not belong to the escrow taxonomy.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return "internal"
}
