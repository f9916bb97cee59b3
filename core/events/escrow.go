package events

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"swapchain/core/types"
)

const (
	TypeEscrowCreated        = "escrow.created"
	TypeEscrowClaimed        = "escrow.claimed"
	TypeEscrowRefunded       = "escrow.refunded"
	TypeSafetyDepositAwarded = "escrow.safety_deposit"
	TypeFundsRescued         = "escrow.rescued"
)

type EscrowCreated struct {
	OrderHash     [32]byte
	Maker         [20]byte
	Taker         [20]byte
	Asset         string
	Amount        *big.Int
	SafetyDeposit *big.Int
	HashLock      [32]byte
	Deadlines     []uint64
	Source        bool
	MerkleRoot    [32]byte
	Parts         uint32
}

func (EscrowCreated) EventType() string { return TypeEscrowCreated }

func (e EscrowCreated) Event() *types.Event {
	attrs := map[string]string{
		types.AttrOrderHash: formatHash(e.OrderHash),
		"maker":             formatAddress(e.Maker),
		"taker":             formatAddress(e.Taker),
		"asset":             normalizeAsset(e.Asset),
		"amount":            formatAmount(e.Amount),
		"safetyDeposit":     formatAmount(e.SafetyDeposit),
		"hashlock":          formatHash(e.HashLock),
		"side":              sideLabel(e.Source),
		"parts":             uintToString(uint64(e.Parts)),
	}
	for i, d := range e.Deadlines {
		attrs["deadline"+strconv.Itoa(i)] = uintToString(d)
	}
	if e.MerkleRoot != ([32]byte{}) {
		attrs["merkleRoot"] = formatHash(e.MerkleRoot)
	}
	return &types.Event{Type: TypeEscrowCreated, Attributes: attrs}
}

// EscrowClaimed records a successful withdraw. Preimage is published on
// purpose: revealing it lets the counterparty claim the other leg.
type EscrowClaimed struct {
	OrderHash [32]byte
	Preimage  []byte
	Recipient [20]byte
	Amount    *big.Int
	FillIndex uint32
	Parts     uint32
	Public    bool
}

func (EscrowClaimed) EventType() string { return TypeEscrowClaimed }

func (e EscrowClaimed) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowClaimed,
		Attributes: map[string]string{
			types.AttrOrderHash: formatHash(e.OrderHash),
			"preimage":          "0x" + hex.EncodeToString(e.Preimage),
			"recipient":         formatAddress(e.Recipient),
			"amount":            formatAmount(e.Amount),
			"fillIndex":         uintToString(uint64(e.FillIndex)),
			"parts":             uintToString(uint64(e.Parts)),
			"public":            strconv.FormatBool(e.Public),
		},
	}
}

type EscrowRefunded struct {
	OrderHash [32]byte
	Recipient [20]byte
	Amount    *big.Int
	Public    bool
	Deleted   bool
}

func (EscrowRefunded) EventType() string { return TypeEscrowRefunded }

func (e EscrowRefunded) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowRefunded,
		Attributes: map[string]string{
			types.AttrOrderHash: formatHash(e.OrderHash),
			"recipient":         formatAddress(e.Recipient),
			"amount":            formatAmount(e.Amount),
			"public":            strconv.FormatBool(e.Public),
			"deleted":           strconv.FormatBool(e.Deleted),
		},
	}
}

type SafetyDepositAwarded struct {
	OrderHash [32]byte
	Recipient [20]byte
	Amount    *big.Int
}

func (SafetyDepositAwarded) EventType() string { return TypeSafetyDepositAwarded }

func (e SafetyDepositAwarded) Event() *types.Event {
	return &types.Event{
		Type: TypeSafetyDepositAwarded,
		Attributes: map[string]string{
			types.AttrOrderHash: formatHash(e.OrderHash),
			"recipient":         formatAddress(e.Recipient),
			"amount":            formatAmount(e.Amount),
		},
	}
}

type FundsRescued struct {
	OrderHash [32]byte
	Recipient [20]byte
	Asset     string
	Amount    *big.Int
}

func (FundsRescued) EventType() string { return TypeFundsRescued }

func (e FundsRescued) Event() *types.Event {
	return &types.Event{
		Type: TypeFundsRescued,
		Attributes: map[string]string{
			types.AttrOrderHash: formatHash(e.OrderHash),
			"recipient":         formatAddress(e.Recipient),
			"asset":             normalizeAsset(e.Asset),
			"amount":            formatAmount(e.Amount),
		},
	}
}

func sideLabel(source bool) string {
	if source {
		return "src"
	}
	return "dst"
}
