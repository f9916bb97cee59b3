package htlc

import (
	"fmt"
	"math/big"
	"strings"

	"swapchain/crypto"
)

// Side selects the leg of the swap an escrow belongs to.
type Side uint8

const (
	SideSource Side = iota
	SideDestination
)

func (s Side) Valid() bool { return s == SideSource || s == SideDestination }

func (s Side) String() string {
	switch s {
	case SideSource:
		return "src"
	case SideDestination:
		return "dst"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// ParseSide accepts "src"/"source" and "dst"/"destination".
func ParseSide(v string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "src", "source":
		return SideSource, nil
	case "dst", "destination":
		return SideDestination, nil
	default:
		return 0, fmt.Errorf("%w: unknown side %q", ErrValidation, v)
	}
}

// Status is derived from the claimed/cancelled flags. Deleted escrows have no
// record and are reported by the engine instead.
type Status uint8

const (
	StatusOpen Status = iota
	StatusClaimed
	StatusCancelled
	StatusDeleted
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusClaimed:
		return "claimed"
	case StatusCancelled:
		return "cancelled"
	case StatusDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// maxAmount caps principal and deposit values so that every sum the engine
// forms stays well inside 256 bits.
var maxAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))

// MaxAmount returns the largest principal or safety deposit accepted.
func MaxAmount() *big.Int { return new(big.Int).Set(maxAmount) }

// Escrow is the per-order record. Released and DepositReleased track what
// multi-part fills have already paid out of custody.
type Escrow struct {
	OrderHash       [32]byte
	Maker           [20]byte
	Taker           [20]byte
	Asset           string
	Amount          *big.Int
	SafetyDeposit   *big.Int
	HashLock        [32]byte
	Timelocks       Timelocks
	Side            Side
	MerkleRoot      [32]byte
	Parts           uint32
	Used            UsedParts
	Released        *big.Int
	DepositReleased *big.Int
	Claimed         bool
	Cancelled       bool
}

func (e *Escrow) Status() Status {
	switch {
	case e == nil:
		return StatusDeleted
	case e.Claimed:
		return StatusClaimed
	case e.Cancelled:
		return StatusCancelled
	default:
		return StatusOpen
	}
}

// Clone returns a deep copy of the escrow so callers can mutate the copy
// without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Amount = cloneBigInt(e.Amount)
	clone.SafetyDeposit = cloneBigInt(e.SafetyDeposit)
	clone.Released = cloneBigInt(e.Released)
	clone.DepositReleased = cloneBigInt(e.DepositReleased)
	clone.Used = e.Used.Clone()
	return &clone
}

// RemainingAmount is the principal still held in custody.
func (e *Escrow) RemainingAmount() *big.Int {
	return new(big.Int).Sub(cloneBigInt(e.Amount), cloneBigInt(e.Released))
}

// RemainingDeposit is the safety deposit still held in custody.
func (e *Escrow) RemainingDeposit() *big.Int {
	return new(big.Int).Sub(cloneBigInt(e.SafetyDeposit), cloneBigInt(e.DepositReleased))
}

// Deadlines returns the absolute leg schedule.
func (e *Escrow) Deadlines() [LegStages]uint64 {
	return e.Timelocks.Deadlines(e.Side)
}

// Params returns the fields committed to by the order hash.
func (e *Escrow) Params() OrderParams {
	return OrderParams{
		Maker:      e.Maker,
		Taker:      e.Taker,
		Asset:      e.Asset,
		Amount:     cloneBigInt(e.Amount),
		HashLock:   e.HashLock,
		Offsets:    e.Timelocks.Offsets(),
		Side:       e.Side,
		Parts:      e.Parts,
		MerkleRoot: e.MerkleRoot,
	}
}

// CreateParams describes a new escrow. Offsets are relative to the creation
// time; Parts of zero is treated as one.
type CreateParams struct {
	Maker         [20]byte
	Taker         [20]byte
	Asset         string
	Amount        *big.Int
	SafetyDeposit *big.Int
	HashLock      [32]byte
	Offsets       []uint64
	Side          Side
	MerkleRoot    [32]byte
	Parts         uint32
}

// OrderParams returns the hashed subset of the creation parameters.
func (p CreateParams) OrderParams() OrderParams {
	parts := p.Parts
	if parts == 0 {
		parts = 1
	}
	return OrderParams{
		Maker:      p.Maker,
		Taker:      p.Taker,
		Asset:      p.Asset,
		Amount:     cloneBigInt(p.Amount),
		HashLock:   p.HashLock,
		Offsets:    append([]uint64(nil), p.Offsets...),
		Side:       p.Side,
		Parts:      parts,
		MerkleRoot: p.MerkleRoot,
	}
}

// Fill carries the secret revealed by a withdraw and, for multi-part escrows,
// the Merkle proof of the part being filled.
type Fill struct {
	Secret    []byte
	Proof     [][32]byte
	FillIndex uint32
}

// EscrowInfo is the read-only view of an escrow exposed to other modules.
type EscrowInfo struct {
	OrderHash     [32]byte
	Maker         [20]byte
	Taker         [20]byte
	Asset         string
	Amount        *big.Int
	SafetyDeposit *big.Int
	HashLock      [32]byte
	Offsets       []uint64
	Deadlines     [LegStages]uint64
	DeployedAt    uint64
	Side          Side
	MerkleRoot    [32]byte
	Parts         uint32
	UsedParts     []bool
	Released      *big.Int
	Claimed       bool
	Cancelled     bool
	Custody       [20]byte
}

// Params returns the order hash inputs recorded in the view.
func (i *EscrowInfo) Params() OrderParams {
	return OrderParams{
		Maker:      i.Maker,
		Taker:      i.Taker,
		Asset:      i.Asset,
		Amount:     cloneBigInt(i.Amount),
		HashLock:   i.HashLock,
		Offsets:    append([]uint64(nil), i.Offsets...),
		Side:       i.Side,
		Parts:      i.Parts,
		MerkleRoot: i.MerkleRoot,
	}
}

func newEscrowInfo(e *Escrow) *EscrowInfo {
	return &EscrowInfo{
		OrderHash:     e.OrderHash,
		Maker:         e.Maker,
		Taker:         e.Taker,
		Asset:         e.Asset,
		Amount:        cloneBigInt(e.Amount),
		SafetyDeposit: cloneBigInt(e.SafetyDeposit),
		HashLock:      e.HashLock,
		Offsets:       e.Timelocks.Offsets(),
		Deadlines:     e.Deadlines(),
		DeployedAt:    e.Timelocks.DeployedAt(),
		Side:          e.Side,
		MerkleRoot:    e.MerkleRoot,
		Parts:         e.Parts,
		UsedParts:     e.Used.Bools(),
		Released:      cloneBigInt(e.Released),
		Claimed:       e.Claimed,
		Cancelled:     e.Cancelled,
		Custody:       CustodyAddress(e.OrderHash),
	}
}

// NormalizeAsset returns the canonical upper-case asset identifier.
func NormalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

var custodyDomain = []byte("swapchain/htlc/custody")

// CustodyAddress derives the account holding the funds of an escrow.
func CustodyAddress(orderHash [32]byte) [20]byte {
	sum := crypto.Keccak256().Sum(custodyDomain, orderHash[:])
	var out [20]byte
	copy(out[:], sum[12:])
	return out
}

// SanitizeEscrow validates a stored record, returning a normalised clone.
func SanitizeEscrow(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil escrow", ErrValidation)
	}
	clone := e.Clone()
	clone.Asset = NormalizeAsset(clone.Asset)
	if clone.Asset == "" {
		return nil, fmt.Errorf("%w: asset required", ErrValidation)
	}
	if !clone.Side.Valid() {
		return nil, fmt.Errorf("%w: invalid side %d", ErrValidation, clone.Side)
	}
	if clone.Parts == 0 || clone.Parts > MaxParts {
		return nil, fmt.Errorf("%w: parts out of range", ErrValidation)
	}
	if clone.Used.Len() != clone.Parts {
		return nil, fmt.Errorf("%w: used-parts length %d, want %d", ErrValidation, clone.Used.Len(), clone.Parts)
	}
	if clone.Claimed && clone.Cancelled {
		return nil, fmt.Errorf("%w: escrow both claimed and cancelled", ErrValidation)
	}
	if clone.Amount.Sign() <= 0 || clone.SafetyDeposit.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amounts must be positive", ErrValidation)
	}
	if clone.Released.Sign() < 0 || clone.Released.Cmp(clone.Amount) > 0 {
		return nil, fmt.Errorf("%w: released principal out of range", ErrValidation)
	}
	if clone.DepositReleased.Sign() < 0 || clone.DepositReleased.Cmp(clone.SafetyDeposit) > 0 {
		return nil, fmt.Errorf("%w: released deposit out of range", ErrValidation)
	}
	if !clone.Timelocks.Stamped() {
		return nil, fmt.Errorf("%w: timelocks not stamped", ErrValidation)
	}
	return clone, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
