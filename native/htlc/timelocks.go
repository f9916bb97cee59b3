package htlc

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Stage identifies a timelock window of a single escrow leg.
type Stage uint8

const (
	StageFinality Stage = iota
	StageWithdrawal
	StagePublicWithdrawal
	StageCancellation
	StagePublicCancellation
)

// LegStages is the number of stages in the schedule of one escrow leg.
const LegStages = 5

// Supported offset layouts.
const (
	SingleLegOffsets  = 5
	CrossChainOffsets = 7
)

func (s Stage) String() string {
	switch s {
	case StageFinality:
		return "finality"
	case StageWithdrawal:
		return "withdrawal"
	case StagePublicWithdrawal:
		return "public_withdrawal"
	case StageCancellation:
		return "cancellation"
	case StagePublicCancellation:
		return "public_cancellation"
	default:
		return fmt.Sprintf("stage(%d)", uint8(s))
	}
}

// Word layout, least significant bit first:
//
//	bits   0..209  seven 30-bit stage offsets
//	bits 210..249  deployment timestamp
//	bit       250  stamped flag
//	bits 251..253  number of offsets in use
const (
	offsetBits    = 30
	maxSlots      = 7
	deployedShift = offsetBits * maxSlots
	deployedBits  = 40
	stampedShift  = deployedShift + deployedBits
	countShift    = stampedShift + 1
	countBits     = 3

	// MaxStageOffset is the largest offset, in seconds, a stage may carry.
	MaxStageOffset = 1<<offsetBits - 1
	// MaxTimestamp is the largest deployment timestamp the word can hold.
	MaxTimestamp = 1<<deployedBits - 1
)

// Timelocks packs a deployment timestamp and the ordered stage offsets into a
// single 256-bit word. The zero value is an empty, unstamped schedule.
type Timelocks struct {
	word uint256.Int
}

// NewTimelocks validates offsets and returns an unstamped schedule. Five
// offsets describe a single leg in canonical stage order; seven describe both
// legs of a cross-chain swap (source withdrawal, public withdrawal,
// cancellation, public cancellation, then destination withdrawal, public
// withdrawal, cancellation).
func NewTimelocks(offsets []uint64) (Timelocks, error) {
	var t Timelocks
	switch len(offsets) {
	case SingleLegOffsets:
		if !nonDecreasing(offsets) {
			return t, fmt.Errorf("%w: stage offsets must be non-decreasing", ErrValidation)
		}
	case CrossChainOffsets:
		if !nonDecreasing(offsets[:4]) || !nonDecreasing(offsets[4:]) {
			return t, fmt.Errorf("%w: stage offsets must be non-decreasing", ErrValidation)
		}
		if offsets[6] > offsets[2] {
			return t, fmt.Errorf("%w: destination cancellation after source cancellation", ErrValidation)
		}
	default:
		return t, fmt.Errorf("%w: expected %d or %d stage offsets, got %d", ErrValidation, SingleLegOffsets, CrossChainOffsets, len(offsets))
	}
	for i, off := range offsets {
		if off > MaxStageOffset {
			return t, fmt.Errorf("%w: offset %d exceeds %d", ErrTimelockOverflow, i, MaxStageOffset)
		}
		t.set(uint(i*offsetBits), offsetBits, off)
	}
	t.set(countShift, countBits, uint64(len(offsets)))
	return t, nil
}

// TimelocksFromBytes decodes a word produced by Bytes.
func TimelocksFromBytes(b [32]byte) (Timelocks, error) {
	var t Timelocks
	t.word.SetBytes32(b[:])
	switch t.Count() {
	case SingleLegOffsets, CrossChainOffsets:
		return t, nil
	default:
		return Timelocks{}, fmt.Errorf("%w: malformed timelock word", ErrValidation)
	}
}

func nonDecreasing(values []uint64) bool {
	for i := 1; i < len(values); i++ {
		if values[i] < values[i-1] {
			return false
		}
	}
	return true
}

func (t Timelocks) get(shift, bits uint) uint64 {
	v := new(uint256.Int).Rsh(&t.word, shift)
	return v.And(v, uint256.NewInt(1<<bits-1)).Uint64()
}

func (t *Timelocks) set(shift, bits uint, value uint64) {
	mask := new(uint256.Int).Lsh(uint256.NewInt(1<<bits-1), shift)
	t.word.And(&t.word, new(uint256.Int).Not(mask))
	t.word.Or(&t.word, new(uint256.Int).Lsh(uint256.NewInt(value), shift))
}

// Stamp fixes the deployment timestamp. It succeeds exactly once.
func (t Timelocks) Stamp(now uint64) (Timelocks, error) {
	if t.Stamped() {
		return t, ErrAlreadyStamped
	}
	if now > MaxTimestamp {
		return t, fmt.Errorf("%w: timestamp %d exceeds %d", ErrTimelockOverflow, now, uint64(MaxTimestamp))
	}
	t.set(deployedShift, deployedBits, now)
	t.set(stampedShift, 1, 1)
	return t, nil
}

func (t Timelocks) Stamped() bool      { return t.get(stampedShift, 1) == 1 }
func (t Timelocks) DeployedAt() uint64 { return t.get(deployedShift, deployedBits) }
func (t Timelocks) Count() int         { return int(t.get(countShift, countBits)) }

// Offsets returns the offsets exactly as supplied at construction.
func (t Timelocks) Offsets() []uint64 {
	out := make([]uint64, t.Count())
	for i := range out {
		out[i] = t.get(uint(i*offsetBits), offsetBits)
	}
	return out
}

// LegOffsets projects the schedule onto the five stages of one leg. Single-leg
// schedules ignore side. Cross-chain legs start at deployment and a
// destination leg has no public cancellation of its own, so that stage aliases
// its cancellation.
func (t Timelocks) LegOffsets(side Side) [LegStages]uint64 {
	var out [LegStages]uint64
	offsets := t.Offsets()
	if len(offsets) != CrossChainOffsets {
		copy(out[:], offsets)
		return out
	}
	if side == SideSource {
		copy(out[1:], offsets[:4])
		return out
	}
	copy(out[1:], offsets[4:])
	out[StagePublicCancellation] = offsets[6]
	return out
}

// Deadlines returns the absolute deadline of every stage of the leg.
func (t Timelocks) Deadlines(side Side) [LegStages]uint64 {
	out := t.LegOffsets(side)
	base := t.DeployedAt()
	for i := range out {
		out[i] += base
	}
	return out
}

// Deadline returns the absolute deadline of a single stage.
func (t Timelocks) Deadline(side Side, stage Stage) uint64 {
	if int(stage) >= LegStages {
		stage = StagePublicCancellation
	}
	return t.Deadlines(side)[stage]
}

// CurrentStage returns the stage whose window [deadline[k], deadline[k+1])
// contains now. Before the finality deadline the leg is in StageFinality and
// past the final deadline it stays in StagePublicCancellation.
func (t Timelocks) CurrentStage(side Side, now uint64) Stage {
	deadlines := t.Deadlines(side)
	current := StageFinality
	for k := LegStages - 1; k >= 0; k-- {
		if now >= deadlines[k] {
			current = Stage(k)
			break
		}
	}
	return current
}

// Bytes returns the big-endian packed word.
func (t Timelocks) Bytes() [32]byte { return t.word.Bytes32() }
