package htlc

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/holiman/uint256"

	"swapchain/core/events"
	"swapchain/crypto"
)

type engineState interface {
	HTLCGet(orderHash [32]byte) (*Escrow, bool, error)
	HTLCPut(*Escrow) error
	// HTLCDelete removes the record and leaves a tombstone behind.
	HTLCDelete(orderHash [32]byte) error
	HTLCTombstoned(orderHash [32]byte) (bool, error)
	AssetRegistered(asset string) bool
	Balance(addr [20]byte, asset string) (*big.Int, error)
	Transfer(from, to [20]byte, asset string, amount *big.Int) error
}

// Engine implements the escrow state machine on top of an injected record
// store and ledger. It performs every check before its first write, so a
// rejected call leaves state untouched.
type Engine struct {
	state       engineState
	emitter     events.Emitter
	hasher      crypto.Hasher
	nowFn       func() int64
	rescueDelay uint64
	accessToken string
}

// NewEngine creates an escrow engine with a no-op emitter and the keccak256
// hasher.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		hasher:  crypto.Keccak256(),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetHasher selects the hash used for hashlocks, Merkle nodes and order
// hashes. Passing nil restores keccak256.
func (e *Engine) SetHasher(h crypto.Hasher) {
	if h == nil {
		h = crypto.Keccak256()
	}
	e.hasher = h
}

// Hasher returns the configured hash.
func (e *Engine) Hasher() crypto.Hasher { return e.hasher }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetRescueDelay configures how long after deployment the taker may rescue
// stray funds from an escrow's custody account.
func (e *Engine) SetRescueDelay(d time.Duration) {
	if d < 0 {
		d = 0
	}
	e.rescueDelay = uint64(d / time.Second)
}

// SetAccessToken restricts the public paths to holders of asset. The empty
// string lifts the restriction.
func (e *Engine) SetAccessToken(asset string) { e.accessToken = NormalizeAsset(asset) }

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// clock returns the current time for deadline comparisons. Timestamps before
// the epoch compare as zero.
func (e *Engine) clock() uint64 {
	now := e.now()
	if now < 0 {
		return 0
	}
	return uint64(now)
}

func requireAuth(caller, principal [20]byte) error {
	if caller == ([20]byte{}) || caller != principal {
		return ErrUnauthorized
	}
	return nil
}

func (e *Engine) requireAccess(executor [20]byte) error {
	if executor == ([20]byte{}) {
		return ErrUnauthorized
	}
	if e.accessToken == "" {
		return nil
	}
	bal, err := e.state.Balance(executor, e.accessToken)
	if err != nil {
		return err
	}
	if bal == nil || bal.Sign() <= 0 {
		return fmt.Errorf("%w: executor holds no %s", ErrUnauthorized, e.accessToken)
	}
	return nil
}

func checkAmount(name string, v *big.Int) error {
	if v == nil || v.Sign() <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrValidation, name)
	}
	if v.Cmp(maxAmount) > 0 {
		return fmt.Errorf("%w: %s exceeds maximum", ErrAmountOverflow, name)
	}
	return nil
}

// addAmounts sums two validated amounts, rejecting any result above the cap.
func addAmounts(a, b *big.Int) (*big.Int, error) {
	x, overflowA := uint256.FromBig(a)
	y, overflowB := uint256.FromBig(b)
	if overflowA || overflowB {
		return nil, ErrAmountOverflow
	}
	sum, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrAmountOverflow
	}
	out := sum.ToBig()
	if out.Cmp(maxAmount) > 0 {
		return nil, fmt.Errorf("%w: total exceeds maximum", ErrAmountOverflow)
	}
	return out, nil
}

func (e *Engine) load(orderHash [32]byte) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	esc, ok, err := e.state.HTLCGet(orderHash)
	if err != nil {
		return nil, err
	}
	if ok {
		return esc, nil
	}
	deleted, err := e.state.HTLCTombstoned(orderHash)
	if err != nil {
		return nil, err
	}
	if deleted {
		return nil, ErrAlreadyFinalized
	}
	return nil, ErrNotFound
}

func (e *Engine) loadOpen(orderHash [32]byte) (*Escrow, error) {
	esc, err := e.load(orderHash)
	if err != nil {
		return nil, err
	}
	if esc.Status() != StatusOpen {
		return nil, fmt.Errorf("%w: escrow is %s", ErrAlreadyFinalized, esc.Status())
	}
	return esc, nil
}

func checkWindow(now uint64, deadlines [LegStages]uint64, from Stage, until *Stage) error {
	if now < deadlines[from] {
		return fmt.Errorf("%w: %s opens at %d", ErrStageNotReached, from, deadlines[from])
	}
	if until != nil && now >= deadlines[*until] {
		return fmt.Errorf("%w: %s began at %d", ErrStageExpired, *until, deadlines[*until])
	}
	return nil
}

// Create validates params, pulls principal plus safety deposit from the maker
// into the escrow's custody account and persists the record.
func (e *Engine) Create(caller [20]byte, p CreateParams) ([32]byte, error) {
	var zero [32]byte
	if e == nil || e.state == nil {
		return zero, errNilState
	}
	if err := requireAuth(caller, p.Maker); err != nil {
		return zero, err
	}
	if p.Taker == ([20]byte{}) {
		return zero, fmt.Errorf("%w: taker required", ErrValidation)
	}
	asset := NormalizeAsset(p.Asset)
	if asset == "" || !e.state.AssetRegistered(asset) {
		return zero, fmt.Errorf("%w: unsupported asset %q", ErrValidation, p.Asset)
	}
	if err := checkAmount("amount", p.Amount); err != nil {
		return zero, err
	}
	if err := checkAmount("safety deposit", p.SafetyDeposit); err != nil {
		return zero, err
	}
	total, err := addAmounts(p.Amount, p.SafetyDeposit)
	if err != nil {
		return zero, err
	}
	if !p.Side.Valid() {
		return zero, fmt.Errorf("%w: invalid side %d", ErrValidation, p.Side)
	}
	parts := p.Parts
	if parts == 0 {
		parts = 1
	}
	switch {
	case parts > MaxParts:
		return zero, fmt.Errorf("%w: parts %d exceeds %d", ErrValidation, parts, MaxParts)
	case parts == 1 && p.MerkleRoot != zero:
		return zero, fmt.Errorf("%w: merkle root requires more than one part", ErrValidation)
	case parts > 1 && p.MerkleRoot == zero:
		return zero, fmt.Errorf("%w: merkle root required for %d parts", ErrValidation, parts)
	}
	timelocks, err := NewTimelocks(p.Offsets)
	if err != nil {
		return zero, err
	}
	now := e.now()
	if now < 0 {
		return zero, fmt.Errorf("%w: negative clock", ErrValidation)
	}
	if timelocks, err = timelocks.Stamp(uint64(now)); err != nil {
		return zero, err
	}

	p.Asset = asset
	p.Parts = parts
	orderHash, err := OrderHash(e.hasher, p.OrderParams())
	if err != nil {
		return zero, err
	}
	if _, err := e.load(orderHash); err == nil || errors.Is(err, ErrAlreadyFinalized) {
		return zero, fmt.Errorf("%w: order %x", ErrAlreadyExists, orderHash)
	} else if !errors.Is(err, ErrNotFound) {
		return zero, err
	}

	esc := &Escrow{
		OrderHash:       orderHash,
		Maker:           p.Maker,
		Taker:           p.Taker,
		Asset:           asset,
		Amount:          cloneBigInt(p.Amount),
		SafetyDeposit:   cloneBigInt(p.SafetyDeposit),
		HashLock:        p.HashLock,
		Timelocks:       timelocks,
		Side:            p.Side,
		MerkleRoot:      p.MerkleRoot,
		Parts:           parts,
		Used:            NewUsedParts(parts),
		Released:        big.NewInt(0),
		DepositReleased: big.NewInt(0),
	}
	if err := e.state.Transfer(p.Maker, CustodyAddress(orderHash), asset, total); err != nil {
		return zero, err
	}
	if err := e.state.HTLCPut(esc); err != nil {
		return zero, err
	}
	deadlines := esc.Deadlines()
	e.emit(events.EscrowCreated{
		OrderHash:     orderHash,
		Maker:         esc.Maker,
		Taker:         esc.Taker,
		Asset:         asset,
		Amount:        cloneBigInt(esc.Amount),
		SafetyDeposit: cloneBigInt(esc.SafetyDeposit),
		HashLock:      esc.HashLock,
		Deadlines:     deadlines[:],
		Source:        esc.Side == SideSource,
		MerkleRoot:    esc.MerkleRoot,
		Parts:         parts,
	})
	return orderHash, nil
}

// Withdraw reveals the secret on the private path. Only the taker may call it,
// between the withdrawal and cancellation deadlines.
func (e *Engine) Withdraw(caller [20]byte, orderHash [32]byte, fill Fill) error {
	return e.withdraw(caller, orderHash, fill, false)
}

// PublicWithdraw reveals the secret on behalf of the taker. Any executor may
// call it between the public withdrawal and public cancellation deadlines and
// receives the safety deposit.
func (e *Engine) PublicWithdraw(executor [20]byte, orderHash [32]byte, fill Fill) error {
	return e.withdraw(executor, orderHash, fill, true)
}

func (e *Engine) withdraw(caller [20]byte, orderHash [32]byte, fill Fill, public bool) error {
	esc, err := e.loadOpen(orderHash)
	if err != nil {
		return err
	}
	from, until := StageWithdrawal, StageCancellation
	if public {
		from, until = StagePublicWithdrawal, StagePublicCancellation
	}
	if err := checkWindow(e.clock(), esc.Deadlines(), from, &until); err != nil {
		return err
	}
	if public {
		err = e.requireAccess(caller)
	} else {
		err = requireAuth(caller, esc.Taker)
	}
	if err != nil {
		return err
	}
	if err := e.verifyFill(esc, fill); err != nil {
		return err
	}

	principal, deposit := esc.fillShare()
	esc.Used.Mark(fill.FillIndex)
	esc.Released.Add(esc.Released, principal)
	esc.DepositReleased.Add(esc.DepositReleased, deposit)
	if esc.Used.All() {
		esc.Claimed = true
	}

	recipient := esc.Taker
	if esc.Side == SideDestination {
		recipient = esc.Maker
	}
	depositTo := esc.Maker
	if public {
		depositTo = caller
	}
	custody := CustodyAddress(orderHash)
	if err := e.state.Transfer(custody, recipient, esc.Asset, principal); err != nil {
		return err
	}
	if deposit.Sign() > 0 {
		if err := e.state.Transfer(custody, depositTo, esc.Asset, deposit); err != nil {
			return err
		}
	}
	if err := e.state.HTLCPut(esc); err != nil {
		return err
	}
	e.emit(events.EscrowClaimed{
		OrderHash: orderHash,
		Preimage:  append([]byte(nil), fill.Secret...),
		Recipient: recipient,
		Amount:    principal,
		FillIndex: fill.FillIndex,
		Parts:     esc.Parts,
		Public:    public,
	})
	if deposit.Sign() > 0 {
		e.emit(events.SafetyDepositAwarded{OrderHash: orderHash, Recipient: depositTo, Amount: deposit})
	}
	return nil
}

// verifyFill checks the fill index, the used-parts set and then the secret, in
// that order.
func (e *Engine) verifyFill(esc *Escrow, fill Fill) error {
	if fill.FillIndex >= esc.Parts {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidFillIndex, fill.FillIndex, esc.Parts)
	}
	if esc.Used.Test(fill.FillIndex) {
		return fmt.Errorf("%w: part %d", ErrPartAlreadyUsed, fill.FillIndex)
	}
	leaf := LeafHash(e.hasher, fill.Secret)
	if esc.Parts == 1 {
		if leaf != esc.HashLock {
			return ErrInvalidPreimage
		}
		return nil
	}
	if len(fill.Proof) != ProofDepth(esc.Parts) {
		return fmt.Errorf("%w: proof length %d, want %d", ErrInvalidMerkleProof, len(fill.Proof), ProofDepth(esc.Parts))
	}
	if !VerifyProof(e.hasher, fill.Proof, esc.MerkleRoot, leaf, fill.FillIndex) {
		return ErrInvalidMerkleProof
	}
	return nil
}

// fillShare returns the principal and deposit released by the next fill. Each
// part releases an equal share; the part that completes the escrow also
// releases the rounding remainder.
func (esc *Escrow) fillShare() (*big.Int, *big.Int) {
	if esc.Parts <= 1 || esc.Used.Count()+1 >= esc.Parts {
		return esc.RemainingAmount(), esc.RemainingDeposit()
	}
	parts := new(big.Int).SetUint64(uint64(esc.Parts))
	return new(big.Int).Quo(esc.Amount, parts), new(big.Int).Quo(esc.SafetyDeposit, parts)
}

// Cancel refunds an open escrow once the cancellation deadline has passed.
// The source leg refunds the maker, the destination leg refunds the taker, and
// the remaining safety deposit returns to the maker.
func (e *Engine) Cancel(caller [20]byte, orderHash [32]byte) error {
	esc, err := e.loadOpen(orderHash)
	if err != nil {
		return err
	}
	if err := checkWindow(e.clock(), esc.Deadlines(), StageCancellation, nil); err != nil {
		return err
	}
	if err := requireAuth(caller, esc.Taker); err != nil {
		return err
	}
	refundTo := esc.Maker
	if esc.Side == SideDestination {
		refundTo = esc.Taker
	}
	principal, deposit := esc.RemainingAmount(), esc.RemainingDeposit()
	if err := e.payout(esc.OrderHash, esc.Asset, refundTo, principal, esc.Maker, deposit); err != nil {
		return err
	}
	esc.Released = cloneBigInt(esc.Amount)
	esc.DepositReleased = cloneBigInt(esc.SafetyDeposit)
	esc.Cancelled = true
	if err := e.state.HTLCPut(esc); err != nil {
		return err
	}
	e.emit(events.EscrowRefunded{OrderHash: orderHash, Recipient: refundTo, Amount: principal})
	if deposit.Sign() > 0 {
		e.emit(events.SafetyDepositAwarded{OrderHash: orderHash, Recipient: esc.Maker, Amount: deposit})
	}
	return nil
}

// PublicCancel refunds the maker of a stalled source escrow once the public
// cancellation deadline has passed, pays the remaining safety deposit to the
// executor and deletes the record.
func (e *Engine) PublicCancel(executor [20]byte, orderHash [32]byte) error {
	esc, err := e.loadOpen(orderHash)
	if err != nil {
		return err
	}
	if esc.Side != SideSource {
		return fmt.Errorf("%w: public cancel is only available on the source leg", ErrUnauthorized)
	}
	if err := checkWindow(e.clock(), esc.Deadlines(), StagePublicCancellation, nil); err != nil {
		return err
	}
	if err := e.requireAccess(executor); err != nil {
		return err
	}
	principal, deposit := esc.RemainingAmount(), esc.RemainingDeposit()
	if err := e.payout(esc.OrderHash, esc.Asset, esc.Maker, principal, executor, deposit); err != nil {
		return err
	}
	if err := e.state.HTLCDelete(orderHash); err != nil {
		return err
	}
	e.emit(events.EscrowRefunded{OrderHash: orderHash, Recipient: esc.Maker, Amount: principal, Public: true, Deleted: true})
	if deposit.Sign() > 0 {
		e.emit(events.SafetyDepositAwarded{OrderHash: orderHash, Recipient: executor, Amount: deposit})
	}
	return nil
}

func (e *Engine) payout(orderHash [32]byte, asset string, principalTo [20]byte, principal *big.Int, depositTo [20]byte, deposit *big.Int) error {
	custody := CustodyAddress(orderHash)
	if principal.Sign() > 0 {
		if err := e.state.Transfer(custody, principalTo, asset, principal); err != nil {
			return err
		}
	}
	if deposit.Sign() > 0 {
		if err := e.state.Transfer(custody, depositTo, asset, deposit); err != nil {
			return err
		}
	}
	return nil
}

// Rescue lets the taker recover funds sent to an escrow's custody account by
// mistake. It becomes available rescue-delay seconds after deployment and can
// never touch what the escrow still owes.
func (e *Engine) Rescue(caller [20]byte, orderHash [32]byte, asset string, amount *big.Int) error {
	esc, err := e.load(orderHash)
	if err != nil {
		return err
	}
	opensAt := esc.Timelocks.DeployedAt() + e.rescueDelay
	if e.clock() < opensAt {
		return fmt.Errorf("%w: rescue opens at %d", ErrStageNotReached, opensAt)
	}
	if err := requireAuth(caller, esc.Taker); err != nil {
		return err
	}
	if err := checkAmount("rescue amount", amount); err != nil {
		return err
	}
	asset = NormalizeAsset(asset)
	if asset == "" {
		return fmt.Errorf("%w: asset required", ErrValidation)
	}
	custody := CustodyAddress(orderHash)
	balance, err := e.state.Balance(custody, asset)
	if err != nil {
		return err
	}
	available := cloneBigInt(balance)
	if esc.Status() == StatusOpen && asset == esc.Asset {
		available.Sub(available, esc.RemainingAmount())
		available.Sub(available, esc.RemainingDeposit())
	}
	if amount.Cmp(available) > 0 {
		return fmt.Errorf("%w: %s rescuable, %s requested", ErrInsufficientFunds, available, amount)
	}
	if err := e.state.Transfer(custody, esc.Taker, asset, amount); err != nil {
		return err
	}
	e.emit(events.FundsRescued{OrderHash: orderHash, Recipient: esc.Taker, Asset: asset, Amount: cloneBigInt(amount)})
	return nil
}

// Exists reports whether an escrow record is stored under orderHash. Deleted
// escrows are reported as absent.
func (e *Engine) Exists(orderHash [32]byte) bool {
	if e == nil || e.state == nil {
		return false
	}
	_, ok, err := e.state.HTLCGet(orderHash)
	return err == nil && ok
}

// Get returns a copy of the stored escrow.
func (e *Engine) Get(orderHash [32]byte) (*Escrow, error) {
	esc, err := e.load(orderHash)
	if errors.Is(err, ErrAlreadyFinalized) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return esc.Clone(), nil
}

// Status reports the lifecycle state, including deletion.
func (e *Engine) Status(orderHash [32]byte) (Status, error) {
	esc, err := e.load(orderHash)
	if errors.Is(err, ErrAlreadyFinalized) {
		return StatusDeleted, nil
	}
	if err != nil {
		return 0, err
	}
	return esc.Status(), nil
}

// CurrentStage reports which timelock window the escrow is in now.
func (e *Engine) CurrentStage(orderHash [32]byte) (Stage, error) {
	esc, err := e.Get(orderHash)
	if err != nil {
		return 0, err
	}
	return esc.Timelocks.CurrentStage(esc.Side, e.clock()), nil
}
