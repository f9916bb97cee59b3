package relayer

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"swapchain/core/events"
	"swapchain/native/htlc"
)

var errNilState = errors.New("relayer: state not configured")

// EscrowOracle is the read-only view of an escrow module used to cross-check
// secret announcements.
type EscrowOracle interface {
	Exists(orderHash [32]byte) bool
	Info(orderHash [32]byte) (*htlc.EscrowInfo, error)
	Token(orderHash [32]byte) (string, error)
	SafetyDeposit(orderHash [32]byte) (*big.Int, error)
	RecomputeOrderHash(info *htlc.EscrowInfo) ([32]byte, error)
	// Now is the escrow module's clock in unix seconds. Finality is judged
	// against it so both modules agree on the escrow's deadlines.
	Now() int64
}

type authorityState interface {
	RelayerSetGet(admin [20]byte) ([][20]byte, bool, error)
	RelayerSetPut(admin [20]byte, relayers [][20]byte) error
}

// Authority maintains per-admin relayer allow-lists and validates secret
// announcements against an escrow oracle.
type Authority struct {
	state   authorityState
	oracle  EscrowOracle
	emitter events.Emitter
}

func NewAuthority() *Authority {
	return &Authority{
		emitter: events.NoopEmitter{},
	}
}

func (a *Authority) SetState(state authorityState) { a.state = state }
func (a *Authority) SetOracle(oracle EscrowOracle) { a.oracle = oracle }

func (a *Authority) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		a.emitter = events.NoopEmitter{}
		return
	}
	a.emitter = emitter
}

func requireAuth(caller, principal [20]byte) error {
	if caller == ([20]byte{}) || caller != principal {
		return htlc.ErrUnauthorized
	}
	return nil
}

func (a *Authority) load(admin [20]byte) ([][20]byte, error) {
	if a == nil || a.state == nil {
		return nil, errNilState
	}
	set, ok, err := a.state.RelayerSetGet(admin)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: relayer set not initialized", htlc.ErrNotFound)
	}
	return set, nil
}

func indexOf(set [][20]byte, relayer [20]byte) int {
	for i, member := range set {
		if member == relayer {
			return i
		}
	}
	return -1
}

func sortRelayers(set [][20]byte) {
	sort.Slice(set, func(i, j int) bool { return bytes.Compare(set[i][:], set[j][:]) < 0 })
}

// Initialize creates an empty relayer set for admin. Initializing twice fails
// with ErrAlreadyExists and leaves the existing set untouched.
func (a *Authority) Initialize(caller, admin [20]byte) error {
	if err := requireAuth(caller, admin); err != nil {
		return err
	}
	if _, err := a.load(admin); err == nil {
		return fmt.Errorf("%w: relayer set already initialized", htlc.ErrAlreadyExists)
	} else if !errors.Is(err, htlc.ErrNotFound) {
		return err
	}
	if err := a.state.RelayerSetPut(admin, [][20]byte{}); err != nil {
		return err
	}
	a.emitter.Emit(events.RelayerSetChanged{Kind: events.TypeRelayerInitialized, Admin: admin})
	return nil
}

// AddRelayer authorizes relayer under admin.
func (a *Authority) AddRelayer(caller, admin, relayer [20]byte) error {
	if err := requireAuth(caller, admin); err != nil {
		return err
	}
	if relayer == ([20]byte{}) {
		return fmt.Errorf("%w: relayer address required", htlc.ErrValidation)
	}
	set, err := a.load(admin)
	if err != nil {
		return err
	}
	if indexOf(set, relayer) >= 0 {
		return fmt.Errorf("%w: relayer already authorized", htlc.ErrAlreadyExists)
	}
	set = append(set, relayer)
	sortRelayers(set)
	if err := a.state.RelayerSetPut(admin, set); err != nil {
		return err
	}
	a.emitter.Emit(events.RelayerSetChanged{Kind: events.TypeRelayerAdded, Admin: admin, Relayer: relayer})
	return nil
}

// RemoveRelayer revokes relayer under admin.
func (a *Authority) RemoveRelayer(caller, admin, relayer [20]byte) error {
	if err := requireAuth(caller, admin); err != nil {
		return err
	}
	set, err := a.load(admin)
	if err != nil {
		return err
	}
	idx := indexOf(set, relayer)
	if idx < 0 {
		return fmt.Errorf("%w: relayer not authorized", htlc.ErrNotFound)
	}
	set = append(set[:idx], set[idx+1:]...)
	if err := a.state.RelayerSetPut(admin, set); err != nil {
		return err
	}
	a.emitter.Emit(events.RelayerSetChanged{Kind: events.TypeRelayerRemoved, Admin: admin, Relayer: relayer})
	return nil
}

// IsAuthorizedRelayer reports whether relayer belongs to admin's set. An admin
// that never initialized a set authorizes nobody.
func (a *Authority) IsAuthorizedRelayer(admin, relayer [20]byte) (bool, error) {
	if a == nil || a.state == nil {
		return false, errNilState
	}
	set, ok, err := a.state.RelayerSetGet(admin)
	if err != nil || !ok {
		return false, err
	}
	return indexOf(set, relayer) >= 0, nil
}

// Relayers lists admin's relayers in ascending byte order.
func (a *Authority) Relayers(admin [20]byte) ([][20]byte, error) {
	set, err := a.load(admin)
	if err != nil {
		return nil, err
	}
	out := append([][20]byte(nil), set...)
	sortRelayers(out)
	return out, nil
}

// EmitSecretShared announces that the secret for part partIdx of an escrow may
// be propagated. The escrow referenced by escrowRef must exist, be open, have
// passed finality and hold a safety deposit, and the order hash recomputed
// from its stored parameters must equal orderHash. Any failed check is
// reported as ErrUnauthorized. The call never writes state.
func (a *Authority) EmitSecretShared(caller, relayer, admin [20]byte, escrowRef, orderHash [32]byte, partIdx uint32) error {
	if err := requireAuth(caller, relayer); err != nil {
		return err
	}
	if a == nil || a.state == nil {
		return errNilState
	}
	set, ok, err := a.state.RelayerSetGet(admin)
	if err != nil {
		return err
	}
	if !ok || indexOf(set, relayer) < 0 {
		return fmt.Errorf("%w: relayer not in admin set", htlc.ErrUnauthorized)
	}
	if err := a.crossCheck(escrowRef, orderHash, partIdx); err != nil {
		return err
	}
	a.emitter.Emit(events.SecretShared{OrderHash: orderHash, PartIndex: partIdx, Relayer: relayer})
	return nil
}

func denied(reason string) error {
	return fmt.Errorf("%w: %s", htlc.ErrUnauthorized, reason)
}

func (a *Authority) crossCheck(escrowRef, orderHash [32]byte, partIdx uint32) error {
	if a.oracle == nil {
		return denied("no escrow oracle configured")
	}
	if !a.oracle.Exists(escrowRef) {
		return denied("escrow does not exist")
	}
	info, err := a.oracle.Info(escrowRef)
	if err != nil {
		return denied("escrow info unavailable")
	}
	if info.Claimed || info.Cancelled {
		return denied("escrow already finalized")
	}
	now := a.oracle.Now()
	if now < 0 || uint64(now) < info.Deadlines[htlc.StageFinality] {
		return denied("escrow finality not reached")
	}
	if partIdx >= info.Parts {
		return denied("part index out of range")
	}
	deposit, err := a.oracle.SafetyDeposit(escrowRef)
	if err != nil || deposit == nil || deposit.Sign() <= 0 {
		return denied("escrow holds no safety deposit")
	}
	token, err := a.oracle.Token(escrowRef)
	if err != nil {
		return denied("escrow token unavailable")
	}
	info.Asset = token
	recomputed, err := a.oracle.RecomputeOrderHash(info)
	if err != nil || recomputed != orderHash {
		return denied("order hash mismatch")
	}
	return nil
}
