package core

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"swapchain/core/types"
	"swapchain/native/htlc"
)

// CreateEscrowArgs is the payload of CallCreateEscrow. The maker is the
// signer of the call.
type CreateEscrowArgs struct {
	Taker         [20]byte
	Asset         string
	Amount        *big.Int
	SafetyDeposit *big.Int
	HashLock      [32]byte
	Offsets       []uint64
	Side          uint8
	MerkleRoot    [32]byte
	Parts         uint32
}

func (a *CreateEscrowArgs) params(maker [20]byte) htlc.CreateParams {
	return htlc.CreateParams{
		Maker:         maker,
		Taker:         a.Taker,
		Asset:         a.Asset,
		Amount:        a.Amount,
		SafetyDeposit: a.SafetyDeposit,
		HashLock:      a.HashLock,
		Offsets:       a.Offsets,
		Side:          htlc.Side(a.Side),
		MerkleRoot:    a.MerkleRoot,
		Parts:         a.Parts,
	}
}

// WithdrawArgs is the payload of CallWithdraw and CallPublicWithdraw.
type WithdrawArgs struct {
	OrderHash [32]byte
	Secret    []byte
	Proof     [][32]byte
	FillIndex uint32
}

func (a *WithdrawArgs) fill() htlc.Fill {
	return htlc.Fill{Secret: a.Secret, Proof: a.Proof, FillIndex: a.FillIndex}
}

// CancelArgs is the payload of CallCancel and CallPublicCancel.
type CancelArgs struct {
	OrderHash [32]byte
}

// RescueArgs is the payload of CallRescue.
type RescueArgs struct {
	OrderHash [32]byte
	Asset     string
	Amount    *big.Int
}

// RelayerAdminArgs is the payload of CallRelayerInit.
type RelayerAdminArgs struct {
	Admin [20]byte
}

// RelayerMemberArgs is the payload of CallRelayerAdd and CallRelayerRemove.
type RelayerMemberArgs struct {
	Admin   [20]byte
	Relayer [20]byte
}

// SecretSharedArgs is the payload of CallSecretShared.
type SecretSharedArgs struct {
	Relayer   [20]byte
	Admin     [20]byte
	EscrowRef [32]byte
	OrderHash [32]byte
	PartIndex uint32
}

// NewCall builds an unsigned call carrying args as its RLP payload.
func NewCall(chainID uint64, callType types.CallType, nonce uint64, args interface{}) (*types.Call, error) {
	payload, err := rlp.EncodeToBytes(args)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", callType, err)
	}
	return &types.Call{ChainID: chainID, Type: callType, Nonce: nonce, Payload: payload}, nil
}

func decodeArgs(call *types.Call, out interface{}) error {
	if err := rlp.DecodeBytes(call.Payload, out); err != nil {
		return fmt.Errorf("%w: decode %s payload: %v", ErrInvalidCall, call.Type, err)
	}
	return nil
}
