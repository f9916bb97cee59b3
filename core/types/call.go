package types

import (
	"crypto/ecdsa"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// CallType defines the operation a signed call invokes.
type CallType byte

const (
	CallCreateEscrow   CallType = 0x01
	CallWithdraw       CallType = 0x02
	CallPublicWithdraw CallType = 0x03
	CallCancel         CallType = 0x04
	CallPublicCancel   CallType = 0x05
	CallRescue         CallType = 0x06
	CallRelayerInit    CallType = 0x10
	CallRelayerAdd     CallType = 0x11
	CallRelayerRemove  CallType = 0x12
	CallSecretShared   CallType = 0x13
)

// Valid reports whether the call type is known.
func (t CallType) Valid() bool {
	switch t {
	case CallCreateEscrow, CallWithdraw, CallPublicWithdraw, CallCancel, CallPublicCancel, CallRescue,
		CallRelayerInit, CallRelayerAdd, CallRelayerRemove, CallSecretShared:
		return true
	default:
		return false
	}
}

func (t CallType) String() string {
	switch t {
	case CallCreateEscrow:
		return "create"
	case CallWithdraw:
		return "withdraw"
	case CallPublicWithdraw:
		return "public_withdraw"
	case CallCancel:
		return "cancel"
	case CallPublicCancel:
		return "public_cancel"
	case CallRescue:
		return "rescue"
	case CallRelayerInit:
		return "relayer_initialize"
	case CallRelayerAdd:
		return "relayer_add"
	case CallRelayerRemove:
		return "relayer_remove"
	case CallSecretShared:
		return "secret_shared"
	default:
		return "unknown"
	}
}

// Module returns the native module that handles the call.
func (t CallType) Module() string {
	if t >= CallRelayerInit {
		return "relayer"
	}
	return "htlc"
}

var errUnsigned = errors.New("call: missing signature")

// Call is a signed request against the escrow host. Payload holds the
// RLP-encoded arguments for Type; the signer is the authenticated caller.
type Call struct {
	ChainID uint64   `json:"chainId"`
	Type    CallType `json:"type"`
	Nonce   uint64   `json:"nonce"`
	Payload []byte   `json:"payload"`

	R *big.Int `json:"r"`
	S *big.Int `json:"s"`
	V *big.Int `json:"v"`

	from []byte
}

type unsignedCall struct {
	ChainID uint64
	Type    CallType
	Nonce   uint64
	Payload []byte
}

// Hash returns the keccak256 digest of the RLP encoding of the unsigned fields.
func (c *Call) Hash() ([]byte, error) {
	encoded, err := rlp.EncodeToBytes(unsignedCall{c.ChainID, c.Type, c.Nonce, c.Payload})
	if err != nil {
		return nil, err
	}
	return crypto.Keccak256(encoded), nil
}

func (c *Call) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := c.Hash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash, privKey)
	if err != nil {
		return err
	}
	c.R = new(big.Int).SetBytes(sig[:32])
	c.S = new(big.Int).SetBytes(sig[32:64])
	c.V = new(big.Int).SetBytes([]byte{sig[64] + 27})
	c.from = nil
	return nil
}

// From recovers the signer address.
func (c *Call) From() ([20]byte, error) {
	var out [20]byte
	if c.from != nil {
		copy(out[:], c.from)
		return out, nil
	}
	if c.R == nil || c.S == nil || c.V == nil {
		return out, errUnsigned
	}
	if len(c.R.Bytes()) > 32 || len(c.S.Bytes()) > 32 || c.V.Uint64() < 27 {
		return out, errors.New("call: malformed signature")
	}
	hash, err := c.Hash()
	if err != nil {
		return out, err
	}
	sig := make([]byte, 65)
	copy(sig[32-len(c.R.Bytes()):32], c.R.Bytes())
	copy(sig[64-len(c.S.Bytes()):64], c.S.Bytes())
	sig[64] = byte(c.V.Uint64() - 27)
	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return out, err
	}
	c.from = crypto.PubkeyToAddress(*pubKey).Bytes()
	copy(out[:], c.from)
	return out, nil
}
