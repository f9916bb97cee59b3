package events

import "swapchain/core/types"

const (
	TypeRelayerInitialized = "relayer.initialized"
	TypeRelayerAdded       = "relayer.added"
	TypeRelayerRemoved     = "relayer.removed"
	TypeSecretShared       = "relayer.secret_shared"
)

// RelayerSetChanged covers initialisation and membership changes of an
// admin's relayer allow-list.
type RelayerSetChanged struct {
	Kind    string
	Admin   [20]byte
	Relayer [20]byte
}

func (e RelayerSetChanged) EventType() string { return e.Kind }

func (e RelayerSetChanged) Event() *types.Event {
	attrs := map[string]string{"admin": formatAddress(e.Admin)}
	if e.Relayer != ([20]byte{}) {
		attrs["relayer"] = formatAddress(e.Relayer)
	}
	return &types.Event{Type: e.Kind, Attributes: attrs}
}

type SecretShared struct {
	OrderHash [32]byte
	PartIndex uint32
	Relayer   [20]byte
}

func (SecretShared) EventType() string { return TypeSecretShared }

func (e SecretShared) Event() *types.Event {
	return &types.Event{
		Type: TypeSecretShared,
		Attributes: map[string]string{
			types.AttrOrderHash: formatHash(e.OrderHash),
			"partIndex":         uintToString(uint64(e.PartIndex)),
			"relayer":           formatAddress(e.Relayer),
		},
	}
}
