package state

import (
	"encoding/hex"
	"fmt"
)

var (
	htlcEscrowPrefix    = []byte("htlc/escrow/")
	htlcTombstonePrefix = []byte("htlc/tombstone/")
	relayerSetPrefix    = []byte("relayer/set/")
	noncePrefix         = []byte("nonce/")
	quotaPrefix         = []byte("quota/")
	heightKeyBytes      = []byte("chain/height")
)

func prefixed(prefix []byte, id []byte) []byte {
	buf := make([]byte, len(prefix)+len(id))
	copy(buf, prefix)
	copy(buf[len(prefix):], id)
	return buf
}

// HTLCEscrowKey returns the namespaced key of an escrow record.
func HTLCEscrowKey(orderHash [32]byte) []byte { return prefixed(htlcEscrowPrefix, orderHash[:]) }

// HTLCTombstoneKey returns the key marking a deleted escrow.
func HTLCTombstoneKey(orderHash [32]byte) []byte { return prefixed(htlcTombstonePrefix, orderHash[:]) }

// RelayerSetKey returns the key of an admin's relayer allow-list.
func RelayerSetKey(admin [20]byte) []byte { return prefixed(relayerSetPrefix, admin[:]) }

// NonceKey returns the key tracking the next call nonce of an account.
func NonceKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%s", noncePrefix, hex.EncodeToString(addr[:])))
}

// HeightKey stores the number of committed calls.
func HeightKey() []byte { return append([]byte(nil), heightKeyBytes...) }

// QuotaKey returns the key of a caller's quota counters for module.
func QuotaKey(module string, addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%s/%s", quotaPrefix, module, hex.EncodeToString(addr[:])))
}
