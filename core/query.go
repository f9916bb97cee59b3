package core

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"swapchain/native/htlc"
)

// Escrow returns the read-only view of an escrow.
func (n *Node) Escrow(orderHash [32]byte) (*htlc.EscrowInfo, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newEscrowEngine(nil).Info(orderHash)
}

// EscrowExists reports whether a live record exists for orderHash.
func (n *Node) EscrowExists(orderHash [32]byte) bool {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newEscrowEngine(nil).Exists(orderHash)
}

// EscrowStatus returns the lifecycle status of an escrow, including Deleted
// for escrows removed by a public cancellation.
func (n *Node) EscrowStatus(orderHash [32]byte) (htlc.Status, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newEscrowEngine(nil).Status(orderHash)
}

// CurrentStage returns the stage the escrow's leg is in at the node's clock.
func (n *Node) CurrentStage(orderHash [32]byte) (htlc.Stage, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newEscrowEngine(nil).CurrentStage(orderHash)
}

// Balance returns the ledger balance of addr in asset.
func (n *Node) Balance(addr [20]byte, asset string) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.state.Balance(addr, asset)
}

// Assets lists the registered asset symbols.
func (n *Node) Assets() ([]string, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.state.TokenList()
}

// Nonce returns the nonce the next call signed by addr must carry.
func (n *Node) Nonce(addr [20]byte) (uint64, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.state.Nonce(addr)
}

// Relayers returns the sorted allow-list of admin.
func (n *Node) Relayers(admin [20]byte) ([][20]byte, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newRelayerAuthority(nil).Relayers(admin)
}

// IsAuthorizedRelayer reports whether relayer is on admin's allow-list.
func (n *Node) IsAuthorizedRelayer(admin, relayer [20]byte) (bool, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.newRelayerAuthority(nil).IsAuthorizedRelayer(admin, relayer)
}

// StateRoot returns the root of the last committed state.
func (n *Node) StateRoot() common.Hash {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.root
}

// Height returns the number of committed calls.
func (n *Node) Height() (uint64, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.state.Height()
}
