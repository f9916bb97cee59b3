package state

import (
	"fmt"
	"math/big"

	"swapchain/native/htlc"
)

type storedEscrow struct {
	OrderHash       [32]byte
	Maker           [20]byte
	Taker           [20]byte
	Asset           string
	Amount          *big.Int
	SafetyDeposit   *big.Int
	HashLock        [32]byte
	Timelocks       [32]byte
	Side            uint8
	MerkleRoot      [32]byte
	Parts           uint32
	UsedWords       []uint64
	Released        *big.Int
	DepositReleased *big.Int
	Claimed         bool
	Cancelled       bool
}

func newStoredEscrow(e *htlc.Escrow) *storedEscrow {
	return &storedEscrow{
		OrderHash:       e.OrderHash,
		Maker:           e.Maker,
		Taker:           e.Taker,
		Asset:           e.Asset,
		Amount:          e.Amount,
		SafetyDeposit:   e.SafetyDeposit,
		HashLock:        e.HashLock,
		Timelocks:       e.Timelocks.Bytes(),
		Side:            uint8(e.Side),
		MerkleRoot:      e.MerkleRoot,
		Parts:           e.Parts,
		UsedWords:       e.Used.Words(),
		Released:        e.Released,
		DepositReleased: e.DepositReleased,
		Claimed:         e.Claimed,
		Cancelled:       e.Cancelled,
	}
}

func (s *storedEscrow) toEscrow() (*htlc.Escrow, error) {
	if s == nil {
		return nil, fmt.Errorf("htlc: nil storage record")
	}
	timelocks, err := htlc.TimelocksFromBytes(s.Timelocks)
	if err != nil {
		return nil, err
	}
	used, err := htlc.UsedPartsFromWords(s.Parts, s.UsedWords)
	if err != nil {
		return nil, err
	}
	return htlc.SanitizeEscrow(&htlc.Escrow{
		OrderHash:       s.OrderHash,
		Maker:           s.Maker,
		Taker:           s.Taker,
		Asset:           s.Asset,
		Amount:          s.Amount,
		SafetyDeposit:   s.SafetyDeposit,
		HashLock:        s.HashLock,
		Timelocks:       timelocks,
		Side:            htlc.Side(s.Side),
		MerkleRoot:      s.MerkleRoot,
		Parts:           s.Parts,
		Used:            used,
		Released:        s.Released,
		DepositReleased: s.DepositReleased,
		Claimed:         s.Claimed,
		Cancelled:       s.Cancelled,
	})
}

// HTLCPut validates and stores an escrow record under its order hash.
func (m *Manager) HTLCPut(e *htlc.Escrow) error {
	sanitized, err := htlc.SanitizeEscrow(e)
	if err != nil {
		return err
	}
	return m.KVPut(HTLCEscrowKey(sanitized.OrderHash), newStoredEscrow(sanitized))
}

// HTLCGet loads the escrow stored under orderHash.
func (m *Manager) HTLCGet(orderHash [32]byte) (*htlc.Escrow, bool, error) {
	stored := new(storedEscrow)
	ok, err := m.KVGet(HTLCEscrowKey(orderHash), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	esc, err := stored.toEscrow()
	if err != nil {
		return nil, false, err
	}
	return esc, true, nil
}

// HTLCDelete removes the record and writes a tombstone so the order hash can
// never be reused.
func (m *Manager) HTLCDelete(orderHash [32]byte) error {
	if err := m.KVDelete(HTLCEscrowKey(orderHash)); err != nil {
		return err
	}
	return m.KVPut(HTLCTombstoneKey(orderHash), true)
}

// HTLCTombstoned reports whether the escrow was deleted.
func (m *Manager) HTLCTombstoned(orderHash [32]byte) (bool, error) {
	return m.KVGet(HTLCTombstoneKey(orderHash), nil)
}

// RelayerSetGet loads the relayer allow-list of admin.
func (m *Manager) RelayerSetGet(admin [20]byte) ([][20]byte, bool, error) {
	var set [][20]byte
	ok, err := m.KVGet(RelayerSetKey(admin), &set)
	if err != nil || !ok {
		return nil, false, err
	}
	if set == nil {
		set = [][20]byte{}
	}
	return set, true, nil
}

// RelayerSetPut stores the relayer allow-list of admin. An empty list still
// marks the admin as initialized.
func (m *Manager) RelayerSetPut(admin [20]byte, relayers [][20]byte) error {
	if relayers == nil {
		relayers = [][20]byte{}
	}
	return m.KVPut(RelayerSetKey(admin), relayers)
}
