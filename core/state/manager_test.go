package state

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	nativecommon "swapchain/native/common"
	"swapchain/native/htlc"
	"swapchain/storage"
	"swapchain/storage/trie"
)

func newTestManager(t *testing.T) (*Manager, storage.Database) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := trie.NewTrie(db, nil)
	require.NoError(t, err)
	mgr := NewManager(tr)
	require.NoError(t, mgr.RegisterToken("usdc", "USD Coin", 6))
	return mgr, db
}

func addr(b byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = b
	}
	return out
}

func TestKeyNamespaces(t *testing.T) {
	require.Equal(t, "htlc/escrow/", string(HTLCEscrowKey([32]byte{})[:12]))
	require.Equal(t, "relayer/set/", string(RelayerSetKey([20]byte{})[:12]))
	require.Equal(t, "nonce/0101010101010101010101010101010101010101", string(NonceKey(addr(1))))
	require.NotEqual(t, HTLCEscrowKey([32]byte{1}), HTLCTombstoneKey([32]byte{1}))
}

func TestTokenRegistry(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.Error(t, mgr.RegisterToken("USDC", "again", 6))
	require.Error(t, mgr.RegisterToken(" ", "blank", 6))
	require.True(t, mgr.AssetRegistered(" usdc "))
	require.False(t, mgr.AssetRegistered("DAI"))

	require.NoError(t, mgr.RegisterToken("dai", "Dai", 18))
	list, err := mgr.TokenList()
	require.NoError(t, err)
	require.Equal(t, []string{"DAI", "USDC"}, list)
	meta, err := mgr.Token("dai")
	require.NoError(t, err)
	require.Equal(t, uint8(18), meta.Decimals)
}

func TestTransfer(t *testing.T) {
	mgr, _ := newTestManager(t)
	alice, bob := addr(1), addr(2)
	require.NoError(t, mgr.Credit(alice, "USDC", big.NewInt(50)))

	err := mgr.Transfer(alice, bob, "USDC", big.NewInt(51))
	require.True(t, errors.Is(err, htlc.ErrInsufficientFunds), "got %v", err)

	require.NoError(t, mgr.Transfer(alice, bob, "usdc", big.NewInt(20)))
	bal, err := mgr.Balance(alice, "USDC")
	require.NoError(t, err)
	require.Equal(t, int64(30), bal.Int64())
	bal, err = mgr.Balance(bob, "USDC")
	require.NoError(t, err)
	require.Equal(t, int64(20), bal.Int64())

	require.Error(t, mgr.Transfer(alice, bob, "DAI", big.NewInt(1)))
}

func testEscrow(t *testing.T) *htlc.Escrow {
	t.Helper()
	tl, err := htlc.NewTimelocks([]uint64{0, 100, 200, 300, 400})
	require.NoError(t, err)
	tl, err = tl.Stamp(1_000)
	require.NoError(t, err)
	used := htlc.NewUsedParts(4)
	used.Mark(3)
	return &htlc.Escrow{
		OrderHash:       crypto.Keccak256Hash([]byte("order")),
		Maker:           addr(1),
		Taker:           addr(2),
		Asset:           "USDC",
		Amount:          big.NewInt(100),
		SafetyDeposit:   big.NewInt(10),
		Timelocks:       tl,
		Side:            htlc.SideDestination,
		MerkleRoot:      crypto.Keccak256Hash([]byte("root")),
		Parts:           4,
		Used:            used,
		Released:        big.NewInt(25),
		DepositReleased: big.NewInt(2),
	}
}

func TestHTLCRecordRoundTrip(t *testing.T) {
	mgr, _ := newTestManager(t)
	esc := testEscrow(t)
	require.NoError(t, mgr.HTLCPut(esc))

	got, ok, err := mgr.HTLCGet(esc.OrderHash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, esc.Timelocks, got.Timelocks)
	require.Equal(t, esc.Side, got.Side)
	require.Equal(t, []bool{false, false, false, true}, got.Used.Bools())
	require.Equal(t, 0, got.Released.Cmp(esc.Released))
	require.Equal(t, esc.Params(), got.Params())

	bad := esc.Clone()
	bad.Used = htlc.NewUsedParts(3)
	require.Error(t, mgr.HTLCPut(bad))
}

func TestHTLCDeleteLeavesTombstone(t *testing.T) {
	mgr, _ := newTestManager(t)
	esc := testEscrow(t)
	require.NoError(t, mgr.HTLCPut(esc))

	gone, err := mgr.HTLCTombstoned(esc.OrderHash)
	require.NoError(t, err)
	require.False(t, gone)

	require.NoError(t, mgr.HTLCDelete(esc.OrderHash))
	_, ok, err := mgr.HTLCGet(esc.OrderHash)
	require.NoError(t, err)
	require.False(t, ok)
	gone, err = mgr.HTLCTombstoned(esc.OrderHash)
	require.NoError(t, err)
	require.True(t, gone)
}

func TestRelayerSets(t *testing.T) {
	mgr, _ := newTestManager(t)
	admin := addr(9)
	_, ok, err := mgr.RelayerSetGet(admin)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, mgr.RelayerSetPut(admin, nil))
	set, ok, err := mgr.RelayerSetGet(admin)
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, set)

	require.NoError(t, mgr.RelayerSetPut(admin, [][20]byte{addr(3), addr(4)}))
	set, _, err = mgr.RelayerSetGet(admin)
	require.NoError(t, err)
	require.Equal(t, [][20]byte{addr(3), addr(4)}, set)
}

func TestSnapshotRevert(t *testing.T) {
	mgr, _ := newTestManager(t)
	alice := addr(1)
	require.NoError(t, mgr.Credit(alice, "USDC", big.NewInt(5)))
	before := mgr.Root()

	snap, err := mgr.Snapshot()
	require.NoError(t, err)
	require.NoError(t, mgr.Credit(alice, "USDC", big.NewInt(5)))
	require.NoError(t, mgr.SetNonce(alice, 1))
	require.NotEqual(t, before, mgr.Root())

	require.NoError(t, mgr.RevertToSnapshot(snap))
	require.Equal(t, before, mgr.Root())
	bal, err := mgr.Balance(alice, "USDC")
	require.NoError(t, err)
	require.Equal(t, int64(5), bal.Int64())
	nonce, err := mgr.Nonce(alice)
	require.NoError(t, err)
	require.Zero(t, nonce)

	require.Error(t, mgr.RevertToSnapshot(snap))
}

func TestResetDropsPendingWrites(t *testing.T) {
	mgr, _ := newTestManager(t)
	root, err := mgr.Commit(1)
	require.NoError(t, err)

	esc := testEscrow(t)
	require.NoError(t, mgr.HTLCPut(esc))
	_, err = mgr.Snapshot()
	require.NoError(t, err)
	require.NotEqual(t, root, mgr.Root())

	require.NoError(t, mgr.Reset(root))
	require.Equal(t, root, mgr.Root())
	_, ok, err := mgr.HTLCGet(esc.OrderHash)
	require.NoError(t, err)
	require.False(t, ok)
	require.Error(t, mgr.RevertToSnapshot(0), "reset forgets snapshots")

	// Used parts written after the reset survive a commit.
	esc.Used.Mark(0)
	require.NoError(t, mgr.HTLCPut(esc))
	_, err = mgr.Commit(2)
	require.NoError(t, err)
	got, ok, err := mgr.HTLCGet(esc.OrderHash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []bool{true, false, false, true}, got.Used.Bools())
}

func TestCommitPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.NewLevelDB(dir)
	require.NoError(t, err)
	tr, err := trie.NewTrie(db, nil)
	require.NoError(t, err)
	mgr := NewManager(tr)
	require.NoError(t, mgr.RegisterToken("USDC", "USD Coin", 6))
	require.NoError(t, mgr.HTLCPut(testEscrow(t)))
	require.NoError(t, mgr.SetHeight(1))
	root, err := mgr.Commit(1)
	require.NoError(t, err)
	db.Close()

	db2, err := storage.NewLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()
	tr2, err := trie.NewTrie(db2, root.Bytes())
	require.NoError(t, err)
	reopened := NewManager(tr2)
	_, ok, err := reopened.HTLCGet(testEscrow(t).OrderHash)
	require.NoError(t, err)
	require.True(t, ok)
	height, err := reopened.Height()
	require.NoError(t, err)
	require.Equal(t, uint64(1), height)
}

func TestQuotaCounters(t *testing.T) {
	mgr, _ := newTestManager(t)
	alice := addr(1)
	got, err := mgr.QuotaGet("htlc", alice)
	require.NoError(t, err)
	require.Zero(t, got.Calls)

	require.NoError(t, mgr.QuotaPut("htlc", alice, nativecommon.QuotaNow{Calls: 3, Value: 40, EpochID: 9}))
	got, err = mgr.QuotaGet("htlc", alice)
	require.NoError(t, err)
	require.Equal(t, nativecommon.QuotaNow{Calls: 3, Value: 40, EpochID: 9}, got)

	other, err := mgr.QuotaGet("relayer", alice)
	require.NoError(t, err)
	require.Zero(t, other.Calls)
}
