package main

import (
	"bytes"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"

	"swapchain/core"
	"swapchain/core/types"
	"swapchain/crypto"
	"swapchain/native/htlc"
)

func runCmd(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestUsageAndUnknownCommand(t *testing.T) {
	code, _, stderr := runCmd()
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "Usage: swapctl")

	code, _, stderr = runCmd("frobnicate")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "Unknown command: frobnicate")

	code, _, stderr = runCmd("sign", "teleport")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "Unknown call kind: teleport")
}

func TestHashlock(t *testing.T) {
	code, stdout, stderr := runCmd("hashlock", "--secret", "s3cr3t")
	require.Equal(t, 0, code, stderr)
	want := crypto.Keccak256().Sum([]byte("s3cr3t"))
	require.Equal(t, hexutil.Encode(want[:]), strings.TrimSpace(stdout))

	code, stdout, stderr = runCmd("hashlock", "--secret", "0xdeadbeef", "--hasher", "blake3")
	require.Equal(t, 0, code, stderr)
	want = crypto.Blake3().Sum([]byte{0xde, 0xad, 0xbe, 0xef})
	require.Equal(t, hexutil.Encode(want[:]), strings.TrimSpace(stdout))

	code, _, stderr = runCmd("hashlock")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "--secret is required")
}

func TestMerkleProofsVerify(t *testing.T) {
	code, stdout, stderr := runCmd("merkle", "--secrets", "a,b,c")
	require.Equal(t, 0, code, stderr)

	var out merkleOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	require.Equal(t, 3, out.Parts)
	require.Len(t, out.Proofs, 3)

	hasher := crypto.Keccak256()
	root, err := parseHashFlag("root", out.Root, true)
	require.NoError(t, err)
	for i, secret := range []string{"a", "b", "c"} {
		proof := make([][32]byte, 0, len(out.Proofs[i]))
		for _, item := range out.Proofs[i] {
			sibling, err := parseHashFlag("proof", item, true)
			require.NoError(t, err)
			proof = append(proof, sibling)
		}
		require.Len(t, proof, htlc.ProofDepth(3))
		require.True(t, htlc.VerifyProof(hasher, proof, root, htlc.LeafHash(hasher, []byte(secret)), uint32(i)))
	}
}

func TestOrderHashMatchesLibrary(t *testing.T) {
	maker := [20]byte{1}
	taker := [20]byte{2}
	lock := crypto.Keccak256().Sum([]byte("s3cr3t"))
	code, stdout, stderr := runCmd("order-hash",
		"--maker", crypto.FormatRaw(maker),
		"--taker", crypto.FormatRaw(taker),
		"--asset", "usdc",
		"--amount", "100",
		"--hashlock", hexutil.Encode(lock[:]),
		"--offsets", "0, 100,200,300,400",
		"--side", "dst",
	)
	require.Equal(t, 0, code, stderr)

	want, err := htlc.OrderHash(crypto.Keccak256(), htlc.OrderParams{
		Maker:    maker,
		Taker:    taker,
		Asset:    "USDC",
		Amount:   big.NewInt(100),
		HashLock: lock,
		Offsets:  []uint64{0, 100, 200, 300, 400},
		Side:     htlc.SideDestination,
	})
	require.NoError(t, err)
	require.Equal(t, hexutil.Encode(want[:]), strings.TrimSpace(stdout))

	code, _, stderr = runCmd("order-hash", "--maker", crypto.FormatRaw(maker))
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "--taker is required")
}

func newKeystore(t *testing.T) (string, [20]byte) {
	t.Helper()
	t.Setenv(defaultPassEnv, "correct horse")
	path := filepath.Join(t.TempDir(), "maker.keystore")
	code, stdout, stderr := runCmd("keygen", "--out", path)
	require.Equal(t, 0, code, stderr)

	var out map[string]string
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	addr, err := crypto.ParseRaw(out["address"])
	require.NoError(t, err)

	code, _, stderr = runCmd("keygen", "--out", path)
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "already exists")

	code, stdout, stderr = runCmd("address", "--keystore", path)
	require.Equal(t, 0, code, stderr)
	require.Equal(t, out["address"], strings.TrimSpace(stdout))
	return path, addr
}

func TestSignCreateCall(t *testing.T) {
	path, maker := newKeystore(t)
	taker := [20]byte{9}
	lock := crypto.Keccak256().Sum([]byte("s3cr3t"))

	code, stdout, stderr := runCmd("sign", "create",
		"--keystore", path,
		"--chain-id", "7",
		"--nonce", "3",
		"--taker", crypto.FormatRaw(taker),
		"--asset", "USDC",
		"--amount", "100",
		"--safety-deposit", "10",
		"--hashlock", hexutil.Encode(lock[:]),
		"--offsets", "0,100,200,300,400",
	)
	require.Equal(t, 0, code, stderr)

	var call types.Call
	require.NoError(t, json.Unmarshal([]byte(stdout), &call))
	require.Equal(t, uint64(7), call.ChainID)
	require.Equal(t, uint64(3), call.Nonce)
	require.Equal(t, types.CallCreateEscrow, call.Type)
	signer, err := call.From()
	require.NoError(t, err)
	require.Equal(t, maker, signer)

	var args core.CreateEscrowArgs
	require.NoError(t, rlp.DecodeBytes(call.Payload, &args))
	require.Equal(t, taker, args.Taker)
	require.Equal(t, int64(100), args.Amount.Int64())
	require.Equal(t, int64(10), args.SafetyDeposit.Int64())
	require.Equal(t, lock, args.HashLock)
	require.Equal(t, []uint64{0, 100, 200, 300, 400}, args.Offsets)
}

func TestSignRejectsMissingArguments(t *testing.T) {
	path, _ := newKeystore(t)
	code, _, stderr := runCmd("sign", "withdraw", "--keystore", path)
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "--order-hash is required")

	code, _, stderr = runCmd("sign", "cancel", "--keystore", path, "--order-hash", "0x1234")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "--order-hash must be 32")
}

func TestSignSubmitsToEscrowd(t *testing.T) {
	path, _ := newKeystore(t)
	orderHash := [32]byte{0xaa}

	var received types.Call
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/calls", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &received))
		w.Header().Set("Content-Type", "application/json")
		if received.Nonce > 0 {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"code":"already_finalized","message":"escrow already finalized"}`))
			return
		}
		_, _ = w.Write([]byte(`{"height":2}`))
	}))
	defer srv.Close()

	code, stdout, stderr := runCmd("sign", "public-cancel",
		"--keystore", path,
		"--order-hash", hexutil.Encode(orderHash[:]),
		"--submit", srv.URL+"/",
	)
	require.Equal(t, 0, code, stderr)
	require.Equal(t, `{"height":2}`, strings.TrimSpace(stdout))
	require.Equal(t, types.CallPublicCancel, received.Type)

	var args core.CancelArgs
	require.NoError(t, rlp.DecodeBytes(received.Payload, &args))
	require.Equal(t, orderHash, args.OrderHash)

	code, _, stderr = runCmd("sign", "public-cancel",
		"--keystore", path,
		"--nonce", "1",
		"--order-hash", hexutil.Encode(orderHash[:]),
		"--submit", srv.URL,
	)
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "already_finalized")
}
