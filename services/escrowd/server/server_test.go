package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"swapchain/config"
	"swapchain/core"
	"swapchain/core/types"
	"swapchain/crypto"
	"swapchain/services/escrowd/indexer"
	"swapchain/storage"
)

type testEnv struct {
	handler http.Handler
	node    *core.Node
	now     int64
	maker   *crypto.PrivateKey
	taker   *crypto.PrivateKey
	nonces  map[[20]byte]uint64
}

func addrOf(key *crypto.PrivateKey) [20]byte { return key.PubKey().Address().Raw() }

func newTestEnv(t *testing.T, limit RateLimit) *testEnv {
	t.Helper()
	maker, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	taker, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	cfg := config.Default()
	cfg.ChainID = 11
	cfg.Assets = []config.Asset{{Symbol: "USDC", Name: "USD Coin", Decimals: 6}}
	cfg.Genesis = []config.Allocation{{Address: crypto.FormatRaw(addrOf(maker)), Asset: "USDC", Amount: "1000"}}

	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	node, err := core.NewNode(db, cfg)
	require.NoError(t, err)

	gdb, err := indexer.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	idx, err := indexer.New(gdb, 64)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go idx.Run(ctx)
	node.SetEmitter(idx)

	env := &testEnv{node: node, now: 1_000, maker: maker, taker: taker, nonces: make(map[[20]byte]uint64)}
	node.SetNowFunc(func() int64 { return env.now })
	env.handler = New(Config{Ledger: node, Events: idx, RateLimit: limit}).Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) submit(t *testing.T, key *crypto.PrivateKey, callType types.CallType, args interface{}) *httptest.ResponseRecorder {
	t.Helper()
	addr := addrOf(key)
	call, err := core.NewCall(e.node.ChainID(), callType, e.nonces[addr], args)
	require.NoError(t, err)
	require.NoError(t, call.Sign(key.PrivateKey))
	body, err := json.Marshal(call)
	require.NoError(t, err)
	rec := e.do(t, http.MethodPost, "/v1/calls", body)
	if rec.Code == http.StatusOK {
		e.nonces[addr]++
	}
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func (e *testEnv) createArgs() *core.CreateEscrowArgs {
	return &core.CreateEscrowArgs{
		Taker:         addrOf(e.taker),
		Asset:         "USDC",
		Amount:        big.NewInt(100),
		SafetyDeposit: big.NewInt(10),
		HashLock:      e.node.Hasher().Sum([]byte("s3cr3t")),
		Offsets:       []uint64{0, 100, 200, 300, 400},
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, err := uuid.Parse(rec.Header().Get(requestIDHeader))
	require.NoError(t, err)

	rec = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "swap_escrow_height")

	rec = env.do(t, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status statusResponse
	decode(t, rec, &status)
	require.Equal(t, uint64(11), status.ChainID)
}

func TestEscrowLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t, RateLimit{})

	rec := env.submit(t, env.maker, types.CallCreateEscrow, env.createArgs())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var receipt receiptResponse
	decode(t, rec, &receipt)
	require.NotEmpty(t, receipt.OrderHash)
	require.Equal(t, uint64(1), receipt.Height)
	require.Len(t, receipt.Events, 1)

	rec = env.do(t, http.MethodGet, "/v1/escrows/"+receipt.OrderHash, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var escrow escrowResponse
	decode(t, rec, &escrow)
	require.Equal(t, "open", escrow.Status)
	require.Equal(t, "100", escrow.Amount)
	require.Equal(t, []uint64{1_000, 1_100, 1_200, 1_300, 1_400}, escrow.Deadlines)

	rec = env.do(t, http.MethodGet, "/v1/escrows/"+receipt.OrderHash+"/stage", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"index":0`)

	orderHash, err := parseHash(receipt.OrderHash)
	require.NoError(t, err)
	withdraw := &core.WithdrawArgs{OrderHash: orderHash, Secret: []byte("s3cr3t")}
	rec = env.submit(t, env.taker, types.CallWithdraw, withdraw)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var apiErr errorResponse
	decode(t, rec, &apiErr)
	require.Equal(t, "stage_not_reached", apiErr.Code)

	env.now = 1_100
	rec = env.submit(t, env.taker, types.CallWithdraw, withdraw)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/v1/balances/"+crypto.FormatRaw(addrOf(env.taker))+"/usdc", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"balance":"100"`)

	rec = env.submit(t, env.taker, types.CallWithdraw, withdraw)
	require.Equal(t, http.StatusConflict, rec.Code)

	require.Eventually(t, func() bool {
		rec := env.do(t, http.MethodGet, "/v1/events?orderHash="+receipt.OrderHash, nil)
		var body struct {
			Events []indexer.Record `json:"events"`
		}
		return rec.Code == http.StatusOK && json.Unmarshal(rec.Body.Bytes(), &body) == nil && len(body.Events) == 3
	}, 5*time.Second, 10*time.Millisecond)

	rec = env.do(t, http.MethodGet, "/v1/nonces/"+crypto.FormatRaw(addrOf(env.taker)), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"nonce":1`)
}

func TestCallSpansNestUnderRequestSpan(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	env.node.SetTracer(tp.Tracer("swapchain/core"))
	env.handler = New(Config{Ledger: env.node, Tracing: tp}).Handler()

	rec := env.submit(t, env.maker, types.CallCreateEscrow, env.createArgs())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	spans := recorder.Ended()
	byName := make(map[string]sdktrace.ReadOnlySpan)
	for _, span := range spans {
		byName[span.Name()] = span
	}
	request, ok := byName["escrowd.http"]
	require.True(t, ok, "request span missing")
	apply, ok := byName["core.apply"]
	require.True(t, ok, "call span missing")
	require.Equal(t, request.SpanContext().SpanID(), apply.Parent().SpanID())
	require.Equal(t, request.SpanContext().TraceID(), apply.SpanContext().TraceID())
}

func TestRelayerQueries(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	admin := crypto.FormatRaw(addrOf(env.maker))
	relayer := crypto.FormatRaw(addrOf(env.taker))

	rec := env.do(t, http.MethodGet, "/v1/relayers/"+admin, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodGet, "/v1/relayers/"+admin+"/"+relayer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"authorized":false}`, rec.Body.String())

	rec = env.submit(t, env.maker, types.CallRelayerInit, &core.RelayerAdminArgs{Admin: addrOf(env.maker)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = env.submit(t, env.maker, types.CallRelayerAdd, &core.RelayerMemberArgs{Admin: addrOf(env.maker), Relayer: addrOf(env.taker)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/v1/relayers/"+admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), relayer)

	rec = env.do(t, http.MethodGet, "/v1/relayers/"+admin+"/"+relayer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"authorized":true}`, rec.Body.String())

	rec = env.submit(t, env.taker, types.CallRelayerAdd, &core.RelayerMemberArgs{Admin: addrOf(env.maker), Relayer: addrOf(env.taker)})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRejectsMalformedRequests(t *testing.T) {
	env := newTestEnv(t, RateLimit{})

	rec := env.do(t, http.MethodPost, "/v1/calls", []byte(`{"chainId":`))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/escrows/0x1234", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/v1/escrows/0x%064x", 1), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/balances/nope/USDC", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/events?limit=-3", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	args := env.createArgs()
	call, err := core.NewCall(99, types.CallCreateEscrow, 0, args)
	require.NoError(t, err)
	require.NoError(t, call.Sign(env.maker.PrivateKey))
	body, err := json.Marshal(call)
	require.NoError(t, err)
	rec = env.do(t, http.MethodPost, "/v1/calls", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid_call")
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, RateLimit{RequestsPerMinute: 1, Burst: 1})
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/v1/status", nil).Code)
	rec := env.do(t, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", nil).Code, "health checks are not limited")
}

func TestStatusFor(t *testing.T) {
	require.Equal(t, http.StatusBadRequest, StatusFor("validation"))
	require.Equal(t, http.StatusUnauthorized, StatusFor("unauthorized"))
	require.Equal(t, http.StatusNotFound, StatusFor("not_found"))
	require.Equal(t, http.StatusConflict, StatusFor("already_finalized"))
	require.Equal(t, http.StatusUnprocessableEntity, StatusFor("invalid_merkle_proof"))
	require.Equal(t, http.StatusInternalServerError, StatusFor("internal"))
}
