package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"swapchain/core"
	"swapchain/core/types"
	"swapchain/crypto"
	"swapchain/native/htlc"
	"swapchain/services/escrowd/indexer"
)

const maxBodyBytes = 1 << 20

// Ledger is the subset of core.Node served over HTTP.
type Ledger interface {
	ChainID() uint64
	ApplyContext(ctx context.Context, call *types.Call) (*core.Receipt, error)
	Escrow(orderHash [32]byte) (*htlc.EscrowInfo, error)
	EscrowStatus(orderHash [32]byte) (htlc.Status, error)
	CurrentStage(orderHash [32]byte) (htlc.Stage, error)
	Balance(addr [20]byte, asset string) (*big.Int, error)
	Nonce(addr [20]byte) (uint64, error)
	Relayers(admin [20]byte) ([][20]byte, error)
	IsAuthorizedRelayer(admin, relayer [20]byte) (bool, error)
	StateRoot() common.Hash
	Height() (uint64, error)
}

// EventStore serves indexed events.
type EventStore interface {
	Query(ctx context.Context, filter indexer.Filter) ([]indexer.Record, error)
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Ledger    Ledger
	Events    EventStore
	RateLimit RateLimit
	Logger    *slog.Logger
	// Tracing defaults to the global tracer provider.
	Tracing trace.TracerProvider
}

// Server exposes the escrow ledger over a JSON HTTP API.
type Server struct {
	ledger  Ledger
	events  EventStore
	limiter *RateLimiter
	logger  *slog.Logger
	router  http.Handler
}

// New constructs the HTTP router.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		ledger:  cfg.Ledger,
		events:  cfg.Events,
		limiter: NewRateLimiter(cfg.RateLimit),
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimw.Recoverer)
	r.Use(s.accessLog)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Use(s.limiter.Middleware)
		r.Get("/status", s.handleStatus)
		r.Post("/calls", s.handleCall)
		r.Get("/escrows/{orderHash}", s.handleEscrow)
		r.Get("/escrows/{orderHash}/stage", s.handleStage)
		r.Get("/relayers/{admin}", s.handleRelayers)
		r.Get("/relayers/{admin}/{relayer}", s.handleRelayerCheck)
		r.Get("/balances/{address}/{asset}", s.handleBalance)
		r.Get("/nonces/{address}", s.handleNonce)
		r.Get("/events", s.handleEvents)
	})
	var traceOpts []otelhttp.Option
	if cfg.Tracing != nil {
		traceOpts = append(traceOpts, otelhttp.WithTracerProvider(cfg.Tracing))
	}
	s.router = otelhttp.NewHandler(r, "escrowd.http", traceOpts...)
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			slog.String("request_id", RequestIDFrom(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	ChainID   uint64 `json:"chainId"`
	Height    uint64 `json:"height"`
	StateRoot string `json:"stateRoot"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	height, err := s.ledger.Height()
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{ChainID: s.ledger.ChainID(), Height: height, StateRoot: s.ledger.StateRoot().Hex()})
}

type receiptResponse struct {
	OrderHash string         `json:"orderHash,omitempty"`
	Caller    string         `json:"caller"`
	Height    uint64         `json:"height"`
	StateRoot string         `json:"stateRoot"`
	Events    []*types.Event `json:"events"`
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	var call types.Call
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&call); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_call", fmt.Sprintf("decode call: %v", err))
		return
	}
	receipt, err := s.ledger.ApplyContext(r.Context(), &call)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	resp := receiptResponse{
		Caller:    crypto.FormatRaw(receipt.Caller),
		Height:    receipt.Height,
		StateRoot: receipt.StateRoot.Hex(),
		Events:    receipt.Events,
	}
	if receipt.OrderHash != ([32]byte{}) {
		resp.OrderHash = formatHash(receipt.OrderHash)
	}
	if resp.Events == nil {
		resp.Events = []*types.Event{}
	}
	writeJSON(w, http.StatusOK, resp)
}

type escrowResponse struct {
	OrderHash     string   `json:"orderHash"`
	Status        string   `json:"status"`
	Maker         string   `json:"maker"`
	Taker         string   `json:"taker"`
	Custody       string   `json:"custody"`
	Asset         string   `json:"asset"`
	Amount        string   `json:"amount"`
	SafetyDeposit string   `json:"safetyDeposit"`
	Released      string   `json:"released"`
	HashLock      string   `json:"hashLock"`
	Side          string   `json:"side"`
	MerkleRoot    string   `json:"merkleRoot,omitempty"`
	Parts         uint32   `json:"parts"`
	UsedParts     []bool   `json:"usedParts"`
	DeployedAt    uint64   `json:"deployedAt"`
	Offsets       []uint64 `json:"offsets"`
	Deadlines     []uint64 `json:"deadlines"`
}

func (s *Server) handleEscrow(w http.ResponseWriter, r *http.Request) {
	orderHash, ok := parseHashParam(w, r, "orderHash")
	if !ok {
		return
	}
	status, err := s.ledger.EscrowStatus(orderHash)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	if status == htlc.StatusDeleted {
		writeJSON(w, http.StatusGone, map[string]string{"orderHash": formatHash(orderHash), "status": status.String()})
		return
	}
	info, err := s.ledger.Escrow(orderHash)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	resp := escrowResponse{
		OrderHash:     formatHash(info.OrderHash),
		Status:        status.String(),
		Maker:         crypto.FormatRaw(info.Maker),
		Taker:         crypto.FormatRaw(info.Taker),
		Custody:       crypto.NewAddress(crypto.CustodyPrefix, info.Custody[:]).String(),
		Asset:         info.Asset,
		Amount:        info.Amount.String(),
		SafetyDeposit: info.SafetyDeposit.String(),
		Released:      info.Released.String(),
		HashLock:      formatHash(info.HashLock),
		Side:          info.Side.String(),
		Parts:         info.Parts,
		UsedParts:     info.UsedParts,
		DeployedAt:    info.DeployedAt,
		Offsets:       info.Offsets,
		Deadlines:     info.Deadlines[:],
	}
	if info.MerkleRoot != ([32]byte{}) {
		resp.MerkleRoot = formatHash(info.MerkleRoot)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStage(w http.ResponseWriter, r *http.Request) {
	orderHash, ok := parseHashParam(w, r, "orderHash")
	if !ok {
		return
	}
	stage, err := s.ledger.CurrentStage(orderHash)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"stage": stage.String(), "index": uint8(stage)})
}

func (s *Server) handleRelayers(w http.ResponseWriter, r *http.Request) {
	admin, ok := parseAddressParam(w, r, "admin")
	if !ok {
		return
	}
	set, err := s.ledger.Relayers(admin)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	relayers := make([]string, 0, len(set))
	for _, relayer := range set {
		relayers = append(relayers, crypto.FormatRaw(relayer))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"admin": crypto.FormatRaw(admin), "relayers": relayers})
}

func (s *Server) handleRelayerCheck(w http.ResponseWriter, r *http.Request) {
	admin, ok := parseAddressParam(w, r, "admin")
	if !ok {
		return
	}
	relayer, ok := parseAddressParam(w, r, "relayer")
	if !ok {
		return
	}
	authorized, err := s.ledger.IsAuthorizedRelayer(admin, relayer)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"authorized": authorized})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddressParam(w, r, "address")
	if !ok {
		return
	}
	asset := htlc.NormalizeAsset(chi.URLParam(r, "asset"))
	balance, err := s.ledger.Balance(addr, asset)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address": crypto.FormatRaw(addr),
		"asset":   asset,
		"balance": balance.String(),
	})
}

func (s *Server) handleNonce(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddressParam(w, r, "address")
	if !ok {
		return
	}
	nonce, err := s.ledger.Nonce(addr)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"address": crypto.FormatRaw(addr), "nonce": nonce})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "event index disabled")
		return
	}
	query := r.URL.Query()
	filter := indexer.Filter{Type: query.Get("type")}
	if raw := strings.TrimSpace(query.Get("orderHash")); raw != "" {
		hash, err := parseHash(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation", err.Error())
			return
		}
		filter.OrderHash = formatHash(hash)
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "validation", "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}
	records, err := s.events.Query(r.Context(), filter)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	if records == nil {
		records = []indexer.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": records})
}

// StatusFor maps an error code onto the HTTP status returned for it.
func StatusFor(code string) int {
	switch code {
	case "validation", "invalid_call", "amount_overflow", "already_stamped":
		return http.StatusBadRequest
	case "unauthorized":
		return http.StatusUnauthorized
	case "not_found":
		return http.StatusNotFound
	case "already_exists", "already_finalized", "part_already_used":
		return http.StatusConflict
	case "stage_not_reached", "stage_expired", "invalid_preimage", "invalid_merkle_proof",
		"invalid_fill_index", "insufficient_funds":
		return http.StatusUnprocessableEntity
	case "quota_exceeded":
		return http.StatusTooManyRequests
	case "module_paused":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeLedgerError(w http.ResponseWriter, err error) {
	code := core.ErrorCode(err)
	status := StatusFor(code)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("ledger error", slog.String("error", err.Error()))
		message = http.StatusText(status)
	}
	writeError(w, status, code, message)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var errBadHash = errors.New("order hash must be 32 hex-encoded bytes")

func parseHash(raw string) ([32]byte, error) {
	var out [32]byte
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		raw = "0x" + raw
	}
	decoded, err := hexutil.Decode(raw)
	if err != nil || len(decoded) != len(out) {
		return out, errBadHash
	}
	copy(out[:], decoded)
	return out, nil
}

func formatHash(h [32]byte) string { return hexutil.Encode(h[:]) }

func parseHashParam(w http.ResponseWriter, r *http.Request, name string) ([32]byte, bool) {
	hash, err := parseHash(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return hash, false
	}
	return hash, true
}

func parseAddressParam(w http.ResponseWriter, r *http.Request, name string) ([20]byte, bool) {
	addr, err := crypto.ParseRaw(strings.TrimSpace(chi.URLParam(r, name)))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", fmt.Sprintf("%s: %v", name, err))
		return addr, false
	}
	return addr, true
}
