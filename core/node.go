package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"swapchain/config"
	"swapchain/core/events"
	"swapchain/core/state"
	"swapchain/core/types"
	"swapchain/crypto"
	nativecommon "swapchain/native/common"
	"swapchain/native/htlc"
	"swapchain/native/relayer"
	"swapchain/observability"
	"swapchain/storage"
	"swapchain/storage/trie"
)

var (
	// ErrInvalidCall is returned for calls that cannot be authenticated or
	// replayed against the current ledger: bad signature, foreign chain ID,
	// wrong nonce or an undecodable payload.
	ErrInvalidCall = errors.New("core: invalid call")

	stateRootKey = []byte("swapchain/state-root")
)

const tracerName = "swapchain/core"

// Receipt describes a committed call.
type Receipt struct {
	Caller    [20]byte
	Type      types.CallType
	Nonce     uint64
	Height    uint64
	OrderHash [32]byte
	StateRoot common.Hash
	Events    []*types.Event
}

// Node hosts the escrow and relayer modules. It authenticates signed calls,
// applies them one at a time against the trie-backed ledger and publishes the
// resulting events once the call has been committed.
type Node struct {
	stateMu sync.Mutex
	db      storage.Database
	cfg     *config.Config
	state   *state.Manager
	root    common.Hash
	hasher  crypto.Hasher
	emitter events.Emitter
	nowFn   func() int64
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *observability.EscrowMetrics
}

// NewNode opens the ledger stored in db. The first start applies the genesis
// section of cfg.
func NewNode(db storage.Database, cfg *config.Config) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("core: database required")
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	hasher, err := crypto.HasherByName(cfg.Hasher)
	if err != nil {
		return nil, err
	}

	var rootBytes []byte
	genesis := false
	stored, err := db.Get(stateRootKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		genesis = true
	case err != nil:
		return nil, fmt.Errorf("core: load state root: %w", err)
	default:
		rootBytes = stored
	}
	tr, err := trie.NewTrie(db, rootBytes)
	if err != nil {
		return nil, fmt.Errorf("core: open state: %w", err)
	}

	n := &Node{
		db:      db,
		cfg:     cfg,
		state:   state.NewManager(tr),
		root:    tr.Root(),
		hasher:  hasher,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		logger:  slog.Default(),
		tracer:  otel.Tracer(tracerName),
		metrics: observability.Escrow(),
	}
	if genesis {
		if err := n.applyGenesis(); err != nil {
			return nil, fmt.Errorf("core: genesis: %w", err)
		}
	}
	height, err := n.state.Height()
	if err != nil {
		return nil, err
	}
	n.metrics.SetHeight(height)
	return n, nil
}

func (n *Node) applyGenesis() error {
	for _, asset := range n.cfg.Assets {
		if err := n.state.RegisterToken(asset.Symbol, asset.Name, asset.Decimals); err != nil {
			return err
		}
	}
	for i, alloc := range n.cfg.Genesis {
		addr, err := crypto.ParseRaw(strings.TrimSpace(alloc.Address))
		if err != nil {
			return fmt.Errorf("allocation %d: %w", i, err)
		}
		amount, err := alloc.ParsedAmount()
		if err != nil {
			return fmt.Errorf("allocation %d: %w", i, err)
		}
		if err := n.state.Credit(addr, alloc.Asset, amount); err != nil {
			return fmt.Errorf("allocation %d: %w", i, err)
		}
	}
	if err := n.state.SetHeight(0); err != nil {
		return err
	}
	return n.commit(0)
}

// SetEmitter configures where committed events are published. Passing nil
// disables publication.
func (n *Node) SetEmitter(emitter events.Emitter) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	n.emitter = emitter
}

// SetNowFunc overrides the clock used for stage evaluation and quotas.
func (n *Node) SetNowFunc(now func() int64) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	n.nowFn = now
}

// SetLogger replaces the logger used for call outcomes.
func (n *Node) SetLogger(logger *slog.Logger) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	if logger == nil {
		logger = slog.Default()
	}
	n.logger = logger
}

// SetTracer replaces the tracer that records one span per applied call.
func (n *Node) SetTracer(tracer trace.Tracer) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	n.tracer = tracer
}

func (n *Node) observers() (*slog.Logger, trace.Tracer) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.logger, n.tracer
}

// ChainID returns the chain identifier calls must be signed for.
func (n *Node) ChainID() uint64 { return n.cfg.ChainID }

// Hasher returns the hash used for hashlocks and order hashes.
func (n *Node) Hasher() crypto.Hasher { return n.hasher }

func (n *Node) now() int64 { return n.nowFn() }

func (n *Node) newEscrowEngine(emitter events.Emitter) *htlc.Engine {
	engine := htlc.NewEngine()
	engine.SetState(n.state)
	engine.SetEmitter(emitter)
	engine.SetHasher(n.hasher)
	engine.SetNowFunc(n.nowFn)
	engine.SetRescueDelay(n.cfg.RescueDelay)
	engine.SetAccessToken(n.cfg.AccessToken)
	return engine
}

func (n *Node) newRelayerAuthority(emitter events.Emitter) *relayer.Authority {
	authority := relayer.NewAuthority()
	authority.SetState(n.state)
	authority.SetOracle(n.newEscrowEngine(nil))
	authority.SetEmitter(emitter)
	return authority
}

// Apply authenticates and executes a signed call. Either every effect of the
// call is committed and its events published, or the ledger is left exactly
// as it was.
func (n *Node) Apply(call *types.Call) (*Receipt, error) {
	return n.ApplyContext(context.Background(), call)
}

// ApplyContext is Apply with the span of the call parented to ctx.
func (n *Node) ApplyContext(ctx context.Context, call *types.Call) (*Receipt, error) {
	start := time.Now()
	method := "unknown"
	if call != nil {
		method = call.Type.String()
	}
	logger, tracer := n.observers()
	_, span := tracer.Start(ctx, "core.apply",
		trace.WithAttributes(attribute.String("method", method)))
	defer span.End()

	receipt, err := n.apply(call)
	if err != nil {
		code := ErrorCode(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, code)
		n.metrics.ObserveCall(method, code, time.Since(start))
		logger.Warn("call rejected",
			slog.String("method", method),
			slog.String("code", code),
			slog.String("error", err.Error()))
		return nil, err
	}
	span.SetAttributes(
		attribute.String("order_hash", common.Hash(receipt.OrderHash).Hex()),
		attribute.Int64("height", int64(receipt.Height)))
	span.SetStatus(codes.Ok, "committed")
	n.metrics.ObserveCall(method, "success", time.Since(start))
	logger.Info("call committed",
		slog.String("method", method),
		slog.String("caller", crypto.FormatRaw(receipt.Caller)),
		slog.String("order_hash", common.Hash(receipt.OrderHash).Hex()),
		slog.Uint64("height", receipt.Height))
	return receipt, nil
}

func (n *Node) apply(call *types.Call) (*Receipt, error) {
	if call == nil {
		return nil, fmt.Errorf("%w: nil call", ErrInvalidCall)
	}
	if !call.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown call type %d", ErrInvalidCall, call.Type)
	}
	if call.ChainID != n.cfg.ChainID {
		return nil, fmt.Errorf("%w: chain id %d, expected %d", ErrInvalidCall, call.ChainID, n.cfg.ChainID)
	}
	caller, err := call.From()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCall, err)
	}

	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	nonce, err := n.state.Nonce(caller)
	if err != nil {
		return nil, err
	}
	if call.Nonce != nonce {
		return nil, fmt.Errorf("%w: nonce %d, expected %d", ErrInvalidCall, call.Nonce, nonce)
	}
	module := call.Type.Module()
	if err := nativecommon.Guard(n.cfg, module); err != nil {
		n.metrics.RecordThrottle(module, "paused")
		return nil, fmt.Errorf("%s: %w", module, err)
	}

	snapshot, err := n.state.Snapshot()
	if err != nil {
		return nil, err
	}
	buffer := &events.Buffer{}
	receipt := &Receipt{Caller: caller, Type: call.Type, Nonce: call.Nonce}
	if err := n.execute(call, caller, buffer, receipt); err != nil {
		if revertErr := n.state.RevertToSnapshot(snapshot); revertErr != nil {
			return nil, errors.Join(err, revertErr)
		}
		return nil, err
	}

	height, err := n.finalize(caller, nonce)
	if err != nil {
		return nil, err
	}
	receipt.Height = height
	receipt.StateRoot = n.root
	for _, evt := range buffer.Events() {
		receipt.Events = append(receipt.Events, events.Render(evt))
	}
	buffer.FlushTo(n.emitter, metricsEmitter{metrics: n.metrics})
	n.metrics.SetHeight(height)
	return receipt, nil
}

// finalize advances the caller nonce and the height and commits the trie. A
// failed commit discards the call by reopening the last committed root.
func (n *Node) finalize(caller [20]byte, nonce uint64) (uint64, error) {
	height, err := n.state.Height()
	if err == nil {
		height++
		err = n.state.SetHeight(height)
	}
	if err == nil {
		err = n.state.SetNonce(caller, nonce+1)
	}
	if err == nil {
		err = n.commit(height)
	}
	if err != nil {
		if reopenErr := n.reopen(); reopenErr != nil {
			return 0, errors.Join(err, reopenErr)
		}
		return 0, err
	}
	return height, nil
}

func (n *Node) commit(height uint64) error {
	root, err := n.state.Commit(height)
	if err != nil {
		return err
	}
	if err := n.db.Put(stateRootKey, root.Bytes()); err != nil {
		return err
	}
	n.root = root
	return nil
}

func (n *Node) reopen() error { return n.state.Reset(n.root) }

func (n *Node) execute(call *types.Call, caller [20]byte, emitter events.Emitter, receipt *Receipt) error {
	var (
		value *big.Int
		run   func() error
	)
	engine := n.newEscrowEngine(emitter)
	switch call.Type {
	case types.CallCreateEscrow:
		var args CreateEscrowArgs
		if err := decodeArgs(call, &args); err != nil {
			return err
		}
		value = args.Amount
		run = func() error {
			orderHash, err := engine.Create(caller, args.params(caller))
			receipt.OrderHash = orderHash
			return err
		}
	case types.CallWithdraw, types.CallPublicWithdraw:
		var args WithdrawArgs
		if err := decodeArgs(call, &args); err != nil {
			return err
		}
		receipt.OrderHash = args.OrderHash
		run = func() error {
			if call.Type == types.CallPublicWithdraw {
				return engine.PublicWithdraw(caller, args.OrderHash, args.fill())
			}
			return engine.Withdraw(caller, args.OrderHash, args.fill())
		}
	case types.CallCancel, types.CallPublicCancel:
		var args CancelArgs
		if err := decodeArgs(call, &args); err != nil {
			return err
		}
		receipt.OrderHash = args.OrderHash
		run = func() error {
			if call.Type == types.CallPublicCancel {
				return engine.PublicCancel(caller, args.OrderHash)
			}
			return engine.Cancel(caller, args.OrderHash)
		}
	case types.CallRescue:
		var args RescueArgs
		if err := decodeArgs(call, &args); err != nil {
			return err
		}
		receipt.OrderHash = args.OrderHash
		run = func() error { return engine.Rescue(caller, args.OrderHash, args.Asset, args.Amount) }
	case types.CallRelayerInit:
		var args RelayerAdminArgs
		if err := decodeArgs(call, &args); err != nil {
			return err
		}
		run = func() error { return n.newRelayerAuthority(emitter).Initialize(caller, args.Admin) }
	case types.CallRelayerAdd, types.CallRelayerRemove:
		var args RelayerMemberArgs
		if err := decodeArgs(call, &args); err != nil {
			return err
		}
		run = func() error {
			authority := n.newRelayerAuthority(emitter)
			if call.Type == types.CallRelayerAdd {
				return authority.AddRelayer(caller, args.Admin, args.Relayer)
			}
			return authority.RemoveRelayer(caller, args.Admin, args.Relayer)
		}
	case types.CallSecretShared:
		var args SecretSharedArgs
		if err := decodeArgs(call, &args); err != nil {
			return err
		}
		receipt.OrderHash = args.OrderHash
		run = func() error {
			return n.newRelayerAuthority(emitter).EmitSecretShared(caller, args.Relayer, args.Admin, args.EscrowRef, args.OrderHash, args.PartIndex)
		}
	default:
		return fmt.Errorf("%w: unsupported call type %d", ErrInvalidCall, call.Type)
	}
	if err := n.chargeQuota(call.Type.Module(), caller, value); err != nil {
		return err
	}
	return run()
}

// chargeQuota counts the call, and the value it locks, against the caller's
// quota for module. Counters live in state so a rejected call does not
// consume quota.
func (n *Node) chargeQuota(module string, caller [20]byte, value *big.Int) error {
	limits, ok := n.cfg.Quotas[module]
	if !ok || !limits.Enabled() {
		return nil
	}
	quota := nativecommon.Quota{
		MaxCallsPerEpoch: limits.MaxCallsPerEpoch,
		MaxValuePerEpoch: limits.MaxValuePerEpoch,
		EpochSeconds:     limits.EpochSeconds,
	}
	var addValue uint64
	if value != nil && value.Sign() > 0 {
		addValue = math.MaxUint64
		if value.IsUint64() {
			addValue = value.Uint64()
		}
	}
	prev, err := n.state.QuotaGet(module, caller)
	if err != nil {
		return err
	}
	next, err := nativecommon.CheckQuota(quota, quota.Epoch(n.now()), prev, 1, addValue)
	if err != nil {
		n.metrics.RecordThrottle(module, "quota_exceeded")
		return fmt.Errorf("%s: %w", module, err)
	}
	return n.state.QuotaPut(module, caller, next)
}

// ErrorCode extends htlc.ErrorCode with the host's own error classes.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCall):
		return "invalid_call"
	case errors.Is(err, nativecommon.ErrModulePaused):
		return "module_paused"
	case errors.Is(err, nativecommon.ErrQuotaCallsExceeded),
		errors.Is(err, nativecommon.ErrQuotaValueExceeded),
		errors.Is(err, nativecommon.ErrQuotaCounterOverflow):
		return "quota_exceeded"
	default:
		return htlc.ErrorCode(err)
	}
}

type metricsEmitter struct {
	metrics *observability.EscrowMetrics
}

func (m metricsEmitter) Emit(evt events.Event) {
	rendered := events.Render(evt)
	if rendered == nil {
		return
	}
	observability.Events().RecordEvent(rendered.Type, rendered.Attributes["asset"])
	if rendered.Type == events.TypeSecretShared {
		m.metrics.RecordSecretShared()
	}
}
