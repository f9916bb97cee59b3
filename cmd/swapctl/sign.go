package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"swapchain/core"
	"swapchain/core/types"
	"swapchain/native/htlc"
)

var httpClient = &http.Client{Timeout: 15 * time.Second}

var callKinds = map[string]types.CallType{
	"create":          types.CallCreateEscrow,
	"withdraw":        types.CallWithdraw,
	"public-withdraw": types.CallPublicWithdraw,
	"cancel":          types.CallCancel,
	"public-cancel":   types.CallPublicCancel,
	"rescue":          types.CallRescue,
	"relayer-init":    types.CallRelayerInit,
	"relayer-add":     types.CallRelayerAdd,
	"relayer-remove":  types.CallRelayerRemove,
	"secret-shared":   types.CallSecretShared,
}

type signFlags struct {
	keystore string
	passEnv  string
	submit   string
	chainID  uint64
	nonce    uint64

	taker    string
	asset    string
	amount   string
	deposit  string
	hashlock string
	offsets  string
	side     string
	root     string
	parts    uint

	orderHash string
	secret    string
	proof     string
	fillIndex uint

	admin     string
	relayer   string
	escrowRef string
	partIndex uint
}

const signKinds = "create|withdraw|public-withdraw|cancel|public-cancel|rescue|relayer-init|relayer-add|relayer-remove|secret-shared"

func signUsage() string {
	return "Usage: swapctl sign <" + signKinds + "> [flags]"
}

func runSign(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, signUsage())
		return 1
	}
	callType, ok := callKinds[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "Unknown call kind: %s\n", args[0])
		fmt.Fprintln(stderr, signUsage())
		return 1
	}

	var f signFlags
	fs := newFlagSet("sign "+args[0], stderr)
	fs.StringVar(&f.keystore, "keystore", "swap.keystore", "keystore of the signing account")
	fs.StringVar(&f.passEnv, "pass-env", defaultPassEnv, "environment variable holding the keystore passphrase")
	fs.StringVar(&f.submit, "submit", "", "escrowd base URL; when set the signed call is submitted")
	fs.Uint64Var(&f.chainID, "chain-id", 1, "chain identifier")
	fs.Uint64Var(&f.nonce, "nonce", 0, "signer nonce")
	fs.StringVar(&f.taker, "taker", "", "taker address (create)")
	fs.StringVar(&f.asset, "asset", "", "asset symbol (create, rescue)")
	fs.StringVar(&f.amount, "amount", "", "amount in base units (create, rescue)")
	fs.StringVar(&f.deposit, "safety-deposit", "0", "safety deposit in base units (create)")
	fs.StringVar(&f.hashlock, "hashlock", "", "0x-prefixed hashlock (create)")
	fs.StringVar(&f.offsets, "offsets", "", "comma separated timelock offsets (create)")
	fs.StringVar(&f.side, "side", "src", "escrow side (create)")
	fs.StringVar(&f.root, "merkle-root", "", "multi-part root (create)")
	fs.UintVar(&f.parts, "parts", 0, "number of parts (create)")
	fs.StringVar(&f.orderHash, "order-hash", "", "0x-prefixed order hash")
	fs.StringVar(&f.secret, "secret", "", "secret as 0x-hex or plain text (withdraw)")
	fs.StringVar(&f.proof, "proof", "", "comma separated proof hashes (withdraw)")
	fs.UintVar(&f.fillIndex, "fill-index", 0, "part index being filled (withdraw)")
	fs.StringVar(&f.admin, "admin", "", "relayer set admin")
	fs.StringVar(&f.relayer, "relayer", "", "relayer address")
	fs.StringVar(&f.escrowRef, "escrow-ref", "", "0x-prefixed escrow reference (secret-shared)")
	fs.UintVar(&f.partIndex, "part-index", 0, "revealed part index (secret-shared)")
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printError(stderr, "unexpected positional arguments")
	}

	payload, err := buildPayload(callType, &f)
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := loadKey(f.keystore, f.passEnv)
	if err != nil {
		return printError(stderr, err.Error())
	}
	call, err := core.NewCall(f.chainID, callType, f.nonce, payload)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if err := call.Sign(key.PrivateKey); err != nil {
		return printError(stderr, fmt.Sprintf("sign call: %v", err))
	}
	if f.submit == "" {
		return printJSON(stdout, call)
	}
	body, err := submitCall(f.submit, call)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, strings.TrimSpace(string(body)))
	return 0
}

func buildPayload(callType types.CallType, f *signFlags) (interface{}, error) {
	var err error
	switch callType {
	case types.CallCreateEscrow:
		args := &core.CreateEscrowArgs{Asset: f.asset, Parts: uint32(f.parts)}
		if args.Taker, err = parseAddressFlag("taker", f.taker); err != nil {
			return nil, err
		}
		if args.Amount, err = parseAmountFlag("amount", f.amount); err != nil {
			return nil, err
		}
		if args.SafetyDeposit, err = parseAmountFlag("safety-deposit", f.deposit); err != nil {
			return nil, err
		}
		if args.HashLock, err = parseHashFlag("hashlock", f.hashlock, true); err != nil {
			return nil, err
		}
		if args.MerkleRoot, err = parseHashFlag("merkle-root", f.root, false); err != nil {
			return nil, err
		}
		if args.Offsets, err = parseOffsets(f.offsets); err != nil {
			return nil, err
		}
		side, err := htlc.ParseSide(f.side)
		if err != nil {
			return nil, err
		}
		args.Side = uint8(side)
		return args, nil
	case types.CallWithdraw, types.CallPublicWithdraw:
		args := &core.WithdrawArgs{FillIndex: uint32(f.fillIndex), Proof: [][32]byte{}}
		if args.OrderHash, err = parseHashFlag("order-hash", f.orderHash, true); err != nil {
			return nil, err
		}
		if args.Secret, err = parseSecret(f.secret); err != nil {
			return nil, err
		}
		if strings.TrimSpace(f.proof) != "" {
			for _, item := range strings.Split(f.proof, ",") {
				sibling, err := parseHashFlag("proof", item, true)
				if err != nil {
					return nil, err
				}
				args.Proof = append(args.Proof, sibling)
			}
		}
		return args, nil
	case types.CallCancel, types.CallPublicCancel:
		args := &core.CancelArgs{}
		if args.OrderHash, err = parseHashFlag("order-hash", f.orderHash, true); err != nil {
			return nil, err
		}
		return args, nil
	case types.CallRescue:
		args := &core.RescueArgs{Asset: f.asset}
		if args.OrderHash, err = parseHashFlag("order-hash", f.orderHash, true); err != nil {
			return nil, err
		}
		if args.Amount, err = parseAmountFlag("amount", f.amount); err != nil {
			return nil, err
		}
		return args, nil
	case types.CallRelayerInit:
		args := &core.RelayerAdminArgs{}
		if args.Admin, err = parseAddressFlag("admin", f.admin); err != nil {
			return nil, err
		}
		return args, nil
	case types.CallRelayerAdd, types.CallRelayerRemove:
		args := &core.RelayerMemberArgs{}
		if args.Admin, err = parseAddressFlag("admin", f.admin); err != nil {
			return nil, err
		}
		if args.Relayer, err = parseAddressFlag("relayer", f.relayer); err != nil {
			return nil, err
		}
		return args, nil
	case types.CallSecretShared:
		args := &core.SecretSharedArgs{PartIndex: uint32(f.partIndex)}
		if args.Admin, err = parseAddressFlag("admin", f.admin); err != nil {
			return nil, err
		}
		if args.Relayer, err = parseAddressFlag("relayer", f.relayer); err != nil {
			return nil, err
		}
		if args.EscrowRef, err = parseHashFlag("escrow-ref", f.escrowRef, true); err != nil {
			return nil, err
		}
		if args.OrderHash, err = parseHashFlag("order-hash", f.orderHash, true); err != nil {
			return nil, err
		}
		return args, nil
	default:
		return nil, fmt.Errorf("unsupported call type %s", callType)
	}
}

func submitCall(baseURL string, call *types.Call) ([]byte, error) {
	payload, err := json.Marshal(call)
	if err != nil {
		return nil, err
	}
	endpoint := strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/v1/calls"
	resp, err := httpClient.Post(endpoint, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("submit call: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != "" {
			return nil, fmt.Errorf("escrowd rejected call (%d %s): %s", resp.StatusCode, apiErr.Code, apiErr.Message)
		}
		return nil, fmt.Errorf("escrowd returned %s", resp.Status)
	}
	return body, nil
}
