package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"swapchain/cmd/internal/passphrase"
	"swapchain/crypto"
	"swapchain/native/htlc"
)

const defaultPassEnv = "SWAP_KEYSTORE_PASS"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "keygen":
		return runKeygen(args[1:], stdout, stderr)
	case "address":
		return runAddress(args[1:], stdout, stderr)
	case "hashlock":
		return runHashlock(args[1:], stdout, stderr)
	case "merkle":
		return runMerkle(args[1:], stdout, stderr)
	case "order-hash":
		return runOrderHash(args[1:], stdout, stderr)
	case "sign":
		return runSign(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return strings.TrimSpace(`
Usage: swapctl <command> [flags]

Commands:
  keygen      generate a key and write it to an encrypted keystore
  address     print the address held by a keystore
  hashlock    hash a secret into a hashlock
  merkle      build a multi-part root and per-part proofs from secrets
  order-hash  compute the order hash of escrow parameters
  sign        build and sign a call for escrowd

The keystore passphrase is read from $` + defaultPassEnv + ` (or the variable named by
--pass-env) and prompted for on a terminal otherwise.`)
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func printError(stderr io.Writer, msg string) int {
	fmt.Fprintf(stderr, "Error: %s\n", msg)
	return 1
}

func printJSON(stdout io.Writer, v interface{}) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return 1
	}
	return 0
}

func resolvePassphrase(envName string) (string, error) {
	if strings.TrimSpace(envName) == "" {
		return "", errors.New("--pass-env must not be empty")
	}
	return passphrase.NewSource(envName, "keystore").Get()
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keygen", stderr)
	out := fs.String("out", "swap.keystore", "output keystore path")
	passEnv := fs.String("pass-env", defaultPassEnv, "environment variable holding the keystore passphrase")
	force := fs.Bool("force", false, "overwrite an existing keystore")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if !*force {
		if _, err := os.Stat(*out); err == nil {
			return printError(stderr, fmt.Sprintf("%s already exists (use --force to overwrite)", *out))
		}
	}
	pass, err := resolvePassphrase(*passEnv)
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, fmt.Sprintf("generate key: %v", err))
	}
	addr, err := crypto.WriteKeystore(*out, key, pass)
	if err != nil {
		return printError(stderr, fmt.Sprintf("write keystore: %v", err))
	}
	return printJSON(stdout, map[string]string{"address": addr.String(), "keystore": *out})
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("address", stderr)
	path := fs.String("keystore", "swap.keystore", "keystore path")
	passEnv := fs.String("pass-env", defaultPassEnv, "environment variable holding the keystore passphrase")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := loadKey(*path, *passEnv)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, key.PubKey().Address().String())
	return 0
}

func loadKey(path, passEnv string) (*crypto.PrivateKey, error) {
	pass, err := resolvePassphrase(passEnv)
	if err != nil {
		return nil, err
	}
	key, err := crypto.ReadKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}
	return key, nil
}

func runHashlock(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("hashlock", stderr)
	secret := fs.String("secret", "", "secret as 0x-hex or plain text")
	hasherName := fs.String("hasher", crypto.HasherKeccak256, "hash function (keccak256 or blake3)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *secret == "" {
		return printError(stderr, "--secret is required")
	}
	hasher, err := crypto.HasherByName(*hasherName)
	if err != nil {
		return printError(stderr, err.Error())
	}
	raw, err := parseSecret(*secret)
	if err != nil {
		return printError(stderr, err.Error())
	}
	lock := hasher.Sum(raw)
	fmt.Fprintln(stdout, hexutil.Encode(lock[:]))
	return 0
}

type merkleOutput struct {
	Root   string     `json:"root"`
	Parts  int        `json:"parts"`
	Leaves []string   `json:"leaves"`
	Proofs [][]string `json:"proofs"`
}

func runMerkle(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("merkle", stderr)
	secrets := fs.String("secrets", "", "comma separated part secrets, in fill order")
	hasherName := fs.String("hasher", crypto.HasherKeccak256, "hash function (keccak256 or blake3)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*secrets) == "" {
		return printError(stderr, "--secrets is required")
	}
	hasher, err := crypto.HasherByName(*hasherName)
	if err != nil {
		return printError(stderr, err.Error())
	}
	var leaves [][32]byte
	for _, item := range strings.Split(*secrets, ",") {
		raw, err := parseSecret(strings.TrimSpace(item))
		if err != nil {
			return printError(stderr, err.Error())
		}
		leaves = append(leaves, htlc.LeafHash(hasher, raw))
	}
	root, proofs, err := htlc.BuildMerkleTree(hasher, leaves)
	if err != nil {
		return printError(stderr, err.Error())
	}
	out := merkleOutput{Root: hexutil.Encode(root[:]), Parts: len(leaves)}
	for i, leaf := range leaves {
		out.Leaves = append(out.Leaves, hexutil.Encode(leaf[:]))
		proof := make([]string, 0, len(proofs[i]))
		for _, sibling := range proofs[i] {
			proof = append(proof, hexutil.Encode(sibling[:]))
		}
		out.Proofs = append(out.Proofs, proof)
	}
	return printJSON(stdout, out)
}

func runOrderHash(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("order-hash", stderr)
	var (
		maker, taker, asset, amount, hashlock, offsets, side, merkleRoot, hasherName string
		parts                                                                        uint
	)
	fs.StringVar(&maker, "maker", "", "maker address")
	fs.StringVar(&taker, "taker", "", "taker address")
	fs.StringVar(&asset, "asset", "", "asset symbol")
	fs.StringVar(&amount, "amount", "", "escrow amount in base units")
	fs.StringVar(&hashlock, "hashlock", "", "0x-prefixed hashlock")
	fs.StringVar(&offsets, "offsets", "", "comma separated timelock offsets in seconds")
	fs.StringVar(&side, "side", "src", "escrow side (src or dst)")
	fs.StringVar(&merkleRoot, "merkle-root", "", "optional multi-part root")
	fs.UintVar(&parts, "parts", 0, "number of parts for multi-part fills")
	fs.StringVar(&hasherName, "hasher", crypto.HasherKeccak256, "hash function (keccak256 or blake3)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	hasher, err := crypto.HasherByName(hasherName)
	if err != nil {
		return printError(stderr, err.Error())
	}
	params := htlc.OrderParams{Asset: asset, Parts: uint32(parts)}
	if params.Maker, err = parseAddressFlag("maker", maker); err != nil {
		return printError(stderr, err.Error())
	}
	if params.Taker, err = parseAddressFlag("taker", taker); err != nil {
		return printError(stderr, err.Error())
	}
	if params.Amount, err = parseAmountFlag("amount", amount); err != nil {
		return printError(stderr, err.Error())
	}
	if params.HashLock, err = parseHashFlag("hashlock", hashlock, true); err != nil {
		return printError(stderr, err.Error())
	}
	if params.MerkleRoot, err = parseHashFlag("merkle-root", merkleRoot, false); err != nil {
		return printError(stderr, err.Error())
	}
	if params.Offsets, err = parseOffsets(offsets); err != nil {
		return printError(stderr, err.Error())
	}
	if params.Side, err = htlc.ParseSide(side); err != nil {
		return printError(stderr, err.Error())
	}
	hash, err := htlc.OrderHash(hasher, params)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, hexutil.Encode(hash[:]))
	return 0
}

func parseSecret(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("secret must not be empty")
	}
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		raw, err := hexutil.Decode("0x" + value[2:])
		if err != nil {
			return nil, fmt.Errorf("secret: %v", err)
		}
		return raw, nil
	}
	return []byte(value), nil
}

func parseAddressFlag(name, value string) ([20]byte, error) {
	if strings.TrimSpace(value) == "" {
		return [20]byte{}, fmt.Errorf("--%s is required", name)
	}
	addr, err := crypto.ParseRaw(strings.TrimSpace(value))
	if err != nil {
		return addr, fmt.Errorf("--%s: %v", name, err)
	}
	return addr, nil
}

func parseAmountFlag(name, value string) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("--%s is required", name)
	}
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("--%s must be a non-negative integer", name)
	}
	return amount, nil
}

func parseHashFlag(name, value string, required bool) ([32]byte, error) {
	var out [32]byte
	value = strings.TrimSpace(value)
	if value == "" {
		if required {
			return out, fmt.Errorf("--%s is required", name)
		}
		return out, nil
	}
	raw, err := hexutil.Decode(value)
	if err != nil || len(raw) != len(out) {
		return out, fmt.Errorf("--%s must be 32 0x-prefixed hex bytes", name)
	}
	copy(out[:], raw)
	return out, nil
}

func parseOffsets(value string) ([]uint64, error) {
	if strings.TrimSpace(value) == "" {
		return nil, errors.New("--offsets is required")
	}
	fields := strings.Split(value, ",")
	offsets := make([]uint64, 0, len(fields))
	for _, field := range fields {
		off, err := strconv.ParseUint(strings.TrimSpace(field), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("--offsets: invalid value %q", field)
		}
		offsets = append(offsets, off)
	}
	return offsets, nil
}
