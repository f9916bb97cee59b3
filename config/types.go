package config

import (
	"fmt"
	"math/big"
	"strings"
)

// Asset registers a ledger asset at genesis.
type Asset struct {
	Symbol   string `toml:"Symbol"`
	Name     string `toml:"Name"`
	Decimals uint8  `toml:"Decimals"`
}

// Allocation credits Amount base units of Asset to Address at genesis.
type Allocation struct {
	Address string `toml:"Address"`
	Asset   string `toml:"Asset"`
	Amount  string `toml:"Amount"`
}

// ParsedAmount returns the allocation amount as an integer.
func (a Allocation) ParsedAmount() (*big.Int, error) {
	return parseUintAmount(a.Amount)
}

// Quota limits how often, and for how much value, a single caller may invoke a
// module within one epoch. Zero fields are unlimited.
type Quota struct {
	MaxCallsPerEpoch uint32 `toml:"MaxCallsPerEpoch"`
	MaxValuePerEpoch uint64 `toml:"MaxValuePerEpoch"`
	EpochSeconds     uint32 `toml:"EpochSeconds"`
}

// Enabled reports whether the quota imposes any limit.
func (q Quota) Enabled() bool {
	return q.EpochSeconds > 0 && (q.MaxCallsPerEpoch > 0 || q.MaxValuePerEpoch > 0)
}

func parseUintAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}
