package config

import (
	"fmt"
	"strings"

	"swapchain/crypto"
)

// Validate rejects configurations the node cannot start with.
func (c *Config) Validate() error {
	if c.ChainID == 0 {
		return fmt.Errorf("config: ChainID must be positive")
	}
	if _, err := crypto.HasherByName(c.Hasher); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.RescueDelay < 0 {
		return fmt.Errorf("config: RescueDelay must not be negative")
	}
	for _, module := range c.PausedModules {
		if !knownModule(module) {
			return fmt.Errorf("config: unknown paused module %q", module)
		}
	}
	for module := range c.Quotas {
		if !knownModule(module) {
			return fmt.Errorf("config: quota for unknown module %q", module)
		}
	}

	assets := make(map[string]struct{}, len(c.Assets))
	for _, asset := range c.Assets {
		symbol := strings.ToUpper(strings.TrimSpace(asset.Symbol))
		if symbol == "" {
			return fmt.Errorf("config: asset symbol must not be empty")
		}
		if strings.TrimSpace(asset.Name) == "" {
			return fmt.Errorf("config: asset %s: name must not be empty", symbol)
		}
		if _, dup := assets[symbol]; dup {
			return fmt.Errorf("config: duplicate asset %s", symbol)
		}
		assets[symbol] = struct{}{}
	}
	if token := strings.ToUpper(strings.TrimSpace(c.AccessToken)); token != "" {
		if _, ok := assets[token]; !ok {
			return fmt.Errorf("config: access token %s is not a registered asset", token)
		}
	}

	for i, alloc := range c.Genesis {
		if _, err := crypto.ParseRaw(strings.TrimSpace(alloc.Address)); err != nil {
			return fmt.Errorf("config: genesis[%d]: address: %w", i, err)
		}
		if _, ok := assets[strings.ToUpper(strings.TrimSpace(alloc.Asset))]; !ok {
			return fmt.Errorf("config: genesis[%d]: unknown asset %q", i, alloc.Asset)
		}
		if _, err := alloc.ParsedAmount(); err != nil {
			return fmt.Errorf("config: genesis[%d]: %w", i, err)
		}
	}
	return nil
}

func knownModule(module string) bool {
	switch strings.ToLower(strings.TrimSpace(module)) {
	case ModuleHTLC, ModuleRelayer:
		return true
	default:
		return false
	}
}
