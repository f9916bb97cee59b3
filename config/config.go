package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"swapchain/crypto"
)

// Module names accepted by PausedModules and Quotas.
const (
	ModuleHTLC    = "htlc"
	ModuleRelayer = "relayer"
)

type Config struct {
	DataDir       string           `toml:"DataDir"`
	ChainID       uint64           `toml:"ChainID"`
	Hasher        string           `toml:"Hasher"`
	RescueDelay   time.Duration    `toml:"RescueDelay"`
	AccessToken   string           `toml:"AccessToken"`
	LogFile       string           `toml:"LogFile"`
	PausedModules []string         `toml:"PausedModules"`
	Assets        []Asset          `toml:"Assets"`
	Genesis       []Allocation     `toml:"Genesis"`
	Quotas        map[string]Quota `toml:"Quotas"`
}

// Default returns the configuration written when no file exists.
func Default() *Config {
	return &Config{
		DataDir:       "./swap-data",
		ChainID:       1,
		Hasher:        crypto.HasherKeccak256,
		RescueDelay:   30 * 24 * time.Hour,
		PausedModules: []string{},
		Assets:        []Asset{},
		Genesis:       []Allocation{},
	}
}

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./swap-data"
	}
	if strings.TrimSpace(cfg.Hasher) == "" {
		cfg.Hasher = crypto.HasherKeccak256
	}
	if cfg.PausedModules == nil {
		cfg.PausedModules = []string{}
	}
	for i := range cfg.PausedModules {
		cfg.PausedModules[i] = strings.ToLower(strings.TrimSpace(cfg.PausedModules[i]))
	}
}

// IsPaused reports whether module is listed in PausedModules.
func (c *Config) IsPaused(module string) bool {
	if c == nil {
		return false
	}
	module = strings.ToLower(strings.TrimSpace(module))
	for _, paused := range c.PausedModules {
		if paused == module {
			return true
		}
	}
	return false
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
