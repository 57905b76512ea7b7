package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"escrowd/crypto"
)

// Allocation seeds an account balance at first start. Balances are decimal
// strings in the currency's smallest unit.
type Allocation struct {
	Address string `toml:"Address"`
	Balance string `toml:"Balance"`
}

type Config struct {
	RPCAddress       string       `toml:"RPCAddress"`
	RegistryAddress  string       `toml:"RegistryAddress"`
	DataDir          string       `toml:"DataDir"`
	NetworkName      string       `toml:"NetworkName"`
	WithdrawPolicy   string       `toml:"WithdrawPolicy"`
	EventLogCapacity int          `toml:"EventLogCapacity"`
	PausedModules    []string     `toml:"PausedModules"`
	Allocations      []Allocation `toml:"Allocations"`
}

const (
	defaultRPCAddress       = ":8646"
	defaultRegistryAddress  = ":8647"
	defaultDataDir          = "./escrowd-data"
	defaultNetworkName      = "escrow-local"
	defaultEventLogCapacity = 4096

	// WithdrawPolicyReject aborts zero-balance withdrawals; WithdrawPolicyAllow
	// lets them succeed as a zero transfer.
	WithdrawPolicyReject = "reject"
	WithdrawPolicyAllow  = "allow"
)

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s contains unknown keys: %v", path, undecoded)
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = defaultRPCAddress
	}
	if strings.TrimSpace(cfg.RegistryAddress) == "" {
		cfg.RegistryAddress = defaultRegistryAddress
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = defaultDataDir
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = defaultNetworkName
	}
	if strings.TrimSpace(cfg.WithdrawPolicy) == "" {
		cfg.WithdrawPolicy = WithdrawPolicyReject
	}
	if cfg.EventLogCapacity == 0 {
		cfg.EventLogCapacity = defaultEventLogCapacity
	}
	if cfg.PausedModules == nil {
		cfg.PausedModules = []string{}
	}
}

// Validate checks field values that cannot be defaulted into shape.
func (c *Config) Validate() error {
	switch c.WithdrawPolicy {
	case WithdrawPolicyReject, WithdrawPolicyAllow:
	default:
		return fmt.Errorf("config: WithdrawPolicy must be %q or %q, got %q", WithdrawPolicyReject, WithdrawPolicyAllow, c.WithdrawPolicy)
	}
	if c.EventLogCapacity < 0 {
		return fmt.Errorf("config: EventLogCapacity must be non-negative")
	}
	if _, err := c.GenesisBalances(); err != nil {
		return err
	}
	return nil
}

// GenesisBalances parses the configured allocations into address/amount
// pairs.
func (c *Config) GenesisBalances() (map[[20]byte]*big.Int, error) {
	out := make(map[[20]byte]*big.Int, len(c.Allocations))
	for _, alloc := range c.Allocations {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(alloc.Address))
		if err != nil {
			return nil, fmt.Errorf("config: allocation address %q: %w", alloc.Address, err)
		}
		balance, ok := new(big.Int).SetString(strings.TrimSpace(alloc.Balance), 10)
		if !ok || balance.Sign() < 0 {
			return nil, fmt.Errorf("config: allocation balance %q must be a non-negative decimal", alloc.Balance)
		}
		key := addr.Array()
		if existing, dup := out[key]; dup {
			balance = new(big.Int).Add(existing, balance)
		}
		out[key] = balance
	}
	return out, nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
