package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"farmnet/crypto"
	"farmnet/native/farming"
)

// Config is the farmd node configuration.
type Config struct {
	RPCAddress    string   `toml:"RPCAddress"`
	DataDir       string   `toml:"DataDir"`
	GenesisFile   string   `toml:"GenesisFile"`
	NetworkName   string   `toml:"NetworkName"`
	PausedModules []string `toml:"PausedModules,omitempty"`

	Farming FarmingConfig `toml:"Farming"`
}

// FarmingConfig is the on-disk form of farming.Params. Amounts are decimal
// strings and addresses bech32, so deployment files stay hand-editable.
type FarmingConfig struct {
	CreationFee           string   `toml:"CreationFee"`
	FeeToken              string   `toml:"FeeToken"`
	HarvestFeeNumerator   uint64   `toml:"HarvestFeeNumerator"`
	HarvestFeeDenominator uint64   `toml:"HarvestFeeDenominator"`
	FeeCollector          string   `toml:"FeeCollector"`
	FeeExemptTokens       []string `toml:"FeeExemptTokens,omitempty"`
	ReservedTokens        []string `toml:"ReservedTokens,omitempty"`
	PermittedCreators     []string `toml:"PermittedCreators,omitempty"`
}

// Load reads the configuration from path, writing a commented default file
// when none exists yet so a fresh checkout boots without manual setup.
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
		return nil, fmt.Errorf("config file %s contains unknown key %s", path, undecoded[0].String())
	}

	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "farmnet-local"
	}
	if cfg.PausedModules == nil {
		cfg.PausedModules = []string{}
	}
	return cfg, nil
}

// Params converts the farming section into the engine's parameter structure.
// The returned set is not yet validated; callers run farming.Params.Validate
// (the node does this on construction).
func (c *FarmingConfig) Params() (farming.Params, error) {
	fee := big.NewInt(0)
	if trimmed := strings.TrimSpace(c.CreationFee); trimmed != "" {
		parsed, ok := new(big.Int).SetString(trimmed, 10)
		if !ok {
			return farming.Params{}, fmt.Errorf("config: invalid CreationFee %q", c.CreationFee)
		}
		fee = parsed
	}

	collector, err := crypto.DecodeAddress(strings.TrimSpace(c.FeeCollector))
	if err != nil {
		return farming.Params{}, fmt.Errorf("config: invalid FeeCollector: %w", err)
	}

	creators := make([][20]byte, 0, len(c.PermittedCreators))
	for _, raw := range c.PermittedCreators {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
		if err != nil {
			return farming.Params{}, fmt.Errorf("config: invalid permitted creator %q: %w", raw, err)
		}
		creators = append(creators, addr.Bytes20())
	}

	return farming.Params{
		CreationFee:           fee,
		FeeToken:              c.FeeToken,
		HarvestFeeNumerator:   c.HarvestFeeNumerator,
		HarvestFeeDenominator: c.HarvestFeeDenominator,
		FeeCollector:          collector.Bytes20(),
		FeeExemptTokens:       append([]string(nil), c.FeeExemptTokens...),
		ReservedTokens:        append([]string(nil), c.ReservedTokens...),
		PermittedCreators:     creators,
		Version:               farming.ParamsVersion,
	}, nil
}

// Pauses converts the paused module list into the host's pause set.
func (c *Config) Pauses() map[string]bool {
	paused := make(map[string]bool, len(c.PausedModules))
	for _, module := range c.PausedModules {
		trimmed := strings.TrimSpace(module)
		if trimmed != "" {
			paused[trimmed] = true
		}
	}
	return paused
}

// createDefault creates and saves a default configuration file. The fee
// collector is seeded with a freshly generated address so the file is valid
// out of the box; operators replace it before any real deployment.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCAddress:    ":8645",
		DataDir:       "./farmnet-data",
		GenesisFile:   "./genesis.json",
		NetworkName:   "farmnet-local",
		PausedModules: []string{},
		Farming: FarmingConfig{
			CreationFee:           "5000",
			FeeToken:              "FEE",
			HarvestFeeNumerator:   1,
			HarvestFeeDenominator: 100,
			FeeCollector:          key.PubKey().Address().String(),
		},
	}

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
