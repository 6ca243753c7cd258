// Package config loads node configuration from a file, TOLSTAKE_* environment
// variables and command-line flags, in increasing order of precedence.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tolelom/tolstake/logger"
	"github.com/tolelom/tolstake/stakepool"
)

// EnvPrefix prefixes every environment override, e.g. TOLSTAKE_RPC_PORT.
const EnvPrefix = "TOLSTAKE"

// GenesisCollectible is a collectible minted into Owner's custody at genesis.
type GenesisCollectible struct {
	Name  string `json:"name" mapstructure:"name"`
	Owner string `json:"owner" mapstructure:"owner"` // pubkey hex
}

// GenesisConfig describes the chain's initial state.
type GenesisConfig struct {
	ChainID      string               `json:"chain_id" mapstructure:"chain_id"`
	Timestamp    int64                `json:"timestamp" mapstructure:"timestamp"` // unix seconds; fixes the genesis block time
	Alloc        map[string]uint64    `json:"alloc" mapstructure:"alloc"` // pubkey hex → native balance
	Collectibles []GenesisCollectible `json:"collectibles" mapstructure:"collectibles"`
}

// Config holds all node configuration.
type Config struct {
	NodeID        string           `json:"node_id" mapstructure:"node_id"`
	DataDir       string           `json:"data_dir" mapstructure:"data_dir"`
	RPCPort       int              `json:"rpc_port" mapstructure:"rpc_port"`
	RPCAuthToken  string           `json:"rpc_auth_token" mapstructure:"rpc_auth_token"` // empty → no auth
	Metrics       bool             `json:"metrics" mapstructure:"metrics"`               // serve /metrics on the RPC port
	BlockInterval time.Duration    `json:"block_interval" mapstructure:"block_interval"`
	MaxBlockTxs   int              `json:"max_block_txs" mapstructure:"max_block_txs"` // max transactions per block; 0 → 500
	Validators    []string         `json:"validators" mapstructure:"validators"`       // authorised proposer pubkey hexes
	Log           logger.Config    `json:"log" mapstructure:"log"`
	Staking       stakepool.Params `json:"staking" mapstructure:"staking"`
	Genesis       GenesisConfig    `json:"genesis" mapstructure:"genesis"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:        "node0",
		DataDir:       "./data",
		RPCPort:       8545,
		Metrics:       true,
		BlockInterval: 2 * time.Second,
		MaxBlockTxs:   500,
		Log:           logger.DefaultConfig(),
		Staking:       stakepool.DefaultParams(),
		Genesis: GenesisConfig{
			ChainID: "tolstake-dev",
			Alloc:   map[string]uint64{},
		},
	}
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"node-id":        "node_id",
	"data-dir":       "data_dir",
	"rpc-port":       "rpc_port",
	"rpc-auth-token": "rpc_auth_token",
	"metrics":        "metrics",
	"block-interval": "block_interval",
	"max-block-txs":  "max_block_txs",
	"validators":     "validators",
	"log-level":      "log.level",
	"log-file":       "log.file",
	"chain-id":       "genesis.chain_id",
}

// Load merges defaults, the config file at path (optional when empty),
// environment variables and flags into a Config.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v, DefaultConfig())

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Genesis.Alloc == nil {
		cfg.Genesis.Alloc = map[string]uint64{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every leaf of def so that environment variables can
// override keys that appear in no config file.
func setDefaults(v *viper.Viper, def *Config) {
	v.SetDefault("node_id", def.NodeID)
	v.SetDefault("data_dir", def.DataDir)
	v.SetDefault("rpc_port", def.RPCPort)
	v.SetDefault("rpc_auth_token", def.RPCAuthToken)
	v.SetDefault("metrics", def.Metrics)
	v.SetDefault("block_interval", def.BlockInterval)
	v.SetDefault("max_block_txs", def.MaxBlockTxs)
	v.SetDefault("validators", def.Validators)

	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.file", def.Log.File)
	v.SetDefault("log.max_size_mb", def.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", def.Log.MaxBackups)
	v.SetDefault("log.max_age_days", def.Log.MaxAgeDays)
	v.SetDefault("log.compress", def.Log.Compress)

	v.SetDefault("staking.deposit_requirement", def.Staking.DepositRequirement)
	v.SetDefault("staking.hold_duration", def.Staking.HoldDuration)
	v.SetDefault("staking.fee_percent", def.Staking.FeePercent)
	v.SetDefault("staking.max_rank", def.Staking.MaxRank)

	v.SetDefault("genesis.chain_id", def.Genesis.ChainID)
	v.SetDefault("genesis.timestamp", def.Genesis.Timestamp)
}

// Validate rejects configurations the node cannot run with.
func (c *Config) Validate() error {
	if c.Genesis.ChainID == "" {
		return errors.New("genesis.chain_id is required")
	}
	if c.Genesis.Timestamp < 0 {
		return fmt.Errorf("genesis.timestamp must be >= 0, got %d", c.Genesis.Timestamp)
	}
	if c.BlockInterval <= 0 {
		return fmt.Errorf("block_interval must be > 0, got %s", c.BlockInterval)
	}
	if c.RPCPort < 0 || c.RPCPort > 65535 {
		return fmt.Errorf("rpc_port %d out of range", c.RPCPort)
	}
	if err := c.Staking.Validate(); err != nil {
		return fmt.Errorf("staking: %w", err)
	}
	for i, gc := range c.Genesis.Collectibles {
		if gc.Name == "" || gc.Owner == "" {
			return fmt.Errorf("genesis.collectibles[%d]: name and owner are required", i)
		}
	}
	return nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
