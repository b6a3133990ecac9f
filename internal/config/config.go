// Package config provides a reusable loader for ledgerchain node
// configuration files and environment variables, following the layered
// viper/godotenv loading convention used across the rest of this tree.
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// envCache stores previously fetched non-empty environment variable values so
// repeat lookups avoid the relatively expensive syscall interaction, the same
// caching convention this tree's teacher uses for its own env lookups.
var envCache sync.Map // map[string]string

func getEnv(key string) (string, bool) {
	if v, ok := envCache.Load(key); ok {
		return v.(string), true
	}
	if v := os.Getenv(key); v != "" {
		envCache.Store(key, v)
		return v, true
	}
	return "", false
}

func clearEnvCache(key string) {
	envCache.Delete(key)
}

// EnvOrDefault returns the value of the environment variable identified by key
// or the provided fallback if the variable is unset or empty.
func EnvOrDefault(key, fallback string) string {
	if v, ok := getEnv(key); ok {
		return v
	}
	return fallback
}

// EnvOrDefaultInt returns the integer value of the environment variable
// identified by key or the provided fallback if unset, empty, or unparsable.
func EnvOrDefaultInt(key string, fallback int) int {
	if v, ok := getEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// EnvOrDefaultUint64 returns the uint64 value of the environment variable
// identified by key or the provided fallback if unset, empty, or unparsable.
func EnvOrDefaultUint64(key string, fallback uint64) uint64 {
	if v, ok := getEnv(key); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

// Config is the enumerated configuration surface from spec §6.
type Config struct {
	DataDir string `mapstructure:"data_dir" json:"data_dir"`

	MaxBlockSize   int `mapstructure:"max_block_size" json:"max_block_size"`
	MaxTxsPerBlock int `mapstructure:"max_txs_per_block" json:"max_txs_per_block"`

	MempoolCapacityBytes int    `mapstructure:"mempool_capacity_bytes" json:"mempool_capacity_bytes"`
	MempoolTTLSecs       uint64 `mapstructure:"mempool_ttl_secs" json:"mempool_ttl_secs"`

	ReorgDepthLimit uint64 `mapstructure:"reorg_depth_limit" json:"reorg_depth_limit"`
	CompressDepth   uint64 `mapstructure:"compress_depth" json:"compress_depth"`

	MinFeePerByte uint64 `mapstructure:"min_fee_per_byte" json:"min_fee_per_byte"`
	ClockSkewMax  uint64 `mapstructure:"clock_skew_max" json:"clock_skew_max"`

	BlockCacheEntries int `mapstructure:"block_cache_entries" json:"block_cache_entries"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// Defaults returns a Config populated with the node's out-of-the-box
// values, consensus-fixed limits matching spec §6 alongside operator-
// tunable soft caps.
func Defaults() Config {
	var c Config
	c.DataDir = "data"
	c.MaxBlockSize = 2 << 20 // MAX_BLOCK_SIZE = 2 MiB
	c.MaxTxsPerBlock = 10_000
	c.MempoolCapacityBytes = 64 << 20
	c.MempoolTTLSecs = 3 * 3600
	c.ReorgDepthLimit = 100
	c.CompressDepth = 10_000
	c.MinFeePerByte = 1
	c.ClockSkewMax = 2 * 3600
	c.BlockCacheEntries = 1024
	c.Logging.Level = "info"
	return c
}

// AppConfig holds the configuration loaded via Load.
var AppConfig Config

// Load reads a YAML configuration file (if present), merges environment
// specific overrides, and applies environment variable overrides on top,
// mirroring the layered precedence the rest of this tree's tooling uses.
// env selects an optional override file (e.g. "testnet" loads
// testnet.yaml over default.yaml); if empty, only the default
// configuration plus environment variables apply.
func Load(env string) (*Config, error) {
	_ = godotenv.Load() // best-effort; a missing .env file is not an error

	AppConfig = Defaults()

	viper.SetConfigName("default")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, Wrap(err, "load config")
		}
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("LEDGERCHAIN")

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the LEDGERCHAIN_ENV environment
// variable to select the override file.
func LoadFromEnv() (*Config, error) {
	return Load(EnvOrDefault("LEDGERCHAIN_ENV", ""))
}
