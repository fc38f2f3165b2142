package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"ammswap/internal/amm"
)

type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar")
	}
	if value.Value == "" {
		d.Duration = 0
		return nil
	}
	if value.Tag == "!!int" {
		var v int64
		if err := value.Decode(&v); err != nil {
			return err
		}
		d.Duration = time.Duration(v) * time.Millisecond
		return nil
	}
	dur, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	d.Duration = dur
	return nil
}

type Config struct {
	Chain   string `yaml:"chain"`
	ChainID uint64 `yaml:"chain_id"`

	RPC struct {
		HTTP string `yaml:"http"`
	} `yaml:"rpc"`

	Contracts struct {
		Router        string `yaml:"router"`
		Factory       string `yaml:"factory"`
		WrappedNative string `yaml:"wrapped_native"`
		NativeSymbol  string `yaml:"native_symbol"`
	} `yaml:"contracts"`

	Swap struct {
		FeeBips                uint32 `yaml:"fee_bips"`
		DefaultSlippagePercent string `yaml:"default_slippage_percent"`
		DeadlineSeconds        uint64 `yaml:"deadline_seconds"`
	} `yaml:"swap"`

	Tx struct {
		GasLimitMultiplier float64 `yaml:"gas_limit_multiplier"`
		MaxFeeMultiplier   float64 `yaml:"max_fee_multiplier"`
		MinPriorityFeeGwei float64 `yaml:"min_priority_fee_gwei"`
		FeeRefreshSeconds  uint64  `yaml:"fee_refresh_seconds"`
	} `yaml:"tx"`

	KeyStore struct {
		Dir                string `yaml:"dir"`
		PassphraseEnv      string `yaml:"passphrase_env"`
		PrivateKeyEnv      string `yaml:"private_key_env"`
		AllowPrivateExport bool   `yaml:"allow_private_export"`
	} `yaml:"keystore"`

	API struct {
		Listen    string `yaml:"listen"`
		AuthToken string `yaml:"auth_token"`
		// CORSOrigins empty allows any origin.
		CORSOrigins []string `yaml:"cors_origins"`
		// RatePerMinute limits requests per client IP; 0 disables it.
		RatePerMinute int `yaml:"rate_per_minute"`
	} `yaml:"api"`

	Notify struct {
		JSONLPath string `yaml:"jsonl_path"`
		Icon      string `yaml:"icon"`
	} `yaml:"notify"`

	Performance struct {
		RequestTimeout Duration `yaml:"request_timeout"`
		RetryMax       int      `yaml:"retry_max"`
		RetryBackoff   Duration `yaml:"retry_backoff"`
	} `yaml:"performance"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// well-known deployments used when contracts are not configured
var knownChains = map[string]struct {
	chainID       uint64
	router        string
	factory       string
	wrappedNative string
	nativeSymbol  string
}{
	"ethereum": {1, "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D", "0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f", "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", "ETH"},
	"sepolia":  {11155111, "0xC532a74256D3Db42D0Bf7a0400fEFDbad7694008", "0x7E0987E5b3a30e3f2828572Bb659A548460a3003", "0xfFf9976782d46CC05630D1f6eBAb18b2324d6B14", "ETH"},
}

func (c *Config) applyDefaults() {
	if c.Chain == "" {
		c.Chain = "ethereum"
	}
	if known, ok := knownChains[strings.ToLower(c.Chain)]; ok {
		if c.ChainID == 0 {
			c.ChainID = known.chainID
		}
		if c.ChainID == known.chainID {
			if c.Contracts.Router == "" {
				c.Contracts.Router = known.router
			}
			if c.Contracts.Factory == "" {
				c.Contracts.Factory = known.factory
			}
			if c.Contracts.WrappedNative == "" {
				c.Contracts.WrappedNative = known.wrappedNative
			}
			if c.Contracts.NativeSymbol == "" {
				c.Contracts.NativeSymbol = known.nativeSymbol
			}
		}
	}
	if c.Contracts.NativeSymbol == "" {
		c.Contracts.NativeSymbol = "ETH"
	}
	if c.Swap.FeeBips == 0 {
		c.Swap.FeeBips = 30
	}
	if c.Swap.DefaultSlippagePercent == "" {
		c.Swap.DefaultSlippagePercent = "0.5"
	}
	if c.Swap.DeadlineSeconds == 0 {
		c.Swap.DeadlineSeconds = 1200
	}
	if c.Tx.GasLimitMultiplier == 0 {
		c.Tx.GasLimitMultiplier = 1.2
	}
	if c.Tx.MaxFeeMultiplier == 0 {
		c.Tx.MaxFeeMultiplier = 2.0
	}
	if c.Tx.FeeRefreshSeconds == 0 {
		c.Tx.FeeRefreshSeconds = 5
	}
	if c.KeyStore.Dir == "" {
		c.KeyStore.Dir = "data/keystore"
	}
	if c.KeyStore.PassphraseEnv == "" {
		c.KeyStore.PassphraseEnv = "AMMSWAP_KEYSTORE_PASSPHRASE"
	}
	if c.KeyStore.PrivateKeyEnv == "" {
		c.KeyStore.PrivateKeyEnv = "AMMSWAP_PRIVATE_KEY"
	}
	if c.API.Listen == "" {
		c.API.Listen = ":8080"
	}
	if c.Notify.Icon == "" {
		c.Notify.Icon = "./assets/images/icon-128.png"
	}
	if c.Performance.RequestTimeout.Duration == 0 {
		c.Performance.RequestTimeout = Duration{Duration: 15 * time.Second}
	}
	if c.Performance.RetryMax == 0 {
		c.Performance.RetryMax = 3
	}
	if c.Performance.RetryBackoff.Duration == 0 {
		c.Performance.RetryBackoff = Duration{Duration: 500 * time.Millisecond}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) validate() error {
	if c.RPC.HTTP == "" {
		return fmt.Errorf("rpc.http is required")
	}
	if c.ChainID == 0 {
		return fmt.Errorf("chain_id is required for chain %q", c.Chain)
	}
	for name, v := range map[string]string{
		"contracts.router":         c.Contracts.Router,
		"contracts.factory":        c.Contracts.Factory,
		"contracts.wrapped_native": c.Contracts.WrappedNative,
	} {
		if v == "" {
			return fmt.Errorf("%s is required", name)
		}
		if !common.IsHexAddress(v) {
			return fmt.Errorf("%s is not an address: %q", name, v)
		}
	}
	if c.Swap.FeeBips >= 10_000 {
		return fmt.Errorf("swap.fee_bips must be below 10000")
	}
	if _, err := amm.BipsFromPercent(c.Swap.DefaultSlippagePercent); err != nil {
		return fmt.Errorf("swap.default_slippage_percent: %w", err)
	}
	if c.API.RatePerMinute < 0 {
		return fmt.Errorf("api.rate_per_minute must be >= 0")
	}
	if c.Performance.RetryMax < 0 {
		return fmt.Errorf("performance.retry_max must be >= 0")
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

func (c *Config) RouterAddress() common.Address {
	return common.HexToAddress(c.Contracts.Router)
}

func (c *Config) FactoryAddress() common.Address {
	return common.HexToAddress(c.Contracts.Factory)
}

func (c *Config) WrappedNativeAddress() common.Address {
	return common.HexToAddress(c.Contracts.WrappedNative)
}

func (c *Config) Deadline() time.Duration {
	return time.Duration(c.Swap.DeadlineSeconds) * time.Second
}

func (c *Config) LogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("invalid log.level %q", c.Log.Level)
	}
	return lvl, nil
}
