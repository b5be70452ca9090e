package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	RPCURL       string
	ChainID      int64
	SwapContract common.Address
	ExplorerURL  string
	PrivateKey   string

	PollInterval    time.Duration
	ResetDelay      time.Duration
	ConfirmInterval time.Duration

	// Optional overrides, nil when unset
	GasLimit *uint64
	GasPrice *big.Int

	LogLevel    string
	MetricsAddr string
}

// Defaults for Arc testnet
const (
	DefaultRPCURL       = "https://rpc.testnet.arc.network"
	DefaultChainID      = 5042002
	DefaultSwapContract = "0x0227Beb66D711fB8dB20A42f9fad2062a6Af84a3"
	DefaultExplorerURL  = "https://testnet.arcscan.app"
)

// Load reads configuration from environment variables and config file
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".stablefx")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME")
	v.AddConfigPath(".")

	v.SetDefault("rpc_url", DefaultRPCURL)
	v.SetDefault("chain_id", DefaultChainID)
	v.SetDefault("swap_contract", DefaultSwapContract)
	v.SetDefault("explorer_url", DefaultExplorerURL)
	v.SetDefault("poll_interval", "3s")
	v.SetDefault("reset_delay", "2s")
	v.SetDefault("confirm_interval", "1s")
	v.SetDefault("log_level", "warn")

	// STABLEFX_PRIVATE_KEY, STABLEFX_RPC_URL, ...
	v.SetEnvPrefix("STABLEFX")
	v.AutomaticEnv()

	// Config file is optional
	_ = v.ReadInConfig()

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		RPCURL:          v.GetString("rpc_url"),
		ChainID:         v.GetInt64("chain_id"),
		ExplorerURL:     strings.TrimRight(v.GetString("explorer_url"), "/"),
		PrivateKey:      strings.TrimSpace(v.GetString("private_key")),
		PollInterval:    v.GetDuration("poll_interval"),
		ResetDelay:      v.GetDuration("reset_delay"),
		ConfirmInterval: v.GetDuration("confirm_interval"),
		LogLevel:        v.GetString("log_level"),
		MetricsAddr:     v.GetString("metrics_addr"),
	}

	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc_url must not be empty")
	}
	if cfg.ChainID <= 0 {
		return nil, fmt.Errorf("chain_id must be positive, got %d", cfg.ChainID)
	}

	contract := v.GetString("swap_contract")
	if !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("swap_contract %q is not a valid address", contract)
	}
	cfg.SwapContract = common.HexToAddress(contract)

	for name, d := range map[string]time.Duration{
		"poll_interval":    cfg.PollInterval,
		"reset_delay":      cfg.ResetDelay,
		"confirm_interval": cfg.ConfirmInterval,
	} {
		if d <= 0 {
			return nil, fmt.Errorf("%s must be a positive duration", name)
		}
	}

	if v.IsSet("gas_limit") {
		limit := v.GetUint64("gas_limit")
		if limit == 0 {
			return nil, fmt.Errorf("gas_limit must be positive")
		}
		cfg.GasLimit = &limit
	}

	if raw := v.GetString("gas_price"); raw != "" {
		price, ok := new(big.Int).SetString(raw, 10)
		if !ok || price.Sign() <= 0 {
			return nil, fmt.Errorf("gas_price %q must be a positive integer in wei", raw)
		}
		cfg.GasPrice = price
	}

	return cfg, nil
}

// HasSigner reports whether a private key is configured
func (c *Config) HasSigner() bool {
	return c.PrivateKey != ""
}
