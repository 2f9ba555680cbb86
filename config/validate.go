package config

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Validate checks runtime node config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}

	if cfg.Generate.Enabled {
		if cfg.Generate.Coinbase == "" {
			return fmt.Errorf("generate.coinbase is required when generate.enabled is set")
		}
		if _, err := types.ParseAddress(cfg.Generate.Coinbase); err != nil {
			return fmt.Errorf("generate.coinbase: %w", err)
		}
		if cfg.Generate.Threads < 1 {
			return fmt.Errorf("generate.threads must be at least 1")
		}
	}

	if cfg.Mempool.MaxMempoolBytes < 0 {
		return fmt.Errorf("mempool.max_bytes must not be negative")
	}

	return nil
}
