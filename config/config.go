// Package config handles application configuration.
//
// Configuration is split into two categories:
//   - Protocol rules: Defined in genesis, immutable, must match across all nodes
//   - Node settings: Runtime configuration, can vary per node
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// =============================================================================
// Node Configuration (runtime, per-node settings)
// =============================================================================

// Config holds node-specific runtime configuration.
// These settings can vary between nodes without breaking consensus.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// Wallet
	Wallet WalletConfig

	// Generation (operational, not consensus rules — which flavors this
	// node attempts to produce blocks for)
	Generate GenerateConfig

	// Mempool (operational tuning of Unconfirmed, bounded by genesis-level
	// policy constants)
	Mempool MempoolConfig

	// Logging
	Log LogConfig

	// Maintenance (not persisted in config file)
	RebuildIndexes bool
}

// WalletConfig holds wallet settings.
type WalletConfig struct {
	Enabled  bool   `conf:"wallet.enabled"`
	FilePath string `conf:"wallet.file"`

	// PreFetchAddrLen/PreFetchAccountLen mirror PRE_FETCH_ADDRESS_LEN /
	// PRE_FETCH_ACCOUNT_LEN in original_source: how many unused addresses
	// (resp. invisible accounts) an AccountBuilder keeps pre-derived ahead
	// of the last assigned one, so address rotation never blocks on key
	// derivation. The wallet package does not read these fields: its
	// AccountBuilder uses its own PreFetchAddrLen/PreFetchAccountLen
	// constants (25 and 20), which the defaults here match.
	PreFetchAddrLen    uint32 `conf:"wallet.prefetch_addr_len"`
	PreFetchAccountLen uint32 `conf:"wallet.prefetch_account_len"`
}

// GenerateConfig holds block production settings.
// Note: whether/what to generate is a node choice; HOW a block validates
// against consensus rules is protocol, defined in genesis.
type GenerateConfig struct {
	Enabled  bool   `conf:"generate.enabled"`
	Coinbase string `conf:"generate.coinbase"` // address new coinbase outputs pay to
	Threads  int    `conf:"generate.threads"`  // power limit of each PoW worker, in 255ths (255 or more = full)
}

// MempoolConfig holds operational mempool tuning (not consensus rules —
// a node may run any of these values and still validate the same chain).
type MempoolConfig struct {
	MaxMempoolBytes int64  `conf:"mempool.max_bytes"`
	MempoolExpiry   uint32 `conf:"mempool.expiry_seconds"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.klingnet
//	macOS:   ~/Library/Application Support/Klingnet
//	Windows: %APPDATA%\Klingnet
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".klingnet"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Klingnet")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Klingnet")
		}
		return filepath.Join(home, "AppData", "Roaming", "Klingnet")
	default:
		return filepath.Join(home, ".klingnet")
	}
}

// ChainDataDir returns the chain-specific data directory.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// TablesDir returns the directory storage.Tables opens as its single
// BadgerDB instance — block, utxo, addr, account and movement namespaces
// all share it.
func (c *Config) TablesDir() string {
	return filepath.Join(c.ChainDataDir(), "tables")
}

// KeystoreDir returns the keystore directory (the encrypted BIP-32 seed
// file lives here, separate from the Tables database).
func (c *Config) KeystoreDir() string {
	return filepath.Join(c.ChainDataDir(), "keystore")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "klingnet.conf")
}
