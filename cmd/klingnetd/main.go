// Klingnet consensus-core daemon.
//
// Usage:
//
//	klingnetd [--generate --coinbase=...]   Run node
//	klingnetd --help                        Show help
//
// This binary wires config, logging, storage and the wallet keystore around
// internal/chain. It does not speak any wire protocol to other nodes: P2P
// gossip and the RPC surface are out of scope here, so klingnetd only ever
// observes the single local chain state it owns.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Klingon-tech/klingnet-chain/config"
	"github.com/Klingon-tech/klingnet-chain/internal/chain"
	"github.com/Klingon-tech/klingnet-chain/internal/consensus"
	"github.com/Klingon-tech/klingnet-chain/internal/consensus/generate"
	klog "github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/internal/wallet"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
	"github.com/rs/zerolog"
)

// maxTxDeadline is the cutoff chain.New applies when it restores the
// mempool: restored transactions whose Deadline is below it are dropped.
const maxTxDeadline = 24 * 3600

func main() {
	// ── 1. Load config (defaults → file → flags) ────────────────────────
	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// ── 2. Init logger ───────────────────────────────────────────────────
	logFile := cfg.Log.File
	if logFile == "" {
		logsDir := cfg.LogsDir()
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating logs dir: %v\n", err)
			os.Exit(1)
		}
		logFile = logsDir + "/klingnet.log"
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	logger := klog.WithComponent("node")

	// ── 3. Genesis (hardcoded, not loaded from file) ─────────────────────
	genesis := config.GenesisFor(cfg.Network)
	logger.Info().
		Str("chain_id", genesis.ChainID).
		Str("network", string(cfg.Network)).
		Uint64("block_reward", genesis.Protocol.Consensus.BlockReward).
		Msg("starting klingnet node")

	// ── 4. Resolve the wallet seed, if enabled ───────────────────────────
	seed, err := loadOrCreateSeed(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve wallet seed")
	}

	// ── 5. Open the chain (Tables + Confirmed + Unconfirmed + Account) ──
	opts := storage.TableOptions{TxIndex: true, AddrIndex: true}
	c, err := chain.New(cfg.TablesDir(), opts, seed, maxTxDeadline, genesis.Protocol.Consensus)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.TablesDir()).Msg("failed to open chain")
	}

	if best, ok := c.GetBestBlockRef(); ok {
		logger.Info().Uint32("height", best.Height).Str("hash", best.Hash().String()).Msg("resumed chain at tip")
	} else {
		logger.Info().Msg("no blocks yet, chain is at genesis")
	}

	if cfg.Wallet.Enabled {
		addr, err := c.GetAccountAddress(0, false)
		if err != nil {
			logger.Error().Err(err).Msg("failed to derive default account address")
		} else {
			logger.Info().Str("address", addr.String()).Msg("default account receiving address")
		}
	}

	if cfg.Generate.Enabled {
		if err := startGeneration(c, cfg, genesis, logger); err != nil {
			logger.Error().Err(err).Msg("failed to start block generation, running in observe-only mode")
		}
	}

	// ── 6. Block until interrupted ────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info().Msg("shutting down")
}

// heartbeatInterval is how often a generation worker is expected to report
// in before WorkerTracker considers it offline.
const heartbeatInterval = 60 * time.Second

// startGeneration builds a worker for every proof-of-work flavor genesis
// has configured, wires the pool into c so every accepted block refreshes
// its retarget and reward, and attaches it. Staking (CoinPos) and
// plot-based (CapPos) generation need key material and plot files this
// binary's config has no fields for yet, so only the PoW flavors are
// started here; CoinbaseAddress/MatureUnspent are still wired for them
// through ChainView, ready for a future worker.
func startGeneration(c *chain.Chain, cfg *config.Config, genesis *config.Genesis, logger zerolog.Logger) error {
	addr, err := types.ParseAddress(cfg.Generate.Coinbase)
	if err != nil {
		return fmt.Errorf("generate.coinbase: %w", err)
	}

	powerLimit := uint8(255)
	if cfg.Generate.Threads > 0 && cfg.Generate.Threads < 255 {
		powerLimit = uint8(cfg.Generate.Threads)
	}

	tracker := consensus.NewWorkerTracker(heartbeatInterval)
	gen := generate.NewBuilder(tracker)

	started := 0
	for flagByte := range genesis.Protocol.Consensus.Flavors {
		flag := block.BlockFlag(flagByte)
		if !flag.IsProofOfWork() {
			continue
		}
		w, err := generate.NewPowWorker(flag, powerLimit, 1, 1)
		if err != nil {
			return fmt.Errorf("new pow worker for flag %s: %w", flag, err)
		}
		if err := gen.PushWorker(w); err != nil {
			return fmt.Errorf("push pow worker for flag %s: %w", flag, err)
		}
		started++
	}
	if started == 0 {
		return fmt.Errorf("no proof-of-work flavor configured in genesis to generate for")
	}

	c.SetCoinbaseAddress(addr)
	c.AttachGenerator(gen)
	logger.Info().Str("coinbase", addr.String()).Int("workers", started).Msg("block generation armed")
	return nil
}

// loadOrCreateSeed resolves the wallet seed klingnetd hands to chain.New.
// A nil seed is a valid, read-only (watch-only) configuration. The keystore
// password is read from KLINGNET_WALLET_PASSWORD rather than prompted
// interactively, since this binary has no terminal UI.
func loadOrCreateSeed(cfg *config.Config, logger zerolog.Logger) ([]byte, error) {
	if !cfg.Wallet.Enabled {
		return nil, nil
	}

	name := cfg.Wallet.FilePath
	if name == "" {
		name = "default"
	}
	password := []byte(os.Getenv("KLINGNET_WALLET_PASSWORD"))
	if len(password) == 0 {
		return nil, fmt.Errorf("wallet.enabled requires KLINGNET_WALLET_PASSWORD to be set")
	}

	ks, err := wallet.NewKeystore(cfg.KeystoreDir())
	if err != nil {
		return nil, fmt.Errorf("open keystore: %w", err)
	}

	seed, err := ks.Load(name, password)
	if err == nil {
		logger.Info().Str("wallet", name).Msg("loaded existing wallet")
		return seed, nil
	}

	mnemonic, err := wallet.GenerateMnemonic()
	if err != nil {
		return nil, fmt.Errorf("generate mnemonic: %w", err)
	}
	seed, err = wallet.SeedFromMnemonic(mnemonic, "")
	if err != nil {
		return nil, fmt.Errorf("derive seed: %w", err)
	}
	if err := ks.Create(name, seed, password, wallet.DefaultParams()); err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}

	logger.Warn().Str("wallet", name).Msg("created new wallet, record this mnemonic now: it is never shown again")
	fmt.Fprintf(os.Stderr, "New wallet mnemonic (%s): %s\n", name, mnemonic)

	return seed, nil
}
